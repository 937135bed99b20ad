package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/conversa/internal/middleware"
	"github.com/mossy-p/conversa/internal/service"
)

// CreateConversationRequest represents the one-to-one conversation request body
type CreateConversationRequest struct {
	Members []string `json:"members" binding:"required"`
}

type CreateGroupRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	MemberIDs   []string `json:"memberIds"`
	GroupIcon   string   `json:"groupIcon"`
}

// GroupRequest is the body shared by the group management endpoints.
type GroupRequest struct {
	ConversationID string   `json:"conversationId" binding:"required"`
	MemberID       string   `json:"memberId"`
	MemberIDs      []string `json:"memberIds"`
	Name           string   `json:"name"`
	Description    *string  `json:"description"`
	GroupIcon      *string  `json:"groupIcon"`
}

func (a *API) CreateConversation(c *gin.Context) {
	var req CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Please fill all the fields"})
		return
	}
	conv, err := a.Conversations.Create(c.Request.Context(), middleware.UserID(c), req.Members)
	if err != nil {
		respondError(c, a.Log, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (a *API) GetConversation(c *gin.Context) {
	conv, err := a.Conversations.Get(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		respondError(c, a.Log, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (a *API) ListConversations(c *gin.Context) {
	convs, err := a.Conversations.List(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, a.Log, err)
		return
	}
	c.JSON(http.StatusOK, convs)
}

func (a *API) CreateGroup(c *gin.Context) {
	var req CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	group, err := a.Conversations.CreateGroup(c.Request.Context(), middleware.UserID(c), service.GroupInput{
		Name:        req.Name,
		Description: req.Description,
		GroupIcon:   req.GroupIcon,
		MemberIDs:   req.MemberIDs,
	})
	if err != nil {
		respondError(c, a.Log, err)
		return
	}
	c.JSON(http.StatusCreated, group)
}

func bindGroup(c *gin.Context) (*GroupRequest, bool) {
	var req GroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversationId is required"})
		return nil, false
	}
	return &req, true
}

func (a *API) AddMembers(c *gin.Context) {
	req, ok := bindGroup(c)
	if !ok {
		return
	}
	group, err := a.Conversations.AddMembers(c.Request.Context(), middleware.UserID(c), req.ConversationID, req.MemberIDs)
	if err != nil {
		respondError(c, a.Log, err)
		return
	}
	c.JSON(http.StatusOK, group)
}

func (a *API) RemoveMember(c *gin.Context) {
	req, ok := bindGroup(c)
	if !ok {
		return
	}
	if err := a.Conversations.RemoveMember(c.Request.Context(), middleware.UserID(c), req.ConversationID, req.MemberID); err != nil {
		respondError(c, a.Log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (a *API) UpdateGroup(c *gin.Context) {
	req, ok := bindGroup(c)
	if !ok {
		return
	}
	group, err := a.Conversations.UpdateGroup(c.Request.Context(), middleware.UserID(c), req.ConversationID, service.GroupUpdate{
		Name:        req.Name,
		Description: req.Description,
		GroupIcon:   req.GroupIcon,
	})
	if err != nil {
		respondError(c, a.Log, err)
		return
	}
	c.JSON(http.StatusOK, group)
}

func (a *API) PromoteAdmin(c *gin.Context) {
	req, ok := bindGroup(c)
	if !ok {
		return
	}
	group, err := a.Conversations.Promote(c.Request.Context(), middleware.UserID(c), req.ConversationID, req.MemberID)
	if err != nil {
		respondError(c, a.Log, err)
		return
	}
	c.JSON(http.StatusOK, group)
}

func (a *API) DemoteAdmin(c *gin.Context) {
	req, ok := bindGroup(c)
	if !ok {
		return
	}
	group, err := a.Conversations.Demote(c.Request.Context(), middleware.UserID(c), req.ConversationID, req.MemberID)
	if err != nil {
		respondError(c, a.Log, err)
		return
	}
	c.JSON(http.StatusOK, group)
}

func (a *API) LeaveGroup(c *gin.Context) {
	req, ok := bindGroup(c)
	if !ok {
		return
	}
	if err := a.Conversations.Leave(c.Request.Context(), middleware.UserID(c), req.ConversationID); err != nil {
		respondError(c, a.Log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (a *API) DeleteGroup(c *gin.Context) {
	req, ok := bindGroup(c)
	if !ok {
		return
	}
	if err := a.Conversations.DeleteGroup(c.Request.Context(), middleware.UserID(c), req.ConversationID); err != nil {
		respondError(c, a.Log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
