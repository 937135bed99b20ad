package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/conversa/internal/middleware"
	"github.com/mossy-p/conversa/internal/models"
	"github.com/mossy-p/conversa/internal/repository"
)

// UpdateProfileRequest lists the editable profile fields. Omitted fields
// stay unchanged.
type UpdateProfileRequest struct {
	Name            *string                 `json:"name"`
	Username        *string                 `json:"username"`
	About           *string                 `json:"about"`
	Phone           *string                 `json:"phone"`
	ProfilePic      *string                 `json:"profilePic"`
	CoverPhoto      *string                 `json:"coverPhoto"`
	Privacy         *models.Privacy         `json:"privacy"`
	ThemePreference *models.ThemePreference `json:"themePreference"`
}

func (a *API) GetUser(c *gin.Context) {
	user, err := a.Users.Get(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		respondError(c, a.Log, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (a *API) UpdateProfile(c *gin.Context) {
	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	user, err := a.Users.UpdateProfile(c.Request.Context(), middleware.UserID(c), repository.UserUpdate{
		Name:            req.Name,
		Username:        req.Username,
		About:           req.About,
		Phone:           req.Phone,
		ProfilePic:      req.ProfilePic,
		CoverPhoto:      req.CoverPhoto,
		Privacy:         req.Privacy,
		ThemePreference: req.ThemePreference,
	})
	if err != nil {
		respondError(c, a.Log, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (a *API) OnlineStatus(c *gin.Context) {
	status, err := a.Users.OnlineStatus(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		respondError(c, a.Log, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (a *API) NonFriends(c *gin.Context) {
	users, err := a.Users.NonFriends(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, a.Log, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

func (a *API) SearchUsers(c *gin.Context) {
	users, err := a.Users.Search(c.Request.Context(), middleware.UserID(c), c.Query("q"))
	if err != nil {
		respondError(c, a.Log, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

func (a *API) BlockUser(c *gin.Context) {
	if err := a.Users.Block(c.Request.Context(), middleware.UserID(c), c.Param("id")); err != nil {
		respondError(c, a.Log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (a *API) UnblockUser(c *gin.Context) {
	if err := a.Users.Unblock(c.Request.Context(), middleware.UserID(c), c.Param("id")); err != nil {
		respondError(c, a.Log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
