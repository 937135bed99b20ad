package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/conversa/internal/media"
	"github.com/mossy-p/conversa/internal/middleware"
	"github.com/mossy-p/conversa/internal/models"
	"github.com/mossy-p/conversa/internal/service"
)

// multipart overhead allowed on top of the file itself
const formSlack = 1 << 20

// DeleteMessageRequest represents the delete request body
type DeleteMessageRequest struct {
	MessageID      string   `json:"messageid" binding:"required"`
	UserIDs        []string `json:"userids"`
	ConversationID string   `json:"conversationId"`
}

func (a *API) ListMessages(c *gin.Context) {
	msgs, err := a.Messages.History(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		respondError(c, a.Log, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

// SendMessage stores a message sent over HTTP. It accepts JSON or a
// multipart form whose optional "file" becomes the message image.
func (a *API) SendMessage(c *gin.Context) {
	var req models.SendMessagePayload
	if c.ContentType() == "multipart/form-data" {
		res, err := a.upload(c, media.KindImage, true)
		if err != nil {
			respondError(c, a.Log, err)
			return
		}
		req = models.SendMessagePayload{
			ConversationID: c.PostForm("conversationId"),
			Text:           c.PostForm("text"),
			AudioURL:       c.PostForm("audioUrl"),
			ReplyTo:        c.PostForm("replyTo"),
			ClientID:       c.PostForm("clientId"),
		}
		if res != nil {
			req.ImageURL = res.URL
		}
	} else if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if req.ConversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversationId is required"})
		return
	}

	ctx := c.Request.Context()
	d, err := a.Messages.Send(ctx, service.SendInput{
		SenderID:       middleware.UserID(c),
		ConversationID: req.ConversationID,
		Text:           req.Text,
		ImageURL:       req.ImageURL,
		AudioURL:       req.AudioURL,
		ReplyTo:        req.ReplyTo,
		ClientID:       req.ClientID,
	}, a.Fanout.Present(ctx, req.ConversationID))
	if err != nil {
		respondError(c, a.Log, err)
		return
	}
	a.Fanout.Message(ctx, d)
	c.JSON(http.StatusOK, d.Message)
}

func (a *API) DeleteMessage(c *gin.Context) {
	var req DeleteMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "messageid is required"})
		return
	}

	ctx := c.Request.Context()
	msg, affected, err := a.Messages.Delete(ctx, middleware.UserID(c), req.MessageID, req.UserIDs)
	if err != nil {
		respondError(c, a.Log, err)
		return
	}
	if affected > 1 {
		a.Fanout.ToRoom(ctx, msg.ConversationID.Hex(), models.EventMessageDeleted, models.DeleteMessagePayload{
			MessageID:      req.MessageID,
			DeleteFrom:     req.UserIDs,
			ConversationID: msg.ConversationID.Hex(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"message": "Message deleted successfully"})
}

func (a *API) UploadImage(c *gin.Context) {
	a.respondUpload(c, media.KindImage)
}

func (a *API) UploadAudio(c *gin.Context) {
	a.respondUpload(c, media.KindAudio)
}

func (a *API) respondUpload(c *gin.Context, kind media.Kind) {
	res, err := a.upload(c, kind, false)
	if err != nil {
		respondError(c, a.Log, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// upload stores the "file" form field. With optional set a missing file
// returns nil and no error.
func (a *API) upload(c *gin.Context, kind media.Kind, optional bool) (*media.Result, error) {
	limit := a.Uploads.MaxBytes()
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+formSlack)

	header, err := c.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		switch {
		case errors.As(err, &tooBig):
			return nil, media.ErrTooLarge
		case errors.Is(err, http.ErrMissingFile) && optional:
			return nil, nil
		}
		return nil, &service.Error{Kind: service.ErrInvalidInput, Msg: "No file provided"}
	}
	if header.Size > limit {
		return nil, media.ErrTooLarge
	}

	f, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, err
	}

	return a.Uploads.Upload(c.Request.Context(), middleware.UserID(c), header.Header.Get("Content-Type"), data, kind)
}
