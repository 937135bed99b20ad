package handlers

import (
	"github.com/mossy-p/conversa/internal/media"
	"github.com/mossy-p/conversa/internal/service"
	"go.uber.org/zap"
)

// API holds the REST handlers and what they need.
type API struct {
	Auth          *service.AuthService
	Users         *service.UserService
	Conversations *service.ConversationService
	Messages      *service.MessageService
	Uploads       *media.Uploader
	Fanout        *Fanout
	Log           *zap.Logger
}
