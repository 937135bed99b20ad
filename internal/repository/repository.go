package repository

import (
	"context"
	"errors"
	"time"

	"github.com/mossy-p/conversa/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate key")
	// ErrStale means the document changed since it was read.
	ErrStale = errors.New("stale document")
)

// UserUpdate lists the profile fields a user may change. Nil fields are left alone.
type UserUpdate struct {
	Name            *string
	Username        *string
	About           *string
	Phone           *string
	ProfilePic      *string
	CoverPhoto      *string
	Privacy         *models.Privacy
	ThemePreference *models.ThemePreference
}

type UserRepository interface {
	Create(ctx context.Context, u *models.User) error
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetMany(ctx context.Context, ids []primitive.ObjectID) ([]*models.User, error)
	Update(ctx context.Context, id primitive.ObjectID, upd UserUpdate) (*models.User, error)
	// SetOnline stores the presence flag. lastSeen is written only when the
	// user goes offline.
	SetOnline(ctx context.Context, id primitive.ObjectID, online bool, lastSeen time.Time) error
	Search(ctx context.Context, query string, exclude []primitive.ObjectID, limit int64) ([]*models.User, error)
	ListExcept(ctx context.Context, exclude []primitive.ObjectID, limit int64) ([]*models.User, error)
	SetBlocked(ctx context.Context, id, target primitive.ObjectID, blocked bool) error
}

type ConversationRepository interface {
	Create(ctx context.Context, c *models.Conversation) error
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.Conversation, error)
	// FindDirect returns the one-to-one conversation whose members include all ids.
	FindDirect(ctx context.Context, ids []primitive.ObjectID) (*models.Conversation, error)
	// ListForUser returns the user's conversations, most recently updated first.
	ListForUser(ctx context.Context, userID primitive.ObjectID) ([]*models.Conversation, error)
	// Save replaces the stored document if its version still matches c and
	// bumps the version; otherwise it returns ErrStale. touch=false keeps
	// updatedAt unchanged.
	Save(ctx context.Context, c *models.Conversation, touch bool) error
	// RecordMessage atomically sets the latest message preview and adds one
	// unread message for each user in unread.
	RecordMessage(ctx context.Context, id primitive.ObjectID, preview string, unread []primitive.ObjectID, touch bool) (*models.Conversation, error)
	// ResetUnread atomically zeroes userID's unread counter.
	ResetUnread(ctx context.Context, id, userID primitive.ObjectID) error
	Delete(ctx context.Context, id primitive.ObjectID) error
}

type MessageRepository interface {
	Create(ctx context.Context, m *models.Message) error
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.Message, error)
	// ListVisible returns the conversation's messages not deleted for userID, oldest first.
	ListVisible(ctx context.Context, conversationID, userID primitive.ObjectID) ([]*models.Message, error)
	// Recent returns up to limit messages, newest first.
	Recent(ctx context.Context, conversationID primitive.ObjectID, limit int64) ([]*models.Message, error)
	MarkSeen(ctx context.Context, ids []primitive.ObjectID, userID primitive.ObjectID, at time.Time) error
	AddDeletedFrom(ctx context.Context, id primitive.ObjectID, users []primitive.ObjectID) (*models.Message, error)
	DeleteByConversation(ctx context.Context, conversationID primitive.ObjectID) error
}

// Store bundles the repositories a deployment runs with.
type Store struct {
	Users         UserRepository
	Conversations ConversationRepository
	Messages      MessageRepository
}
