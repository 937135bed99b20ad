package events

import (
	"context"
	"time"
)

type Type string

const (
	MessageCreated      Type = "message.created"
	MessageDeleted      Type = "message.deleted"
	CallLogged          Type = "call.logged"
	ConversationCreated Type = "conversation.created"
	GroupDeleted        Type = "group.deleted"
)

// Event is one entry of the chat event log.
type Event struct {
	Type           Type      `json:"type"`
	ConversationID string    `json:"conversationId"`
	ActorID        string    `json:"actorId"`
	At             time.Time `json:"at"`
	Data           any       `json:"data,omitempty"`
}

// Publisher appends events to the log. Implementations never block the
// caller on delivery and report failures through their own logging.
type Publisher interface {
	Publish(ctx context.Context, e Event)
	Close() error
}

// Nop discards every event. It is used when no brokers are configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

func (Nop) Close() error { return nil }
