package handlers

import (
	"context"

	"github.com/mossy-p/conversa/internal/models"
	"github.com/mossy-p/conversa/internal/realtime"
	"github.com/mossy-p/conversa/internal/service"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Fanout pushes the results of chat operations to connected sockets, for
// both the REST and the socket entry points.
type Fanout struct {
	hub *realtime.Hub
	log *zap.Logger
}

func NewFanout(hub *realtime.Hub, logger *zap.Logger) *Fanout {
	return &Fanout{hub: hub, log: logger.Named("fanout")}
}

// Present reports whether a member is in the conversation room.
func (f *Fanout) Present(ctx context.Context, conversationID string) func(primitive.ObjectID) bool {
	return func(id primitive.ObjectID) bool {
		return f.hub.Contains(ctx, conversationID, id.Hex())
	}
}

// Message sends a new message to the conversation room and notifies every
// member who was not in it.
func (f *Fanout) Message(ctx context.Context, d *service.Delivery) {
	room := d.Message.ConversationID.Hex()
	f.emit(ctx, room, models.EventReceiveMessage, d.Message)
	for _, id := range d.Absent {
		f.emit(ctx, id.Hex(), models.EventNewMessageNotify, d.Message)
	}
}

// ToRoom emits an event to a conversation or personal room.
func (f *Fanout) ToRoom(ctx context.Context, room string, event models.EventType, data any) {
	f.emit(ctx, room, event, data)
}

func (f *Fanout) emit(ctx context.Context, room string, event models.EventType, data any) {
	if err := f.hub.Emit(ctx, room, event, data); err != nil {
		f.log.Warn("failed to emit", zap.String("event", string(event)), zap.String("room", room), zap.Error(err))
	}
}
