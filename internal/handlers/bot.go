package handlers

import (
	"context"
	"time"

	"github.com/mossy-p/conversa/internal/models"
	"github.com/mossy-p/conversa/internal/realtime"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

const botReplyTimeout = time.Minute

// botMessage answers a text message sent to a conversation with a bot. It
// reports whether the message was taken over by the bot flow.
func (h *SocketHandler) botMessage(ctx context.Context, c *realtime.Client, p models.SendMessagePayload) (bool, error) {
	if h.bot == nil {
		return false, nil
	}
	conv, err := h.convs.Membership(ctx, c.UserID, p.ConversationID)
	if err != nil {
		return true, err
	}
	sender, err := primitive.ObjectIDFromHex(c.UserID)
	if err != nil {
		return true, errInvalidPayload
	}
	botUser, err := h.bot.BotFor(ctx, conv, sender)
	if err != nil || botUser == nil {
		return botUser != nil, err
	}

	room := p.ConversationID
	typing := models.TypingPayload{ConversationID: room, Typer: botUser.ID.Hex()}
	h.fanout.ToRoom(ctx, room, models.EventTyping, typing)

	// Echo the prompt right away; it is stored together with the answer.
	now := time.Now().UTC()
	h.fanout.ToRoom(ctx, room, models.EventReceiveMessage, &models.Message{
		ID:             primitive.NewObjectID(),
		ConversationID: conv.ID,
		SenderID:       sender,
		Text:           p.Text,
		ImageURL:       p.ImageURL,
		SeenBy:         []models.SeenEntry{{User: botUser.ID, SeenAt: now}},
		DeletedFrom:    []primitive.ObjectID{},
		CreatedAt:      now,
		UpdatedAt:      now,
		ClientID:       p.ClientID,
	})

	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), botReplyTimeout)
		defer cancel()

		reply, err := h.bot.Reply(ctx, room, c.UserID, p.Text)
		if err != nil {
			msg, _ := clientMessage(err)
			if !isExpected(err) {
				h.log.Warn("bot reply failed", zap.String("conversation_id", room), zap.Error(err))
				msg = "the assistant could not answer, try again later"
			}
			h.fanout.ToRoom(ctx, room, models.EventStopTyping, typing)
			c.SendError(models.EventSendMessage, msg)
			return
		}
		if reply != nil {
			h.fanout.ToRoom(ctx, room, models.EventReceiveMessage, reply)
		}
		h.fanout.ToRoom(ctx, room, models.EventStopTyping, typing)
	}()
	return true, nil
}
