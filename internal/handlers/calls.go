package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mossy-p/conversa/internal/models"
	"github.com/mossy-p/conversa/internal/realtime"
	"github.com/mossy-p/conversa/internal/service"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var errNoPendingCall = &service.Error{Kind: service.ErrForbidden, Msg: "no pending call from this user"}

func (h *SocketHandler) decodeCall(data json.RawMessage) (models.CallPayload, error) {
	var p models.CallPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return p, errInvalidPayload
	}
	return p, nil
}

// callInitiate rings the callee unless either party is already on a call.
func (h *SocketHandler) callInitiate(ctx context.Context, c *realtime.Client, data json.RawMessage) error {
	p, err := h.decodeCall(data)
	if err != nil {
		return err
	}
	p.FromUserID = c.UserID
	if p.ToUserID == "" || p.ConversationID == "" {
		return errInvalidPayload
	}
	if p.CallType == "" {
		p.CallType = models.CallTypeAudio
	}
	if !p.CallType.Valid() {
		return &service.Error{Kind: service.ErrInvalidInput, Msg: "callType must be audio or video"}
	}

	conv, err := h.convs.Membership(ctx, c.UserID, p.ConversationID)
	if err != nil {
		return err
	}
	callee, err := primitive.ObjectIDFromHex(p.ToUserID)
	if err != nil || !conv.HasMember(callee) {
		return &service.Error{Kind: service.ErrForbidden, Msg: "callee is not a member of this conversation"}
	}

	busy, err := h.calls.Busy(ctx, p.FromUserID, p.ToUserID)
	if err != nil {
		return err
	}
	if busy {
		h.fanout.ToRoom(ctx, p.FromUserID, models.EventCallBusy, models.CallBusyPayload{ToUserID: p.ToUserID})
		return nil
	}
	if err := h.calls.Ring(ctx, p.FromUserID, p.ToUserID); err != nil {
		return err
	}
	p.Reason, p.AcceptedAt = "", 0
	h.fanout.ToRoom(ctx, p.ToUserID, models.EventIncomingCall, p)
	return nil
}

// answer consumes the caller's pending invite to c.
func (h *SocketHandler) answer(ctx context.Context, c *realtime.Client, p *models.CallPayload) error {
	p.ToUserID = c.UserID
	if p.FromUserID == "" {
		return errInvalidPayload
	}
	ok, err := h.calls.Answer(ctx, p.FromUserID, p.ToUserID)
	if err != nil {
		return err
	}
	if !ok {
		return errNoPendingCall
	}
	return nil
}

// callAccept is sent by the callee; both parties are then on a call.
func (h *SocketHandler) callAccept(ctx context.Context, c *realtime.Client, data json.RawMessage) error {
	p, err := h.decodeCall(data)
	if err != nil {
		return err
	}
	if err := h.answer(ctx, c, &p); err != nil {
		return err
	}
	if err := h.calls.Begin(ctx, p.FromUserID, p.ToUserID); err != nil {
		return err
	}
	p.Reason = ""
	p.AcceptedAt = time.Now().UnixMilli()
	h.fanout.ToRoom(ctx, p.FromUserID, models.EventCallAccepted, p)
	return nil
}

func (h *SocketHandler) callReject(ctx context.Context, c *realtime.Client, data json.RawMessage) error {
	p, err := h.decodeCall(data)
	if err != nil {
		return err
	}
	if err := h.answer(ctx, c, &p); err != nil {
		return err
	}
	if p.Reason == "" {
		p.Reason = "rejected"
	}
	p.AcceptedAt = 0
	h.fanout.ToRoom(ctx, p.FromUserID, models.EventCallRejected, p)
	return nil
}

// callEnd forwards the hang-up unchanged and clears both parties' call
// state. A caller hanging up while it still rings withdraws the invite.
func (h *SocketHandler) callEnd(ctx context.Context, c *realtime.Client, data json.RawMessage) error {
	var target models.RelayTarget
	if err := json.Unmarshal(data, &target); err != nil || target.ToUserID == "" {
		return errInvalidPayload
	}
	if _, err := h.calls.Answer(ctx, c.UserID, target.ToUserID); err != nil {
		return err
	}
	if err := h.calls.End(ctx, c.UserID, target.ToUserID); err != nil {
		return err
	}
	h.fanout.ToRoom(ctx, target.ToUserID, models.EventCallEnded, data)
	return nil
}

// relay forwards WebRTC negotiation payloads to the peer without looking
// past the target.
func (h *SocketHandler) relay(event models.EventType) eventHandler {
	return func(ctx context.Context, c *realtime.Client, data json.RawMessage) error {
		var target models.RelayTarget
		if err := json.Unmarshal(data, &target); err != nil || target.ToUserID == "" {
			return errInvalidPayload
		}
		h.fanout.ToRoom(ctx, target.ToUserID, event, data)
		return nil
	}
}
