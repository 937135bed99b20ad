package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/mossy-p/conversa/internal/middleware"
	"github.com/mossy-p/conversa/internal/models"
	"github.com/mossy-p/conversa/internal/realtime"
	"github.com/mossy-p/conversa/internal/service"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is handled by middleware
		return true
	},
}

var errInvalidPayload = &service.Error{Kind: service.ErrInvalidInput, Msg: "invalid payload"}

type eventHandler func(ctx context.Context, c *realtime.Client, data json.RawMessage) error

// SocketHandler upgrades authenticated requests to WebSocket clients and
// handles the chat, presence and call events they send.
type SocketHandler struct {
	hub      *realtime.Hub
	users    *service.UserService
	convs    *service.ConversationService
	msgs     *service.MessageService
	bot      *service.BotService
	presence realtime.Presence
	calls    realtime.CallTracker
	fanout   *Fanout
	cfg      realtime.ClientConfig
	log      *zap.Logger
	handlers map[models.EventType]eventHandler
}

type SocketDeps struct {
	Hub           *realtime.Hub
	Users         *service.UserService
	Conversations *service.ConversationService
	Messages      *service.MessageService
	Bot           *service.BotService
	Presence      realtime.Presence
	Calls         realtime.CallTracker
	Fanout        *Fanout
	Config        realtime.ClientConfig
}

func NewSocketHandler(deps SocketDeps, logger *zap.Logger) *SocketHandler {
	h := &SocketHandler{
		hub:      deps.Hub,
		users:    deps.Users,
		convs:    deps.Conversations,
		msgs:     deps.Messages,
		bot:      deps.Bot,
		presence: deps.Presence,
		calls:    deps.Calls,
		fanout:   deps.Fanout,
		cfg:      deps.Config,
		log:      logger.Named("socket"),
	}
	if h.presence == nil {
		h.presence = realtime.NewLocalPresence()
	}
	if h.calls == nil {
		h.calls = realtime.NewLocalCalls()
	}
	h.handlers = map[models.EventType]eventHandler{
		models.EventSetup:         h.setup,
		models.EventJoinChat:      h.joinChat,
		models.EventLeaveChat:     h.leaveChat,
		models.EventSendMessage:   h.sendMessage,
		models.EventDeleteMessage: h.deleteMessage,
		models.EventTyping:        h.typing(models.EventTyping),
		models.EventStopTyping:    h.typing(models.EventStopTyping),
		models.EventCallInitiate:  h.callInitiate,
		models.EventCallAccept:    h.callAccept,
		models.EventCallReject:    h.callReject,
		models.EventCallEnd:       h.callEnd,
		models.EventWebRTCOffer:   h.relay(models.EventWebRTCOffer),
		models.EventWebRTCAnswer:  h.relay(models.EventWebRTCAnswer),
		models.EventWebRTCICE:     h.relay(models.EventWebRTCICE),
		models.EventLogCall:       h.logCall,
	}
	return h
}

// ServeWS handles WebSocket connections. The JWT middleware has already
// authenticated the user.
func (h *SocketHandler) ServeWS(c *gin.Context) {
	userID := middleware.UserID(c)

	// Upgrade HTTP connection to WebSocket
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("failed to upgrade connection", zap.Error(err))
		return
	}

	client := realtime.NewClient(h.hub, conn, userID, h.cfg)
	h.log.Debug("socket connected", zap.String("user_id", userID), zap.String("socket_id", client.ID))
	client.Serve(context.WithoutCancel(c.Request.Context()), h)
}

func (h *SocketHandler) Dispatch(ctx context.Context, c *realtime.Client, env models.Envelope) {
	handle, ok := h.handlers[env.Event]
	if !ok {
		c.SendError(env.Event, "unknown event")
		return
	}
	if err := handle(ctx, c, env.Data); err != nil {
		msg, expected := clientMessage(err)
		if !expected {
			h.log.Error("event failed",
				zap.String("event", string(env.Event)),
				zap.String("user_id", c.UserID),
				zap.Error(err),
			)
		}
		c.SendError(env.Event, msg)
	}
}

// Disconnected cleans up after a socket. The last socket of a user takes
// them offline and ends any call they were on.
func (h *SocketHandler) Disconnected(ctx context.Context, c *realtime.Client) {
	rooms := h.hub.LeaveAll(ctx, c)
	if !setUp(rooms, c.UserID) {
		return
	}

	last, err := h.presence.Disconnect(ctx, c.UserID, c.ID)
	if err != nil {
		h.log.Warn("failed to record disconnect", zap.String("user_id", c.UserID), zap.Error(err))
		return
	}
	if !last {
		return
	}

	if err := h.users.SetOnline(ctx, c.UserID, false); err != nil {
		h.log.Warn("failed to mark user offline", zap.String("user_id", c.UserID), zap.Error(err))
	}
	if err := h.calls.End(ctx, c.UserID); err != nil {
		h.log.Warn("failed to clear call state", zap.String("user_id", c.UserID), zap.Error(err))
	}
	h.announce(ctx, c.UserID, models.EventReceiverOffline)
	h.log.Debug("user offline", zap.String("user_id", c.UserID))
}

// Heartbeat keeps the presence and call state of a live socket from
// expiring.
func (h *SocketHandler) Heartbeat(ctx context.Context, c *realtime.Client) {
	if err := h.presence.Refresh(ctx, c.UserID, c.ID); err != nil {
		h.log.Warn("failed to refresh presence", zap.String("user_id", c.UserID), zap.Error(err))
	}
	if err := h.calls.Refresh(ctx, c.UserID); err != nil {
		h.log.Warn("failed to refresh call state", zap.String("user_id", c.UserID), zap.Error(err))
	}
}

func setUp(rooms []string, userID string) bool {
	for _, r := range rooms {
		if r == userID {
			return true
		}
	}
	return false
}

// announce tells every occupied conversation room of the user about a
// presence change.
func (h *SocketHandler) announce(ctx context.Context, userID string, event models.EventType) {
	convs, err := h.convs.ForUser(ctx, userID)
	if err != nil {
		h.log.Warn("failed to list conversations", zap.String("user_id", userID), zap.Error(err))
		return
	}
	for _, conv := range convs {
		room := conv.ID.Hex()
		if h.hub.Occupied(ctx, room) {
			h.fanout.ToRoom(ctx, room, event, models.PresencePayload{UserID: userID})
		}
	}
}

func (h *SocketHandler) setup(ctx context.Context, c *realtime.Client, data json.RawMessage) error {
	id := decodeSetupID(data)
	if id != c.UserID {
		return &service.Error{Kind: service.ErrForbidden, Msg: "setup id does not match the authenticated user"}
	}

	h.hub.Join(ctx, c, c.UserID)
	c.Send(models.EventUserSetup, c.UserID)

	first, err := h.presence.Connect(ctx, c.UserID, c.ID)
	if err != nil {
		return err
	}
	if err := h.users.SetOnline(ctx, c.UserID, true); err != nil {
		return err
	}
	if first {
		h.announce(ctx, c.UserID, models.EventReceiverOnline)
	}
	return nil
}

// decodeSetupID accepts the id as a JSON string or as a user object.
func decodeSetupID(data json.RawMessage) string {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		return strings.TrimSpace(id)
	}
	var obj struct {
		ID    string `json:"_id"`
		AltID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err == nil {
		if obj.ID != "" {
			return obj.ID
		}
		return obj.AltID
	}
	return ""
}

func (h *SocketHandler) joinChat(ctx context.Context, c *realtime.Client, data json.RawMessage) error {
	var p models.JoinChatPayload
	if err := json.Unmarshal(data, &p); err != nil || p.RoomID == "" {
		return errInvalidPayload
	}
	if _, err := h.convs.EnterRoom(ctx, c.UserID, p.RoomID); err != nil {
		return err
	}
	h.hub.Join(ctx, c, p.RoomID)
	h.fanout.ToRoom(ctx, p.RoomID, models.EventUserJoinedRoom, c.UserID)
	return nil
}

func (h *SocketHandler) leaveChat(ctx context.Context, c *realtime.Client, data json.RawMessage) error {
	var room string
	if err := json.Unmarshal(data, &room); err != nil {
		var p models.JoinChatPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return errInvalidPayload
		}
		room = p.RoomID
	}
	if room == "" || room == c.UserID {
		return errInvalidPayload
	}
	h.hub.Leave(ctx, c, room)
	return nil
}

func (h *SocketHandler) sendMessage(ctx context.Context, c *realtime.Client, data json.RawMessage) error {
	var p models.SendMessagePayload
	if err := json.Unmarshal(data, &p); err != nil || p.ConversationID == "" {
		return errInvalidPayload
	}
	// The authenticated user is the sender whatever the payload claims.
	p.SenderID = c.UserID

	if strings.TrimSpace(p.Text) != "" {
		handled, err := h.botMessage(ctx, c, p)
		if handled || err != nil {
			return err
		}
	}

	d, err := h.msgs.Send(ctx, service.SendInput{
		SenderID:       p.SenderID,
		ConversationID: p.ConversationID,
		Text:           p.Text,
		ImageURL:       p.ImageURL,
		AudioURL:       p.AudioURL,
		ReplyTo:        p.ReplyTo,
		ClientID:       p.ClientID,
	}, h.fanout.Present(ctx, p.ConversationID))
	if err != nil {
		return err
	}
	h.fanout.Message(ctx, d)
	return nil
}

func (h *SocketHandler) deleteMessage(ctx context.Context, c *realtime.Client, data json.RawMessage) error {
	var p models.DeleteMessagePayload
	if err := json.Unmarshal(data, &p); err != nil || p.MessageID == "" {
		return errInvalidPayload
	}
	msg, affected, err := h.msgs.Delete(ctx, c.UserID, p.MessageID, p.DeleteFrom)
	if err != nil {
		return err
	}
	if affected > 1 {
		p.ConversationID = msg.ConversationID.Hex()
		h.fanout.ToRoom(ctx, p.ConversationID, models.EventMessageDeleted, p)
	}
	return nil
}

// typing relays the client's payload as sent, with typer set to the
// authenticated user.
func (h *SocketHandler) typing(event models.EventType) eventHandler {
	return func(ctx context.Context, c *realtime.Client, data json.RawMessage) error {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
			return errInvalidPayload
		}
		var room string
		if err := json.Unmarshal(fields["conversationId"], &room); err != nil || room == "" {
			return errInvalidPayload
		}
		if _, err := h.convs.Membership(ctx, c.UserID, room); err != nil {
			return err
		}
		typer, err := json.Marshal(c.UserID)
		if err != nil {
			return err
		}
		fields["typer"] = typer
		return h.hub.EmitExcept(ctx, room, c, event, fields)
	}
}

func (h *SocketHandler) logCall(ctx context.Context, c *realtime.Client, data json.RawMessage) error {
	var p models.CallLogPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ConversationID == "" {
		return errInvalidPayload
	}
	msg, err := h.msgs.LogCall(ctx, service.CallLogInput{
		SenderID:       c.UserID,
		ConversationID: p.ConversationID,
		CallType:       p.CallType,
		CallStatus:     p.CallStatus,
		StartedAt:      p.StartedAt,
		EndedAt:        p.EndedAt,
	})
	if err != nil {
		return err
	}
	h.fanout.ToRoom(ctx, p.ConversationID, models.EventReceiveMessage, msg)
	return nil
}

func isExpected(err error) bool {
	_, expected := clientMessage(err)
	return expected || errors.Is(err, context.Canceled)
}
