package models

import "encoding/json"

// EventType names a frame on the realtime socket.
type EventType string

// Client to server.
const (
	EventSetup         EventType = "setup"
	EventJoinChat      EventType = "join-chat"
	EventLeaveChat     EventType = "leave-chat"
	EventSendMessage   EventType = "send-message"
	EventDeleteMessage EventType = "delete-message"
	EventTyping        EventType = "typing"
	EventStopTyping    EventType = "stop-typing"
	EventCallInitiate  EventType = "call-initiate"
	EventCallAccept    EventType = "call-accept"
	EventCallReject    EventType = "call-reject"
	EventCallEnd       EventType = "call-end"
	EventWebRTCOffer   EventType = "webrtc-offer"
	EventWebRTCAnswer  EventType = "webrtc-answer"
	EventWebRTCICE     EventType = "webrtc-ice-candidate"
	EventLogCall       EventType = "log-call"
)

// Server to client.
const (
	EventUserSetup        EventType = "user setup"
	EventReceiverOnline   EventType = "receiver-online"
	EventReceiverOffline  EventType = "receiver-offline"
	EventUserJoinedRoom   EventType = "user-joined-room"
	EventReceiveMessage   EventType = "receive-message"
	EventNewMessageNotify EventType = "new-message-notification"
	EventMessageDeleted   EventType = "message-deleted"
	EventIncomingCall     EventType = "incoming-call"
	EventCallAccepted     EventType = "call-accepted"
	EventCallRejected     EventType = "call-rejected"
	EventCallBusy         EventType = "call-busy"
	EventCallEnded        EventType = "call-ended"
	EventError            EventType = "error"
)

// Envelope is one frame on the socket in either direction.
type Envelope struct {
	Event EventType       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func NewEnvelope(event EventType, data any) (Envelope, error) {
	if raw, ok := data.(json.RawMessage); ok {
		return Envelope{Event: event, Data: raw}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: raw}, nil
}

type JoinChatPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId,omitempty"`
}

type SendMessagePayload struct {
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId,omitempty"`
	Text           string `json:"text,omitempty"`
	ImageURL       string `json:"imageUrl,omitempty"`
	AudioURL       string `json:"audioUrl,omitempty"`
	ReplyTo        string `json:"replyTo,omitempty"`
	ClientID       string `json:"clientId,omitempty"`
}

type DeleteMessagePayload struct {
	MessageID      string   `json:"messageId"`
	DeleteFrom     []string `json:"deleteFrom"`
	ConversationID string   `json:"conversationId"`
}

type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	Typer          string `json:"typer"`
}

type PresencePayload struct {
	UserID string `json:"userId"`
}

// CallPayload carries call control between caller (From) and callee (To).
type CallPayload struct {
	FromUserID     string   `json:"fromUserId"`
	ToUserID       string   `json:"toUserId"`
	ConversationID string   `json:"conversationId"`
	CallType       CallType `json:"callType,omitempty"`
	Reason         string   `json:"reason,omitempty"`
	AcceptedAt     int64    `json:"acceptedAt,omitempty"`
}

// RelayTarget is the only part of a WebRTC signaling frame the server reads.
type RelayTarget struct {
	ToUserID string `json:"toUserId"`
}

type CallBusyPayload struct {
	ToUserID string `json:"toUserId"`
}

// CallLogPayload reports a finished call; times are unix milliseconds.
type CallLogPayload struct {
	ConversationID string     `json:"conversationId"`
	SenderID       string     `json:"senderId,omitempty"`
	CallType       CallType   `json:"callType"`
	CallStatus     CallStatus `json:"callStatus"`
	StartedAt      int64      `json:"startedAt,omitempty"`
	EndedAt        int64      `json:"endedAt,omitempty"`
}

type ErrorPayload struct {
	Event EventType `json:"event,omitempty"`
	Error string    `json:"error"`
}
