package models

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

func (t CallType) Valid() bool {
	return t == CallTypeAudio || t == CallTypeVideo
}

type CallStatus string

const (
	CallStatusInitiated CallStatus = "initiated"
	CallStatusAccepted  CallStatus = "accepted"
	CallStatusEnded     CallStatus = "ended"
	CallStatusMissed    CallStatus = "missed"
	CallStatusRejected  CallStatus = "rejected"
)

func (s CallStatus) Valid() bool {
	switch s {
	case CallStatusInitiated, CallStatusAccepted, CallStatusEnded, CallStatusMissed, CallStatusRejected:
		return true
	}
	return false
}

type SeenEntry struct {
	User   primitive.ObjectID `bson:"user" json:"user"`
	SeenAt time.Time          `bson:"seenAt" json:"seenAt"`
}

// Message is a single chat entry. Call logs are messages with the call
// fields set and no text.
type Message struct {
	ID             primitive.ObjectID   `bson:"_id,omitempty" json:"_id"`
	ConversationID primitive.ObjectID   `bson:"conversationId" json:"conversationId"`
	SenderID       primitive.ObjectID   `bson:"senderId" json:"senderId"`
	Text           string               `bson:"text" json:"text"`
	ImageURL       string               `bson:"imageUrl,omitempty" json:"imageUrl,omitempty"`
	AudioURL       string               `bson:"audioUrl,omitempty" json:"audioUrl,omitempty"`
	Reaction       string               `bson:"reaction" json:"reaction"`
	SeenBy         []SeenEntry          `bson:"seenBy" json:"seenBy"`
	DeletedFrom    []primitive.ObjectID `bson:"deletedFrom" json:"deletedFrom"`
	ReplyTo        *primitive.ObjectID  `bson:"replyTo,omitempty" json:"replyTo,omitempty"`
	CallType       CallType             `bson:"callType,omitempty" json:"callType,omitempty"`
	CallStatus     CallStatus           `bson:"callStatus,omitempty" json:"callStatus,omitempty"`
	CallStartedAt  *time.Time           `bson:"callStartedAt,omitempty" json:"callStartedAt,omitempty"`
	CallEndedAt    *time.Time           `bson:"callEndedAt,omitempty" json:"callEndedAt,omitempty"`
	CallDurationMs int64                `bson:"callDurationMs" json:"callDurationMs"`
	CreatedAt      time.Time            `bson:"createdAt" json:"createdAt"`
	UpdatedAt      time.Time            `bson:"updatedAt" json:"updatedAt"`

	// ClientID correlates an optimistic client-side message with the stored one.
	ClientID string `bson:"-" json:"clientId,omitempty"`
}

func (m *Message) HasContent() bool {
	return strings.TrimSpace(m.Text) != "" || m.ImageURL != "" || m.AudioURL != ""
}

func (m *Message) IsCall() bool {
	return m.CallType != ""
}

func (m *Message) SeenByUser(id primitive.ObjectID) bool {
	for _, s := range m.SeenBy {
		if s.User == id {
			return true
		}
	}
	return false
}

func (m *Message) MarkSeen(id primitive.ObjectID, at time.Time) bool {
	if m.SeenByUser(id) {
		return false
	}
	m.SeenBy = append(m.SeenBy, SeenEntry{User: id, SeenAt: at})
	return true
}

func (m *Message) DeletedFor(id primitive.ObjectID) bool {
	return containsID(m.DeletedFrom, id)
}

// Preview is the text a conversation list shows for this message.
func (m *Message) Preview() string {
	switch {
	case m.CallType == CallTypeVideo:
		return "[video call]"
	case m.CallType == CallTypeAudio:
		return "[voice call]"
	case strings.TrimSpace(m.Text) != "":
		return m.Text
	case m.ImageURL != "":
		return "[image]"
	case m.AudioURL != "":
		return "[voice]"
	}
	return ""
}
