package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mossy-p/conversa/internal/events"
	"github.com/mossy-p/conversa/internal/metrics"
	"github.com/mossy-p/conversa/internal/models"
	"github.com/mossy-p/conversa/internal/repository"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type SendInput struct {
	SenderID       string
	ConversationID string
	Text           string
	ImageURL       string
	AudioURL       string
	ReplyTo        string
	ClientID       string
}

// Delivery is a stored message together with the members who were not in
// the conversation room when it was sent.
type Delivery struct {
	Message      *models.Message
	Conversation *models.Conversation
	Absent       []primitive.ObjectID
}

type CallLogInput struct {
	SenderID       string
	ConversationID string
	CallType       models.CallType
	CallStatus     models.CallStatus
	StartedAt      int64
	EndedAt        int64
}

type MessageService struct {
	users  repository.UserRepository
	convs  repository.ConversationRepository
	msgs   repository.MessageRepository
	events events.Publisher
	log    *zap.Logger
	now    func() time.Time
}

func NewMessageService(store *repository.Store, publisher events.Publisher, logger *zap.Logger) *MessageService {
	return &MessageService{
		users:  store.Users,
		convs:  store.Conversations,
		msgs:   store.Messages,
		events: publisher,
		log:    logger.Named("messages"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Send stores a message. present reports whether a member is currently in
// the conversation room; those members see the message immediately, the
// rest get an unread increment.
func (s *MessageService) Send(ctx context.Context, in SendInput, present func(primitive.ObjectID) bool) (*Delivery, error) {
	sender, err := parseID(in.SenderID, "sender id")
	if err != nil {
		return nil, err
	}
	convID, err := parseID(in.ConversationID, "conversation id")
	if err != nil {
		return nil, err
	}

	msg := &models.Message{
		ConversationID: convID,
		SenderID:       sender,
		ImageURL:       in.ImageURL,
		AudioURL:       in.AudioURL,
		ClientID:       in.ClientID,
	}
	if strings.TrimSpace(in.Text) != "" {
		msg.Text = in.Text
	}
	if !msg.HasContent() {
		return nil, invalidInput("Either text, image or audio is required")
	}
	if in.ReplyTo != "" {
		replyTo, err := parseID(in.ReplyTo, "replyTo")
		if err != nil {
			return nil, err
		}
		msg.ReplyTo = &replyTo
	}

	conv, err := s.convs.GetByID(ctx, convID)
	if err != nil {
		return nil, storeErr(err, "conversation")
	}
	if !conv.HasMember(sender) {
		return nil, forbidden("you are not a member of this conversation")
	}
	if err := s.checkBlocked(ctx, conv, sender); err != nil {
		return nil, err
	}

	now := s.now()
	msg.MarkSeen(sender, now)
	var absent []primitive.ObjectID
	for _, member := range conv.OtherMembers(sender) {
		if present != nil && present(member) {
			msg.MarkSeen(member, now)
			continue
		}
		absent = append(absent, member)
	}

	if err := s.msgs.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	msg.ClientID = in.ClientID

	conv, err = s.convs.RecordMessage(ctx, convID, msg.Preview(), absent, true)
	if err != nil {
		return nil, fmt.Errorf("failed to update conversation: %w", err)
	}

	metrics.Messages.WithLabelValues(messageKind(msg)).Inc()
	s.publish(ctx, events.MessageCreated, msg, sender)
	return &Delivery{Message: msg, Conversation: conv, Absent: absent}, nil
}

// checkBlocked rejects one-to-one messages when either side blocked the other.
func (s *MessageService) checkBlocked(ctx context.Context, conv *models.Conversation, sender primitive.ObjectID) error {
	if conv.IsGroup {
		return nil
	}
	ids := append([]primitive.ObjectID{sender}, conv.OtherMembers(sender)...)
	users, err := s.users.GetMany(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to load members: %w", err)
	}
	for _, u := range users {
		for _, other := range ids {
			if other != u.ID && u.HasBlocked(other) {
				return forbidden("messages between these users are blocked")
			}
		}
	}
	return nil
}

// History returns the caller's visible messages, oldest first, and marks
// them seen by the caller.
func (s *MessageService) History(ctx context.Context, callerID, conversationID string) ([]*models.Message, error) {
	caller, err := parseID(callerID, "user id")
	if err != nil {
		return nil, err
	}
	convID, err := parseID(conversationID, "conversation id")
	if err != nil {
		return nil, err
	}
	conv, err := s.convs.GetByID(ctx, convID)
	if err != nil {
		return nil, storeErr(err, "conversation")
	}
	if !conv.HasMember(caller) {
		return nil, forbidden("you are not a member of this conversation")
	}

	msgs, err := s.msgs.ListVisible(ctx, convID, caller)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	now := s.now()
	var unseen []primitive.ObjectID
	for _, m := range msgs {
		if m.MarkSeen(caller, now) {
			unseen = append(unseen, m.ID)
		}
	}
	if len(unseen) > 0 {
		if err := s.msgs.MarkSeen(ctx, unseen, caller, now); err != nil {
			return nil, fmt.Errorf("failed to mark messages seen: %w", err)
		}
	}
	return msgs, nil
}

// Delete hides a message for the given users. Anyone may hide a message for
// themself; hiding it for others is reserved to its sender. It returns the
// updated message and how many users were named.
func (s *MessageService) Delete(ctx context.Context, callerID, messageID string, deleteFrom []string) (*models.Message, int, error) {
	caller, err := parseID(callerID, "user id")
	if err != nil {
		return nil, 0, err
	}
	msgID, err := parseID(messageID, "message id")
	if err != nil {
		return nil, 0, err
	}
	targets, err := parseIDs(deleteFrom, "user id")
	if err != nil {
		return nil, 0, err
	}
	if len(targets) == 0 {
		targets = []primitive.ObjectID{caller}
	}

	msg, err := s.msgs.GetByID(ctx, msgID)
	if err != nil {
		return nil, 0, storeErr(err, "message")
	}
	conv, err := s.convs.GetByID(ctx, msg.ConversationID)
	if err != nil {
		return nil, 0, storeErr(err, "conversation")
	}
	if !conv.HasMember(caller) {
		return nil, 0, forbidden("you are not a member of this conversation")
	}
	for _, t := range targets {
		if t != caller && msg.SenderID != caller {
			return nil, 0, forbidden("only the sender can delete a message for others")
		}
	}

	updated, err := s.msgs.AddDeletedFrom(ctx, msgID, targets)
	if err != nil {
		return nil, 0, storeErr(err, "message")
	}
	s.publish(ctx, events.MessageDeleted, updated, caller)
	return updated, len(targets), nil
}

// LogCall records a finished or missed call as a message in the conversation.
func (s *MessageService) LogCall(ctx context.Context, in CallLogInput) (*models.Message, error) {
	sender, err := parseID(in.SenderID, "sender id")
	if err != nil {
		return nil, err
	}
	convID, err := parseID(in.ConversationID, "conversation id")
	if err != nil {
		return nil, err
	}
	if !in.CallType.Valid() {
		return nil, invalidInput("callType must be audio or video")
	}
	if in.CallStatus == "" {
		in.CallStatus = models.CallStatusEnded
	}
	if !in.CallStatus.Valid() {
		return nil, invalidInput("invalid callStatus")
	}

	conv, err := s.convs.GetByID(ctx, convID)
	if err != nil {
		return nil, storeErr(err, "conversation")
	}
	if !conv.HasMember(sender) {
		return nil, forbidden("you are not a member of this conversation")
	}

	msg := &models.Message{
		ConversationID: convID,
		SenderID:       sender,
		CallType:       in.CallType,
		CallStatus:     in.CallStatus,
		CallStartedAt:  millisToTime(in.StartedAt),
		CallEndedAt:    millisToTime(in.EndedAt),
	}
	if in.StartedAt > 0 && in.EndedAt > in.StartedAt {
		msg.CallDurationMs = in.EndedAt - in.StartedAt
	}
	msg.MarkSeen(sender, s.now())

	if err := s.msgs.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to create call log: %w", err)
	}

	if _, err := s.convs.RecordMessage(ctx, convID, msg.Preview(), nil, false); err != nil {
		return nil, fmt.Errorf("failed to update conversation: %w", err)
	}

	metrics.Messages.WithLabelValues("call").Inc()
	s.publish(ctx, events.CallLogged, msg, sender)
	return msg, nil
}

func (s *MessageService) publish(ctx context.Context, t events.Type, m *models.Message, actor primitive.ObjectID) {
	s.events.Publish(ctx, events.Event{
		Type:           t,
		ConversationID: m.ConversationID.Hex(),
		ActorID:        actor.Hex(),
		At:             s.now(),
		Data:           m,
	})
}

func messageKind(m *models.Message) string {
	switch {
	case m.IsCall():
		return "call"
	case m.ImageURL != "":
		return "image"
	case m.AudioURL != "":
		return "audio"
	}
	return "text"
}

func millisToTime(ms int64) *time.Time {
	if ms <= 0 {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}
