package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mossy-p/conversa/internal/bot"
	"github.com/mossy-p/conversa/internal/events"
	"github.com/mossy-p/conversa/internal/metrics"
	"github.com/mossy-p/conversa/internal/models"
	"github.com/mossy-p/conversa/internal/repository"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// BotService answers messages sent to conversations with a bot member.
type BotService struct {
	users        repository.UserRepository
	convs        repository.ConversationRepository
	msgs         repository.MessageRepository
	responder    bot.Responder
	events       events.Publisher
	historyLimit int64
	log          *zap.Logger
	now          func() time.Time
}

func NewBotService(store *repository.Store, responder bot.Responder, historyLimit int, publisher events.Publisher, logger *zap.Logger) *BotService {
	return &BotService{
		users:        store.Users,
		convs:        store.Conversations,
		msgs:         store.Messages,
		responder:    responder,
		events:       publisher,
		historyLimit: int64(historyLimit),
		log:          logger.Named("bot"),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// BotFor returns the bot member of conv other than sender, or nil.
func (s *BotService) BotFor(ctx context.Context, conv *models.Conversation, sender primitive.ObjectID) (*models.User, error) {
	others := conv.OtherMembers(sender)
	if len(others) == 0 {
		return nil, nil
	}
	users, err := s.users.GetMany(ctx, others)
	if err != nil {
		return nil, fmt.Errorf("failed to load members: %w", err)
	}
	for _, u := range users {
		if u.IsBot() {
			return u, nil
		}
	}
	return nil, nil
}

// Reply asks the responder to answer prompt. The prompt and the answer are
// stored only when the answer is non-empty; in that case the stored answer
// is returned, otherwise nil.
func (s *BotService) Reply(ctx context.Context, conversationID, senderID, prompt string) (*models.Message, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, nil
	}
	sender, err := parseID(senderID, "sender id")
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
	if !conv.HasMember(sender) {
		return nil, forbidden("you are not a member of this conversation")
	}
	botUser, err := s.BotFor(ctx, conv, sender)
	if err != nil {
		return nil, err
	}
	if botUser == nil {
		return nil, invalidInput("conversation has no bot")
	}

	recent, err := s.msgs.Recent(ctx, convID, s.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	history := make([]bot.Turn, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		m := recent[i]
		role := bot.RoleModel
		if m.SenderID == sender {
			role = bot.RoleUser
		}
		history = append(history, bot.Turn{Role: role, Text: m.Text})
	}

	answer, err := s.responder.Respond(ctx, history, prompt)
	if err != nil {
		return nil, err
	}
	if answer == "" {
		return nil, nil
	}

	now := s.now()
	question := &models.Message{ConversationID: convID, SenderID: sender, Text: prompt, CreatedAt: now}
	question.MarkSeen(sender, now)
	question.MarkSeen(botUser.ID, now)
	if err := s.msgs.Create(ctx, question); err != nil {
		return nil, fmt.Errorf("failed to store prompt: %w", err)
	}

	reply := &models.Message{ConversationID: convID, SenderID: botUser.ID, Text: answer, CreatedAt: now.Add(time.Millisecond)}
	reply.MarkSeen(botUser.ID, now)
	reply.MarkSeen(sender, now)
	if err := s.msgs.Create(ctx, reply); err != nil {
		return nil, fmt.Errorf("failed to store reply: %w", err)
	}

	if _, err := s.convs.RecordMessage(ctx, convID, answer, nil, true); err != nil {
		return nil, fmt.Errorf("failed to update conversation: %w", err)
	}

	metrics.Messages.WithLabelValues("bot").Inc()
	for _, m := range []*models.Message{question, reply} {
		s.events.Publish(ctx, events.Event{
			Type:           events.MessageCreated,
			ConversationID: convID.Hex(),
			ActorID:        m.SenderID.Hex(),
			At:             now,
			Data:           m,
		})
	}
	return reply, nil
}
