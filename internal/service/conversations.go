package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mossy-p/conversa/internal/events"
	"github.com/mossy-p/conversa/internal/models"
	"github.com/mossy-p/conversa/internal/repository"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

const maxSaveAttempts = 5

type GroupInput struct {
	Name        string
	Description string
	GroupIcon   string
	MemberIDs   []string
}

// GroupUpdate changes group metadata. An empty Name is ignored; nil
// Description or GroupIcon are left alone.
type GroupUpdate struct {
	Name        string
	Description *string
	GroupIcon   *string
}

type ConversationService struct {
	users  repository.UserRepository
	convs  repository.ConversationRepository
	msgs   repository.MessageRepository
	events events.Publisher
	log    *zap.Logger
}

func NewConversationService(store *repository.Store, publisher events.Publisher, logger *zap.Logger) *ConversationService {
	return &ConversationService{
		users:  store.Users,
		convs:  store.Conversations,
		msgs:   store.Messages,
		events: publisher,
		log:    logger.Named("conversations"),
	}
}

// Create returns the one-to-one conversation between the caller and
// memberIDs, creating it when it does not exist yet.
func (s *ConversationService) Create(ctx context.Context, callerID string, memberIDs []string) (*models.ConversationView, error) {
	caller, err := parseID(callerID, "user id")
	if err != nil {
		return nil, err
	}
	if len(memberIDs) == 0 {
		return nil, invalidInput("members are required")
	}
	ids, err := parseIDs(memberIDs, "member id")
	if err != nil {
		return nil, err
	}

	conv := &models.Conversation{}
	conv.AddMembers(append([]primitive.ObjectID{caller}, ids...)...)
	if len(conv.Members) < 2 {
		return nil, invalidInput("a conversation needs another member")
	}
	if err := s.ensureUsers(ctx, conv.Members); err != nil {
		return nil, err
	}

	existing, err := s.convs.FindDirect(ctx, conv.Members)
	switch {
	case err == nil:
		return s.view(ctx, existing, caller)
	case !isNotFound(err):
		return nil, fmt.Errorf("failed to find conversation: %w", err)
	}

	if err := s.convs.Create(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	s.publish(ctx, events.ConversationCreated, conv, caller, nil)
	return s.view(ctx, conv, caller)
}

func (s *ConversationService) Get(ctx context.Context, callerID, id string) (*models.ConversationView, error) {
	caller, conv, err := s.memberOf(ctx, callerID, id)
	if err != nil {
		return nil, err
	}
	return s.populate(ctx, conv, caller, conv.Members)
}

// List returns the caller's conversations, most recently active first.
func (s *ConversationService) List(ctx context.Context, callerID string) ([]*models.ConversationView, error) {
	caller, err := parseID(callerID, "user id")
	if err != nil {
		return nil, err
	}
	convs, err := s.convs.ListForUser(ctx, caller)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	ids := make([]primitive.ObjectID, 0)
	for _, c := range convs {
		ids = append(ids, c.Members...)
	}
	profiles, err := s.profiles(ctx, ids, caller)
	if err != nil {
		return nil, err
	}

	out := make([]*models.ConversationView, 0, len(convs))
	for _, c := range convs {
		out = append(out, buildView(c, caller, profiles))
	}
	return out, nil
}

// ForUser returns the raw conversations of a user, for presence broadcasts.
func (s *ConversationService) ForUser(ctx context.Context, userID string) ([]*models.Conversation, error) {
	id, err := parseID(userID, "user id")
	if err != nil {
		return nil, err
	}
	return s.convs.ListForUser(ctx, id)
}

// Membership loads a conversation and checks that userID belongs to it.
func (s *ConversationService) Membership(ctx context.Context, userID, id string) (*models.Conversation, error) {
	_, conv, err := s.memberOf(ctx, userID, id)
	return conv, err
}

func (s *ConversationService) CreateGroup(ctx context.Context, callerID string, in GroupInput) (*models.ConversationView, error) {
	caller, err := parseID(callerID, "user id")
	if err != nil {
		return nil, err
	}
	ids, err := parseIDs(in.MemberIDs, "member id")
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)

	conv := &models.Conversation{
		IsGroup:     true,
		Name:        name,
		Description: in.Description,
		GroupIcon:   in.GroupIcon,
		CreatedBy:   caller,
		Admins:      []primitive.ObjectID{caller},
	}
	conv.AddMembers(ids...)
	if name == "" || len(conv.OtherMembers(caller)) < 2 {
		return nil, invalidInput("Name and at least 2 members required")
	}
	conv.AddMembers(caller)
	if err := s.ensureUsers(ctx, conv.Members); err != nil {
		return nil, err
	}

	if err := s.convs.Create(ctx, conv); err != nil {
		return nil, fmt.Errorf("failed to create group: %w", err)
	}
	s.publish(ctx, events.ConversationCreated, conv, caller, map[string]any{"name": conv.Name, "isGroup": true})
	return s.populate(ctx, conv, caller, conv.Members)
}

func (s *ConversationService) AddMembers(ctx context.Context, callerID, id string, memberIDs []string) (*models.ConversationView, error) {
	ids, err := parseIDs(memberIDs, "member id")
	if err != nil {
		return nil, err
	}
	if err := s.ensureUsers(ctx, ids); err != nil {
		return nil, err
	}
	caller, conv, err := s.update(ctx, s.asAdmin(ctx, callerID, id), func(_ primitive.ObjectID, conv *models.Conversation) error {
		conv.AddMembers(ids...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.populate(ctx, conv, caller, conv.Members)
}

func (s *ConversationService) RemoveMember(ctx context.Context, callerID, id, memberID string) error {
	member, err := parseID(memberID, "member id")
	if err != nil {
		return err
	}
	_, _, err = s.update(ctx, s.asAdmin(ctx, callerID, id), func(_ primitive.ObjectID, conv *models.Conversation) error {
		conv.RemoveMember(member)
		return nil
	})
	return err
}

func (s *ConversationService) UpdateGroup(ctx context.Context, callerID, id string, upd GroupUpdate) (*models.Conversation, error) {
	_, conv, err := s.update(ctx, s.asAdmin(ctx, callerID, id), func(_ primitive.ObjectID, conv *models.Conversation) error {
		if name := strings.TrimSpace(upd.Name); name != "" {
			conv.Name = name
		}
		if upd.Description != nil {
			conv.Description = *upd.Description
		}
		if upd.GroupIcon != nil {
			conv.GroupIcon = *upd.GroupIcon
		}
		return nil
	})
	return conv, err
}

func (s *ConversationService) Promote(ctx context.Context, callerID, id, memberID string) (*models.Conversation, error) {
	return s.changeAdmin(ctx, callerID, id, memberID, true)
}

func (s *ConversationService) Demote(ctx context.Context, callerID, id, memberID string) (*models.Conversation, error) {
	return s.changeAdmin(ctx, callerID, id, memberID, false)
}

func (s *ConversationService) changeAdmin(ctx context.Context, callerID, id, memberID string, promote bool) (*models.Conversation, error) {
	member, err := parseID(memberID, "member id")
	if err != nil {
		return nil, err
	}
	_, conv, err := s.update(ctx, s.asAdmin(ctx, callerID, id), func(_ primitive.ObjectID, conv *models.Conversation) error {
		if !promote {
			conv.Demote(member)
			return nil
		}
		if !conv.HasMember(member) {
			return invalidInput("user is not a member of this group")
		}
		conv.Promote(member)
		return nil
	})
	return conv, err
}

// Leave removes the caller from a group they belong to.
func (s *ConversationService) Leave(ctx context.Context, callerID, id string) error {
	load := func() (primitive.ObjectID, *models.Conversation, error) {
		caller, conv, err := s.memberOf(ctx, callerID, id)
		if err == nil && !conv.IsGroup {
			return caller, nil, notFound("Not found")
		}
		return caller, conv, err
	}
	_, _, err := s.update(ctx, load, func(caller primitive.ObjectID, conv *models.Conversation) error {
		conv.RemoveMember(caller)
		return nil
	})
	return err
}

// DeleteGroup removes the group and its messages.
func (s *ConversationService) DeleteGroup(ctx context.Context, callerID, id string) error {
	caller, conv, err := s.adminOf(ctx, callerID, id)
	if err != nil {
		return err
	}
	if err := s.convs.Delete(ctx, conv.ID); err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}
	if err := s.msgs.DeleteByConversation(ctx, conv.ID); err != nil {
		return fmt.Errorf("failed to delete group messages: %w", err)
	}
	s.publish(ctx, events.GroupDeleted, conv, caller, nil)
	return nil
}

// EnterRoom clears the caller's unread counter without reordering the
// conversation list.
func (s *ConversationService) EnterRoom(ctx context.Context, callerID, id string) (*models.Conversation, error) {
	caller, conv, err := s.memberOf(ctx, callerID, id)
	if err != nil {
		return nil, err
	}
	if conv.Unread(caller) == 0 {
		return conv, nil
	}
	if err := s.convs.ResetUnread(ctx, conv.ID, caller); err != nil {
		return nil, storeErr(err, "conversation")
	}
	conv.ResetUnread(caller)
	return conv, nil
}

// update loads a conversation, applies change and saves it. A save that
// lost a race with another writer is retried on a fresh copy.
func (s *ConversationService) update(
	ctx context.Context,
	load func() (primitive.ObjectID, *models.Conversation, error),
	change func(caller primitive.ObjectID, conv *models.Conversation) error,
) (primitive.ObjectID, *models.Conversation, error) {
	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		caller, conv, err := load()
		if err != nil {
			return caller, nil, err
		}
		if err := change(caller, conv); err != nil {
			return caller, nil, err
		}
		err = s.convs.Save(ctx, conv, true)
		switch {
		case err == nil:
			return caller, conv, nil
		case errors.Is(err, repository.ErrStale):
			s.log.Debug("conversation changed during update, retrying",
				zap.String("conversation_id", conv.ID.Hex()), zap.Int("attempt", attempt+1))
			continue
		case isNotFound(err):
			return caller, nil, notFound("Conversation not found")
		default:
			return caller, nil, fmt.Errorf("failed to save group: %w", err)
		}
	}
	return primitive.NilObjectID, nil, &Error{Kind: ErrConflict, Msg: "conversation changed, try again"}
}

func (s *ConversationService) asAdmin(ctx context.Context, callerID, id string) func() (primitive.ObjectID, *models.Conversation, error) {
	return func() (primitive.ObjectID, *models.Conversation, error) {
		return s.adminOf(ctx, callerID, id)
	}
}

func (s *ConversationService) memberOf(ctx context.Context, callerID, id string) (primitive.ObjectID, *models.Conversation, error) {
	caller, err := parseID(callerID, "user id")
	if err != nil {
		return caller, nil, err
	}
	convID, err := parseID(id, "conversation id")
	if err != nil {
		return caller, nil, err
	}
	conv, err := s.convs.GetByID(ctx, convID)
	if err != nil {
		return caller, nil, storeErr(err, "conversation")
	}
	if !conv.HasMember(caller) {
		return caller, nil, forbidden("you are not a member of this conversation")
	}
	return caller, conv, nil
}

func (s *ConversationService) adminOf(ctx context.Context, callerID, id string) (primitive.ObjectID, *models.Conversation, error) {
	caller, err := parseID(callerID, "user id")
	if err != nil {
		return caller, nil, err
	}
	convID, err := parseID(id, "conversation id")
	if err != nil {
		return caller, nil, err
	}
	conv, err := s.convs.GetByID(ctx, convID)
	switch {
	case isNotFound(err):
		return caller, nil, forbidden("Conversation not found")
	case err != nil:
		return caller, nil, fmt.Errorf("failed to load conversation: %w", err)
	case !conv.IsGroup:
		return caller, nil, forbidden("Not a group chat")
	case !conv.IsAdmin(caller):
		return caller, nil, forbidden("Not an admin")
	}
	return caller, conv, nil
}

func (s *ConversationService) ensureUsers(ctx context.Context, ids []primitive.ObjectID) error {
	users, err := s.users.GetMany(ctx, ids)
	if err != nil {
		return fmt.Errorf("failed to load users: %w", err)
	}
	found := make(map[primitive.ObjectID]bool, len(users))
	for _, u := range users {
		found[u.ID] = true
	}
	for _, id := range ids {
		if !found[id] {
			return invalidInput("unknown user " + id.Hex())
		}
	}
	return nil
}

// view shows a one-to-one conversation from the caller's side: the caller
// is left out of the members.
func (s *ConversationService) view(ctx context.Context, conv *models.Conversation, caller primitive.ObjectID) (*models.ConversationView, error) {
	profiles, err := s.profiles(ctx, conv.Members, caller)
	if err != nil {
		return nil, err
	}
	return buildView(conv, caller, profiles), nil
}

func (s *ConversationService) populate(ctx context.Context, conv *models.Conversation, caller primitive.ObjectID, ids []primitive.ObjectID) (*models.ConversationView, error) {
	profiles, err := s.profiles(ctx, ids, caller)
	if err != nil {
		return nil, err
	}
	v := &models.ConversationView{Conversation: *conv, Members: make([]*models.User, 0, len(ids))}
	for _, id := range ids {
		if u, ok := profiles[id]; ok {
			v.Members = append(v.Members, u)
		}
	}
	return v, nil
}

func (s *ConversationService) profiles(ctx context.Context, ids []primitive.ObjectID, viewer primitive.ObjectID) (map[primitive.ObjectID]*models.User, error) {
	out := make(map[primitive.ObjectID]*models.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	users, err := s.users.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load members: %w", err)
	}
	for _, u := range users {
		out[u.ID] = u.VisibleTo(viewer)
	}
	return out, nil
}

func buildView(c *models.Conversation, caller primitive.ObjectID, profiles map[primitive.ObjectID]*models.User) *models.ConversationView {
	ids := c.Members
	if !c.IsGroup {
		ids = c.OtherMembers(caller)
	}
	v := &models.ConversationView{Conversation: *c, Members: make([]*models.User, 0, len(ids))}
	for _, id := range ids {
		if u, ok := profiles[id]; ok {
			v.Members = append(v.Members, u)
		}
	}
	return v
}

func (s *ConversationService) publish(ctx context.Context, t events.Type, conv *models.Conversation, actor primitive.ObjectID, data any) {
	s.events.Publish(ctx, events.Event{
		Type:           t,
		ConversationID: conv.ID.Hex(),
		ActorID:        actor.Hex(),
		At:             time.Now().UTC(),
		Data:           data,
	})
}
