package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mossy-p/conversa/internal/models"
	"github.com/mossy-p/conversa/internal/realtime"
	"github.com/mossy-p/conversa/internal/repository"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

const searchLimit = 20

// OnlineStatus is what a user may learn about another user's presence.
type OnlineStatus struct {
	IsOnline bool       `json:"isOnline"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

type UserService struct {
	users    repository.UserRepository
	convs    repository.ConversationRepository
	presence realtime.Presence
	log      *zap.Logger
	now      func() time.Time
}

// NewUserService creates the service. presence may be nil, in which case the
// stored isOnline flag is reported.
func NewUserService(store *repository.Store, presence realtime.Presence, logger *zap.Logger) *UserService {
	return &UserService{
		users:    store.Users,
		convs:    store.Conversations,
		presence: presence,
		log:      logger.Named("users"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *UserService) Get(ctx context.Context, viewerID, userID string) (*models.User, error) {
	viewer, err := parseID(viewerID, "user id")
	if err != nil {
		return nil, err
	}
	id, err := parseID(userID, "user id")
	if err != nil {
		return nil, err
	}
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, storeErr(err, "user")
	}
	return u.VisibleTo(viewer), nil
}

func (s *UserService) UpdateProfile(ctx context.Context, userID string, upd repository.UserUpdate) (*models.User, error) {
	id, err := parseID(userID, "user id")
	if err != nil {
		return nil, err
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if n := len([]rune(name)); n < 3 || n > 50 {
			return nil, invalidInput("name must be between 3 and 50 characters")
		}
		upd.Name = &name
	}
	if upd.Username != nil {
		username := strings.ToLower(strings.TrimSpace(*upd.Username))
		if !validUsername(username) {
			return nil, invalidInput("username must be 3 to 30 lowercase letters, digits, dots or underscores")
		}
		upd.Username = &username
	}
	if upd.ThemePreference != nil {
		switch *upd.ThemePreference {
		case models.ThemeSystem, models.ThemeLight, models.ThemeDark:
		default:
			return nil, invalidInput("themePreference must be system, light or dark")
		}
	}

	u, err := s.users.Update(ctx, id, upd)
	if err != nil {
		return nil, storeErr(err, "user")
	}
	return u, nil
}

func (s *UserService) OnlineStatus(ctx context.Context, viewerID, userID string) (*OnlineStatus, error) {
	u, err := s.Get(ctx, viewerID, userID)
	if err != nil {
		return nil, err
	}
	status := &OnlineStatus{IsOnline: u.IsOnline, LastSeen: u.LastSeen}
	if s.presence != nil {
		online, err := s.presence.Online(ctx, userID)
		if err != nil {
			s.log.Warn("presence lookup failed", zap.String("user_id", userID), zap.Error(err))
		} else {
			status.IsOnline = online
		}
	}
	return status, nil
}

// NonFriends lists users the caller has no one-to-one conversation with.
func (s *UserService) NonFriends(ctx context.Context, userID string) ([]*models.User, error) {
	id, err := parseID(userID, "user id")
	if err != nil {
		return nil, err
	}
	convs, err := s.convs.ListForUser(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	exclude := []primitive.ObjectID{id}
	for _, c := range convs {
		if !c.IsGroup {
			exclude = append(exclude, c.OtherMembers(id)...)
		}
	}
	users, err := s.users.ListExcept(ctx, exclude, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return visibleTo(users, id), nil
}

func (s *UserService) Search(ctx context.Context, userID, query string) ([]*models.User, error) {
	id, err := parseID(userID, "user id")
	if err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return []*models.User{}, nil
	}
	users, err := s.users.Search(ctx, query, []primitive.ObjectID{id}, searchLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to search users: %w", err)
	}
	return visibleTo(users, id), nil
}

func (s *UserService) Block(ctx context.Context, userID, targetID string) error {
	return s.setBlocked(ctx, userID, targetID, true)
}

func (s *UserService) Unblock(ctx context.Context, userID, targetID string) error {
	return s.setBlocked(ctx, userID, targetID, false)
}

func (s *UserService) setBlocked(ctx context.Context, userID, targetID string, blocked bool) error {
	id, err := parseID(userID, "user id")
	if err != nil {
		return err
	}
	target, err := parseID(targetID, "user id")
	if err != nil {
		return err
	}
	if id == target {
		return invalidInput("you cannot block yourself")
	}
	if _, err := s.users.GetByID(ctx, target); err != nil {
		return storeErr(err, "user")
	}
	if err := s.users.SetBlocked(ctx, id, target, blocked); err != nil {
		return storeErr(err, "user")
	}
	return nil
}

// SetOnline records the user's stored presence. Only going offline stamps
// lastSeen.
func (s *UserService) SetOnline(ctx context.Context, userID string, online bool) error {
	id, err := parseID(userID, "user id")
	if err != nil {
		return err
	}
	if err := s.users.SetOnline(ctx, id, online, s.now()); err != nil {
		return storeErr(err, "user")
	}
	return nil
}

func visibleTo(users []*models.User, viewer primitive.ObjectID) []*models.User {
	out := make([]*models.User, 0, len(users))
	for _, u := range users {
		out = append(out, u.VisibleTo(viewer))
	}
	return out
}
