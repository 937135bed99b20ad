package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mossy-p/conversa/internal/auth"
	"github.com/mossy-p/conversa/internal/models"
	"github.com/mossy-p/conversa/internal/repository"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type RegisterInput struct {
	Name     string
	Email    string
	Password string
	Username string
}

type AuthService struct {
	users  repository.UserRepository
	tokens *auth.Tokens
	log    *zap.Logger
}

func NewAuthService(users repository.UserRepository, tokens *auth.Tokens, logger *zap.Logger) *AuthService {
	return &AuthService{users: users, tokens: tokens, log: logger.Named("auth")}
}

// Register creates an account and returns it with a session token.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*models.User, string, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Username = strings.ToLower(strings.TrimSpace(in.Username))

	if n := len([]rune(in.Name)); n < 3 || n > 50 {
		return nil, "", invalidInput("name must be between 3 and 50 characters")
	}
	if !validEmail(in.Email) {
		return nil, "", invalidInput("invalid email")
	}
	if len(in.Password) < 6 {
		return nil, "", invalidInput("password must be at least 6 characters")
	}
	if in.Username != "" && !validUsername(in.Username) {
		return nil, "", invalidInput("username must be 3 to 30 lowercase letters, digits, dots or underscores")
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, "", err
	}

	u := &models.User{
		Name:            in.Name,
		Username:        in.Username,
		Email:           in.Email,
		Password:        hash,
		ProfilePic:      models.DefaultProfilePic,
		Privacy:         models.DefaultPrivacy(),
		ThemePreference: models.ThemeSystem,
		BlockedUsers:    []primitive.ObjectID{},
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, "", &Error{Kind: ErrConflict, Msg: "an account with this email already exists"}
		}
		return nil, "", fmt.Errorf("failed to create user: %w", err)
	}

	token, err := s.tokens.Issue(u.ID.Hex())
	if err != nil {
		return nil, "", err
	}
	s.log.Info("user registered", zap.String("user_id", u.ID.Hex()))
	return u, token, nil
}

func (s *AuthService) Login(ctx context.Context, email, password string) (*models.User, string, error) {
	invalid := &Error{Kind: ErrInvalidCredentials, Msg: "invalid email or password"}

	u, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, "", invalid
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to load user: %w", err)
	}
	if err := auth.CheckPassword(u.Password, password); err != nil {
		return nil, "", invalid
	}

	token, err := s.tokens.Issue(u.ID.Hex())
	if err != nil {
		return nil, "", err
	}
	return u, token, nil
}

func (s *AuthService) Me(ctx context.Context, userID string) (*models.User, error) {
	id, err := parseID(userID, "user id")
	if err != nil {
		return nil, err
	}
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, storeErr(err, "user")
	}
	return u, nil
}
