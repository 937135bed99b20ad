package bot

import (
	"context"
	"errors"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is one earlier message of the conversation as the model sees it.
type Turn struct {
	Role Role
	Text string
}

// Responder produces the bot's answer to prompt given the earlier turns,
// oldest first.
type Responder interface {
	Respond(ctx context.Context, history []Turn, prompt string) (string, error)
}

var ErrDisabled = errors.New("bot is not configured")

// Disabled answers every prompt with ErrDisabled.
type Disabled struct{}

func (Disabled) Respond(context.Context, []Turn, string) (string, error) {
	return "", ErrDisabled
}
