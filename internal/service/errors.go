package service

import (
	"errors"
	"fmt"

	"github.com/mossy-p/conversa/internal/repository"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidInput       = errors.New("invalid input")
	ErrConflict           = errors.New("conflict")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Error carries a message that is safe to show to the client together with
// one of the sentinel errors above.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Unwrap() error { return e.Kind }

func notFound(msg string) error     { return &Error{Kind: ErrNotFound, Msg: msg} }
func forbidden(msg string) error    { return &Error{Kind: ErrForbidden, Msg: msg} }
func invalidInput(msg string) error { return &Error{Kind: ErrInvalidInput, Msg: msg} }

// storeErr turns a repository miss into a client-facing not found error and
// wraps everything else.
func storeErr(err error, what string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return notFound(what + " not found")
	}
	return fmt.Errorf("failed to load %s: %w", what, err)
}

func parseID(s, field string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(s)
	if err != nil {
		return primitive.NilObjectID, invalidInput("invalid " + field)
	}
	return id, nil
}

// parseIDs parses ss in order, dropping repeated ids.
func parseIDs(ss []string, field string) ([]primitive.ObjectID, error) {
	out := make([]primitive.ObjectID, 0, len(ss))
	seen := make(map[primitive.ObjectID]bool, len(ss))
	for _, s := range ss {
		id, err := parseID(s, field)
		if err != nil {
			return nil, err
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound)
}
