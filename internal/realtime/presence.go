package realtime

import (
	"context"
	"time"
)

// RingTimeout is how long an unanswered call invite stays valid.
const RingTimeout = time.Minute

// Presence tracks which users have at least one live socket.
type Presence interface {
	// Connect records a socket and reports whether it is the user's first.
	Connect(ctx context.Context, userID, socketID string) (bool, error)
	// Disconnect forgets a socket and reports whether it was the user's last.
	Disconnect(ctx context.Context, userID, socketID string) (bool, error)
	// Refresh marks a connected socket as still alive.
	Refresh(ctx context.Context, userID, socketID string) error
	Online(ctx context.Context, userID string) (bool, error)
}

// CallTracker remembers pending invites and the users who are on a call, so
// only an invited callee can answer and a second caller gets a busy signal.
type CallTracker interface {
	// Ring records an invite from one user to another for RingTimeout.
	Ring(ctx context.Context, from, to string) error
	// Answer consumes the invite from one user to another and reports
	// whether there was one.
	Answer(ctx context.Context, from, to string) (bool, error)
	Busy(ctx context.Context, userIDs ...string) (bool, error)
	Begin(ctx context.Context, userIDs ...string) error
	// Refresh extends the call state of a user who is still connected.
	Refresh(ctx context.Context, userID string) error
	End(ctx context.Context, userIDs ...string) error
}
