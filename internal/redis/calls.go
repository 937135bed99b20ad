package redis

import (
	"context"

	"github.com/mossy-p/conversa/internal/realtime"
	"github.com/redis/go-redis/v9"
)

// Calls keeps one expiring key per user on a call and one per pending
// invite, so state left by a dead instance clears itself.
type Calls struct {
	client *redis.Client
}

func NewCalls(client *redis.Client) *Calls {
	return &Calls{client: client}
}

func callKey(userID string) string {
	return "call:active:" + userID
}

func inviteKey(from, to string) string {
	return "call:ringing:" + from + ":" + to
}

func (c *Calls) Ring(ctx context.Context, from, to string) error {
	return c.client.Set(ctx, inviteKey(from, to), 1, realtime.RingTimeout).Err()
}

func (c *Calls) Answer(ctx context.Context, from, to string) (bool, error) {
	n, err := c.client.Del(ctx, inviteKey(from, to)).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *Calls) Busy(ctx context.Context, userIDs ...string) (bool, error) {
	if len(userIDs) == 0 {
		return false, nil
	}
	n, err := c.client.Exists(ctx, callKeys(userIDs)...).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *Calls) Begin(ctx context.Context, userIDs ...string) error {
	if len(userIDs) == 0 {
		return nil
	}
	pipe := c.client.TxPipeline()
	for _, id := range userIDs {
		pipe.Set(ctx, callKey(id), 1, socketTTL)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Refresh extends a running call. Users not on a call are left alone.
func (c *Calls) Refresh(ctx context.Context, userID string) error {
	return c.client.Expire(ctx, callKey(userID), socketTTL).Err()
}

func (c *Calls) End(ctx context.Context, userIDs ...string) error {
	if len(userIDs) == 0 {
		return nil
	}
	return c.client.Del(ctx, callKeys(userIDs)...).Err()
}

func callKeys(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = callKey(id)
	}
	return out
}
