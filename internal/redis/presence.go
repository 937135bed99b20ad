package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Presence tracks each user's live sockets in a Redis sorted set scored by
// expiry. Sockets of an instance that died stop counting once their score
// passes, and the whole key expires when no socket refreshes it.
type Presence struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

func NewPresence(client *redis.Client) *Presence {
	return &Presence{client: client, ttl: socketTTL, now: time.Now}
}

func presenceKey(userID string) string {
	return "presence:" + userID
}

func millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func (p *Presence) entry(socketID string, now time.Time) redis.Z {
	return redis.Z{Score: float64(now.Add(p.ttl).UnixMilli()), Member: socketID}
}

func (p *Presence) Connect(ctx context.Context, userID, socketID string) (bool, error) {
	key, now := presenceKey(userID), p.now()
	pipe := p.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", millis(now))
	pipe.ZAdd(ctx, key, p.entry(socketID, now))
	card := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, p.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return card.Val() == 1, nil
}

func (p *Presence) Disconnect(ctx context.Context, userID, socketID string) (bool, error) {
	key, now := presenceKey(userID), p.now()
	pipe := p.client.TxPipeline()
	removed := pipe.ZRem(ctx, key, socketID)
	pipe.ZRemRangeByScore(ctx, key, "-inf", millis(now))
	card := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return removed.Val() == 1 && card.Val() == 0, nil
}

// Refresh pushes the socket's expiry forward. Unknown sockets are not added.
func (p *Presence) Refresh(ctx context.Context, userID, socketID string) error {
	key, now := presenceKey(userID), p.now()
	pipe := p.client.TxPipeline()
	pipe.ZAddXX(ctx, key, p.entry(socketID, now))
	pipe.Expire(ctx, key, p.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (p *Presence) Online(ctx context.Context, userID string) (bool, error) {
	n, err := p.client.ZCount(ctx, presenceKey(userID), "("+millis(p.now()), "+inf").Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
