package redis

import (
	"context"
	"strings"

	"github.com/mossy-p/conversa/internal/realtime"
	"github.com/redis/go-redis/v9"
)

// Directory keeps room membership in Redis sets so every instance sees the
// same occupants.
type Directory struct {
	client *redis.Client
}

func NewDirectory(client *redis.Client) *Directory {
	return &Directory{client: client}
}

func roomKey(room string) string {
	return "room:" + room + ":peers"
}

func memberValue(m realtime.Member) string {
	return m.UserID + "|" + m.SocketID
}

func (d *Directory) Join(ctx context.Context, room string, m realtime.Member) error {
	key := roomKey(room)
	pipe := d.client.TxPipeline()
	pipe.SAdd(ctx, key, memberValue(m))
	pipe.Expire(ctx, key, roomTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (d *Directory) Leave(ctx context.Context, room string, m realtime.Member) error {
	return d.client.SRem(ctx, roomKey(room), memberValue(m)).Err()
}

func (d *Directory) Contains(ctx context.Context, room, userID string) (bool, error) {
	members, err := d.client.SMembers(ctx, roomKey(room)).Result()
	if err != nil {
		return false, err
	}
	prefix := userID + "|"
	for _, m := range members {
		if strings.HasPrefix(m, prefix) {
			return true, nil
		}
	}
	return false, nil
}

func (d *Directory) Occupied(ctx context.Context, room string) (bool, error) {
	n, err := d.client.SCard(ctx, roomKey(room)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
