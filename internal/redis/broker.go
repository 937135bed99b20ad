package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mossy-p/conversa/internal/realtime"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Broker fans hub frames out to every instance over a pub/sub channel.
type Broker struct {
	client  *redis.Client
	channel string
	log     *zap.Logger
}

func NewBroker(client *redis.Client, channel string, logger *zap.Logger) *Broker {
	return &Broker{client: client, channel: channel, log: logger.Named("broker")}
}

func (b *Broker) Publish(ctx context.Context, f realtime.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish frame: %w", err)
	}
	return nil
}

func (b *Broker) Subscribe(ctx context.Context, handle func(realtime.Frame)) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	// Wait for the subscription to be confirmed before reading.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var f realtime.Frame
			if err := json.Unmarshal([]byte(msg.Payload), &f); err != nil {
				b.log.Warn("dropping malformed frame", zap.Error(err))
				continue
			}
			handle(f)
		}
	}
}
