package entitystate

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultChannel is the pub/sub channel carrying invalidations.
const DefaultChannel = "bookthreads:entitystate"

type invalidationMessage struct {
	Origin string `json:"origin"`
	Type   string `json:"type"`
	ID     string `json:"id"`
}

// RedisBroadcaster relays invalidations over Redis pub/sub.
type RedisBroadcaster struct {
	client  *redis.Client
	channel string
	origin  string
	logger  *zap.Logger
}

// NewRedisBroadcaster constructs a broadcaster on client. Messages published by this
// instance are ignored when they come back.
func NewRedisBroadcaster(client *redis.Client, channel string, logger *zap.Logger) (*RedisBroadcaster, error) {
	if client == nil {
		return nil, errors.New("entitystate: redis client is required")
	}
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBroadcaster{client: client, channel: channel, origin: uuid.NewString(), logger: logger}, nil
}

// Broadcast publishes an invalidation for key.
func (b *RedisBroadcaster) Broadcast(ctx context.Context, key Key) error {
	payload, err := json.Marshal(invalidationMessage{Origin: b.origin, Type: key.Type, ID: key.ID})
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

// Listen invokes handle for every invalidation published by another instance.
func (b *RedisBroadcaster) Listen(ctx context.Context, handle func(Key)) error {
	subscription := b.client.Subscribe(ctx, b.channel)
	defer subscription.Close()
	if _, err := subscription.Receive(ctx); err != nil {
		return err
	}
	messages := subscription.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case message, ok := <-messages:
			if !ok {
				return nil
			}
			var decoded invalidationMessage
			if err := json.Unmarshal([]byte(message.Payload), &decoded); err != nil {
				b.logger.Warn("discarding malformed invalidation", zap.Error(err))
				continue
			}
			if decoded.Origin == b.origin || decoded.Type == "" || decoded.ID == "" {
				continue
			}
			handle(Key{Type: decoded.Type, ID: decoded.ID})
		}
	}
}
