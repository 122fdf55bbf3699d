package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/storefront/livesync/internal/wire"
)

// RawPublisher broadcasts an already encoded payload.
type RawPublisher interface {
	PublishRaw(event string, data json.RawMessage) error
}

// NewRedisClient connects to cfg and verifies the connection.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// RedisSource relays envelopes published on a Redis channel by the
// storefront backend. Each message is applied to the store and then
// broadcast with the relay's own sequence number.
type RedisSource struct {
	client  *redis.Client
	channel string
	store   *Store
	pub     RawPublisher
	log     *zap.Logger
}

func NewRedisSource(client *redis.Client, channel string, store *Store, pub RawPublisher, log *zap.Logger) *RedisSource {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisSource{client: client, channel: channel, store: store, pub: pub, log: log}
}

// Run blocks until ctx is done or the subscription fails.
func (s *RedisSource) Run(ctx context.Context) error {
	pubsub := s.client.Subscribe(ctx, s.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to channel: %w", err)
	}
	s.log.Info("subscribed to storefront events", zap.String("channel", s.channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				s.log.Warn("redis event channel closed")
				return nil
			}
			if err := s.handle(msg.Payload); err != nil {
				s.log.Warn("dropping redis event", zap.Error(err))
			}
		}
	}
}

func (s *RedisSource) handle(payload string) error {
	var env wire.Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if env.Event == "" {
		return errors.New("envelope has no event name")
	}
	if len(env.Data) == 0 {
		env.Data = json.RawMessage("{}")
	}
	if err := s.store.Apply(env.Event, env.Data); err != nil {
		return fmt.Errorf("%s: %w", env.Event, err)
	}
	return s.pub.PublishRaw(env.Event, env.Data)
}

// RedisPublisher writes envelopes to a Redis channel, for a RedisSource
// elsewhere to pick up.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

// Publish sends event with payload. The sequence number is left to the relay.
func (p *RedisPublisher) Publish(ctx context.Context, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	msg, err := json.Marshal(wire.Envelope{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, msg).Err(); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}
