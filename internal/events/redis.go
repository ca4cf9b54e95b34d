package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/report-tracking-server/internal/domain"
)

// envelope wraps an event on the Redis channel. Origin lets an instance skip
// its own messages.
type envelope struct {
	Origin string       `json:"origin"`
	Event  domain.Event `json:"event"`
}

// RedisRelay publishes events to the local bus and to a Redis channel, and
// replays events published by other instances onto the local bus
type RedisRelay struct {
	client  *redis.Client
	channel string
	origin  string
	local   *Bus
	logger  *logrus.Logger
}

// NewRedisRelay connects to Redis using cfg.RedisURL
func NewRedisRelay(cfg domain.CacheConfig, local *Bus, logger *logrus.Logger) (*RedisRelay, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.PoolTimeout > 0 {
		opts.PoolTimeout = cfg.PoolTimeout
	}
	opts.MaxRetries = cfg.MaxRetries

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	channel := cfg.EventsChannel
	if channel == "" {
		channel = "report-tracking:events"
	}
	return &RedisRelay{
		client:  client,
		channel: channel,
		origin:  uuid.New().String(),
		local:   local,
		logger:  logger,
	}, nil
}

// Publish delivers locally, then to Redis. A Redis failure is returned after
// local delivery has happened.
func (r *RedisRelay) Publish(ctx context.Context, event domain.Event) error {
	if err := r.local.Publish(ctx, event); err != nil {
		return err
	}
	payload, err := json.Marshal(envelope{Origin: r.origin, Event: event})
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publishing event to %s: %w", r.channel, err)
	}
	return nil
}

// Run forwards remote events to the local bus until ctx is done
func (r *RedisRelay) Run(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to %s: %w", r.channel, err)
	}
	r.logger.WithField("channel", r.channel).Info("Event relay subscribed")

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.logger.WithError(err).Warn("Discarding malformed relay message")
				continue
			}
			if env.Origin == r.origin {
				continue
			}
			_ = r.local.Publish(ctx, env.Event)
		}
	}
}

// Close closes the Redis client
func (r *RedisRelay) Close() error {
	return r.client.Close()
}
