package feed

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "graphsync:edges"

// Client defines the interface for publishing and receiving edge events.
type Client interface {
	// Publish sends an event to the edge channel.
	Publish(ctx context.Context, ev EdgeEvent) error

	// Subscribe creates a subscription to the edge channel.
	// Returns a channel that receives events until ctx is cancelled.
	Subscribe(ctx context.Context) (<-chan EdgeEvent, error)

	// Heartbeat marks a subscriber as alive for ttl.
	Heartbeat(ctx context.Context, subscriberID string, ttl time.Duration) error

	// SubscriberCount returns the number of running subscribers.
	SubscriberCount(ctx context.Context) (int, error)

	// IncrementSubscribers increments the running subscriber count.
	IncrementSubscribers(ctx context.Context) error

	// DecrementSubscribers decrements the running subscriber count.
	DecrementSubscribers(ctx context.Context) error

	// Ping checks the connection.
	Ping(ctx context.Context) error

	// Close closes the connection.
	Close() error
}

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	// URL is the Redis connection string (e.g., "redis://localhost:6379")
	URL string

	// Channel is the pub/sub channel. Default: DefaultChannel
	Channel string

	// TLS configuration for secure connections
	TLS *tls.Config

	// ConnectTimeout is the maximum time to wait for connection establishment
	ConnectTimeout time.Duration

	// ReadTimeout is the maximum time to wait for read operations
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time to wait for write operations
	WriteTimeout time.Duration

	// Logger receives malformed-event warnings. Default: slog.Default()
	Logger *slog.Logger
}

// RedisClient implements the Client interface using go-redis/v9.
type RedisClient struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// NewRedisClient creates a new feed client with the given options.
func NewRedisClient(opts RedisOptions) (*RedisClient, error) {
	if opts.URL == "" {
		opts.URL = "redis://localhost:6379"
	}
	if opts.Channel == "" {
		opts.Channel = DefaultChannel
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 30 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	redisOpts.TLSConfig = opts.TLS
	redisOpts.DialTimeout = opts.ConnectTimeout
	redisOpts.ReadTimeout = opts.ReadTimeout
	redisOpts.WriteTimeout = opts.WriteTimeout

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisClient{client: client, channel: opts.Channel, logger: opts.Logger}, nil
}

// Channel returns the pub/sub channel name.
func (c *RedisClient) Channel() string {
	return c.channel
}

// Publish sends an event to the edge channel. PublishedAt is set when zero.
func (c *RedisClient) Publish(ctx context.Context, ev EdgeEvent) error {
	if err := ev.IsValid(); err != nil {
		return fmt.Errorf("invalid edge event: %w", err)
	}
	if ev.PublishedAt == 0 {
		ev.PublishedAt = time.Now().UnixMilli()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal edge event: %w", err)
	}

	if err := c.client.Publish(ctx, c.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to channel %s: %w", c.channel, err)
	}

	return nil
}

// Subscribe creates a subscription to the edge channel. Malformed or invalid
// payloads are logged and skipped.
func (c *RedisClient) Subscribe(ctx context.Context) (<-chan EdgeEvent, error) {
	pubsub := c.client.Subscribe(ctx, c.channel)

	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to channel %s: %w", c.channel, err)
	}

	events := make(chan EdgeEvent)

	go func() {
		defer close(events)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var ev EdgeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					c.logger.Warn("skipping malformed edge event", "channel", msg.Channel, "error", err)
					continue
				}
				if err := ev.IsValid(); err != nil {
					c.logger.Warn("skipping invalid edge event", "channel", msg.Channel, "event_id", ev.ID, "error", err)
					continue
				}

				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return events, nil
}

// Heartbeat marks a subscriber as alive for ttl.
func (c *RedisClient) Heartbeat(ctx context.Context, subscriberID string, ttl time.Duration) error {
	key := formatKeyName(c.channel, "subscriber", subscriberID)
	if err := c.client.Set(ctx, key, "ok", ttl).Err(); err != nil {
		return fmt.Errorf("failed to set heartbeat for subscriber %s: %w", subscriberID, err)
	}
	return nil
}

// Alive reports whether the subscriber's heartbeat has not expired.
func (c *RedisClient) Alive(ctx context.Context, subscriberID string) (bool, error) {
	n, err := c.client.Exists(ctx, formatKeyName(c.channel, "subscriber", subscriberID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check heartbeat for subscriber %s: %w", subscriberID, err)
	}
	return n == 1, nil
}

// SubscriberCount returns the number of running subscribers.
func (c *RedisClient) SubscriberCount(ctx context.Context) (int, error) {
	countStr, err := c.client.Get(ctx, formatKeyName(c.channel, "subscribers")).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get subscriber count: %w", err)
	}

	count, err := strconv.Atoi(countStr)
	if err != nil {
		return 0, fmt.Errorf("invalid subscriber count value: %w", err)
	}

	return count, nil
}

// IncrementSubscribers increments the running subscriber count.
func (c *RedisClient) IncrementSubscribers(ctx context.Context) error {
	if err := c.client.Incr(ctx, formatKeyName(c.channel, "subscribers")).Err(); err != nil {
		return fmt.Errorf("failed to increment subscriber count: %w", err)
	}
	return nil
}

// DecrementSubscribers decrements the running subscriber count.
func (c *RedisClient) DecrementSubscribers(ctx context.Context) error {
	if err := c.client.Decr(ctx, formatKeyName(c.channel, "subscribers")).Err(); err != nil {
		return fmt.Errorf("failed to decrement subscriber count: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (c *RedisClient) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *RedisClient) Close() error {
	return c.client.Close()
}

// formatKeyName joins key parts with the <channel>:* pattern.
func formatKeyName(parts ...string) string {
	return strings.Join(parts, ":")
}
