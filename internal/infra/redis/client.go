package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/postforge/internal/core/domain"
)

// Client wraps the Redis operations used to mirror pipeline activity.
type Client struct {
	rdb       *redis.Client
	stream    string
	maxLen    int64
	keyPrefix string
}

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	// Stream is the stream key that step events are mirrored to.
	Stream string `yaml:"stream"`
	// MaxLen caps the stream length (approximate trimming).
	MaxLen    int64  `yaml:"max_len"`
	KeyPrefix string `yaml:"key_prefix"`
}

// Enabled reports whether a Redis URL is configured.
func (c Config) Enabled() bool {
	return c.URL != ""
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return newClient(rdb, cfg), nil
}

func newClient(rdb *redis.Client, cfg Config) *Client {
	c := &Client{rdb: rdb, stream: cfg.Stream, maxLen: cfg.MaxLen, keyPrefix: cfg.KeyPrefix}
	if c.keyPrefix == "" {
		c.keyPrefix = "postforge"
	}
	if c.stream == "" {
		c.stream = c.keyPrefix + ":events"
	}
	if c.maxLen <= 0 {
		c.maxLen = 10000
	}
	return c
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Publish appends a step invocation to the event stream. It satisfies
// eventlog.Sink.
func (c *Client) Publish(ctx context.Context, inv domain.StepInvocation) error {
	err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: c.stream,
		MaxLen: c.maxLen,
		Approx: true,
		Values: eventValues(inv),
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd failed: %w", err)
	}
	return nil
}

// RecentEvents returns up to n of the newest mirrored events, newest first.
func (c *Client) RecentEvents(ctx context.Context, n int64) ([]map[string]any, error) {
	msgs, err := c.rdb.XRevRangeN(ctx, c.stream, "+", "-", n).Result()
	if err != nil {
		return nil, fmt.Errorf("xrevrange failed: %w", err)
	}
	out := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Values)
	}
	return out, nil
}

// eventValues flattens an invocation into stream fields. Empty optional
// fields are omitted.
func eventValues(inv domain.StepInvocation) map[string]any {
	v := map[string]any{
		"timestamp": inv.Timestamp.UTC().Format(time.RFC3339Nano),
		"run_id":    inv.RunID,
		"step":      inv.Step,
		"attempt":   strconv.Itoa(inv.Attempt),
		"status":    string(inv.Status),
	}
	if inv.ErrorKind != "" {
		v["error_type"] = inv.ErrorKind
	}
	if inv.DurationMs > 0 {
		v["duration_ms"] = strconv.FormatInt(inv.DurationMs, 10)
	}
	if inv.Model != "" {
		v["model"] = inv.Model
	}
	for k, n := range inv.TokenUsage {
		v["usage_"+k] = strconv.Itoa(n)
	}
	return v
}
