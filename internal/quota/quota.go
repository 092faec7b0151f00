// Package quota gates how many generation calls a member may make.
//
// The dispatcher consults a Gate before every model call and turns a denial
// into a quota_exceeded response. Counting and reset policy belong to the Gate
// implementation; RedisGate provides a fixed-window counter for deployments
// that do not have an entitlement service of their own.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Gate reports whether memberID may consume n more generation calls.
type Gate interface {
	Allow(ctx context.Context, memberID string, n int) (bool, error)
}

// AllowAll is a Gate that never denies.
type AllowAll struct{}

func (AllowAll) Allow(context.Context, string, int) (bool, error) { return true, nil }

// GateFunc adapts a function to the Gate interface.
type GateFunc func(ctx context.Context, memberID string, n int) (bool, error)

func (f GateFunc) Allow(ctx context.Context, memberID string, n int) (bool, error) {
	return f(ctx, memberID, n)
}

// Default settings for RedisGate.
const (
	DefaultKeyPrefix = "coachpipe:quota:"
	DefaultWindow    = 24 * time.Hour
)

// Opts holds configuration for RedisGate.
type Opts struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	Window    time.Duration
	Limit     int
	Client    *redis.Client
}

// Option configures a RedisGate.
type Option func(*Opts)

// WithAddr sets the Redis address and password.
func WithAddr(addr, password string) Option {
	return func(o *Opts) {
		o.Addr = addr
		o.Password = password
	}
}

// WithDB selects the Redis logical database.
func WithDB(db int) Option {
	return func(o *Opts) { o.DB = db }
}

// WithKeyPrefix sets the counter key prefix.
func WithKeyPrefix(prefix string) Option {
	return func(o *Opts) { o.KeyPrefix = prefix }
}

// WithWindow sets the length of one counting window.
func WithWindow(d time.Duration) Option {
	return func(o *Opts) { o.Window = d }
}

// WithLimit sets the number of calls allowed per window.
func WithLimit(limit int) Option {
	return func(o *Opts) { o.Limit = limit }
}

// WithClient reuses an existing Redis client instead of dialing a new one.
func WithClient(c *redis.Client) Option {
	return func(o *Opts) { o.Client = c }
}

// ErrInvalidLimit is returned when a RedisGate is built without a positive limit.
var ErrInvalidLimit = errors.New("quota limit must be positive")

// RedisGate counts calls per member in fixed windows stored in Redis.
type RedisGate struct {
	client *redis.Client
	prefix string
	window time.Duration
	limit  int
	now    func() time.Time
}

// NewRedisGate creates a fixed-window gate.
func NewRedisGate(opts ...Option) (*RedisGate, error) {
	cfg := Opts{KeyPrefix: DefaultKeyPrefix, Window: DefaultWindow}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Limit <= 0 {
		return nil, ErrInvalidLimit
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	client := cfg.Client
	if client == nil {
		if cfg.Addr == "" {
			return nil, errors.New("redis address not set")
		}
		client = redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
		if err := client.Ping(context.Background()).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
	}
	slog.Debug("RedisGate.NewRedisGate: created", "limit", cfg.Limit, "window", cfg.Window, "prefix", cfg.KeyPrefix)
	return &RedisGate{client: client, prefix: cfg.KeyPrefix, window: cfg.Window, limit: cfg.Limit, now: time.Now}, nil
}

func (g *RedisGate) key(memberID string) string {
	bucket := g.now().UTC().UnixNano() / int64(g.window)
	return g.prefix + memberID + ":" + strconv.FormatInt(bucket, 10)
}

// Allow increments the member's counter by n and reports whether it stayed
// within the limit. Denied calls are not counted.
func (g *RedisGate) Allow(ctx context.Context, memberID string, n int) (bool, error) {
	if n <= 0 {
		return true, nil
	}
	key := g.key(memberID)
	var incr *redis.IntCmd
	_, err := g.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.IncrBy(ctx, key, int64(n))
		pipe.ExpireNX(ctx, key, g.window)
		return nil
	})
	if err != nil {
		slog.Error("RedisGate.Allow: counter update failed", "error", err, "memberID", memberID)
		return false, fmt.Errorf("quota check failed: %w", err)
	}
	used := incr.Val()
	if used > int64(g.limit) {
		if err := g.client.DecrBy(ctx, key, int64(n)).Err(); err != nil {
			slog.Warn("RedisGate.Allow: failed to roll back denied increment", "error", err, "memberID", memberID)
		}
		slog.Info("RedisGate.Allow: quota exceeded", "memberID", memberID, "used", used-int64(n), "limit", g.limit)
		return false, nil
	}
	return true, nil
}

// Remaining returns how many calls the member has left in the current window.
func (g *RedisGate) Remaining(ctx context.Context, memberID string) (int, error) {
	used, err := g.client.Get(ctx, g.key(memberID)).Int()
	if errors.Is(err, redis.Nil) {
		return g.limit, nil
	}
	if err != nil {
		return 0, fmt.Errorf("quota lookup failed: %w", err)
	}
	return max(g.limit-used, 0), nil
}

// Close closes the underlying Redis client.
func (g *RedisGate) Close() error {
	return g.client.Close()
}
