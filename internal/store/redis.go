package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BTreeMap/CoachPipe/internal/models"
)

// DefaultStateKeyPrefix namespaces conversation state keys in Redis.
const DefaultStateKeyPrefix = "coachpipe:state:"

// RedisStateStore keeps conversation states in Redis as JSON records.
// Idle states expire after the configured TTL.
type RedisStateStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStateStore connects to Redis and verifies the connection.
func NewRedisStateStore(opts ...Option) (*RedisStateStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.RedisAddr == "" {
		slog.Error("RedisStateStore.NewRedisStateStore: address not set")
		return nil, errors.New("redis address not set")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultStateKeyPrefix
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		slog.Error("RedisStateStore.NewRedisStateStore: ping failed", "error", err, "addr", cfg.RedisAddr)
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	slog.Debug("RedisStateStore.NewRedisStateStore: connected", "addr", cfg.RedisAddr, "prefix", prefix, "ttl", cfg.StateTTL)
	return &RedisStateStore{client: client, prefix: prefix, ttl: cfg.StateTTL}, nil
}

func (s *RedisStateStore) key(conversationID string) string {
	return s.prefix + conversationID
}

func (s *RedisStateStore) GetState(ctx context.Context, conversationID string) (models.ConversationRecord, error) {
	var rec models.ConversationRecord
	raw, err := s.client.Get(ctx, s.key(conversationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.ConversationRecord{ConversationID: conversationID}, ErrNotFound
	}
	if err != nil {
		slog.Error("RedisStateStore.GetState: get failed", "error", err, "conversationID", conversationID)
		return rec, fmt.Errorf("failed to get conversation state %s: %w", conversationID, err)
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return rec, fmt.Errorf("failed to unmarshal conversation record: %w", err)
	}
	return rec, nil
}

func (s *RedisStateStore) PutState(ctx context.Context, rec models.ConversationRecord) error {
	now := time.Now().UTC()
	if existing, err := s.GetState(ctx, rec.ConversationID); err == nil {
		rec.CreatedAt = existing.CreatedAt
	} else if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation record: %w", err)
	}
	if err := s.client.Set(ctx, s.key(rec.ConversationID), raw, s.ttl).Err(); err != nil {
		slog.Error("RedisStateStore.PutState: set failed", "error", err, "conversationID", rec.ConversationID)
		return fmt.Errorf("failed to save conversation state %s: %w", rec.ConversationID, err)
	}
	return nil
}

func (s *RedisStateStore) DeleteState(ctx context.Context, conversationID string) error {
	if err := s.client.Del(ctx, s.key(conversationID)).Err(); err != nil {
		slog.Error("RedisStateStore.DeleteState: del failed", "error", err, "conversationID", conversationID)
		return fmt.Errorf("failed to delete conversation state %s: %w", conversationID, err)
	}
	return nil
}

// Close closes the Redis client.
func (s *RedisStateStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Composite routes conversation states to one StateStore and everything else
// to a backing Store.
type Composite struct {
	Store
	States StateStore
}

func (c *Composite) GetState(ctx context.Context, conversationID string) (models.ConversationRecord, error) {
	return c.States.GetState(ctx, conversationID)
}

func (c *Composite) PutState(ctx context.Context, rec models.ConversationRecord) error {
	return c.States.PutState(ctx, rec)
}

func (c *Composite) DeleteState(ctx context.Context, conversationID string) error {
	return c.States.DeleteState(ctx, conversationID)
}

// Close closes both backends.
func (c *Composite) Close() error {
	var errs []error
	if closer, ok := c.States.(interface{ Close() error }); ok {
		errs = append(errs, closer.Close())
	}
	errs = append(errs, c.Store.Close())
	return errors.Join(errs...)
}
