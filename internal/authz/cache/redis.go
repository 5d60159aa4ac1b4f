package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"aegis/internal/authz"
)

// Redis shares resolved decisions across replicas. Failures degrade to
// cache misses: the resolver recomputes rather than guessing, and a broken
// cache can never widen access.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// RedisOption configures the Redis cache.
type RedisOption func(*Redis)

// WithTTL overrides the storage-hygiene TTL. Version-stamped keys remain the
// correctness mechanism; the TTL only bounds dead-key accumulation.
func WithTTL(ttl time.Duration) RedisOption {
	return func(c *Redis) { c.ttl = ttl }
}

// WithLogger sets a logger for backend failures.
func WithLogger(logger *slog.Logger) RedisOption {
	return func(c *Redis) { c.logger = logger }
}

// NewRedis creates a Redis-backed decision cache.
func NewRedis(client *redis.Client, opts ...RedisOption) *Redis {
	c := &Redis{client: client, ttl: 24 * time.Hour}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Redis) Get(ctx context.Context, key authz.CacheKey) (authz.CachedDecision, bool) {
	raw, err := c.client.Get(ctx, key.String()).Bytes()
	if err != nil {
		if err != redis.Nil && c.logger != nil {
			c.logger.WarnContext(ctx, "decision cache read failed", "error", err)
		}
		return authz.CachedDecision{}, false
	}
	var decision authz.CachedDecision
	if err := json.Unmarshal(raw, &decision); err != nil {
		return authz.CachedDecision{}, false
	}
	return decision, true
}

func (c *Redis) Set(ctx context.Context, key authz.CacheKey, decision authz.CachedDecision) {
	raw, err := json.Marshal(decision)
	if err != nil {
		return
	}
	// SetNX: first writer wins, matching the in-process LoadOrStore.
	if err := c.client.SetNX(ctx, key.String(), raw, c.ttl).Err(); err != nil && c.logger != nil {
		c.logger.WarnContext(ctx, "decision cache write failed", "error", err)
	}
}
