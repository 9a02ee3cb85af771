// Package cache memoizes terminal poll results in Redis so repeated status
// checks for a finished task return identically without another provider
// round trip. The cache is optional; a nil *TaskCache disables it.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pixelforge/pixelforge/config"
	"github.com/pixelforge/pixelforge/imagegen"
)

const (
	keyPrefix  = "pixelforge:task:"
	defaultTTL = 24 * time.Hour
)

// TaskCache stores terminal generation results keyed by task id.
type TaskCache struct {
	redis  *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// New connects to Redis and verifies the connection.
func New(cfg config.RedisConfig, logger *zap.Logger) (*TaskCache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	logger.Info("task cache initialized", zap.String("addr", cfg.Addr))
	return &TaskCache{
		redis:  client,
		ttl:    defaultTTL,
		logger: logger.With(zap.String("component", "cache")),
	}, nil
}

// NewWithClient wraps an existing client. Used by tests with miniredis.
func NewWithClient(client *redis.Client, logger *zap.Logger) *TaskCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskCache{redis: client, ttl: defaultTTL, logger: logger}
}

// Get returns the memoized terminal result for a task, or nil on a miss.
// Cache errors are logged and reported as misses; the caller falls through to
// the provider.
func (c *TaskCache) Get(ctx context.Context, taskID string) *imagegen.Result {
	if c == nil {
		return nil
	}
	raw, err := c.redis.Get(ctx, keyPrefix+taskID).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		c.logger.Warn("cache read failed", zap.String("task_id", taskID), zap.Error(err))
		return nil
	}
	var res imagegen.Result
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		c.logger.Warn("cache entry corrupt", zap.String("task_id", taskID), zap.Error(err))
		return nil
	}
	return &res
}

// Put memoizes a terminal result. Non-terminal results are never cached.
func (c *TaskCache) Put(ctx context.Context, taskID string, res *imagegen.Result) {
	if c == nil || res == nil || !res.State.Terminal() {
		return
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, keyPrefix+taskID, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("cache write failed", zap.String("task_id", taskID), zap.Error(err))
	}
}

// Ping verifies the Redis connection. A nil cache always reports healthy.
func (c *TaskCache) Ping(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.redis.Ping(ctx).Err()
}

// Close releases the Redis connection.
func (c *TaskCache) Close() error {
	if c == nil {
		return nil
	}
	return c.redis.Close()
}
