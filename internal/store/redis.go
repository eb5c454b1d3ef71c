package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/RohitAchyutuni/PlanGenie/internal/models"
)

const (
	planSnapshotTTL = 24 * time.Hour
)

// RedisCache caches plan snapshots and backs send rate limiting. It is
// optional infrastructure: every method on a nil receiver is a safe no-op
// so callers need no configuration checks.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis cache.
func NewRedisCache(ctx context.Context, redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisCache{client: client}, nil
}

// Client exposes the underlying redis client for middleware wiring.
func (c *RedisCache) Client() *redis.Client {
	if c == nil {
		return nil
	}
	return c.client
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}

// Ping checks the Redis connection.
func (c *RedisCache) Ping(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.client.Ping(ctx).Err()
}

// planKey returns the key for a thread's plan snapshot.
func planKey(threadID string) string {
	return fmt.Sprintf("plan:%s", threadID)
}

// rateLimitKey returns the key for a thread's send counter.
func rateLimitKey(threadID string) string {
	return fmt.Sprintf("ratelimit:%s", threadID)
}

// SetPlanSnapshot caches the current plan for a thread.
func (c *RedisCache) SetPlanSnapshot(ctx context.Context, threadID string, p models.PlanViewModel) error {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, planKey(threadID), string(data), planSnapshotTTL).Err()
}

// GetPlanSnapshot retrieves a cached plan. Returns (nil, nil) on a miss.
func (c *RedisCache) GetPlanSnapshot(ctx context.Context, threadID string) (*models.PlanViewModel, error) {
	if c == nil {
		return nil, nil
	}
	data, err := c.client.Get(ctx, planKey(threadID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var p models.PlanViewModel
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// DropPlanSnapshot removes a cached plan, used when a thread is deleted.
func (c *RedisCache) DropPlanSnapshot(ctx context.Context, threadID string) error {
	if c == nil {
		return nil
	}
	return c.client.Del(ctx, planKey(threadID)).Err()
}

// CheckRateLimit reports whether a thread is under its send limit.
func (c *RedisCache) CheckRateLimit(ctx context.Context, threadID string, limit int) (bool, error) {
	if c == nil {
		return true, nil
	}
	count, err := c.client.Get(ctx, rateLimitKey(threadID)).Int()
	if err != nil && err != redis.Nil {
		return false, err
	}
	return count < limit, nil
}

// IncrementRateLimit increments the send counter for a thread.
func (c *RedisCache) IncrementRateLimit(ctx context.Context, threadID string, window time.Duration) error {
	if c == nil {
		return nil
	}
	key := rateLimitKey(threadID)

	pipe := c.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	_, err := pipe.Exec(ctx)
	return err
}
