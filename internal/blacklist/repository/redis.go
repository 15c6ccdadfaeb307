package repository

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"auth-session-core/internal/blacklist/domain"
)

const cacheKeyPrefix = "blacklist:"

// cacheClient is the subset of *redis.Client the cache needs.
type cacheClient interface {
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisCache is a read-through cache in front of another Repository. Only positive
// results are cached, each for the remaining lifetime of the revoked token, so a new
// revocation is visible on the next lookup. Redis failures fall back to the backing store.
type RedisCache struct {
	next   Repository
	rdb    cacheClient
	logger *zap.Logger
}

// NewRedisCache wraps next with a Redis cache. logger may be nil.
func NewRedisCache(next Repository, rdb *redis.Client, logger *zap.Logger) *RedisCache {
	return newRedisCache(next, rdb, logger)
}

func newRedisCache(next Repository, rdb cacheClient, logger *zap.Logger) *RedisCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisCache{next: next, rdb: rdb, logger: logger}
}

func (c *RedisCache) Add(ctx context.Context, e *domain.Entry) error {
	if err := c.next.Add(ctx, e); err != nil {
		return err
	}
	c.remember(ctx, e.JTI, time.Until(e.ExpiresAt))
	return nil
}

func (c *RedisCache) Contains(ctx context.Context, jti string, now time.Time) (bool, error) {
	n, err := c.rdb.Exists(ctx, cacheKeyPrefix+jti).Result()
	if err != nil {
		c.logger.Warn("blacklist cache lookup failed", zap.Error(err))
	} else if n > 0 {
		return true, nil
	}
	found, err := c.next.Contains(ctx, jti, now)
	if err != nil {
		return false, err
	}
	if found {
		// Entry expiry is not known at this layer.
		c.remember(ctx, jti, time.Minute)
	}
	return found, nil
}

func (c *RedisCache) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	return c.next.DeleteExpired(ctx, now)
}

func (c *RedisCache) CountActive(ctx context.Context, now time.Time) (int, error) {
	return c.next.CountActive(ctx, now)
}

func (c *RedisCache) remember(ctx context.Context, jti string, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if err := c.rdb.Set(ctx, cacheKeyPrefix+jti, 1, ttl).Err(); err != nil {
		c.logger.Warn("blacklist cache write failed", zap.Error(err))
	}
}
