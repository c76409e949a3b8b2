package cache

import (
	"context"
	"errors"
	"time"
)

// LayeredCache keeps hot upstream responses in process memory and falls back
// to Redis, which is shared between job runs.
type LayeredCache struct {
	memCache   *MemoryCache
	redisCache *RedisCache
}

// NewLayeredCache puts a memory cache built from opts in front of redis.
func NewLayeredCache(redis *RedisCache, opts ...MemoryOption) *LayeredCache {
	return &LayeredCache{
		memCache:   NewMemoryCache(opts...),
		redisCache: redis,
	}
}

// Set writes Redis first so a failed write never leaves memory ahead of it.
func (lc *LayeredCache) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	if err := lc.redisCache.Set(ctx, key, value, expiration); err != nil {
		return err
	}
	return lc.memCache.Set(ctx, key, value, expiration)
}

func (lc *LayeredCache) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := lc.memCache.Get(ctx, key)
	if err == nil {
		return v, nil
	}

	v, err = lc.redisCache.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	// promoted entries expire with their Redis copy
	ttl, err := lc.redisCache.TTL(ctx, key)
	if err == nil && ttl > 0 {
		_ = lc.memCache.Set(ctx, key, v, ttl)
	}
	return v, nil
}

func (lc *LayeredCache) Delete(ctx context.Context, keys ...string) error {
	return errors.Join(lc.memCache.Delete(ctx, keys...), lc.redisCache.Delete(ctx, keys...))
}

func (lc *LayeredCache) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return lc.redisCache.TryLock(ctx, key, ttl)
}

func (lc *LayeredCache) Unlock(ctx context.Context, key string) error {
	return lc.redisCache.Unlock(ctx, key)
}

// Close stops the memory layer only. The Redis client is owned by whoever
// created it.
func (lc *LayeredCache) Close() error {
	return lc.memCache.Close()
}
