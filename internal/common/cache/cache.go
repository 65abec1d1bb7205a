// Package cache provides the key/value cache used for delivery deduplication
// and small lookups. It has two backends:
//   - github.com/patrickmn/go-cache for a single process
//   - github.com/go-redis/redis/v8 when several replicas share state
package cache

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	gocache "github.com/patrickmn/go-cache"
)

// Cache stores string values with a TTL.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX stores value only when key is absent and reports whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}

// LocalCache is an in-process Cache.
type LocalCache struct {
	cache *gocache.Cache
}

// NewLocalCache creates a local cache that purges expired items every cleanupInterval.
func NewLocalCache(defaultTTL, cleanupInterval time.Duration) *LocalCache {
	return &LocalCache{cache: gocache.New(defaultTTL, cleanupInterval)}
}

func (l *LocalCache) Get(_ context.Context, key string) (string, bool, error) {
	v, found := l.cache.Get(key)
	if !found {
		return "", false, nil
	}
	s, _ := v.(string)
	return s, true, nil
}

func (l *LocalCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	l.cache.Set(key, value, ttl)
	return nil
}

// SetNX relies on go-cache's Add, which fails when the key is present.
func (l *LocalCache) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := l.cache.Add(key, value, ttl); err != nil {
		return false, nil
	}
	return true, nil
}

func (l *LocalCache) Delete(_ context.Context, key string) error {
	l.cache.Delete(key)
	return nil
}

// RedisCache is a Cache shared through Redis.
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
}

func NewRedisCache(client *redis.Client, keyPrefix string) *RedisCache {
	return &RedisCache{client: client, keyPrefix: keyPrefix}
}

func (r *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, r.keyPrefix+key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, r.keyPrefix+key, value, ttl).Err()
}

func (r *RedisCache) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, r.keyPrefix+key, value, ttl).Result()
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.keyPrefix+key).Err()
}
