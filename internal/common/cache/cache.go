package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	gocache "github.com/patrickmn/go-cache"
)

// Cache defines the interface for cache operations
type Cache interface {
	Get(ctx context.Context, key string) (interface{}, bool)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// LocalCache wraps patrickmn/go-cache for in-memory caching
type LocalCache struct {
	cache *gocache.Cache
}

// NewLocalCache creates a new local cache instance
func NewLocalCache(defaultTTL, cleanupInterval time.Duration) *LocalCache {
	return &LocalCache{
		cache: gocache.New(defaultTTL, cleanupInterval),
	}
}

// Get retrieves a value from the local cache
func (l *LocalCache) Get(_ context.Context, key string) (interface{}, bool) {
	return l.cache.Get(key)
}

// Set stores a value in the local cache
func (l *LocalCache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	l.cache.Set(key, value, ttl)
	return nil
}

// Delete removes a value from the local cache
func (l *LocalCache) Delete(_ context.Context, key string) error {
	l.cache.Delete(key)
	return nil
}

// RedisCache wraps go-redis for caching shared between instances.
// Values are stored JSON encoded, so numbers come back as float64.
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisCache creates a new Redis cache instance
func NewRedisCache(client *redis.Client, keyPrefix string) *RedisCache {
	return &RedisCache{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// Get retrieves a value from Redis. Any Redis failure is reported as a miss.
func (r *RedisCache) Get(ctx context.Context, key string) (interface{}, bool) {
	val, err := r.client.Get(ctx, r.keyPrefix+key).Result()
	if err != nil {
		return nil, false
	}

	var result interface{}
	if err := json.Unmarshal([]byte(val), &result); err != nil {
		return val, true
	}
	return result, true
}

// Set stores a value in Redis
func (r *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.keyPrefix+key, data, ttl).Err()
}

// Delete removes a value from Redis
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.keyPrefix+key).Err()
}

// TwoTierCache serves reads from process memory and falls back to Redis
type TwoTierCache struct {
	l1    *LocalCache
	l2    *RedisCache
	l1TTL time.Duration
}

// NewTwoTierCache creates a cache with local L1 and Redis L2. Entries copied
// into L1 live at most l1TTL.
func NewTwoTierCache(l1TTL, cleanupInterval time.Duration, redisClient *redis.Client, keyPrefix string) *TwoTierCache {
	return &TwoTierCache{
		l1:    NewLocalCache(l1TTL, cleanupInterval),
		l2:    NewRedisCache(redisClient, keyPrefix),
		l1TTL: l1TTL,
	}
}

// Get checks L1 first, then L2
func (t *TwoTierCache) Get(ctx context.Context, key string) (interface{}, bool) {
	if val, found := t.l1.Get(ctx, key); found {
		return val, true
	}

	if val, found := t.l2.Get(ctx, key); found {
		_ = t.l1.Set(ctx, key, val, t.l1TTL)
		return val, true
	}

	return nil, false
}

// Set stores in L2 then L1
func (t *TwoTierCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if err := t.l2.Set(ctx, key, value, ttl); err != nil {
		return err
	}

	l1TTL := ttl
	if l1TTL <= 0 || l1TTL > t.l1TTL {
		l1TTL = t.l1TTL
	}
	return t.l1.Set(ctx, key, value, l1TTL)
}

// Delete removes from both L1 and L2
func (t *TwoTierCache) Delete(ctx context.Context, key string) error {
	_ = t.l1.Delete(ctx, key)
	return t.l2.Delete(ctx, key)
}
