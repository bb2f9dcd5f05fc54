package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	gocache "github.com/patrickmn/go-cache"
)

// LocalTTLCap bounds how long the two-tier cache keeps an entry in process
const LocalTTLCap = time.Minute

// Cache is a TTL key/value store. Get decodes the stored value into dest.
type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// LocalCache wraps patrickmn/go-cache
type LocalCache struct {
	cache *gocache.Cache
}

// NewLocalCache creates an in-process cache
func NewLocalCache(defaultTTL, cleanupInterval time.Duration) *LocalCache {
	return &LocalCache{cache: gocache.New(defaultTTL, cleanupInterval)}
}

func (l *LocalCache) Get(_ context.Context, key string, dest interface{}) (bool, error) {
	raw, found := l.cache.Get(key)
	if !found {
		return false, nil
	}
	data, ok := raw.([]byte)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (l *LocalCache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	l.cache.Set(key, data, ttl)
	return nil
}

func (l *LocalCache) Delete(_ context.Context, key string) error {
	l.cache.Delete(key)
	return nil
}

// ItemCount reports unexpired and not yet evicted entries
func (l *LocalCache) ItemCount() int {
	return l.cache.ItemCount()
}

// RedisCache stores JSON values under a key prefix
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisCache creates a Redis-backed cache
func NewRedisCache(client *redis.Client, keyPrefix string) *RedisCache {
	return &RedisCache{client: client, keyPrefix: keyPrefix}
}

func (r *RedisCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := r.client.Get(ctx, r.keyPrefix+key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.keyPrefix+key, data, ttl).Err()
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.keyPrefix+key).Err()
}

// TwoTierCache reads through a local L1 to Redis L2
type TwoTierCache struct {
	l1 *LocalCache
	l2 *RedisCache
}

// NewTwoTierCache creates a cache with local L1 and Redis L2
func NewTwoTierCache(cleanupInterval time.Duration, redisClient *redis.Client, keyPrefix string) *TwoTierCache {
	return &TwoTierCache{
		l1: NewLocalCache(LocalTTLCap, cleanupInterval),
		l2: NewRedisCache(redisClient, keyPrefix),
	}
}

func (t *TwoTierCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if found, err := t.l1.Get(ctx, key, dest); err == nil && found {
		return true, nil
	}

	found, err := t.l2.Get(ctx, key, dest)
	if err != nil || !found {
		return found, err
	}
	_ = t.l1.Set(ctx, key, dest, LocalTTLCap)
	return true, nil
}

func (t *TwoTierCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if err := t.l2.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	return t.l1.Set(ctx, key, value, capTTL(ttl))
}

// Delete removes the key from both tiers. Other instances keep their L1 copy until it expires.
func (t *TwoTierCache) Delete(ctx context.Context, key string) error {
	_ = t.l1.Delete(ctx, key)
	return t.l2.Delete(ctx, key)
}

func capTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 || ttl > LocalTTLCap {
		return LocalTTLCap
	}
	return ttl
}
