package cache

import (
	"time"

	"melody-map/internal/common/errors"

	"github.com/go-redis/redis/v8"
)

// Type represents the cache backend type
type Type string

const (
	TypeLocal   Type = "local"
	TypeRedis   Type = "redis"
	TypeTwoTier Type = "two_tier"
)

// Config holds cache configuration
type Config struct {
	Type            Type
	TTL             time.Duration
	CleanupInterval time.Duration
	KeyPrefix       string
	RedisClient     *redis.Client
}

// DefaultConfig returns a local cache configuration
func DefaultConfig() Config {
	return Config{
		Type:            TypeLocal,
		TTL:             time.Minute,
		CleanupInterval: 5 * time.Minute,
		KeyPrefix:       "melody-map:cache:",
	}
}

// New creates a cache instance based on configuration
func New(config Config) (Cache, error) {
	switch config.Type {
	case TypeLocal, "":
		return NewLocalCache(config.TTL, config.CleanupInterval), nil

	case TypeRedis:
		if config.RedisClient == nil {
			return nil, errors.ConfigError("redis client required for redis cache")
		}
		return NewRedisCache(config.RedisClient, config.KeyPrefix), nil

	case TypeTwoTier:
		if config.RedisClient == nil {
			return nil, errors.ConfigError("redis client required for two-tier cache")
		}
		return NewTwoTierCache(config.CleanupInterval, config.RedisClient, config.KeyPrefix), nil

	default:
		return nil, errors.ConfigError("unknown cache type: " + string(config.Type))
	}
}
