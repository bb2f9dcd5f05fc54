package ratelimit

import (
	"context"
	"sync"
	"time"

	"melody-map/internal/common/errors"

	"golang.org/x/time/rate"
)

// Limiter decides whether one more request for key fits the policy
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Limit() int
}

// RedisInterface is the subset of the Redis client the distributed backend needs
type RedisInterface interface {
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, int, error)
}

// New builds a limiter. A nil redisClient always yields the local backend.
func New(cfg Config, redisClient RedisInterface) (Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if cfg.Backend == BackendDistributed && redisClient == nil {
		return nil, errors.ConfigError("redis client is required for distributed rate limiting")
	}
	if redisClient != nil && cfg.Backend != BackendLocal {
		return &distributedLimiter{config: cfg, redis: redisClient}, nil
	}
	return newLocalLimiter(cfg), nil
}

type localLimiter struct {
	mu       sync.Mutex
	config   Config
	limiters map[string]*limiterEntry
	now      func() time.Time

	lastCleanup time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

func newLocalLimiter(cfg Config) *localLimiter {
	return &localLimiter{
		config:      cfg,
		limiters:    make(map[string]*limiterEntry),
		now:         time.Now,
		lastCleanup: time.Now(),
	}
}

// Allow takes one token from key's bucket. The bucket refills Limit tokens per Window.
func (l *localLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := l.now()
	return l.limiterFor(key, now).AllowN(now, 1), nil
}

func (l *localLimiter) Limit() int {
	return l.config.Limit
}

func (l *localLimiter) limiterFor(key string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastCleanup) > l.config.IdleTTL {
		l.cleanup(now)
	}

	entry, ok := l.limiters[key]
	if !ok {
		every := l.config.Window / time.Duration(l.config.Limit)
		entry = &limiterEntry{limiter: rate.NewLimiter(rate.Every(every), l.config.Limit), lastUsed: now}
		l.limiters[key] = entry

		if len(l.limiters) > l.config.MaxKeys {
			l.cleanup(now)
		}
	}
	entry.lastUsed = now
	return entry.limiter
}

func (l *localLimiter) cleanup(now time.Time) {
	cutoff := now.Add(-l.config.IdleTTL)
	for key, entry := range l.limiters {
		if entry.lastUsed.Before(cutoff) {
			delete(l.limiters, key)
		}
	}
	l.lastCleanup = now
}

type distributedLimiter struct {
	config Config
	redis  RedisInterface
}

func (d *distributedLimiter) Allow(ctx context.Context, key string) (bool, error) {
	allowed, _, err := d.redis.CheckRateLimit(ctx, d.config.KeyPrefix+key, d.config.Limit, d.config.Window)
	if err != nil {
		return false, errors.ConnectionError("rate limit check failed", err)
	}
	return allowed, nil
}

func (d *distributedLimiter) Limit() int {
	return d.config.Limit
}
