// Package locks coordinates token refreshes and scheduler sweeps across
// service instances using the Redlock implementation from go-redsync.
//
// Single-flight inside one process is handled by the token manager; these
// locks only matter when several instances share the same connection store.
package locks

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"
	"melody-map/internal/common/errors"
	"melody-map/internal/redis"
)

// ErrNotAcquired is returned when another holder owns the lock
var ErrNotAcquired = stderrors.New("lock is held elsewhere")

const keyPrefix = "melody-map:lock:"

// Lock is a held distributed lock
type Lock interface {
	Key() string
	Release(ctx context.Context) error
	// Extend resets the expiry of a held lock to its original TTL
	Extend(ctx context.Context) error
	IsHeld() bool
}

// Locker hands out distributed locks
type Locker interface {
	// AcquireLock waits up to the manager's retry budget for key
	AcquireLock(ctx context.Context, key string, expiration time.Duration) (Lock, error)
	// TryLock makes a single attempt and returns ErrNotAcquired when key is taken
	TryLock(ctx context.Context, key string, expiration time.Duration) (Lock, error)
}

// RedsyncManager implements Locker with redsync mutexes
type RedsyncManager struct {
	redsync    *redsync.Redsync
	tries      int
	retryDelay time.Duration
}

// Option tunes a RedsyncManager
type Option func(*RedsyncManager)

// WithRetry sets how many attempts AcquireLock makes and the delay between them
func WithRetry(tries int, delay time.Duration) Option {
	return func(m *RedsyncManager) {
		if tries > 0 {
			m.tries = tries
		}
		if delay > 0 {
			m.retryDelay = delay
		}
	}
}

// NewRedsyncManager creates a lock manager backed by redisClient
func NewRedsyncManager(redisClient *redis.Client, opts ...Option) (*RedsyncManager, error) {
	if redisClient == nil {
		return nil, errors.ConfigError("redis client is required")
	}

	m := &RedsyncManager{
		redsync:    redsync.New(goredis.NewPool(redisClient.GetGoRedisClient())),
		tries:      40,
		retryDelay: 250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *RedsyncManager) AcquireLock(ctx context.Context, key string, expiration time.Duration) (Lock, error) {
	return m.acquire(ctx, key, expiration, m.tries)
}

func (m *RedsyncManager) TryLock(ctx context.Context, key string, expiration time.Duration) (Lock, error) {
	return m.acquire(ctx, key, expiration, 1)
}

func (m *RedsyncManager) acquire(ctx context.Context, key string, expiration time.Duration, tries int) (Lock, error) {
	mutex := m.redsync.NewMutex(keyPrefix+key,
		redsync.WithExpiry(expiration),
		redsync.WithTries(tries),
		redsync.WithRetryDelay(m.retryDelay),
	)

	if err := mutex.LockContext(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, ErrNotAcquired
	}

	return &redsyncLock{mutex: mutex, key: key, held: true}, nil
}

// RefreshLockKey names the lock guarding a single connection's refresh
func RefreshLockKey(connectionID string) string {
	return "refresh:" + connectionID
}

// SweepLockKey names the lock guarding one scheduler sweep
const SweepLockKey = "scheduler:sweep"

type redsyncLock struct {
	mutex *redsync.Mutex
	key   string

	mu   sync.Mutex
	held bool
}

func (l *redsyncLock) Key() string {
	return l.key
}

// Release unlocks the mutex in Redis. Releasing twice is a no-op.
func (l *redsyncLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held {
		return nil
	}
	l.held = false

	if ok, err := l.mutex.UnlockContext(ctx); err != nil || !ok {
		if err == nil {
			err = stderrors.New("lock expired before release")
		}
		return errors.InternalError("failed to release distributed lock", err).WithContext("key", l.key)
	}
	return nil
}

func (l *redsyncLock) Extend(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held {
		return errors.InternalError("cannot extend a released lock", nil).WithContext("key", l.key)
	}
	if ok, err := l.mutex.ExtendContext(ctx); err != nil || !ok {
		if err == nil {
			err = stderrors.New("lock lost before extend")
		}
		return errors.InternalError("failed to extend distributed lock", err).WithContext("key", l.key)
	}
	return nil
}

func (l *redsyncLock) IsHeld() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held && time.Now().Before(l.mutex.Until())
}

var _ Locker = (*RedsyncManager)(nil)
