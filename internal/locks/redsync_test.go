package locks

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"melody-map/internal/redis"
)

func newTestManager(t *testing.T, opts ...Option) (*RedsyncManager, *miniredis.Miniredis) {
	s, err := miniredis.Run()
	require.NoError(t, err)

	redisClient, err := redis.NewClient(&redis.Config{Address: s.Addr()})
	require.NoError(t, err)

	manager, err := NewRedsyncManager(redisClient, opts...)
	require.NoError(t, err)

	t.Cleanup(func() {
		redisClient.Close()
		s.Close()
	})
	return manager, s
}

func TestNewRedsyncManager_RequiresClient(t *testing.T) {
	_, err := NewRedsyncManager(nil)
	assert.Error(t, err)
}

func TestRedsyncManager_AcquireAndRelease(t *testing.T) {
	manager, s := newTestManager(t)
	ctx := context.Background()

	lock, err := manager.AcquireLock(ctx, RefreshLockKey("conn-1"), 30*time.Second)
	require.NoError(t, err)

	assert.Equal(t, "refresh:conn-1", lock.Key())
	assert.True(t, lock.IsHeld())
	assert.True(t, s.Exists(keyPrefix+"refresh:conn-1"))

	require.NoError(t, lock.Release(ctx))
	assert.False(t, lock.IsHeld())
	assert.False(t, s.Exists(keyPrefix+"refresh:conn-1"))

	assert.NoError(t, lock.Release(ctx))
}

func TestRedsyncManager_TryLockContention(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	first, err := manager.TryLock(ctx, SweepLockKey, 30*time.Second)
	require.NoError(t, err)

	second, err := manager.TryLock(ctx, SweepLockKey, 30*time.Second)
	assert.ErrorIs(t, err, ErrNotAcquired)
	assert.Nil(t, second)

	require.NoError(t, first.Release(ctx))

	third, err := manager.TryLock(ctx, SweepLockKey, 30*time.Second)
	require.NoError(t, err)
	require.NoError(t, third.Release(ctx))
}

func TestRedsyncManager_AcquireLockWaitsForRelease(t *testing.T) {
	manager, _ := newTestManager(t, WithRetry(50, 20*time.Millisecond))
	ctx := context.Background()

	first, err := manager.AcquireLock(ctx, RefreshLockKey("conn-2"), 30*time.Second)
	require.NoError(t, err)

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = first.Release(ctx)
	}()

	second, err := manager.AcquireLock(ctx, RefreshLockKey("conn-2"), 30*time.Second)
	require.NoError(t, err)
	require.NoError(t, second.Release(ctx))
}

func TestRedsyncManager_AcquireLockGivesUp(t *testing.T) {
	manager, _ := newTestManager(t, WithRetry(3, 10*time.Millisecond))
	ctx := context.Background()

	first, err := manager.AcquireLock(ctx, RefreshLockKey("conn-3"), 30*time.Second)
	require.NoError(t, err)
	defer first.Release(ctx)

	_, err = manager.AcquireLock(ctx, RefreshLockKey("conn-3"), 30*time.Second)
	assert.ErrorIs(t, err, ErrNotAcquired)
}

func TestRedsyncManager_Extend(t *testing.T) {
	manager, s := newTestManager(t)
	ctx := context.Background()

	lock, err := manager.TryLock(ctx, SweepLockKey, time.Second)
	require.NoError(t, err)

	s.FastForward(800 * time.Millisecond)
	require.NoError(t, lock.Extend(ctx))

	s.FastForward(800 * time.Millisecond)
	assert.True(t, s.Exists(keyPrefix+SweepLockKey), "extended lock outlives its first TTL")

	require.NoError(t, lock.Release(ctx))
	assert.Error(t, lock.Extend(ctx))
}
