package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"melody-map/internal/common/errors"
	"melody-map/internal/storage"
)

// RunConnectionStoreSuite exercises the ConnectionStore contract against a backend.
// newStore must return an empty store.
func RunConnectionStoreSuite(t *testing.T, newStore func(t *testing.T) storage.ConnectionStore) {
	ctx := context.Background()

	t.Run("find on empty store returns nil", func(t *testing.T) {
		store := newStore(t)

		conn, err := store.FindConnection(ctx, "nobody", storage.PlatformSpotify)
		require.NoError(t, err)
		assert.Nil(t, conn)

		conn, err = store.FindConnectionByID(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, conn)
	})

	t.Run("insert assigns id and round trips fields", func(t *testing.T) {
		store := newStore(t)
		expires := time.Now().Add(time.Hour).Truncate(time.Second)

		stored, err := store.InsertConnection(ctx, NewConnectionBuilder().
			WithAccessToken("A").WithRefreshToken("R").ExpiringAt(expires).Build())
		require.NoError(t, err)
		require.NotEmpty(t, stored.ID)

		found, err := store.FindConnectionByID(ctx, stored.ID)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, "user-1", found.UserID)
		assert.Equal(t, storage.PlatformSpotify, found.Platform)
		assert.Equal(t, "spotify-user-1", found.ExternalID)
		assert.Equal(t, "A", found.AccessToken)
		require.NotNil(t, found.RefreshToken)
		assert.Equal(t, "R", *found.RefreshToken)
		assert.True(t, found.TokenExpiresAt.Equal(expires))
		assert.True(t, found.IsActive)
		assert.False(t, found.CreatedAt.IsZero())
	})

	t.Run("insert without refresh token stores null", func(t *testing.T) {
		store := newStore(t)

		stored, err := store.InsertConnection(ctx, NewConnectionBuilder().Deezer().Build())
		require.NoError(t, err)

		found, err := store.FindConnection(ctx, "user-1", storage.PlatformDeezer)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, stored.ID, found.ID)
		assert.Nil(t, found.RefreshToken)
		assert.False(t, found.HasRefreshToken())
	})

	t.Run("insert on conflict reactivates existing row", func(t *testing.T) {
		store := newStore(t)

		first, err := store.InsertConnection(ctx, NewConnectionBuilder().WithAccessToken("old").Build())
		require.NoError(t, err)
		require.NoError(t, store.UpdateConnection(ctx, first.ID, storage.Deactivate()))

		second, err := store.InsertConnection(ctx, NewConnectionBuilder().
			WithAccessToken("new").WithoutRefreshToken().Build())
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, "new", second.AccessToken)
		assert.True(t, second.IsActive)
		require.NotNil(t, second.RefreshToken, "a relink without refresh token keeps the stored one")
		assert.Equal(t, "refresh-token", *second.RefreshToken)

		all, err := store.ListUserConnections(ctx, "user-1")
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("insert rejects missing expiry", func(t *testing.T) {
		store := newStore(t)

		_, err := store.InsertConnection(ctx, NewConnectionBuilder().ExpiringAt(time.Time{}).Build())
		assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
	})

	t.Run("partial update leaves nil fields untouched", func(t *testing.T) {
		store := newStore(t)

		stored, err := store.InsertConnection(ctx, NewConnectionBuilder().WithAccessToken("A").WithRefreshToken("R").Build())
		require.NoError(t, err)

		newExpiry := time.Now().Add(2 * time.Hour).Truncate(time.Second)
		err = store.UpdateConnection(ctx, stored.ID, storage.ConnectionUpdate{
			AccessToken:    StringPtr("B"),
			TokenExpiresAt: TimePtr(newExpiry),
		})
		require.NoError(t, err)

		found, err := store.FindConnectionByID(ctx, stored.ID)
		require.NoError(t, err)
		assert.Equal(t, "B", found.AccessToken)
		assert.Equal(t, "R", *found.RefreshToken)
		assert.True(t, found.TokenExpiresAt.Equal(newExpiry))
		assert.True(t, found.IsActive)
		assert.False(t, found.UpdatedAt.Before(stored.UpdatedAt))
	})

	t.Run("update of missing row is not found", func(t *testing.T) {
		store := newStore(t)

		err := store.UpdateConnection(ctx, "missing", storage.Deactivate())
		assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))

		err = store.UpdateUserConnection(ctx, "nobody", storage.PlatformSpotify, storage.Deactivate())
		assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
	})

	t.Run("update by user and platform", func(t *testing.T) {
		store := newStore(t)

		_, err := store.InsertConnection(ctx, NewConnectionBuilder().Build())
		require.NoError(t, err)
		require.NoError(t, store.UpdateUserConnection(ctx, "user-1", storage.PlatformSpotify, storage.Deactivate()))
		require.NoError(t, store.UpdateUserConnection(ctx, "user-1", storage.PlatformSpotify, storage.Deactivate()))

		found, err := store.FindConnection(ctx, "user-1", storage.PlatformSpotify)
		require.NoError(t, err)
		assert.False(t, found.IsActive)
	})

	t.Run("expiring before filters platform, time and activity", func(t *testing.T) {
		store := newStore(t)
		now := time.Now()

		soon, err := store.InsertConnection(ctx, NewConnectionBuilder().WithUser("u-soon").ExpiringAt(now.Add(time.Minute)).Build())
		require.NoError(t, err)
		_, err = store.InsertConnection(ctx, NewConnectionBuilder().WithUser("u-later").ExpiringAt(now.Add(time.Hour)).Build())
		require.NoError(t, err)
		inactive, err := store.InsertConnection(ctx, NewConnectionBuilder().WithUser("u-inactive").ExpiringAt(now.Add(-time.Minute)).Build())
		require.NoError(t, err)
		require.NoError(t, store.UpdateConnection(ctx, inactive.ID, storage.Deactivate()))
		_, err = store.InsertConnection(ctx, NewConnectionBuilder().WithUser("u-deezer").Deezer().ExpiringAt(now).Build())
		require.NoError(t, err)

		active, err := store.FindConnectionsExpiringBefore(ctx, storage.PlatformSpotify, now.Add(5*time.Minute), true)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, soon.ID, active[0].ID)

		all, err := store.FindConnectionsExpiringBefore(ctx, storage.PlatformSpotify, now.Add(5*time.Minute), false)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, inactive.ID, all[0].ID, "results are ordered by expiry")
	})

	t.Run("deactivate older than only touches stale active rows", func(t *testing.T) {
		store := newStore(t)
		now := time.Now()

		stale, err := store.InsertConnection(ctx, NewConnectionBuilder().WithUser("u-stale").ExpiringAt(now.AddDate(0, 0, -8)).Build())
		require.NoError(t, err)
		recent, err := store.InsertConnection(ctx, NewConnectionBuilder().WithUser("u-recent").ExpiringAt(now.AddDate(0, 0, -1)).Build())
		require.NoError(t, err)

		count, err := store.DeactivateConnectionsOlderThan(ctx, now.AddDate(0, 0, -7))
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)

		found, err := store.FindConnectionByID(ctx, stale.ID)
		require.NoError(t, err)
		assert.False(t, found.IsActive)

		found, err = store.FindConnectionByID(ctx, recent.ID)
		require.NoError(t, err)
		assert.True(t, found.IsActive)

		count, err = store.DeactivateConnectionsOlderThan(ctx, now.AddDate(0, 0, -7))
		require.NoError(t, err)
		assert.Equal(t, int64(0), count)
	})

	t.Run("list returns every platform of the user", func(t *testing.T) {
		store := newStore(t)

		_, err := store.InsertConnection(ctx, NewConnectionBuilder().Build())
		require.NoError(t, err)
		_, err = store.InsertConnection(ctx, NewConnectionBuilder().Deezer().Build())
		require.NoError(t, err)
		_, err = store.InsertConnection(ctx, NewConnectionBuilder().WithUser("someone-else").Build())
		require.NoError(t, err)

		conns, err := store.ListUserConnections(ctx, "user-1")
		require.NoError(t, err)
		require.Len(t, conns, 2)
		assert.Equal(t, storage.PlatformDeezer, conns[0].Platform)
		assert.Equal(t, storage.PlatformSpotify, conns[1].Platform)
	})

	t.Run("health", func(t *testing.T) {
		store := newStore(t)
		assert.NoError(t, store.Health())
	})
}
