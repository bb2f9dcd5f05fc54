package tokens

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"melody-map/internal/common/errors"
	"melody-map/internal/providers"
	"melody-map/internal/storage"
	"melody-map/internal/testutil"
)

func TestRefreshExpiring_TalliesOutcomes(t *testing.T) {
	f := newFixture(t, func(refreshToken string) providers.RefreshResult {
		if refreshToken == "R-bad" {
			return providers.Terminal("invalid_grant")
		}
		return providers.Success("B-"+refreshToken, "", 3600)
	}, WithRefreshPacing(time.Millisecond))

	ok := f.insert(t, testutil.NewConnectionBuilder().WithUser("u-ok").WithRefreshToken("R1").ExpiringIn(time.Minute).Build())
	revoked := f.insert(t, testutil.NewConnectionBuilder().WithUser("u-revoked").WithRefreshToken("R-bad").ExpiringIn(2*time.Minute).Build())
	f.insert(t, testutil.NewConnectionBuilder().WithUser("u-norefresh").WithoutRefreshToken().ExpiringIn(time.Minute).Build())
	fresh := f.insert(t, testutil.NewConnectionBuilder().WithUser("u-fresh").WithAccessToken("F").ExpiringIn(time.Hour).Build())
	f.insert(t, testutil.NewConnectionBuilder().WithUser("u-deezer").Deezer().ExpiringIn(time.Minute).Build())

	stats, err := f.manager.RefreshExpiring(context.Background())
	require.NoError(t, err)

	assert.Equal(t, RefreshStats{Candidates: 3, Succeeded: 1, Failed: 1, Deactivated: 1, Skipped: 1}, stats)
	assert.Equal(t, 2, f.spotify.Calls())
	assert.Equal(t, 0, f.deezer.Calls())

	assert.Equal(t, "B-R1", f.reload(t, ok.ID).AccessToken)
	assert.False(t, f.reload(t, revoked.ID).IsActive)
	assert.Equal(t, "F", f.reload(t, fresh.ID).AccessToken)
}

func TestRefreshExpiring_SequentialAndPaced(t *testing.T) {
	f := newFixture(t, succeedWith("B"), WithRefreshPacing(40*time.Millisecond))
	for _, user := range []string{"u1", "u2", "u3", "u4"} {
		f.insert(t, testutil.NewConnectionBuilder().WithUser(user).ExpiringIn(time.Minute).Build())
	}

	start := time.Now()
	stats, err := f.manager.RefreshExpiring(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, stats.Succeeded)
	assert.GreaterOrEqual(t, time.Since(start), 110*time.Millisecond)
	assert.Equal(t, int32(1), f.spotify.maxParallel)
}

func TestRefreshExpiring_CancelledContext(t *testing.T) {
	f := newFixture(t, succeedWith("B"), WithRefreshPacing(time.Hour))
	f.insert(t, testutil.NewConnectionBuilder().WithUser("u1").ExpiringIn(time.Minute).Build())
	f.insert(t, testutil.NewConnectionBuilder().WithUser("u2").ExpiringIn(time.Minute).Build())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	stats, err := f.manager.RefreshExpiring(ctx)

	assert.Error(t, err)
	assert.Equal(t, 1, stats.Succeeded)
	assert.Equal(t, 1, f.spotify.Calls())
}

func TestRefreshExpiring_StoreErrorReported(t *testing.T) {
	store := &testutil.MockConnectionStore{}
	store.On("FindConnectionsExpiringBefore", mock.Anything, storage.PlatformSpotify, mock.Anything, true).
		Return(nil, errors.ConnectionError("database unavailable", nil))

	manager := NewManager(store, providers.NewRegistry(newFakeSpotify(succeedWith("B"))))

	stats, err := manager.RefreshExpiring(context.Background())

	assert.Error(t, err)
	assert.Equal(t, RefreshStats{}, stats)
	store.AssertExpectations(t)
}

func TestDeactivateStale(t *testing.T) {
	f := newFixture(t, succeedWith("B"))
	now := time.Now()

	stale := f.insert(t, testutil.NewConnectionBuilder().WithUser("u-stale").ExpiringAt(now.AddDate(0, 0, -8)).Build())
	recent := f.insert(t, testutil.NewConnectionBuilder().WithUser("u-recent").ExpiringAt(now.AddDate(0, 0, -1)).Build())

	count, err := f.manager.DeactivateStale(context.Background(), DefaultStaleRetention)
	require.NoError(t, err)

	assert.Equal(t, int64(1), count)
	assert.False(t, f.reload(t, stale.ID).IsActive)
	assert.True(t, f.reload(t, recent.ID).IsActive)

	events := f.events.Events()
	require.Len(t, events, 1)
	assert.Equal(t, EventExpired, events[0].Type)
	assert.Equal(t, int64(1), events[0].Count)
}

func TestDeactivateStale_DefaultsRetention(t *testing.T) {
	f := newFixture(t, succeedWith("B"))
	recent := f.insert(t, testutil.NewConnectionBuilder().ExpiringAt(time.Now().AddDate(0, 0, -3)).Build())

	count, err := f.manager.DeactivateStale(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, int64(0), count)
	assert.True(t, f.reload(t, recent.ID).IsActive)
}
