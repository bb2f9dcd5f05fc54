package tokens

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"melody-map/internal/common/errors"
	"melody-map/internal/locks"
	"melody-map/internal/providers"
	"melody-map/internal/redis"
	"melody-map/internal/storage"
	"melody-map/internal/storage/memory"
	"melody-map/internal/testutil"
)

type fixture struct {
	store   *memory.Store
	spotify *fakeProvider
	deezer  *fakeProvider
	events  *recordingPublisher
	manager *Manager
}

func newFixture(t *testing.T, refreshFn func(string) providers.RefreshResult, opts ...Option) *fixture {
	f := &fixture{
		store:   memory.NewStore(),
		spotify: newFakeSpotify(refreshFn),
		deezer:  &fakeProvider{platform: storage.PlatformDeezer},
		events:  &recordingPublisher{},
	}
	registry := providers.NewRegistry(f.spotify, f.deezer)
	opts = append([]Option{WithEvents(f.events)}, opts...)
	f.manager = NewManager(f.store, registry, opts...)
	return f
}

func (f *fixture) insert(t *testing.T, conn *storage.PlatformConnection) *storage.PlatformConnection {
	stored, err := f.store.InsertConnection(context.Background(), conn)
	require.NoError(t, err)
	return stored
}

func (f *fixture) reload(t *testing.T, id string) *storage.PlatformConnection {
	conn, err := f.store.FindConnectionByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, conn)
	return conn
}

func TestGetValidAccessToken_FreshTokenNoNetwork(t *testing.T) {
	f := newFixture(t, succeedWith("B"))
	f.insert(t, testutil.NewConnectionBuilder().WithAccessToken("A").WithRefreshToken("R").ExpiringIn(time.Hour).Build())

	token, ok := f.manager.GetValidAccessToken(context.Background(), "user-1", storage.PlatformSpotify)

	assert.True(t, ok)
	assert.Equal(t, "A", token)
	assert.Equal(t, 0, f.spotify.Calls())
}

func TestGetValidAccessToken_StaleTokenRefreshed(t *testing.T) {
	f := newFixture(t, func(refreshToken string) providers.RefreshResult {
		assert.Equal(t, "R", refreshToken)
		return providers.Success("B", "", 3600)
	})
	conn := f.insert(t, testutil.NewConnectionBuilder().WithAccessToken("A").WithRefreshToken("R").ExpiringIn(time.Minute).Build())

	before := time.Now()
	token, ok := f.manager.GetValidAccessToken(context.Background(), "user-1", storage.PlatformSpotify)

	require.True(t, ok)
	assert.Equal(t, "B", token)
	assert.Equal(t, 1, f.spotify.Calls())

	stored := f.reload(t, conn.ID)
	assert.Equal(t, "B", stored.AccessToken)
	assert.Equal(t, "R", *stored.RefreshToken, "unrotated refresh token is kept")
	assert.WithinDuration(t, before.Add(time.Hour), stored.TokenExpiresAt, 5*time.Second)
	assert.True(t, stored.TokenExpiresAt.After(time.Now().Add(DefaultExpiryBuffer)))
	assert.True(t, stored.IsActive)
}

func TestGetValidAccessToken_TokenInsideBufferIsStale(t *testing.T) {
	f := newFixture(t, succeedWith("B"))
	f.insert(t, testutil.NewConnectionBuilder().ExpiringIn(4*time.Minute).Build())

	token, ok := f.manager.GetValidAccessToken(context.Background(), "user-1", storage.PlatformSpotify)

	assert.True(t, ok)
	assert.Equal(t, "B", token)
	assert.Equal(t, 1, f.spotify.Calls())
}

func TestGetValidAccessToken_RotatedRefreshTokenStored(t *testing.T) {
	f := newFixture(t, func(string) providers.RefreshResult {
		return providers.Success("B", "R2", 3600)
	})
	conn := f.insert(t, testutil.NewConnectionBuilder().WithRefreshToken("R").ExpiringIn(-time.Minute).Build())

	_, ok := f.manager.GetValidAccessToken(context.Background(), "user-1", storage.PlatformSpotify)
	require.True(t, ok)

	assert.Equal(t, "R2", *f.reload(t, conn.ID).RefreshToken)
}

func TestGetValidAccessToken_InvalidGrantDeactivates(t *testing.T) {
	f := newFixture(t, func(string) providers.RefreshResult {
		return providers.Terminal("invalid_grant")
	})
	conn := f.insert(t, testutil.NewConnectionBuilder().WithRefreshToken("R-bad").ExpiringIn(time.Minute).Build())
	ctx := context.Background()

	token, ok := f.manager.GetValidAccessToken(ctx, "user-1", storage.PlatformSpotify)
	assert.False(t, ok)
	assert.Empty(t, token)
	assert.False(t, f.reload(t, conn.ID).IsActive)

	token, ok = f.manager.GetValidAccessToken(ctx, "user-1", storage.PlatformSpotify)
	assert.False(t, ok)
	assert.Empty(t, token)
	assert.Equal(t, 1, f.spotify.Calls(), "an inactive connection is never refreshed again")

	events := f.events.Events()
	require.Len(t, events, 1)
	assert.Equal(t, EventDeactivated, events[0].Type)
	assert.Equal(t, "invalid_grant", events[0].Reason)
	assert.Equal(t, conn.ID, events[0].ConnectionID)
}

func TestGetValidAccessToken_TransientFailureKeepsActive(t *testing.T) {
	f := newFixture(t, func(string) providers.RefreshResult {
		return providers.Transient("http_500", stderrors.New("status 500"))
	})
	conn := f.insert(t, testutil.NewConnectionBuilder().ExpiringIn(time.Minute).Build())

	_, ok := f.manager.GetValidAccessToken(context.Background(), "user-1", storage.PlatformSpotify)

	assert.False(t, ok)
	stored := f.reload(t, conn.ID)
	assert.True(t, stored.IsActive)
	assert.Equal(t, "access-token", stored.AccessToken)
	assert.Empty(t, f.events.Events())
}

func TestGetValidAccessToken_DeezerNeverRefreshes(t *testing.T) {
	f := newFixture(t, succeedWith("B"))
	f.insert(t, testutil.NewConnectionBuilder().Deezer().WithAccessToken("D").Build())

	for i := 0; i < 5; i++ {
		token, ok := f.manager.GetValidAccessToken(context.Background(), "user-1", storage.PlatformDeezer)
		assert.True(t, ok)
		assert.Equal(t, "D", token)
	}
	assert.Equal(t, 0, f.deezer.Calls())
}

func TestGetValidAccessToken_ConcurrentCallersShareOneRefresh(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	f := newFixture(t, func(string) providers.RefreshResult {
		once.Do(func() { close(entered) })
		<-release
		return providers.Success("B", "", 3600)
	})
	f.insert(t, testutil.NewConnectionBuilder().WithAccessToken("A").ExpiringIn(time.Minute).Build())

	const callers = 10
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	oks := make([]bool, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], oks[i] = f.manager.GetValidAccessToken(context.Background(), "user-1", storage.PlatformSpotify)
		}(i)
	}

	<-entered
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, f.spotify.Calls())
	for i := 0; i < callers; i++ {
		assert.True(t, oks[i])
		assert.Equal(t, "B", tokens[i])
	}
}

func TestAccessToken_Reasons(t *testing.T) {
	ctx := context.Background()

	t.Run("not connected", func(t *testing.T) {
		f := newFixture(t, succeedWith("B"))

		_, err := f.manager.AccessToken(ctx, "user-1", storage.PlatformSpotify)

		assert.True(t, errors.IsType(err, errors.ErrTypeNotConnected))
		assertCode(t, err, "SPOTIFY_NOT_CONNECTED")
	})

	t.Run("inactive connection needs relink", func(t *testing.T) {
		f := newFixture(t, succeedWith("B"))
		f.insert(t, testutil.NewConnectionBuilder().Build())
		require.NoError(t, f.manager.MarkConnectionInactive(ctx, "user-1", storage.PlatformSpotify))

		_, err := f.manager.AccessToken(ctx, "user-1", storage.PlatformSpotify)

		assert.True(t, errors.IsType(err, errors.ErrTypeTerminalRefresh))
		assertCode(t, err, "SPOTIFY_REAUTH_REQUIRED")
	})

	t.Run("revoked grant", func(t *testing.T) {
		f := newFixture(t, func(string) providers.RefreshResult { return providers.Terminal("invalid_grant") })
		f.insert(t, testutil.NewConnectionBuilder().ExpiringIn(time.Minute).Build())

		_, err := f.manager.AccessToken(ctx, "user-1", storage.PlatformSpotify)

		assert.True(t, errors.IsType(err, errors.ErrTypeTerminalRefresh))
		assert.Contains(t, err.Error(), "invalid_grant")
	})

	t.Run("stale without refresh token", func(t *testing.T) {
		f := newFixture(t, succeedWith("B"))
		f.insert(t, testutil.NewConnectionBuilder().WithoutRefreshToken().ExpiringIn(-time.Hour).Build())

		_, err := f.manager.AccessToken(ctx, "user-1", storage.PlatformSpotify)

		assert.True(t, errors.IsType(err, errors.ErrTypeTerminalRefresh))
		assert.Equal(t, 0, f.spotify.Calls())
	})

	t.Run("transient failure", func(t *testing.T) {
		f := newFixture(t, func(string) providers.RefreshResult {
			return providers.Transient("timeout", errors.TimeoutError("spotify token refresh"))
		})
		f.insert(t, testutil.NewConnectionBuilder().ExpiringIn(time.Minute).Build())

		_, err := f.manager.AccessToken(ctx, "user-1", storage.PlatformSpotify)

		assert.True(t, errors.IsType(err, errors.ErrTypeTransientRefresh))
		assertCode(t, err, "SPOTIFY_REFRESH_FAILED")
	})

	t.Run("unsupported platform", func(t *testing.T) {
		f := newFixture(t, succeedWith("B"))

		_, err := f.manager.AccessToken(ctx, "user-1", storage.PlatformAppleMusic)

		assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
	})
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	var appErr *errors.AppError
	require.True(t, stderrors.As(err, &appErr))
	assert.Equal(t, code, appErr.Code)
}

func TestGetValidAccessToken_StoreErrorIsNotUsable(t *testing.T) {
	store := &testutil.MockConnectionStore{}
	store.On("FindConnection", mock.Anything, "user-1", storage.PlatformSpotify).
		Return(nil, errors.ConnectionError("database unavailable", nil))

	manager := NewManager(store, providers.NewRegistry(newFakeSpotify(succeedWith("B"))))

	token, ok := manager.GetValidAccessToken(context.Background(), "user-1", storage.PlatformSpotify)

	assert.False(t, ok)
	assert.Empty(t, token)
	store.AssertExpectations(t)
}

func TestRefreshToken_NoRefreshTokenMakesNoCall(t *testing.T) {
	f := newFixture(t, succeedWith("B"))
	conn := f.insert(t, testutil.NewConnectionBuilder().WithoutRefreshToken().ExpiringIn(-time.Minute).Build())

	assert.False(t, f.manager.RefreshToken(context.Background(), conn.ID))
	assert.False(t, f.manager.RefreshToken(context.Background(), conn.ID))
	assert.Equal(t, 0, f.spotify.Calls())
}

func TestRefreshToken_MissingConnection(t *testing.T) {
	f := newFixture(t, succeedWith("B"))

	result := f.manager.Refresh(context.Background(), "missing")

	assert.Equal(t, providers.OutcomeUnavailable, result.Outcome)
	assert.False(t, f.manager.RefreshToken(context.Background(), "missing"))
	assert.Equal(t, 0, f.spotify.Calls())
}

func TestRefreshToken_ManualRefreshOfFreshToken(t *testing.T) {
	f := newFixture(t, succeedWith("B"))
	conn := f.insert(t, testutil.NewConnectionBuilder().WithAccessToken("A").ExpiringIn(time.Hour).Build())

	assert.True(t, f.manager.RefreshToken(context.Background(), conn.ID))
	assert.Equal(t, "B", f.reload(t, conn.ID).AccessToken)
}

func TestRefresh_PanicBecomesTransient(t *testing.T) {
	f := newFixture(t, func(string) providers.RefreshResult { panic("boom") })
	conn := f.insert(t, testutil.NewConnectionBuilder().Build())

	result := f.manager.Refresh(context.Background(), conn.ID)

	assert.Equal(t, providers.OutcomeTransient, result.Outcome)
	assert.Equal(t, "panic", result.Reason)
	assert.True(t, f.reload(t, conn.ID).IsActive)
}

func TestRefresh_PersistFailureIsTransient(t *testing.T) {
	conn := testutil.NewConnectionBuilder().WithID("conn-1").Build()

	store := &testutil.MockConnectionStore{}
	store.On("FindConnectionByID", mock.Anything, "conn-1").Return(conn, nil)
	store.On("UpdateConnection", mock.Anything, "conn-1", mock.Anything).
		Return(errors.ConnectionError("database unavailable", nil))

	manager := NewManager(store, providers.NewRegistry(newFakeSpotify(succeedWith("B"))))

	result := manager.Refresh(context.Background(), "conn-1")

	assert.Equal(t, providers.OutcomeTransient, result.Outcome)
	assert.Equal(t, "store_error", result.Reason)
}

func TestRefresh_DistributedLockSkipsDuplicateExchange(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	redisClient, err := redis.NewClient(&redis.Config{Address: s.Addr()})
	require.NoError(t, err)
	defer redisClient.Close()

	locker, err := locks.NewRedsyncManager(redisClient, locks.WithRetry(100, 20*time.Millisecond))
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	provider := newFakeSpotify(func(string) providers.RefreshResult {
		once.Do(func() { close(entered) })
		<-release
		return providers.Success("B", "", 3600)
	})

	store := memory.NewStore()
	conn, err := store.InsertConnection(context.Background(), testutil.NewConnectionBuilder().ExpiringIn(time.Minute).Build())
	require.NoError(t, err)

	// Two managers sharing one store model two service instances
	registry := providers.NewRegistry(provider)
	first := NewManager(store, registry, WithLocker(locker))
	second := NewManager(store, registry, WithLocker(locker))

	results := make(chan providers.RefreshResult, 2)
	go func() { results <- first.Refresh(context.Background(), conn.ID) }()
	<-entered
	go func() { results <- second.Refresh(context.Background(), conn.ID) }()
	time.Sleep(100 * time.Millisecond)
	close(release)

	for i := 0; i < 2; i++ {
		result := <-results
		assert.True(t, result.OK(), "result: %+v", result)
		assert.Equal(t, "B", result.AccessToken)
	}
	assert.Equal(t, 1, provider.Calls())
}

func TestVerifyToken_NoMutation(t *testing.T) {
	f := newFixture(t, succeedWith("B"))
	f.spotify.verifyFn = func(accessToken string) (bool, error) {
		return accessToken == "good", nil
	}
	conn := f.insert(t, testutil.NewConnectionBuilder().WithAccessToken("bad").Build())

	ok, err := f.manager.VerifyToken(context.Background(), storage.PlatformSpotify, "bad")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, f.reload(t, conn.ID).IsActive)

	ok, err = f.manager.VerifyToken(context.Background(), storage.PlatformSpotify, "good")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMarkConnectionInactive_Idempotent(t *testing.T) {
	f := newFixture(t, succeedWith("B"))
	conn := f.insert(t, testutil.NewConnectionBuilder().Build())
	ctx := context.Background()

	require.NoError(t, f.manager.MarkConnectionInactive(ctx, "user-1", storage.PlatformSpotify))
	assert.False(t, f.reload(t, conn.ID).IsActive)

	require.NoError(t, f.manager.MarkConnectionInactive(ctx, "user-1", storage.PlatformSpotify))
	assert.False(t, f.reload(t, conn.ID).IsActive)

	assert.Len(t, f.events.Events(), 1)
}

func TestMarkConnectionInactive_Missing(t *testing.T) {
	f := newFixture(t, succeedWith("B"))

	assert.NoError(t, f.manager.MarkConnectionInactive(context.Background(), "nobody", storage.PlatformSpotify))
}

func TestLink(t *testing.T) {
	ctx := context.Background()

	t.Run("spotify stores reported lifetime", func(t *testing.T) {
		f := newFixture(t, succeedWith("B"))
		before := time.Now()

		conn, err := f.manager.Link(ctx, "user-1", storage.PlatformSpotify, Grant{
			ExternalID: "spotify-user", AccessToken: "A", RefreshToken: "R", ExpiresIn: 3600,
		})
		require.NoError(t, err)

		assert.True(t, conn.IsActive)
		assert.Equal(t, "R", *conn.RefreshToken)
		assert.WithinDuration(t, before.Add(time.Hour), conn.TokenExpiresAt, 5*time.Second)

		events := f.events.Events()
		require.Len(t, events, 1)
		assert.Equal(t, EventLinked, events[0].Type)
	})

	t.Run("relink reactivates the existing row", func(t *testing.T) {
		f := newFixture(t, succeedWith("B"))
		first, err := f.manager.Link(ctx, "user-1", storage.PlatformSpotify, Grant{AccessToken: "A", RefreshToken: "R", ExpiresIn: 3600})
		require.NoError(t, err)
		require.NoError(t, f.manager.MarkConnectionInactive(ctx, "user-1", storage.PlatformSpotify))

		second, err := f.manager.Link(ctx, "user-1", storage.PlatformSpotify, Grant{AccessToken: "A2", RefreshToken: "R2", ExpiresIn: 3600})
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.True(t, second.IsActive)
		assert.Equal(t, "A2", second.AccessToken)

		token, ok := f.manager.GetValidAccessToken(ctx, "user-1", storage.PlatformSpotify)
		assert.True(t, ok)
		assert.Equal(t, "A2", token)
	})

	t.Run("deezer gets the non-expiring sentinel", func(t *testing.T) {
		f := newFixture(t, succeedWith("B"))
		before := time.Now()

		conn, err := f.manager.Link(ctx, "user-1", storage.PlatformDeezer, Grant{AccessToken: "D", RefreshToken: "ignored", ExpiresIn: 3600})
		require.NoError(t, err)

		assert.Nil(t, conn.RefreshToken)
		assert.WithinDuration(t, before.Add(providers.NonExpiringLifetime), conn.TokenExpiresAt, 5*time.Second)
	})

	t.Run("validation", func(t *testing.T) {
		f := newFixture(t, succeedWith("B"))

		_, err := f.manager.Link(ctx, "user-1", storage.PlatformSpotify, Grant{})
		assert.True(t, errors.IsType(err, errors.ErrTypeValidation))

		_, err = f.manager.Link(ctx, "", storage.PlatformSpotify, Grant{AccessToken: "A"})
		assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
	})
}

func TestConnections_EmptyList(t *testing.T) {
	f := newFixture(t, succeedWith("B"))

	conns, err := f.manager.Connections(context.Background(), "nobody")

	require.NoError(t, err)
	assert.NotNil(t, conns)
	assert.Empty(t, conns)
}

func TestConnection(t *testing.T) {
	f := newFixture(t, succeedWith("B"))
	ctx := context.Background()

	_, err := f.manager.Connection(ctx, "user-1", storage.PlatformSpotify)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeNotConnected))

	stored := f.insert(t, testutil.NewConnectionBuilder().Build())
	conn, err := f.manager.Connection(ctx, "user-1", storage.PlatformSpotify)
	require.NoError(t, err)
	assert.Equal(t, stored.ID, conn.ID)

	_, err = f.manager.Connection(ctx, "user-1", storage.Platform("tidal"))
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}

func TestResultError(t *testing.T) {
	tests := []struct {
		name     string
		result   providers.RefreshResult
		wantType errors.ErrorType
		wantCode string
	}{
		{"success", providers.Success("A", "", 3600), "", ""},
		{"terminal", providers.Terminal("invalid_grant"), errors.ErrTypeTerminalRefresh, "SPOTIFY_REAUTH_REQUIRED"},
		{"missing row", providers.Unavailable(reasonNotFound), errors.ErrTypeNotConnected, "SPOTIFY_NOT_CONNECTED"},
		{"no refresh token", providers.Unavailable(reasonMissingToken), errors.ErrTypeTerminalRefresh, "SPOTIFY_REAUTH_REQUIRED"},
		{"transient without cause", providers.Transient("http_503", nil), errors.ErrTypeTransientRefresh, "SPOTIFY_REFRESH_FAILED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ResultError(storage.PlatformSpotify, tt.result)
			if tt.wantType == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantType, errors.GetType(err))
			appErr, ok := errors.AsAppError(err)
			require.True(t, ok)
			assert.Equal(t, tt.wantCode, appErr.Code)
		})
	}

	err := ResultError(storage.PlatformSpotify, providers.Transient("http_503", nil))
	assert.Contains(t, err.Error(), "http_503")
}
