// Package tokens owns the OAuth credential lifecycle of platform connections:
// deciding when a stored access token is usable, refreshing it against the
// provider, and deactivating connections whose grant has been revoked.
package tokens

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"
	"melody-map/internal/common/errors"
	"melody-map/internal/common/logging"
	"melody-map/internal/locks"
	"melody-map/internal/providers"
	"melody-map/internal/storage"
)

const (
	// DefaultExpiryBuffer is the lookahead inside which a token counts as stale
	DefaultExpiryBuffer = 5 * time.Minute
	// DefaultRefreshPacing is the delay between refreshes in a bulk sweep
	DefaultRefreshPacing = 100 * time.Millisecond
	// DefaultStaleRetention is how long past expiry an active connection survives cleanup
	DefaultStaleRetention = 7 * 24 * time.Hour

	refreshLockTTL = 30 * time.Second
)

// Grant is what an OAuth callback yields for a new or relinked connection
type Grant struct {
	ExternalID   string
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
}

// Manager is the token lifecycle manager shared by all providers
type Manager struct {
	store     storage.ConnectionStore
	providers *providers.Registry
	logger    logging.Logger

	// inflight deduplicates concurrent refreshes of one connection
	inflight singleflight.Group
	locker   locks.Locker
	events   Publisher

	buffer time.Duration
	pacing time.Duration
	now    func() time.Time
}

// Option configures a Manager
type Option func(*Manager)

func WithExpiryBuffer(buffer time.Duration) Option {
	return func(m *Manager) {
		m.buffer = buffer
	}
}

func WithRefreshPacing(pacing time.Duration) Option {
	return func(m *Manager) {
		m.pacing = pacing
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func WithLogger(logger logging.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithLocker serialises refreshes of one connection across instances
func WithLocker(locker locks.Locker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithEvents publishes connection events, typically to Redis
func WithEvents(events Publisher) Option {
	return func(m *Manager) {
		m.events = events
	}
}

func NewManager(store storage.ConnectionStore, registry *providers.Registry, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		providers: registry,
		logger:    logging.GetGlobalLogger(),
		buffer:    DefaultExpiryBuffer,
		pacing:    DefaultRefreshPacing,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// isStale reports whether conn expires within the lookahead buffer
func (m *Manager) isStale(conn *storage.PlatformConnection) bool {
	return !conn.TokenExpiresAt.After(m.now().Add(m.buffer))
}

// GetValidAccessToken returns a usable access token, refreshing a stale one first.
// ("", false) means not usable: not connected, revoked, or refresh failed.
func (m *Manager) GetValidAccessToken(ctx context.Context, userID string, platform storage.Platform) (string, bool) {
	token, err := m.AccessToken(ctx, userID, platform)
	if err != nil {
		return "", false
	}
	return token, true
}

// AccessToken is GetValidAccessToken with a reason. Errors are AppErrors of type
// not_connected, terminal_refresh (relink required) or transient_refresh.
func (m *Manager) AccessToken(ctx context.Context, userID string, platform storage.Platform) (string, error) {
	logger := m.logger.WithContext(ctx).WithFields(logging.Field{Key: "platform", Value: string(platform)})

	if _, err := m.providers.Get(platform); err != nil {
		return "", err
	}

	conn, err := m.store.FindConnection(ctx, userID, platform)
	if err != nil {
		logger.Error("Failed to load connection", err)
		return "", ErrRefreshFailed(platform, err)
	}
	if conn == nil {
		return "", ErrNotConnected(platform)
	}
	if !conn.IsActive {
		return "", ErrReauthRequired(platform, reasonInactive)
	}
	if !m.isStale(conn) {
		return conn.AccessToken, nil
	}

	logger.Debug("Access token is stale, refreshing",
		logging.Field{Key: "connection_id", Value: conn.ID},
		logging.Field{Key: "expires_at", Value: conn.TokenExpiresAt},
	)

	result := m.Refresh(ctx, conn.ID)
	if !result.OK() {
		return "", ResultError(platform, result)
	}

	refreshed, err := m.store.FindConnectionByID(ctx, conn.ID)
	if err != nil {
		logger.Error("Failed to reload refreshed connection", err, logging.Field{Key: "connection_id", Value: conn.ID})
		return "", ErrRefreshFailed(platform, err)
	}
	if refreshed == nil {
		return "", ErrNotConnected(platform)
	}
	if !refreshed.IsActive {
		return "", ErrReauthRequired(platform, reasonInactive)
	}
	return refreshed.AccessToken, nil
}

// Connection returns the user's connection for platform, active or not.
// A missing row is a not_connected error.
func (m *Manager) Connection(ctx context.Context, userID string, platform storage.Platform) (*storage.PlatformConnection, error) {
	if _, err := m.providers.Get(platform); err != nil {
		return nil, err
	}
	conn, err := m.store.FindConnection(ctx, userID, platform)
	if err != nil {
		return nil, ErrRefreshFailed(platform, err)
	}
	if conn == nil {
		return nil, ErrNotConnected(platform)
	}
	return conn, nil
}

const (
	reasonNotFound     = "connection_not_found"
	reasonInactive     = "connection_inactive"
	reasonNoRefresh    = "refresh_not_supported"
	reasonMissingToken = "missing_refresh_token"
)

// RefreshToken is the boolean form of Refresh
func (m *Manager) RefreshToken(ctx context.Context, connectionID string) bool {
	return m.Refresh(ctx, connectionID).OK()
}

// Refresh exchanges the stored refresh token of a connection and persists the result.
// Concurrent calls for one connection share a single exchange. A terminal result
// deactivates the connection; a transient one leaves it active.
func (m *Manager) Refresh(ctx context.Context, connectionID string) providers.RefreshResult {
	// The exchange outlives any one caller so that joined callers are not cancelled with it
	flightCtx := context.WithoutCancel(ctx)

	v, _, shared := m.inflight.Do(connectionID, func() (interface{}, error) {
		return m.refresh(flightCtx, connectionID), nil
	})
	if shared {
		m.logger.Debug("Joined in-flight refresh", logging.Field{Key: "connection_id", Value: connectionID})
	}
	return v.(providers.RefreshResult)
}

func (m *Manager) refresh(ctx context.Context, connectionID string) (result providers.RefreshResult) {
	logger := m.logger.WithContext(ctx).WithFields(logging.Field{Key: "connection_id", Value: connectionID})

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic during token refresh", fmt.Errorf("%v", r))
			result = providers.Transient("panic", errors.InternalError(fmt.Sprintf("panic during refresh: %v", r), nil))
		}
	}()

	conn, err := m.store.FindConnectionByID(ctx, connectionID)
	if err != nil {
		logger.Error("Failed to load connection for refresh", err)
		return providers.Transient("store_error", err)
	}
	if conn == nil {
		return providers.Unavailable(reasonNotFound)
	}
	if !conn.IsActive {
		return providers.Unavailable(reasonInactive)
	}

	provider, err := m.providers.Get(conn.Platform)
	if err != nil {
		return providers.Unavailable("unsupported_platform")
	}
	if !provider.SupportsRefresh() {
		return providers.Unavailable(reasonNoRefresh)
	}
	if !conn.HasRefreshToken() {
		return providers.Unavailable(reasonMissingToken)
	}

	if m.locker != nil {
		lock, err := m.locker.AcquireLock(ctx, locks.RefreshLockKey(connectionID), refreshLockTTL)
		if err != nil {
			logger.Warn("Could not acquire refresh lock", logging.Field{Key: "error", Value: err.Error()})
			return providers.Transient("lock_unavailable", err)
		}
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("Failed to release refresh lock", logging.Field{Key: "error", Value: err.Error()})
			}
		}()

		// Another instance may have refreshed while we waited for the lock
		latest, err := m.store.FindConnectionByID(ctx, connectionID)
		if err != nil {
			return providers.Transient("store_error", err)
		}
		if latest == nil {
			return providers.Unavailable(reasonNotFound)
		}
		if !latest.IsActive {
			return providers.Unavailable(reasonInactive)
		}
		if latest.UpdatedAt.After(conn.UpdatedAt) && !m.isStale(latest) {
			return providers.Success(latest.AccessToken, "", int(latest.TokenExpiresAt.Sub(m.now()).Seconds()))
		}
		conn = latest
	}

	result = provider.Refresh(ctx, *conn.RefreshToken)

	switch result.Outcome {
	case providers.OutcomeSuccess:
		expiresAt := m.now().Add(provider.TokenLifetime(result.ExpiresIn))
		update := storage.ConnectionUpdate{
			AccessToken:    &result.AccessToken,
			TokenExpiresAt: &expiresAt,
		}
		if result.Rotated() {
			update.RefreshToken = &result.RefreshToken
		}
		if err := m.store.UpdateConnection(ctx, connectionID, update); err != nil {
			logger.Error("Failed to persist refreshed token", err)
			return providers.Transient("store_error", err)
		}
		logger.Info("Refreshed access token",
			logging.Field{Key: "platform", Value: string(conn.Platform)},
			logging.Field{Key: "expires_at", Value: expiresAt},
			logging.Field{Key: "rotated", Value: result.Rotated()},
		)

	case providers.OutcomeTerminal:
		logger.Warn("Refresh grant revoked, deactivating connection",
			logging.Field{Key: "platform", Value: string(conn.Platform)},
			logging.Field{Key: "reason", Value: result.Reason},
		)
		if err := m.store.UpdateConnection(ctx, connectionID, storage.Deactivate()); err != nil {
			logger.Error("Failed to deactivate revoked connection", err)
		} else {
			m.publish(ctx, Event{
				Type:         EventDeactivated,
				UserID:       conn.UserID,
				Platform:     conn.Platform,
				ConnectionID: conn.ID,
				Reason:       result.Reason,
			})
		}

	case providers.OutcomeTransient:
		logger.Warn("Token refresh failed, connection left active",
			logging.Field{Key: "platform", Value: string(conn.Platform)},
			logging.Field{Key: "reason", Value: result.Reason},
		)
	}

	return result
}

// VerifyToken asks the provider whether accessToken is accepted. It never mutates state;
// callers decide whether a rejection deactivates the connection.
func (m *Manager) VerifyToken(ctx context.Context, platform storage.Platform, accessToken string) (bool, error) {
	provider, err := m.providers.Get(platform)
	if err != nil {
		return false, err
	}
	return provider.Verify(ctx, accessToken)
}

// MarkConnectionInactive deactivates the user's connection. Missing or already
// inactive connections are left as they are.
func (m *Manager) MarkConnectionInactive(ctx context.Context, userID string, platform storage.Platform) error {
	conn, err := m.store.FindConnection(ctx, userID, platform)
	if err != nil {
		return err
	}
	if conn == nil || !conn.IsActive {
		return nil
	}

	if err := m.store.UpdateUserConnection(ctx, userID, platform, storage.Deactivate()); err != nil {
		if errors.IsType(err, errors.ErrTypeNotFound) {
			return nil
		}
		return err
	}

	m.logger.WithContext(ctx).Info("Connection marked inactive",
		logging.Field{Key: "connection_id", Value: conn.ID},
		logging.Field{Key: "platform", Value: string(platform)},
	)
	m.publish(ctx, Event{
		Type:         EventDeactivated,
		UserID:       userID,
		Platform:     platform,
		ConnectionID: conn.ID,
		Reason:       "disconnected",
	})
	return nil
}

// Link stores the credentials of a completed OAuth flow, reactivating an existing
// connection for the same user and platform.
func (m *Manager) Link(ctx context.Context, userID string, platform storage.Platform, grant Grant) (*storage.PlatformConnection, error) {
	provider, err := m.providers.Get(platform)
	if err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, errors.ValidationError("user id is required")
	}
	if grant.AccessToken == "" {
		return nil, errors.ValidationError("access token is required")
	}

	lifetime := providers.NonExpiringLifetime
	if provider.SupportsRefresh() {
		lifetime = provider.TokenLifetime(grant.ExpiresIn)
	}

	conn := &storage.PlatformConnection{
		UserID:         userID,
		Platform:       platform,
		ExternalID:     grant.ExternalID,
		AccessToken:    grant.AccessToken,
		TokenExpiresAt: m.now().Add(lifetime),
		IsActive:       true,
	}
	if provider.SupportsRefresh() && grant.RefreshToken != "" {
		refreshToken := grant.RefreshToken
		conn.RefreshToken = &refreshToken
	}

	stored, err := m.store.InsertConnection(ctx, conn)
	if err != nil {
		return nil, err
	}

	m.logger.WithContext(ctx).Info("Connection linked",
		logging.Field{Key: "connection_id", Value: stored.ID},
		logging.Field{Key: "platform", Value: string(platform)},
		logging.Field{Key: "expires_at", Value: stored.TokenExpiresAt},
	)
	m.publish(ctx, Event{
		Type:         EventLinked,
		UserID:       userID,
		Platform:     platform,
		ConnectionID: stored.ID,
	})
	return stored, nil
}

// Connections lists every connection of the user, active or not
func (m *Manager) Connections(ctx context.Context, userID string) ([]*storage.PlatformConnection, error) {
	conns, err := m.store.ListUserConnections(ctx, userID)
	if err != nil {
		return nil, err
	}
	if conns == nil {
		conns = []*storage.PlatformConnection{}
	}
	return conns, nil
}

// Providers returns the registry the manager resolves platforms with
func (m *Manager) Providers() *providers.Registry {
	return m.providers
}
