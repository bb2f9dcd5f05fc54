// Package memory is an in-process ConnectionStore for tests and single-node development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"melody-map/internal/common/errors"
	"melody-map/internal/storage"
)

type userPlatform struct {
	userID   string
	platform storage.Platform
}

// Store keeps connections in maps guarded by a RWMutex. Returned rows are copies.
type Store struct {
	mu     sync.RWMutex
	byID   map[string]*storage.PlatformConnection
	byUser map[userPlatform]string
	now    func() time.Time
	closed bool
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		byID:   make(map[string]*storage.PlatformConnection),
		byUser: make(map[userPlatform]string),
		now:    time.Now,
	}
}

// WithClock overrides the clock used for CreatedAt/UpdatedAt
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) FindConnection(ctx context.Context, userID string, platform storage.Platform) (*storage.PlatformConnection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byUser[userPlatform{userID, platform}]
	if !ok {
		return nil, nil
	}
	return s.byID[id].Clone(), nil
}

func (s *Store) FindConnectionByID(ctx context.Context, id string) (*storage.PlatformConnection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.byID[id].Clone(), nil
}

func (s *Store) ListUserConnections(ctx context.Context, userID string) ([]*storage.PlatformConnection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*storage.PlatformConnection
	for _, conn := range s.byID {
		if conn.UserID == userID {
			result = append(result, conn.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Platform < result[j].Platform })
	return result, nil
}

func (s *Store) InsertConnection(ctx context.Context, conn *storage.PlatformConnection) (*storage.PlatformConnection, error) {
	if conn == nil || conn.UserID == "" || conn.Platform == "" {
		return nil, errors.ValidationError("connection requires user and platform")
	}
	if conn.TokenExpiresAt.IsZero() {
		return nil, errors.ValidationError("connection requires a token expiry")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	key := userPlatform{conn.UserID, conn.Platform}

	if id, exists := s.byUser[key]; exists {
		existing := s.byID[id]
		existing.ExternalID = conn.ExternalID
		existing.AccessToken = conn.AccessToken
		if conn.RefreshToken != nil {
			token := *conn.RefreshToken
			existing.RefreshToken = &token
		}
		existing.TokenExpiresAt = conn.TokenExpiresAt
		existing.IsActive = true
		existing.UpdatedAt = now
		return existing.Clone(), nil
	}

	stored := conn.Clone()
	if stored.ID == "" {
		stored.ID = storage.NewConnectionID()
	}
	stored.IsActive = true
	stored.CreatedAt = now
	stored.UpdatedAt = now

	s.byID[stored.ID] = stored
	s.byUser[key] = stored.ID
	return stored.Clone(), nil
}

func (s *Store) UpdateConnection(ctx context.Context, id string, update storage.ConnectionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, ok := s.byID[id]
	if !ok {
		return errors.NotFoundError("connection " + id)
	}
	s.apply(conn, update)
	return nil
}

func (s *Store) UpdateUserConnection(ctx context.Context, userID string, platform storage.Platform, update storage.ConnectionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byUser[userPlatform{userID, platform}]
	if !ok {
		return errors.NotFoundError(string(platform) + " connection")
	}
	s.apply(s.byID[id], update)
	return nil
}

func (s *Store) apply(conn *storage.PlatformConnection, update storage.ConnectionUpdate) {
	if update.AccessToken != nil {
		conn.AccessToken = *update.AccessToken
	}
	if update.RefreshToken != nil {
		token := *update.RefreshToken
		conn.RefreshToken = &token
	}
	if update.TokenExpiresAt != nil {
		conn.TokenExpiresAt = *update.TokenExpiresAt
	}
	if update.IsActive != nil {
		conn.IsActive = *update.IsActive
	}
	conn.UpdatedAt = s.now()
}

func (s *Store) FindConnectionsExpiringBefore(ctx context.Context, platform storage.Platform, ts time.Time, activeOnly bool) ([]*storage.PlatformConnection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*storage.PlatformConnection
	for _, conn := range s.byID {
		if conn.Platform != platform || conn.TokenExpiresAt.After(ts) {
			continue
		}
		if activeOnly && !conn.IsActive {
			continue
		}
		result = append(result, conn.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].TokenExpiresAt.Before(result[j].TokenExpiresAt)
	})
	return result, nil
}

func (s *Store) DeactivateConnectionsOlderThan(ctx context.Context, ts time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	now := s.now()
	for _, conn := range s.byID {
		if conn.IsActive && conn.TokenExpiresAt.Before(ts) {
			conn.IsActive = false
			conn.UpdatedAt = now
			count++
		}
	}
	return count, nil
}

func (s *Store) Health() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return errors.ConnectionError("memory store is closed", nil)
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ storage.ConnectionStore = (*Store)(nil)
