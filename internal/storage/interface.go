// Package storage defines the platform connection model and the persistence
// contract the token lifecycle code depends on.
//
// Backends live in subpackages: memory for tests and single-node development,
// sqlstore (with sqlite and postgres dialects) for real deployments.
package storage

import (
	"context"
	"time"

	"github.com/lucsky/cuid"
)

// Platform identifies a streaming provider
type Platform string

const (
	PlatformSpotify    Platform = "spotify"
	PlatformDeezer     Platform = "deezer"
	PlatformAppleMusic Platform = "apple_music"
)

// Platforms lists every platform the service knows about
var Platforms = []Platform{PlatformSpotify, PlatformDeezer, PlatformAppleMusic}

// ParsePlatform validates a platform name coming from a request path
func ParsePlatform(name string) (Platform, bool) {
	for _, p := range Platforms {
		if string(p) == name {
			return p, true
		}
	}
	return "", false
}

// PlatformConnection links one user to one streaming provider account.
// At most one row exists per (UserID, Platform).
type PlatformConnection struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Platform       Platform  `json:"platform"`
	ExternalID     string    `json:"external_id"`
	AccessToken    string    `json:"-"`
	RefreshToken   *string   `json:"-"`
	TokenExpiresAt time.Time `json:"token_expires_at"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// HasRefreshToken reports whether a non-empty refresh token is stored
func (c *PlatformConnection) HasRefreshToken() bool {
	return c.RefreshToken != nil && *c.RefreshToken != ""
}

// Clone returns a deep copy
func (c *PlatformConnection) Clone() *PlatformConnection {
	if c == nil {
		return nil
	}
	clone := *c
	if c.RefreshToken != nil {
		token := *c.RefreshToken
		clone.RefreshToken = &token
	}
	return &clone
}

// ConnectionUpdate is a partial update. Nil fields are left untouched,
// so a refresh that did not rotate the refresh token never clears it.
type ConnectionUpdate struct {
	AccessToken    *string
	RefreshToken   *string
	TokenExpiresAt *time.Time
	IsActive       *bool
}

// IsEmpty reports whether the update changes nothing
func (u ConnectionUpdate) IsEmpty() bool {
	return u.AccessToken == nil && u.RefreshToken == nil && u.TokenExpiresAt == nil && u.IsActive == nil
}

// Deactivate is the update that marks a connection unusable
func Deactivate() ConnectionUpdate {
	inactive := false
	return ConnectionUpdate{IsActive: &inactive}
}

// ConnectionStore persists platform connections.
//
// Finders return (nil, nil) when no row matches. Updates return a
// not_found AppError when no row matches.
type ConnectionStore interface {
	FindConnection(ctx context.Context, userID string, platform Platform) (*PlatformConnection, error)
	FindConnectionByID(ctx context.Context, id string) (*PlatformConnection, error)
	ListUserConnections(ctx context.Context, userID string) ([]*PlatformConnection, error)

	// InsertConnection inserts conn, or overwrites and reactivates the
	// existing (UserID, Platform) row keeping its ID and CreatedAt. A nil
	// RefreshToken keeps the stored one. The persisted row is returned.
	InsertConnection(ctx context.Context, conn *PlatformConnection) (*PlatformConnection, error)

	UpdateConnection(ctx context.Context, id string, update ConnectionUpdate) error
	UpdateUserConnection(ctx context.Context, userID string, platform Platform, update ConnectionUpdate) error

	// FindConnectionsExpiringBefore returns rows of platform whose token expires at or before ts
	FindConnectionsExpiringBefore(ctx context.Context, platform Platform, ts time.Time, activeOnly bool) ([]*PlatformConnection, error)

	// DeactivateConnectionsOlderThan deactivates active rows whose token expired before ts
	DeactivateConnectionsOlderThan(ctx context.Context, ts time.Time) (int64, error)

	Health() error
	Close() error
}

// NewConnectionID returns a collision-resistant identifier for a new row
func NewConnectionID() string {
	return cuid.New()
}
