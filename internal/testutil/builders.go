// Package testutil holds fixtures, mocks and the shared ConnectionStore
// contract suite used across package tests.
package testutil

import (
	"time"

	"melody-map/internal/storage"
)

// ConnectionBuilder helps build test connections
type ConnectionBuilder struct {
	conn *storage.PlatformConnection
}

// NewConnectionBuilder starts from an active Spotify connection expiring in one hour
func NewConnectionBuilder() *ConnectionBuilder {
	now := time.Now()
	refresh := "refresh-token"
	return &ConnectionBuilder{
		conn: &storage.PlatformConnection{
			UserID:         "user-1",
			Platform:       storage.PlatformSpotify,
			ExternalID:     "spotify-user-1",
			AccessToken:    "access-token",
			RefreshToken:   &refresh,
			TokenExpiresAt: now.Add(time.Hour),
			IsActive:       true,
			CreatedAt:      now,
			UpdatedAt:      now,
		},
	}
}

func (b *ConnectionBuilder) WithID(id string) *ConnectionBuilder {
	b.conn.ID = id
	return b
}

func (b *ConnectionBuilder) WithUser(userID string) *ConnectionBuilder {
	b.conn.UserID = userID
	return b
}

func (b *ConnectionBuilder) WithPlatform(platform storage.Platform) *ConnectionBuilder {
	b.conn.Platform = platform
	return b
}

func (b *ConnectionBuilder) WithAccessToken(token string) *ConnectionBuilder {
	b.conn.AccessToken = token
	return b
}

func (b *ConnectionBuilder) WithRefreshToken(token string) *ConnectionBuilder {
	b.conn.RefreshToken = &token
	return b
}

func (b *ConnectionBuilder) WithoutRefreshToken() *ConnectionBuilder {
	b.conn.RefreshToken = nil
	return b
}

func (b *ConnectionBuilder) ExpiringAt(t time.Time) *ConnectionBuilder {
	b.conn.TokenExpiresAt = t
	return b
}

func (b *ConnectionBuilder) ExpiringIn(d time.Duration) *ConnectionBuilder {
	b.conn.TokenExpiresAt = time.Now().Add(d)
	return b
}

func (b *ConnectionBuilder) Inactive() *ConnectionBuilder {
	b.conn.IsActive = false
	return b
}

// Deezer switches to a non-refreshable Deezer connection with the one-year sentinel expiry
func (b *ConnectionBuilder) Deezer() *ConnectionBuilder {
	b.conn.Platform = storage.PlatformDeezer
	b.conn.ExternalID = "deezer-user-1"
	b.conn.RefreshToken = nil
	b.conn.TokenExpiresAt = time.Now().AddDate(1, 0, 0)
	return b
}

func (b *ConnectionBuilder) Build() *storage.PlatformConnection {
	return b.conn.Clone()
}

// StringPtr returns a pointer to s
func StringPtr(s string) *string {
	return &s
}

// BoolPtr returns a pointer to b
func BoolPtr(b bool) *bool {
	return &b
}

// TimePtr returns a pointer to t
func TimePtr(t time.Time) *time.Time {
	return &t
}
