package providers

import (
	"strings"
	"time"

	"melody-map/internal/storage"
)

// NonExpiringLifetime is the expiry sentinel for providers whose tokens never expire.
// It keeps the staleness check uniform across providers.
const NonExpiringLifetime = 365 * 24 * time.Hour

// AuthStyle is how client credentials are sent to the token endpoint
type AuthStyle int

const (
	// AuthStyleBasicHeader sends Authorization: Basic base64(id:secret)
	AuthStyleBasicHeader AuthStyle = iota
	// AuthStyleInParams sends client_id and client_secret as form fields
	AuthStyleInParams
)

// VerifyStyle is how an access token is presented on the verify call
type VerifyStyle int

const (
	// VerifyBearerHeader sends Authorization: Bearer <token>
	VerifyBearerHeader VerifyStyle = iota
	// VerifyQueryParam appends ?access_token=<token>
	VerifyQueryParam
)

// Credentials are the OAuth client credentials registered with a provider
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// Descriptor captures everything that differs between providers
type Descriptor struct {
	Platform storage.Platform
	// TokenURL is the refresh endpoint; empty means the provider has no refresh
	TokenURL string
	// VerifyURL is a cheap authenticated read, typically the current user profile
	VerifyURL   string
	AuthStyle   AuthStyle
	VerifyStyle VerifyStyle
	// TerminalErrors are error codes meaning the refresh grant itself is revoked
	TerminalErrors []string
	// DefaultLifetime applies when the provider reports no expires_in
	DefaultLifetime time.Duration
}

// IsTerminal reports whether a provider error code revokes the grant
func (d Descriptor) IsTerminal(code string) bool {
	for _, terminal := range d.TerminalErrors {
		if strings.EqualFold(terminal, code) {
			return true
		}
	}
	return false
}

func SpotifyDescriptor(tokenURL, apiURL string) Descriptor {
	return Descriptor{
		Platform:        storage.PlatformSpotify,
		TokenURL:        tokenURL,
		VerifyURL:       strings.TrimRight(apiURL, "/") + "/me",
		AuthStyle:       AuthStyleBasicHeader,
		VerifyStyle:     VerifyBearerHeader,
		TerminalErrors:  []string{"invalid_grant"},
		DefaultLifetime: time.Hour,
	}
}

// DeezerDescriptor describes Deezer: offline_access tokens that never expire and no refresh grant
func DeezerDescriptor(apiURL string) Descriptor {
	return Descriptor{
		Platform:        storage.PlatformDeezer,
		VerifyURL:       strings.TrimRight(apiURL, "/") + "/user/me",
		AuthStyle:       AuthStyleInParams,
		VerifyStyle:     VerifyQueryParam,
		DefaultLifetime: NonExpiringLifetime,
	}
}

// AppleMusicDescriptor describes the mocked Apple Music integration
func AppleMusicDescriptor() Descriptor {
	return Descriptor{
		Platform:        storage.PlatformAppleMusic,
		DefaultLifetime: NonExpiringLifetime,
	}
}
