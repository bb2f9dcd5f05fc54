package providers

import (
	"net/http"
	"strings"
)

const (
	DefaultSpotifyTokenURL = "https://accounts.spotify.com/api/token"
	DefaultSpotifyAPIURL   = "https://api.spotify.com/v1"
	DefaultDeezerAPIURL    = "https://api.deezer.com"
)

// Endpoints overrides provider URLs, mainly for tests and proxies
type Endpoints struct {
	TokenURL string
	APIURL   string
}

func (e Endpoints) withDefaults(tokenURL, apiURL string) Endpoints {
	if strings.TrimSpace(e.TokenURL) == "" {
		e.TokenURL = tokenURL
	}
	if strings.TrimSpace(e.APIURL) == "" {
		e.APIURL = apiURL
	}
	return e
}

// NewSpotify creates the Spotify provider. Refresh uses Basic client auth;
// invalid_grant revokes the connection.
func NewSpotify(creds Credentials, endpoints Endpoints, client *http.Client, opts ...Option) *OAuthProvider {
	endpoints = endpoints.withDefaults(DefaultSpotifyTokenURL, DefaultSpotifyAPIURL)
	return New(SpotifyDescriptor(endpoints.TokenURL, endpoints.APIURL), creds, client, opts...)
}

// NewDeezer creates the Deezer provider. Deezer tokens never expire, so there is no refresh.
func NewDeezer(creds Credentials, endpoints Endpoints, client *http.Client, opts ...Option) *OAuthProvider {
	endpoints = endpoints.withDefaults("", DefaultDeezerAPIURL)
	return New(DeezerDescriptor(endpoints.APIURL), creds, client, opts...)
}

// NewAppleMusic creates the mocked Apple Music provider: no refresh, verify always succeeds
func NewAppleMusic(opts ...Option) *OAuthProvider {
	return New(AppleMusicDescriptor(), Credentials{}, nil, opts...)
}
