// Package providers talks to streaming providers' OAuth endpoints.
//
// Every provider is the same OAuth client parameterised by a Descriptor:
// refresh endpoint or none, how credentials are passed, which error codes
// revoke the grant, and how a token is verified.
package providers

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"melody-map/internal/circuitbreaker"
	"melody-map/internal/common/errors"
	commonhttp "melody-map/internal/common/http"
	"melody-map/internal/common/logging"
	"melody-map/internal/storage"
)

const maxResponseBytes = 1 << 20

// Provider is the per-platform capability the token manager depends on
type Provider interface {
	Platform() storage.Platform
	SupportsRefresh() bool
	// Refresh exchanges a refresh token. It never returns OutcomeSuccess without an access token.
	Refresh(ctx context.Context, refreshToken string) RefreshResult
	// Verify makes a lightweight authenticated call. (false, nil) means the provider
	// rejected the token; a non-nil error means the answer is unknown.
	Verify(ctx context.Context, accessToken string) (bool, error)
	// TokenLifetime converts a reported expires_in into a lifetime
	TokenLifetime(expiresIn int) time.Duration
}

// tokenResponse is the token endpoint body, success or failure
type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int    `json:"expires_in"`
	RefreshToken     string `json:"refresh_token,omitempty"`
	Scope            string `json:"scope,omitempty"`
	Error            string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// OAuthProvider implements Provider for any Descriptor
type OAuthProvider struct {
	desc       Descriptor
	creds      Credentials
	httpClient *http.Client
	breaker    *circuitbreaker.GoBreakerAdapter
	logger     logging.Logger
}

// Option customises an OAuthProvider
type Option func(*OAuthProvider)

func WithLogger(logger logging.Logger) Option {
	return func(p *OAuthProvider) {
		p.logger = logger
	}
}

func WithBreakerConfig(config circuitbreaker.Config) Option {
	return func(p *OAuthProvider) {
		p.breaker = circuitbreaker.NewGoBreaker(breakerName(p.desc.Platform), config, p.logger)
	}
}

// New creates a provider. A nil client gets the default 10s provider timeout.
func New(desc Descriptor, creds Credentials, client *http.Client, opts ...Option) *OAuthProvider {
	if client == nil {
		client = commonhttp.NewHTTPClientWithTimeout(commonhttp.DefaultProviderTimeout)
	}

	p := &OAuthProvider{
		desc:       desc,
		creds:      creds,
		httpClient: client,
		logger:     logging.GetGlobalLogger().WithFields(logging.Field{Key: "platform", Value: string(desc.Platform)}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.breaker == nil {
		p.breaker = circuitbreaker.NewGoBreaker(breakerName(desc.Platform), circuitbreaker.ProviderConfig, p.logger)
	}
	return p
}

func breakerName(platform storage.Platform) string {
	return "provider-" + string(platform)
}

func (p *OAuthProvider) Platform() storage.Platform {
	return p.desc.Platform
}

func (p *OAuthProvider) Descriptor() Descriptor {
	return p.desc
}

func (p *OAuthProvider) SupportsRefresh() bool {
	return p.desc.TokenURL != ""
}

// BreakerStats exposes the provider's circuit breaker state for health reporting
func (p *OAuthProvider) BreakerStats() circuitbreaker.Stats {
	return p.breaker.Stats()
}

func (p *OAuthProvider) TokenLifetime(expiresIn int) time.Duration {
	if expiresIn > 0 {
		return time.Duration(expiresIn) * time.Second
	}
	if p.desc.DefaultLifetime > 0 {
		return p.desc.DefaultLifetime
	}
	return time.Hour
}

func (p *OAuthProvider) Refresh(ctx context.Context, refreshToken string) RefreshResult {
	if !p.SupportsRefresh() {
		return Unavailable("refresh_not_supported")
	}
	if refreshToken == "" {
		return Unavailable("missing_refresh_token")
	}

	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)
	if p.desc.AuthStyle == AuthStyleInParams {
		data.Set("client_id", p.creds.ClientID)
		data.Set("client_secret", p.creds.ClientSecret)
	}

	var result RefreshResult
	called := false
	err := p.breaker.Execute(func() error {
		called = true
		result = p.exchange(ctx, data)
		switch result.Outcome {
		case OutcomeTransient:
			return result.Err
		case OutcomeTerminal:
			return errors.TerminalRefreshError(string(p.desc.Platform), result.Reason)
		}
		return nil
	})
	if !called {
		return Transient("circuit_open", err)
	}

	if !result.OK() {
		p.logger.Warn("Token refresh failed",
			logging.Field{Key: "outcome", Value: result.Outcome.String()},
			logging.Field{Key: "reason", Value: result.Reason},
		)
	}
	return result
}

// exchange performs the token request and classifies the answer
func (p *OAuthProvider) exchange(ctx context.Context, data url.Values) RefreshResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.desc.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return Transient("invalid_request", errors.InternalError("failed to create token request", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if p.desc.AuthStyle == AuthStyleBasicHeader {
		req.SetBasicAuth(p.creds.ClientID, p.creds.ClientSecret)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return Transient("timeout", errors.TimeoutError(string(p.desc.Platform)+" token refresh"))
		}
		return Transient("network_error", errors.ConnectionError("token request failed", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Transient("read_error", errors.ConnectionError("failed to read token response", err))
	}

	var tokenResp tokenResponse
	decodeErr := json.Unmarshal(body, &tokenResp)

	if decodeErr == nil && tokenResp.Error != "" {
		if p.desc.IsTerminal(tokenResp.Error) {
			return Terminal(tokenResp.Error)
		}
		return Transient(tokenResp.Error, fmt.Errorf("token request failed: %s - %s", tokenResp.Error, tokenResp.ErrorDescription))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Transient(fmt.Sprintf("http_%d", resp.StatusCode), fmt.Errorf("token request failed with status %d", resp.StatusCode))
	}
	if decodeErr != nil {
		return Transient("invalid_response", fmt.Errorf("failed to decode token response: %w", decodeErr))
	}
	if tokenResp.AccessToken == "" {
		return Transient("invalid_response", fmt.Errorf("token response has no access_token"))
	}

	return Success(tokenResp.AccessToken, tokenResp.RefreshToken, tokenResp.ExpiresIn)
}

func (p *OAuthProvider) Verify(ctx context.Context, accessToken string) (bool, error) {
	if p.desc.VerifyURL == "" {
		return true, nil
	}
	if accessToken == "" {
		return false, nil
	}

	var valid bool
	err := p.breaker.Execute(func() error {
		var err error
		valid, err = p.verify(ctx, accessToken)
		return err
	})
	if err != nil {
		return false, err
	}
	return valid, nil
}

func (p *OAuthProvider) verify(ctx context.Context, accessToken string) (bool, error) {
	target := p.desc.VerifyURL
	if p.desc.VerifyStyle == VerifyQueryParam {
		u, err := url.Parse(target)
		if err != nil {
			return false, errors.ConfigError("invalid verify URL for " + string(p.desc.Platform))
		}
		q := u.Query()
		q.Set("access_token", accessToken)
		u.RawQuery = q.Encode()
		target = u.String()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return false, errors.InternalError("failed to create verify request", err)
	}
	req.Header.Set("Accept", "application/json")
	if p.desc.VerifyStyle == VerifyBearerHeader {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false, errors.ConnectionError("verify request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return false, nil
	case resp.StatusCode >= 500:
		return false, errors.ConnectionError(fmt.Sprintf("verify request failed with status %d", resp.StatusCode), nil)
	case resp.StatusCode >= 300:
		return false, nil
	}

	// Some providers answer 200 with an error object for a bad token
	var payload map[string]json.RawMessage
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&payload); err != nil {
		return true, nil
	}
	if raw, ok := payload["error"]; ok && string(raw) != "null" {
		return false, nil
	}
	return true, nil
}

func isTimeout(err error) bool {
	var timeout interface{ Timeout() bool }
	return stderrors.As(err, &timeout) && timeout.Timeout()
}

var _ Provider = (*OAuthProvider)(nil)
