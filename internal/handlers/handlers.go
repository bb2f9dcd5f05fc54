// Package handlers serves the connection API on top of the token manager.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"melody-map/internal/common/cache"
	"melody-map/internal/common/errors"
	"melody-map/internal/common/logging"
	"melody-map/internal/common/validation"
	"melody-map/internal/providers"
	"melody-map/internal/scheduler"
	"melody-map/internal/storage"
	"melody-map/internal/tokens"
)

// DefaultVerifyTTL is how long a positive verify answer is reused
const DefaultVerifyTTL = time.Minute

// ConnectionService is the token manager surface the routes use. *tokens.Manager implements it.
type ConnectionService interface {
	AccessToken(ctx context.Context, userID string, platform storage.Platform) (string, error)
	Connection(ctx context.Context, userID string, platform storage.Platform) (*storage.PlatformConnection, error)
	Refresh(ctx context.Context, connectionID string) providers.RefreshResult
	VerifyToken(ctx context.Context, platform storage.Platform, accessToken string) (bool, error)
	MarkConnectionInactive(ctx context.Context, userID string, platform storage.Platform) error
	Link(ctx context.Context, userID string, platform storage.Platform, grant tokens.Grant) (*storage.PlatformConnection, error)
	Connections(ctx context.Context, userID string) ([]*storage.PlatformConnection, error)
	Providers() *providers.Registry
}

// HealthChecker is anything with a liveness probe
type HealthChecker interface {
	Health() error
}

// StatusReporter exposes the background scheduler state
type StatusReporter interface {
	Status() scheduler.Status
}

type Handlers struct {
	connections ConnectionService
	store       HealthChecker
	redis       HealthChecker
	events      HealthChecker
	scheduler   StatusReporter
	revoker     Revoker
	verifyCache cache.Cache
	verifyTTL   time.Duration
	validator   *validation.Validator
	logger      logging.Logger
	now         func() time.Time
}

type Option func(*Handlers)

// WithVerifyCache reuses positive verify answers for ttl
func WithVerifyCache(c cache.Cache, ttl time.Duration) Option {
	return func(h *Handlers) {
		h.verifyCache = c
		if ttl > 0 {
			h.verifyTTL = ttl
		}
	}
}

// WithRedis adds Redis to the health report
func WithRedis(redis HealthChecker) Option {
	return func(h *Handlers) { h.redis = redis }
}

// WithEvents adds the event brokers to the health report. A failing broker
// degrades the service but does not make it unhealthy.
func WithEvents(events HealthChecker) Option {
	return func(h *Handlers) { h.events = events }
}

// WithScheduler adds the sweep scheduler to the health report
func WithScheduler(s StatusReporter) Option {
	return func(h *Handlers) { h.scheduler = s }
}

// WithRevoker enables POST /api/auth/logout
func WithRevoker(r Revoker) Option {
	return func(h *Handlers) { h.revoker = r }
}

func WithLogger(logger logging.Logger) Option {
	return func(h *Handlers) { h.logger = logger }
}

func New(connections ConnectionService, store HealthChecker, opts ...Option) *Handlers {
	h := &Handlers{
		connections: connections,
		store:       store,
		verifyTTL:   DefaultVerifyTTL,
		validator:   validation.New(),
		logger:      logging.GetGlobalLogger(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.verifyCache == nil {
		h.verifyCache = cache.NewLocalCache(h.verifyTTL, 5*time.Minute)
	}
	return h
}

// errorResponse is the JSON body of every failed request
type errorResponse struct {
	Error  string `json:"error"`
	Code   string `json:"code,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (h *Handlers) sendJSONResponse(w http.ResponseWriter, data interface{}) {
	h.sendJSONStatus(w, http.StatusOK, data)
}

func (h *Handlers) sendJSONStatus(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode response", err)
	}
}

func (h *Handlers) sendJSONError(w http.ResponseWriter, status int, message, code string) {
	h.sendJSONStatus(w, status, errorResponse{Error: message, Code: code})
}

// sendAppError maps an error from the token layer to a status and code
func (h *Handlers) sendAppError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := errorResponse{Error: http.StatusText(status)}

	if appErr, ok := errors.AsAppError(err); ok {
		body.Error = appErr.Message
		body.Code = appErr.Code
		if reason, ok := appErr.Context["reason"].(string); ok {
			body.Reason = reason
		}
	}
	if status >= http.StatusInternalServerError {
		h.logger.WithContext(r.Context()).Error("Request failed", err, logging.Field{Key: "path", Value: r.URL.Path})
		if status == http.StatusInternalServerError {
			body.Error = "Internal server error"
		}
	}
	h.sendJSONStatus(w, status, body)
}

func statusFor(err error) int {
	switch errors.GetType(err) {
	case errors.ErrTypeNotConnected, errors.ErrTypeTerminalRefresh, errors.ErrTypeAuth:
		return http.StatusUnauthorized
	case errors.ErrTypeTransientRefresh, errors.ErrTypeTimeout, errors.ErrTypeConnection:
		return http.StatusServiceUnavailable
	case errors.ErrTypeValidation:
		return http.StatusBadRequest
	case errors.ErrTypeNotFound:
		return http.StatusNotFound
	case errors.ErrTypeRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
