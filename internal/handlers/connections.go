package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"melody-map/internal/auth"
	"melody-map/internal/common/logging"
	"melody-map/internal/storage"
	"melody-map/internal/tokens"
)

// LinkConnectionRequest is the body posted after a completed OAuth callback
type LinkConnectionRequest struct {
	ExternalID   string `json:"external_id" validate:"required,max=255"`
	AccessToken  string `json:"access_token" validate:"required,oauth_token,max=4096"`
	RefreshToken string `json:"refresh_token,omitempty" validate:"omitempty,oauth_token,max=4096"`
	ExpiresIn    int    `json:"expires_in,omitempty" validate:"min=0"`
}

// ConnectionResponse never carries token material
type ConnectionResponse struct {
	ID             string           `json:"id"`
	Platform       storage.Platform `json:"platform"`
	ExternalID     string           `json:"external_id"`
	IsActive       bool             `json:"is_active"`
	CanRefresh     bool             `json:"can_refresh"`
	TokenExpiresAt time.Time        `json:"token_expires_at"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

func toConnectionResponse(conn *storage.PlatformConnection) ConnectionResponse {
	return ConnectionResponse{
		ID:             conn.ID,
		Platform:       conn.Platform,
		ExternalID:     conn.ExternalID,
		IsActive:       conn.IsActive,
		CanRefresh:     conn.HasRefreshToken(),
		TokenExpiresAt: conn.TokenExpiresAt,
		CreatedAt:      conn.CreatedAt,
		UpdatedAt:      conn.UpdatedAt,
	}
}

// requestScope resolves the caller and the {platform} path segment, writing
// the error response itself when either is missing or unknown.
func (h *Handlers) requestScope(w http.ResponseWriter, r *http.Request) (string, storage.Platform, bool) {
	userID, ok := auth.UserID(r)
	if !ok {
		h.sendJSONError(w, http.StatusUnauthorized, "Authentication required", "UNAUTHORIZED")
		return "", "", false
	}

	name := mux.Vars(r)["platform"]
	platform, ok := storage.ParsePlatform(name)
	if !ok || !h.connections.Providers().Supports(platform) {
		h.sendJSONError(w, http.StatusBadRequest, "Unsupported platform: "+name, "UNSUPPORTED_PLATFORM")
		return "", "", false
	}
	return userID, platform, true
}

// ListConnections returns every connection of the caller and the platforms they can link
func (h *Handlers) ListConnections(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserID(r)
	if !ok {
		h.sendJSONError(w, http.StatusUnauthorized, "Authentication required", "UNAUTHORIZED")
		return
	}

	conns, err := h.connections.Connections(r.Context(), userID)
	if err != nil {
		h.sendAppError(w, r, err)
		return
	}

	response := make([]ConnectionResponse, 0, len(conns))
	for _, conn := range conns {
		response = append(response, toConnectionResponse(conn))
	}

	h.sendJSONResponse(w, map[string]interface{}{
		"connections": response,
		"platforms":   h.connections.Providers().Platforms(),
	})
}

// LinkConnection stores or replaces the caller's credentials for a platform
func (h *Handlers) LinkConnection(w http.ResponseWriter, r *http.Request) {
	userID, platform, ok := h.requestScope(w, r)
	if !ok {
		return
	}

	var req LinkConnectionRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		h.sendJSONError(w, http.StatusBadRequest, "Invalid request body", "INVALID_REQUEST")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		h.sendJSONStatus(w, http.StatusBadRequest, map[string]interface{}{
			"error":  "Validation failed",
			"code":   "VALIDATION_FAILED",
			"fields": h.validator.StructResult(req).Errors,
		})
		return
	}

	conn, err := h.connections.Link(r.Context(), userID, platform, tokens.Grant{
		ExternalID:   req.ExternalID,
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		ExpiresIn:    req.ExpiresIn,
	})
	if err != nil {
		h.sendAppError(w, r, err)
		return
	}

	h.sendJSONStatus(w, http.StatusCreated, toConnectionResponse(conn))
}

// GetAccessToken returns a usable access token, refreshing a stale one first.
//
// Errors: 401 <PLATFORM>_NOT_CONNECTED when no connection exists, 401
// <PLATFORM>_REAUTH_REQUIRED when the connection is inactive or the provider
// rejected the refresh token, and 503 <PLATFORM>_REFRESH_FAILED when a refresh
// failed transiently and the caller can retry later.
func (h *Handlers) GetAccessToken(w http.ResponseWriter, r *http.Request) {
	userID, platform, ok := h.requestScope(w, r)
	if !ok {
		return
	}

	token, err := h.connections.AccessToken(r.Context(), userID, platform)
	if err != nil {
		h.sendAppError(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	h.sendJSONResponse(w, map[string]interface{}{
		"platform":     platform,
		"access_token": token,
	})
}

// RefreshConnection forces a refresh regardless of expiry
func (h *Handlers) RefreshConnection(w http.ResponseWriter, r *http.Request) {
	userID, platform, ok := h.requestScope(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	provider, err := h.connections.Providers().Get(platform)
	if err != nil {
		h.sendAppError(w, r, err)
		return
	}

	conn, err := h.connections.Connection(ctx, userID, platform)
	if err != nil {
		h.sendAppError(w, r, err)
		return
	}
	if !provider.SupportsRefresh() {
		h.sendAppError(w, r, tokens.ErrRefreshUnsupported(platform))
		return
	}
	if !conn.IsActive {
		h.sendAppError(w, r, tokens.ErrReauthRequired(platform, "connection_inactive"))
		return
	}

	result := h.connections.Refresh(ctx, conn.ID)
	if err := tokens.ResultError(platform, result); err != nil {
		h.sendAppError(w, r, err)
		return
	}

	refreshed, err := h.connections.Connection(ctx, userID, platform)
	if err != nil {
		h.sendAppError(w, r, err)
		return
	}

	logging.WithContext(ctx).Info("Connection refreshed on request",
		logging.Field{Key: "connection_id", Value: conn.ID},
		logging.Field{Key: "platform", Value: string(platform)},
		logging.Field{Key: "rotated", Value: result.Rotated()},
	)
	h.sendJSONResponse(w, map[string]interface{}{
		"refreshed":  true,
		"connection": toConnectionResponse(refreshed),
	})
}

// verifyVerdict is what the verify cache stores
type verifyVerdict struct {
	Valid     bool      `json:"valid"`
	CheckedAt time.Time `json:"checked_at"`
}

// VerifyConnection tests the stored token against the provider. A rejected
// token deactivates the connection.
func (h *Handlers) VerifyConnection(w http.ResponseWriter, r *http.Request) {
	userID, platform, ok := h.requestScope(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	logger := h.logger.WithContext(ctx).WithFields(logging.Field{Key: "platform", Value: string(platform)})

	token, err := h.connections.AccessToken(ctx, userID, platform)
	if err != nil {
		h.sendAppError(w, r, err)
		return
	}

	key := verifyCacheKey(userID, platform, token)
	var cached verifyVerdict
	if found, err := h.verifyCache.Get(ctx, key, &cached); err != nil {
		logger.Warn("Verify cache read failed", logging.Field{Key: "error", Value: err.Error()})
	} else if found && cached.Valid {
		h.sendJSONResponse(w, map[string]interface{}{
			"valid":      true,
			"cached":     true,
			"checked_at": cached.CheckedAt,
		})
		return
	}

	valid, err := h.connections.VerifyToken(ctx, platform, token)
	if err != nil {
		logger.Warn("Token verification inconclusive", logging.Field{Key: "error", Value: err.Error()})
		h.sendJSONError(w, http.StatusServiceUnavailable,
			"Could not reach "+string(platform), tokens.PlatformCode(platform, "VERIFY_UNAVAILABLE"))
		return
	}

	if !valid {
		if err := h.connections.MarkConnectionInactive(ctx, userID, platform); err != nil {
			logger.Error("Failed to deactivate rejected connection", err)
		}
		h.sendAppError(w, r, tokens.ErrReauthRequired(platform, "token_rejected"))
		return
	}

	verdict := verifyVerdict{Valid: true, CheckedAt: h.now().UTC()}
	if err := h.verifyCache.Set(ctx, key, verdict, h.verifyTTL); err != nil {
		logger.Warn("Verify cache write failed", logging.Field{Key: "error", Value: err.Error()})
	}
	h.sendJSONResponse(w, map[string]interface{}{
		"valid":      true,
		"cached":     false,
		"checked_at": verdict.CheckedAt,
	})
}

// verifyCacheKey includes a token digest so a refreshed or relinked token is never served a stale verdict
func verifyCacheKey(userID string, platform storage.Platform, token string) string {
	sum := sha256.Sum256([]byte(token))
	return "verify:" + string(platform) + ":" + userID + ":" + hex.EncodeToString(sum[:8])
}

// DeleteConnection disconnects the caller from a platform. Repeating it is harmless.
func (h *Handlers) DeleteConnection(w http.ResponseWriter, r *http.Request) {
	userID, platform, ok := h.requestScope(w, r)
	if !ok {
		return
	}

	if err := h.connections.MarkConnectionInactive(r.Context(), userID, platform); err != nil {
		h.sendAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
