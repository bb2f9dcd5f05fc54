// Package errors defines the typed application errors shared by every layer.
package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorType classifies an AppError
type ErrorType string

const (
	ErrTypeConnection ErrorType = "connection"
	ErrTypeValidation ErrorType = "validation"
	ErrTypeConfig     ErrorType = "config"
	ErrTypeAuth       ErrorType = "authentication"
	ErrTypeNotFound   ErrorType = "not_found"
	ErrTypeInternal   ErrorType = "internal"
	ErrTypeTimeout    ErrorType = "timeout"
	ErrTypeRateLimit  ErrorType = "rate_limit"

	// ErrTypeNotConnected means the user has no active connection for a platform
	ErrTypeNotConnected ErrorType = "not_connected"
	// ErrTypeTransientRefresh means a refresh failed but may succeed on retry
	ErrTypeTransientRefresh ErrorType = "transient_refresh"
	// ErrTypeTerminalRefresh means the refresh grant was revoked and the user must relink
	ErrTypeTerminalRefresh ErrorType = "terminal_refresh"
	// ErrTypeVerification means the provider rejected an access token on a diagnostic call
	ErrTypeVerification ErrorType = "verification"
)

// AppError represents a structured application error
type AppError struct {
	Type    ErrorType              `json:"type"`
	Message string                 `json:"message"`
	Code    string                 `json:"code,omitempty"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error renders type, message, code, cause and sorted context
func (e *AppError) Error() string {
	parts := []string{string(e.Type), e.Message}

	if e.Code != "" {
		parts = append(parts, "code="+e.Code)
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		pairs := make([]string, len(keys))
		for i, k := range keys {
			pairs[i] = fmt.Sprintf("%s=%v", k, e.Context[k])
		}
		parts = append(parts, fmt.Sprintf("context={%s}", strings.Join(pairs, ", ")))
	}

	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCode adds a machine-readable code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

func newError(errType ErrorType, msg string, cause error) *AppError {
	return &AppError{Type: errType, Message: msg, Cause: cause}
}

func ConnectionError(msg string, cause error) *AppError {
	return newError(ErrTypeConnection, msg, cause)
}

func ValidationError(msg string) *AppError {
	return newError(ErrTypeValidation, msg, nil)
}

func ConfigError(msg string) *AppError {
	return newError(ErrTypeConfig, msg, nil)
}

func AuthError(msg string) *AppError {
	return newError(ErrTypeAuth, msg, nil)
}

// NotFoundError reports that resource does not exist
func NotFoundError(resource string) *AppError {
	return newError(ErrTypeNotFound, resource+" not found", nil)
}

func InternalError(msg string, cause error) *AppError {
	return newError(ErrTypeInternal, msg, cause)
}

// TimeoutError reports that operation ran out of time
func TimeoutError(operation string) *AppError {
	return newError(ErrTypeTimeout, "timeout during "+operation, nil)
}

// RateLimitError reports that resource is being throttled
func RateLimitError(resource string) *AppError {
	return newError(ErrTypeRateLimit, "rate limit exceeded for "+resource, nil)
}

// NotConnectedError reports a missing or inactive connection for platform
func NotConnectedError(platform string) *AppError {
	return newError(ErrTypeNotConnected, platform+" is not connected", nil)
}

// TransientRefreshError reports a refresh failure that leaves the connection usable for retry
func TransientRefreshError(platform string, cause error) *AppError {
	return newError(ErrTypeTransientRefresh, platform+" token refresh failed", cause)
}

// TerminalRefreshError reports a revoked refresh grant; the connection has been deactivated
func TerminalRefreshError(platform, reason string) *AppError {
	msg := platform + " authorization revoked"
	if reason != "" {
		msg += " (" + reason + ")"
	}
	return newError(ErrTypeTerminalRefresh, msg, nil)
}

// VerificationError reports that the provider rejected an access token
func VerificationError(platform string, cause error) *AppError {
	return newError(ErrTypeVerification, platform+" rejected the access token", cause)
}

// IsType reports whether err, or any error it wraps, is an AppError of errType
func IsType(err error, errType ErrorType) bool {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return false
	}
	return appErr.Type == errType
}

// GetType returns the AppError type of err, ErrTypeInternal for foreign errors and "" for nil
func GetType(err error) ErrorType {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return ErrTypeInternal
	}
	return appErr.Type
}

// AsAppError returns the first AppError in err's chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return nil, false
	}
	return appErr, true
}
