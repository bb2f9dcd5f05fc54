package tokens

import (
	"fmt"
	"strings"

	"melody-map/internal/common/errors"
	"melody-map/internal/providers"
	"melody-map/internal/storage"
)

// Reason codes attached to AccessToken errors. The HTTP layer prefixes them
// with the upper-cased platform, e.g. SPOTIFY_NOT_CONNECTED.
const (
	CodeNotConnected   = "NOT_CONNECTED"
	CodeReauthRequired = "REAUTH_REQUIRED"
	CodeRefreshFailed  = "REFRESH_FAILED"

	CodeRefreshUnsupported = "REFRESH_NOT_SUPPORTED"
)

// PlatformCode builds the machine-readable code for a platform, e.g. SPOTIFY_REFRESH_FAILED
func PlatformCode(platform storage.Platform, code string) string {
	return strings.ToUpper(string(platform)) + "_" + code
}

// ErrNotConnected means no connection row exists for the user and platform
func ErrNotConnected(platform storage.Platform) *errors.AppError {
	return errors.NotConnectedError(string(platform)).WithCode(PlatformCode(platform, CodeNotConnected))
}

// ErrReauthRequired means a connection exists but cannot be used until the user relinks it
func ErrReauthRequired(platform storage.Platform, reason string) *errors.AppError {
	err := errors.TerminalRefreshError(string(platform), reason).WithCode(PlatformCode(platform, CodeReauthRequired))
	if reason != "" {
		err = err.WithContext("reason", reason)
	}
	return err
}

// ErrRefreshFailed means a refresh failed transiently; the connection stays active
func ErrRefreshFailed(platform storage.Platform, cause error) *errors.AppError {
	return errors.TransientRefreshError(string(platform), cause).WithCode(PlatformCode(platform, CodeRefreshFailed))
}

// ErrRefreshUnsupported means the platform issues no refresh tokens
func ErrRefreshUnsupported(platform storage.Platform) *errors.AppError {
	return errors.ValidationError(string(platform)+" tokens cannot be refreshed").
		WithCode(PlatformCode(platform, CodeRefreshUnsupported))
}

// ResultError converts a failed refresh into the error AccessToken reports for it.
// It returns nil for a successful result.
func ResultError(platform storage.Platform, result providers.RefreshResult) error {
	switch result.Outcome {
	case providers.OutcomeSuccess:
		return nil
	case providers.OutcomeTerminal:
		return ErrReauthRequired(platform, result.Reason)
	case providers.OutcomeUnavailable:
		if result.Reason == reasonNotFound {
			return ErrNotConnected(platform)
		}
		return ErrReauthRequired(platform, result.Reason)
	default:
		cause := result.Err
		if cause == nil {
			cause = fmt.Errorf("refresh failed: %s", result.Reason)
		}
		return ErrRefreshFailed(platform, cause).WithContext("reason", result.Reason)
	}
}
