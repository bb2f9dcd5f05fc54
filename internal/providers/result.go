package providers

import "fmt"

// Outcome tags a RefreshResult
type Outcome int

const (
	// OutcomeSuccess means the provider issued a new access token
	OutcomeSuccess Outcome = iota
	// OutcomeTransient means the attempt failed but may succeed later; the connection stays active
	OutcomeTransient
	// OutcomeTerminal means the refresh grant is revoked; the connection must be deactivated
	OutcomeTerminal
	// OutcomeUnavailable means no exchange was attempted: missing row, no refresh token
	// or a provider without refresh support
	OutcomeUnavailable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransient:
		return "transient"
	case OutcomeTerminal:
		return "terminal"
	case OutcomeUnavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// RefreshResult is the result of one refresh exchange
type RefreshResult struct {
	Outcome Outcome

	AccessToken string
	// RefreshToken is empty when the provider did not rotate it
	RefreshToken string
	ExpiresIn    int

	// Reason is a short machine-readable cause for non-success outcomes
	Reason string
	Err    error
}

func Success(accessToken, refreshToken string, expiresIn int) RefreshResult {
	return RefreshResult{
		Outcome:      OutcomeSuccess,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    expiresIn,
	}
}

func Transient(reason string, err error) RefreshResult {
	return RefreshResult{Outcome: OutcomeTransient, Reason: reason, Err: err}
}

func Terminal(reason string) RefreshResult {
	return RefreshResult{Outcome: OutcomeTerminal, Reason: reason}
}

func Unavailable(reason string) RefreshResult {
	return RefreshResult{Outcome: OutcomeUnavailable, Reason: reason}
}

// OK reports whether the refresh succeeded
func (r RefreshResult) OK() bool {
	return r.Outcome == OutcomeSuccess
}

// Rotated reports whether the provider issued a new refresh token
func (r RefreshResult) Rotated() bool {
	return r.Outcome == OutcomeSuccess && r.RefreshToken != ""
}
