package oauth

import (
	"errors"
	"fmt"
)

// ErrAuthFailed is the umbrella sentinel for every token lifecycle failure
// that needs the user to log in again. Check with errors.Is.
var ErrAuthFailed = errors.New("oauth: authentication failed")

// Specific causes, always reported together with ErrAuthFailed.
var (
	ErrExchangeRejected    = errors.New("oauth: token exchange rejected")
	ErrIncompleteResponse  = errors.New("oauth: token response incomplete")
	ErrReauthRequired      = errors.New("oauth: refresh token expired or revoked")
	ErrRefreshRejected     = errors.New("oauth: token refresh rejected")
	ErrMissingRefreshToken = errors.New("oauth: no refresh token on file")
)

// AuthError carries the user-facing message for an authentication failure
// alongside the HTTP status of the token endpoint, if there was one.
type AuthError struct {
	Op         string // "exchange", "refresh" or "ensure_valid"
	StatusCode int
	Message    string
	Kind       error // one of the specific sentinels above
	Cause      error
}

func (e *AuthError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("oauth: %s failed (HTTP %d): %s", e.Op, e.StatusCode, e.Message)
	}

	return fmt.Sprintf("oauth: %s failed: %s", e.Op, e.Message)
}

// Unwrap exposes ErrAuthFailed, the specific kind and the underlying cause.
func (e *AuthError) Unwrap() []error {
	errs := []error{ErrAuthFailed}
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}

	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}

	return errs
}

// User-facing messages. They tell the user which step to repeat.
const (
	msgExchangeFailed     = "OAuth token exchange failed. Try the callback URL again."
	msgExchangeIncomplete = "OAuth response incomplete. Try the login step again."
	msgRefreshRevoked     = "Token expired or revoked. Please re-authenticate."
	msgRefreshFailed      = "Token refresh failed. Please re-authenticate."
	msgRefreshInvalid     = "Token refresh response invalid. Please re-authenticate."
	msgNoRefreshToken     = "No refresh token; please re-authenticate."
)
