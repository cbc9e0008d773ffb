package coordinator

import (
	"errors"
	"fmt"

	"github.com/CaseyRo/ha-bosch/internal/oauth"
	"github.com/CaseyRo/ha-bosch/internal/pointtapi"
)

// ErrUpdateFailed marks a whole cycle that published nothing for a reason
// other than authentication: the primary root was unreachable or the cycle
// ran out of time.
var ErrUpdateFailed = errors.New("coordinator: update failed")

// UpdateError is a failed cycle. Path is the resource that failed, empty
// for a timeout.
type UpdateError struct {
	Path string
	Err  error
}

func (e *UpdateError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("coordinator: update failed: %v", e.Err)
	}

	return fmt.Sprintf("coordinator: update failed: %s: %v", e.Path, e.Err)
}

func (e *UpdateError) Unwrap() []error {
	return []error{ErrUpdateFailed, e.Err}
}

// IsAuthFailure reports whether err means the credentials are bad: the
// API refused the token, or the token could not be refreshed.
func IsAuthFailure(err error) bool {
	return errors.Is(err, pointtapi.ErrAuthFailed) || errors.Is(err, oauth.ErrAuthFailed)
}
