package pointtapi

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for response classification.
// Use errors.Is(err, pointtapi.ErrAuthFailed) to check.
var (
	// ErrAuthFailed means the API refused the bearer token (401/403). Whether
	// that is fatal depends on which path was requested.
	ErrAuthFailed = errors.New("pointtapi: authorization refused")
	// ErrRequestFailed covers every other failed call, including transport
	// errors and unexpected statuses.
	ErrRequestFailed = errors.New("pointtapi: request failed")
)

// RequestError describes a failed call against one resource path.
type RequestError struct {
	Method     string
	Path       string
	StatusCode int // 0 when no response was received
	Message    string
	Err        error // sentinel, for errors.Is()
	Cause      error
}

func (e *RequestError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("pointtapi: %s %s failed: %v", e.Method, e.Path, e.Cause)
	}

	if e.Message != "" {
		return fmt.Sprintf("pointtapi: %s %s failed: HTTP %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
	}

	return fmt.Sprintf("pointtapi: %s %s failed: HTTP %d", e.Method, e.Path, e.StatusCode)
}

func (e *RequestError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}

	return []error{e.Err}
}

func classifyStatus(code int) error {
	if code == http.StatusUnauthorized || code == http.StatusForbidden {
		return ErrAuthFailed
	}

	return ErrRequestFailed
}
