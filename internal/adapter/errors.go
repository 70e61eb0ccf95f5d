package adapter

import (
	"errors"
	"fmt"
)

// ErrAuthFailed reports an upstream auth rejection that a token refresh
// could not recover.
var ErrAuthFailed = errors.New("upstream authentication failed")

// UpstreamError is a non-retryable upstream HTTP failure. The body is kept
// for logging; callers surface a redacted message to clients.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("upstream status %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("upstream status %d", e.Status)
}

// StatusCode returns the upstream HTTP status.
func (e *UpstreamError) StatusCode() int { return e.Status }

// TransportError wraps a network failure that survived all retries.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport failure: %v", e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }
