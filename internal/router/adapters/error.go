package adapters

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Error wraps a provider failure with the metadata the orchestrator needs to
// classify it.
type Error struct {
	Provider   string
	Status     int           // HTTP status, 0 for transport-level failures
	RetryAfter time.Duration // from Retry-After, 0 when the provider gave no hint
	Temporary  bool          // transport-level failures that are safe to retry elsewhere
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return "adapter error"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Provider, e.Err)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: status %d", e.Provider, e.Status)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsRateLimited reports whether the error is an upstream rate-limit signal,
// and returns the retry-after hint if one was supplied.
func IsRateLimited(err error) (time.Duration, bool) {
	var ae *Error
	if errors.As(err, &ae) && ae.Status == http.StatusTooManyRequests {
		return ae.RetryAfter, true
	}
	return 0, false
}

// IsTransient reports whether an error is worth trying on another backend:
// timeouts, connection failures, and 5xx-class responses.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var ae *Error
	if errors.As(err, &ae) {
		if ae.Temporary {
			return true
		}
		if ae.Status >= 500 && ae.Status <= 599 {
			return true
		}
	}
	return false
}

// IsFatal reports whether an error cannot be fixed by trying another backend:
// malformed requests, auth failures, and other 4xx-class responses that are
// not rate limiting.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if _, ok := IsRateLimited(err); ok {
		return false
	}
	return !IsTransient(err)
}

// parseRetryAfter reads a Retry-After header value in seconds.
func parseRetryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	var secs int
	if _, err := fmt.Sscanf(v, "%d", &secs); err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
