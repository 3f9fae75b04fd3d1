package session

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidToken is returned when an access token fails verification or validation.
	ErrInvalidToken = errors.New("invalid token")

	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
	ErrSessionRevoked  = errors.New("session revoked")

	// ErrRefreshReuseDetected is returned when a rotated refresh token is
	// presented again. Every session of the user has been revoked by then.
	ErrRefreshReuseDetected = errors.New("refresh token reuse detected")

	ErrRefreshRateLimited = errors.New("refresh rate limited")

	ErrConfig = errors.New("invalid config")
)

// RefreshRateLimitError carries retry metadata for refresh throttling.
type RefreshRateLimitError struct {
	SessionID  string
	RetryAfter time.Duration
}

func (e RefreshRateLimitError) Error() string {
	if e.RetryAfter <= 0 {
		return ErrRefreshRateLimited.Error()
	}
	return fmt.Sprintf("%s: retry after %s", ErrRefreshRateLimited.Error(), e.RetryAfter)
}

func (e RefreshRateLimitError) Unwrap() error { return ErrRefreshRateLimited }

// IsUnauthenticated reports whether err means "no usable session" rather
// than an infrastructure failure.
func IsUnauthenticated(err error) bool {
	return errors.Is(err, ErrInvalidToken) ||
		errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrSessionExpired) ||
		errors.Is(err, ErrSessionRevoked) ||
		errors.Is(err, ErrRefreshReuseDetected)
}
