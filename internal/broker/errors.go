package broker

import (
	"fmt"
	"time"
)

// AuthError means credentials are invalid or restricted. Fatal per account,
// never retried.
type AuthError struct {
	Status int
	Hint   string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("broker auth failed (%d): %s", e.Status, e.Hint)
}

// RateLimitError surfaces only after internal retries are exhausted.
type RateLimitError struct {
	ResetAt time.Time
	Detail  string
}

func (e *RateLimitError) Error() string {
	if e.ResetAt.IsZero() {
		return fmt.Sprintf("broker rate limit hit (429): %s", e.Detail)
	}
	return fmt.Sprintf("broker rate limit hit (429), reset=%s: %s", e.ResetAt.UTC().Format(time.RFC3339), e.Detail)
}

// ClientError is a non-retryable 4xx other than auth/rate-limit. Body is
// truncated for diagnostics.
type ClientError struct {
	Status int
	Body   string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("broker API error %d: %s", e.Status, e.Body)
}

// ServerError covers 5xx responses and transport timeouts after retries.
type ServerError struct {
	Status int
	Err    error
}

func (e *ServerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("broker request failed: %v", e.Err)
	}
	return fmt.Sprintf("broker server error %d", e.Status)
}

func (e *ServerError) Unwrap() error { return e.Err }
