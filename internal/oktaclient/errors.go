package oktaclient

import (
	"errors"
	"fmt"
)

// APIError represents a structured failure returned by the Okta API, mapped
// from the HTTP status and Okta error code in the response body.
type APIError struct {
	StatusCode int
	ErrorCode  string
	Message    string
	RetryAfter int // seconds, only meaningful for rate-limit errors
}

func (e *APIError) Error() string {
	return fmt.Sprintf("okta api error %d (%s): %s", e.StatusCode, e.ErrorCode, e.Message)
}

// Well-known Okta error codes surfaced in API responses.
const (
	ErrCodeActivationFailed = "E0000011" // invalid session / token
	ErrCodeInvalidToken     = "E0000006" // forbidden (HTTP 403)
	ErrCodeAccessDenied     = "E0000007" // not found (HTTP 404)
	ErrCodeRateLimited      = "E0000047"
	ErrCodeInvalidRequest   = "E0000009"
)

// RateLimitError is returned when the maximum retry budget for a rate-limited
// request has been exhausted.
type RateLimitError struct {
	Endpoint   string
	RetryAfter int
	Concurrent bool
}

func (e *RateLimitError) Error() string {
	regime := "org-wide"
	if e.Concurrent {
		regime = "concurrent"
	}
	return fmt.Sprintf("okta rate limit exceeded on %s (%s regime), retry after %ds", e.Endpoint, regime, e.RetryAfter)
}

// MaxPagesExceededError is returned when a paginated fetch is truncated
// because it hit the configured page cap.
type MaxPagesExceededError struct {
	Endpoint string
	MaxPages int
}

func (e *MaxPagesExceededError) Error() string {
	return fmt.Sprintf("okta pagination on %s exceeded max pages (%d)", e.Endpoint, e.MaxPages)
}

// IsAuthError reports whether err represents an Okta authentication/
// authorization failure — the one API error class the orchestrator treats
// as immediately fatal for the whole sync, with no retry.
func IsAuthError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.StatusCode == 401 || apiErr.StatusCode == 403 {
		return true
	}
	return apiErr.ErrorCode == ErrCodeActivationFailed || apiErr.ErrorCode == ErrCodeInvalidToken
}
