package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorKind is the small cross-vendor taxonomy every provider maps into.
type ErrorKind string

const (
	ErrRateLimit      ErrorKind = "rate_limit"
	ErrAuthentication ErrorKind = "authentication"
	ErrContextLength  ErrorKind = "context_length"
	ErrServerError    ErrorKind = "server_error"
	ErrTimeout        ErrorKind = "timeout"
	ErrQuota          ErrorKind = "quota"
	ErrOverloaded     ErrorKind = "overloaded"
	ErrInvalidRequest ErrorKind = "invalid_request"
	ErrUnknown        ErrorKind = "unknown"
)

// APIError is the single error type provider calls surface across package
// boundaries.
type APIError struct {
	Kind       ErrorKind
	Provider   string
	Message    string
	StatusCode int
	// RetryAfter carries a server-provided wait hint (e.g. Retry-After).
	RetryAfter time.Duration
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (%d): %s", e.Provider, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// Retryable reports whether the kind is transient under the retry policy.
func (e *APIError) Retryable() bool {
	switch e.Kind {
	case ErrRateLimit, ErrServerError, ErrTimeout, ErrOverloaded:
		return true
	}
	return false
}

// AsAPIError extracts an *APIError from an error chain.
func AsAPIError(err error) (*APIError, bool) {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// ClassifyStatus maps an HTTP status plus message text into the taxonomy.
// Vendor clients refine this with their own tables where the status alone is
// ambiguous.
func ClassifyStatus(provider string, status int, msg string, err error) *APIError {
	kind := ErrUnknown
	lower := strings.ToLower(msg)
	switch {
	case status == 401 || status == 403:
		kind = ErrAuthentication
	case status == 402:
		kind = ErrQuota
	case status == 408:
		kind = ErrTimeout
	case status == 429:
		kind = ErrRateLimit
		if strings.Contains(lower, "quota") || strings.Contains(lower, "billing") {
			kind = ErrQuota
		}
	case status == 529:
		kind = ErrOverloaded
	case status >= 500:
		kind = ErrServerError
	case status == 400 || status == 404 || status == 422:
		kind = ErrInvalidRequest
		if strings.Contains(lower, "context") && (strings.Contains(lower, "length") || strings.Contains(lower, "too long") || strings.Contains(lower, "maximum")) {
			kind = ErrContextLength
		} else if strings.Contains(lower, "prompt is too long") || strings.Contains(lower, "token limit") {
			kind = ErrContextLength
		}
	}
	if kind == ErrUnknown {
		if strings.Contains(lower, "overloaded") {
			kind = ErrOverloaded
		} else if strings.Contains(lower, "rate limit") {
			kind = ErrRateLimit
		}
	}
	return &APIError{Kind: kind, Provider: provider, Message: msg, StatusCode: status, Err: err}
}

// ClassifyTransport maps non-HTTP failures (resets, deadline exceeded) into
// the taxonomy so they share the retry path.
func ClassifyTransport(provider string, err error) *APIError {
	if ae, ok := AsAPIError(err); ok {
		return ae
	}
	kind := ErrServerError
	if errors.Is(err, context.DeadlineExceeded) {
		kind = ErrTimeout
	}
	return &APIError{Kind: kind, Provider: provider, Message: err.Error(), Err: err}
}
