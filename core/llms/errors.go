package llms

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies provider failures for failover decisions.
type ErrorKind string

const (
	// ErrKindTransient covers network failures, timeouts and 5xx-class
	// responses. The provider is demoted for the request, not disabled.
	ErrKindTransient ErrorKind = "transient"
	// ErrKindAuth covers invalid credentials. The provider is disabled for
	// the remainder of the process lifetime.
	ErrKindAuth ErrorKind = "auth"
	// ErrKindRateLimited covers provider-side throttling.
	ErrKindRateLimited ErrorKind = "rate_limited"
)

// ErrAllProvidersExhausted is returned when every configured provider is
// disabled, throttled or has failed for the request.
var ErrAllProvidersExhausted = errors.New("llms: all providers exhausted")

// ErrStreamInterrupted is returned when the active provider failed after
// increments were already forwarded downstream. Partial replies from two
// providers cannot be spliced, so the turn is aborted instead of retried.
var ErrStreamInterrupted = errors.New("llms: stream interrupted after partial delivery")

// ProviderError is a classified failure from one provider attempt.
type ProviderError struct {
	Provider string
	Kind     ErrorKind
	Status   int
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("provider %s: %s (status %d): %v", e.Provider, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewProviderError wraps err with a classification derived from the HTTP
// status when one is available.
func NewProviderError(provider string, status int, err error) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Kind:     classifyStatus(status),
		Status:   status,
		Err:      err,
	}
}

func classifyStatus(status int) ErrorKind {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrKindAuth
	case http.StatusTooManyRequests:
		return ErrKindRateLimited
	}
	return ErrKindTransient
}

// Classify extracts the error kind from err, defaulting to transient for
// anything unclassified.
func Classify(err error) ErrorKind {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Kind
	}
	return ErrKindTransient
}
