package llms

import (
	"context"
	"time"
)

// ProviderConfig describes one configured language-model backend. The list of
// configs is static and ordered by priority; it is never mutated at runtime.
type ProviderConfig struct {
	// Name identifies the provider in logs, spans and increment tags.
	Name string
	// Priority orders failover; lower values are tried first.
	Priority int
	// Model is the provider-side model identifier.
	Model string
	// Endpoint is the chat-completions URL. Empty means the client default.
	Endpoint string
	// APIKey is the bearer credential for the endpoint.
	APIKey string

	// RequestsPerWindow caps requests inside RateWindow. Zero disables the
	// budget.
	RequestsPerWindow int
	RateWindow        time.Duration

	// RequestTimeout bounds a single attempt against this provider.
	RequestTimeout time.Duration
	// HedgeDelay is how long to wait for a first increment before racing the
	// next provider. Zero falls back to the dispatcher default.
	HedgeDelay time.Duration
}

// Provider is the capability every language-model backend exposes. Dispatch
// logic operates only against this interface, never a concrete client.
type Provider interface {
	Name() string
	// Stream opens a streaming completion. Transport and protocol errors
	// surface through the returned stream's iterator so first-byte latency is
	// observable by the caller.
	Stream(ctx context.Context, req Request) Stream
}

// Request is one prompt dispatch against a provider.
type Request struct {
	Prompt       string
	Instructions string
	History      []Turn
	// Attempt counts prior tries of the same logical request, for spans.
	Attempt int
}

// Role tags a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one finalized exchange entry in the accumulated transcript.
type Turn struct {
	Role      Role
	Content   string
	Timestamp time.Time
}
