// Package contextkeys provides centralized context key definitions.
//
// All context keys used across the module are defined here so that key usage
// stays discoverable:
//
//	ctx = context.WithValue(ctx, contextkeys.RequestContextKey, rc)
package contextkeys

// Key is the type for context keys to prevent collisions
type Key string

const (
	// RequestContextKey contains auth.RequestContext
	// Set by: auth.NewContext
	// Used by: observability.FromContext, orchestrator tracing
	RequestContextKey Key = "request_context"

	// RequestIDKey contains request ID string (UUID)
	// Set by: auth.NewContext
	// Used by: logging when no request context is present
	RequestIDKey Key = "request_id"
)
