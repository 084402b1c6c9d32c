// internal/backend/context.go
package backend

import (
	"context"
)

// ContextKey is a type-safe key for context values
type ContextKey string

// BackendContextKey is the key used to store the backend serving the
// current request
const BackendContextKey ContextKey = "backend:instance"

// ContextWithBackend binds a backend instance to a context. Route handlers
// resolve their owning backend through this so that URL construction and
// identity checks go through the mounted instance, not the bare backend.
func ContextWithBackend(ctx context.Context, b Backend) context.Context {
	return context.WithValue(ctx, BackendContextKey, b)
}

// FromContext extracts the backend bound to the context, or nil.
func FromContext(ctx context.Context) Backend {
	if b, ok := ctx.Value(BackendContextKey).(Backend); ok {
		return b
	}
	return nil
}
