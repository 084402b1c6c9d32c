// internal/multiauth/wrapped.go
package multiauth

import (
	"context"
	"net/http"
	"strings"

	"multiauth/internal/backend"
)

// WrappedBackend anchors one backend instance under a mount prefix and tags
// every identity it resolves, so that several backends can share one URL
// space and one username namespace without colliding. It satisfies
// backend.Backend itself, presenting the same shape the surrounding
// framework expects from a single backend.
type WrappedBackend struct {
	inner       backend.Backend
	tag         string
	mountPrefix string
}

var _ backend.Backend = (*WrappedBackend)(nil)

// NewWrappedBackend wraps a backend for mounting under mountPrefix. The tag
// is the explicit service name when configured, the backend's default
// display name otherwise; a tag containing the separator is rejected with a
// *ConfigurationError.
func NewWrappedBackend(inner backend.Backend, mountPrefix string) (*WrappedBackend, error) {
	tag := inner.ServiceName()
	explicit := tag != ""
	if !explicit {
		tag = inner.Name()
	}

	if strings.Contains(tag, Separator) {
		return nil, &ConfigurationError{
			BackendName: inner.Name(),
			Tag:         tag,
			Explicit:    explicit,
		}
	}

	return &WrappedBackend{
		inner:       inner,
		tag:         tag,
		mountPrefix: mountPrefix,
	}, nil
}

// Tag returns the identifier prepended to every username this backend resolves.
func (w *WrappedBackend) Tag() string { return w.tag }

// MountPrefix returns the URL path prefix this backend is mounted under.
func (w *WrappedBackend) MountPrefix() string { return w.mountPrefix }

// Name returns the inner backend's default display name.
func (w *WrappedBackend) Name() string { return w.inner.Name() }

// ServiceName returns the inner backend's configured display name.
func (w *WrappedBackend) ServiceName() string { return w.inner.ServiceName() }

// DisplayName returns the effective display name shown on the login page.
func (w *WrappedBackend) DisplayName() string {
	if name := w.inner.ServiceName(); name != "" {
		return name
	}
	return w.inner.Name()
}

// Routes returns a new route table with every path anchored under the mount
// prefix and every handler bound to this wrapped instance. The inner
// backend's table is never modified.
func (w *WrappedBackend) Routes() []backend.Route {
	inner := w.inner.Routes()
	routes := make([]backend.Route, 0, len(inner))
	for _, r := range inner {
		routes = append(routes, backend.Route{
			Path:    joinPath(w.mountPrefix, r.Path),
			Handler: w.bind(r.Handler),
		})
	}
	return routes
}

// bind makes a handler resolve this wrapped instance from its request
// context, so handler-side authentication and URL building go through the
// mounted, tagged view of the backend.
func (w *WrappedBackend) bind(h http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		ctx := backend.ContextWithBackend(r.Context(), w)
		h.ServeHTTP(rw, r.WithContext(ctx))
	})
}

// Authenticate delegates to the inner backend and tags the resolved
// username. Failures propagate untransformed.
func (w *WrappedBackend) Authenticate(ctx context.Context, creds backend.Credentials) (string, error) {
	username, err := w.inner.Authenticate(ctx, creds)
	if err != nil {
		return "", err
	}
	return w.tag + Separator + username, nil
}

// CheckAllowed strips this backend's tag from a composite username and
// delegates to the inner allow list. A username carrying another backend's
// tag (or none) is never evaluated against this list and is not allowed.
func (w *WrappedBackend) CheckAllowed(username string) bool {
	local, ok := w.strip(username)
	if !ok {
		return false
	}
	return w.inner.CheckAllowed(local)
}

// CheckBlocked strips this backend's tag from a composite username and
// delegates to the inner block list. A username carrying another backend's
// tag is never evaluated against this list and is not blocked by it.
func (w *WrappedBackend) CheckBlocked(username string) bool {
	local, ok := w.strip(username)
	if !ok {
		return false
	}
	return w.inner.CheckBlocked(local)
}

// LoginURL returns the inner backend's login URL anchored under the mount prefix.
func (w *WrappedBackend) LoginURL(base string) string {
	return w.inner.LoginURL(joinPath(base, w.mountPrefix))
}

// LogoutURL returns the inner backend's logout URL anchored under the mount prefix.
func (w *WrappedBackend) LogoutURL(base string) string {
	return w.inner.LogoutURL(joinPath(base, w.mountPrefix))
}

// strip removes this backend's tag+separator prefix from a composite
// username, reporting whether the username belongs to this backend at all.
func (w *WrappedBackend) strip(username string) (string, bool) {
	return strings.CutPrefix(username, w.tag+Separator)
}

// joinPath joins two URL path fragments with exactly one slash between them.
func joinPath(base, path string) string {
	if base == "" {
		return path
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
