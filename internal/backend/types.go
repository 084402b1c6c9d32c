// internal/backend/types.go
package backend

import (
	"context"
	"errors"
	"net/http"
)

// Backend defines the interface an authentication backend must implement to
// be mounted by the composite authenticator.
type Backend interface {
	// Name returns the backend's default display name (e.g. "GitHub").
	Name() string

	// ServiceName returns the explicitly configured display name, or ""
	// if the operator did not set one.
	ServiceName() string

	// Routes returns the routes this backend contributes, with paths
	// relative to the backend's own root.
	Routes() []Route

	// Authenticate validates the supplied credentials and returns the
	// resolved username.
	Authenticate(ctx context.Context, creds Credentials) (string, error)

	// CheckAllowed reports whether the username passes the allow list.
	// An empty allow list admits everyone.
	CheckAllowed(username string) bool

	// CheckBlocked reports whether the username is on the block list.
	CheckBlocked(username string) bool

	// LoginURL returns the backend's login URL under the given base URL.
	LoginURL(base string) string

	// LogoutURL returns the backend's logout URL under the given base URL.
	LogoutURL(base string) string
}

// Route is a single (path, handler) pair contributed by a backend.
type Route struct {
	// Path is the URL path, relative to the backend's mount point
	Path string

	// Handler serves requests for this path
	Handler http.Handler
}

// Credentials carries the fields a backend needs to authenticate a request,
// e.g. "username"/"password" for local backends or "code" for OAuth ones.
type Credentials map[string]string

// Authentication failure taxonomy. These are per-request and recoverable;
// callers distinguish them with errors.Is.
var (
	// ErrInvalidCredentials indicates the supplied credentials did not
	// validate against the backend's credential store.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrNotAllowed indicates the resolved username is absent from a
	// non-empty allow list.
	ErrNotAllowed = errors.New("user not in allow list")

	// ErrBlocked indicates the resolved username is on the block list.
	ErrBlocked = errors.New("user is blocked")
)
