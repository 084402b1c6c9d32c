// internal/backend/oauth/handlers.go
package oauth

import (
	"net/http"
	"time"

	"multiauth/internal/backend"
	"multiauth/internal/observability/logging"
)

// Temporary cookie names used during the authorization round-trip
const (
	stateCookie = "oauth_state"
	nextCookie  = "oauth_next"
)

// handleLogin starts the authorization code flow.
func (b *Backend) handleLogin(w http.ResponseWriter, r *http.Request) {
	logger := b.requestLogger(r)

	// An existing valid session skips the provider round-trip
	if session, err := b.getSessionCookie(r); err == nil {
		logger.Debug("Session already established", "username", session.Username)
		next := r.URL.Query().Get("next")
		if next == "" {
			next = "/"
		}
		http.Redirect(w, r, next, http.StatusSeeOther)
		return
	}

	state, err := randomString(16)
	if err != nil {
		logger.Error("Failed to generate state parameter", logging.Err(err))
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	b.setTempCookie(w, r, stateCookie, state)
	if next := r.URL.Query().Get("next"); next != "" {
		b.setTempCookie(w, r, nextCookie, next)
	}

	logger.Debug("Redirecting to OAuth provider", "kind", b.kind)
	http.Redirect(w, r, b.oauth.AuthCodeURL(state), http.StatusFound)
}

// handleCallback finishes the flow: verifies state, exchanges the code and
// establishes the session. Authentication and allow/block checks go through
// the mounted backend instance so the resolved identity carries its tag.
func (b *Backend) handleCallback(w http.ResponseWriter, r *http.Request) {
	logger := b.requestLogger(r)
	self := b.self(r.Context())

	state := r.URL.Query().Get("state")
	if state == "" {
		logger.Error("No state parameter in callback")
		http.Error(w, "Invalid callback", http.StatusBadRequest)
		return
	}

	cookie, err := r.Cookie(stateCookie)
	if err != nil || cookie.Value != state {
		logger.Error("State mismatch or cookie missing", "param_state", state)
		http.Error(w, "State mismatch", http.StatusBadRequest)
		return
	}

	code := r.URL.Query().Get("code")
	username, err := self.Authenticate(r.Context(), backend.Credentials{"code": code})
	if err != nil {
		logger.Error("OAuth authentication failed", logging.Err(err))
		b.metrics.RecordAuthentication(b.DisplayName(), false)
		http.Error(w, "Authentication failed", http.StatusForbidden)
		return
	}

	if self.CheckBlocked(username) || !self.CheckAllowed(username) {
		logger.Warn("Authenticated user rejected by allow/block lists", "username", username)
		b.metrics.RecordAuthentication(b.DisplayName(), false)
		http.Error(w, "Access denied", http.StatusForbidden)
		return
	}

	if err := b.saveSessionCookie(w, username); err != nil {
		logger.Error("Failed to save session cookie", logging.Err(err))
		http.Error(w, "Failed to save session", http.StatusInternalServerError)
		return
	}

	logger.Info("OAuth authentication successful", "username", username)
	b.metrics.RecordAuthentication(b.DisplayName(), true)

	next := "/"
	if nc, err := r.Cookie(nextCookie); err == nil && nc.Value != "" {
		next = nc.Value
	}
	b.clearTempCookies(w)

	http.Redirect(w, r, next, http.StatusSeeOther)
}

// handleLogout clears the session cookie.
func (b *Backend) handleLogout(w http.ResponseWriter, r *http.Request) {
	b.clearSessionCookie(w)
	b.requestLogger(r).Debug("Session cookie cleared")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// requestLogger prefers the logger attached to the request context.
func (b *Backend) requestLogger(r *http.Request) *logging.Logger {
	if logger := logging.LoggerFromContext(r.Context()); logger != nil {
		return logger
	}
	return b.logger
}

// setTempCookie sets a short-lived cookie for the authorization round-trip.
func (b *Backend) setTempCookie(w http.ResponseWriter, r *http.Request, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(10 * time.Minute.Seconds()),
	})
}

// clearTempCookies clears the cookies used during the round-trip.
func (b *Backend) clearTempCookies(w http.ResponseWriter) {
	for _, name := range []string{stateCookie, nextCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			HttpOnly: true,
			MaxAge:   -1,
		})
	}
}
