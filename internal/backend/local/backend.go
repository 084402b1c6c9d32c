// internal/backend/local/backend.go
package local

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"

	"multiauth/internal/backend"
	"multiauth/internal/observability/logging"
	"multiauth/internal/observability/metrics"

	"golang.org/x/crypto/bcrypt"
)

// Backend authenticates against a locally configured credential store:
// either a map of usernames to bcrypt hashes, or a single shared password
// that admits any username (development setups only).
type Backend struct {
	backend.Base

	logger  *logging.Logger
	metrics *metrics.Collector

	users          map[string]string
	sharedPassword string
}

// Config holds the option fields a local backend understands.
type Config struct {
	backend.CommonOptions `mapstructure:",squash"`

	// Users maps usernames to bcrypt password hashes
	Users map[string]string `mapstructure:"users"`

	// Password admits any username with this one password when Users is
	// empty. For development only.
	Password string `mapstructure:"password"`
}

// New creates a new local-credential backend from an options mapping.
func New(options map[string]any, logger *logging.Logger, metricsCollector *metrics.Collector) (*Backend, error) {
	logger = logger.WithModule("backend.local")

	var cfg Config
	if err := backend.DecodeOptions(options, &cfg); err != nil {
		return nil, err
	}

	if len(cfg.Users) == 0 && cfg.Password == "" {
		return nil, fmt.Errorf("local backend: either users or password must be configured")
	}
	if cfg.Password != "" {
		logger.Warn("Local backend accepts any username with a shared password")
	}

	return &Backend{
		Base:           backend.NewBase("Local", "/login", cfg.CommonOptions),
		logger:         logger,
		metrics:        metricsCollector,
		users:          cfg.Users,
		sharedPassword: cfg.Password,
	}, nil
}

// Routes returns the single route a local backend contributes.
func (b *Backend) Routes() []backend.Route {
	return []backend.Route{
		{Path: "/login", Handler: http.HandlerFunc(b.handleLogin)},
	}
}

// Authenticate validates a username/password pair against the credential
// store and returns the username.
func (b *Backend) Authenticate(ctx context.Context, creds backend.Credentials) (string, error) {
	username := creds["username"]
	password := creds["password"]
	if username == "" || password == "" {
		return "", fmt.Errorf("username and password are required: %w", backend.ErrInvalidCredentials)
	}

	if len(b.users) > 0 {
		hash, ok := b.users[username]
		if !ok {
			return "", fmt.Errorf("unknown user %q: %w", username, backend.ErrInvalidCredentials)
		}
		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
			return "", fmt.Errorf("password mismatch for %q: %w", username, backend.ErrInvalidCredentials)
		}
		return username, nil
	}

	if subtle.ConstantTimeCompare([]byte(password), []byte(b.sharedPassword)) != 1 {
		return "", fmt.Errorf("password mismatch for %q: %w", username, backend.ErrInvalidCredentials)
	}
	return username, nil
}

// handleLogin accepts a POST with form or JSON credentials and responds
// with the resolved username, redirecting when a next target is supplied.
func (b *Backend) handleLogin(w http.ResponseWriter, r *http.Request) {
	logger := logging.LoggerFromContext(r.Context())
	if logger == nil {
		logger = b.logger
	}

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	creds, err := readCredentials(r)
	if err != nil {
		logger.Debug("Malformed login request", logging.Err(err))
		http.Error(w, "Malformed login request", http.StatusBadRequest)
		return
	}

	// Authenticate through the mounted instance so the identity is tagged
	self := backend.Backend(b)
	if bound := backend.FromContext(r.Context()); bound != nil {
		self = bound
	}

	username, err := self.Authenticate(r.Context(), creds)
	if err != nil {
		logger.Warn("Local authentication failed", logging.Err(err))
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

	logger.Info("Local authentication successful", "username", username)
	b.metrics.RecordAuthentication(b.DisplayName(), true)

	if next := r.URL.Query().Get("next"); next != "" {
		http.Redirect(w, r, next, http.StatusSeeOther)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"username": username})
}

// readCredentials extracts credentials from a form or JSON request body.
func readCredentials(r *http.Request) (backend.Credentials, error) {
	if r.Header.Get("Content-Type") == "application/json" {
		var body struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return nil, fmt.Errorf("failed to decode JSON body: %w", err)
		}
		return backend.Credentials{"username": body.Username, "password": body.Password}, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("failed to parse form: %w", err)
	}
	return backend.Credentials{
		"username": r.PostForm.Get("username"),
		"password": r.PostForm.Get("password"),
	}, nil
}
