// internal/backend/token/backend.go
package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"multiauth/internal/backend"
	"multiauth/internal/observability/logging"
	"multiauth/internal/observability/metrics"

	"github.com/golang-jwt/jwt"
	"github.com/google/uuid"
)

var clock = time.Now

// Backend authenticates pre-issued signed tokens (HS256). Operators mint
// tokens with Sign and hand them to machine clients; the backend verifies
// signature, issuer and expiry and resolves the subject as the username.
type Backend struct {
	backend.Base

	logger  *logging.Logger
	metrics *metrics.Collector

	secret []byte
	issuer string
	ttl    time.Duration
}

// Config holds the option fields a token backend understands.
type Config struct {
	backend.CommonOptions `mapstructure:",squash"`

	// Secret is the HMAC signing secret
	Secret string `mapstructure:"secret"`

	// Issuer identifies this installation; tokens for other issuers are rejected
	Issuer string `mapstructure:"issuer"`

	// TTL bounds the lifetime of tokens minted with Sign
	TTL time.Duration `mapstructure:"ttl"`
}

// New creates a new token backend from an options mapping.
func New(options map[string]any, logger *logging.Logger, metricsCollector *metrics.Collector) (*Backend, error) {
	logger = logger.WithModule("backend.token")

	var cfg Config
	if err := backend.DecodeOptions(options, &cfg); err != nil {
		return nil, err
	}

	if cfg.Secret == "" {
		return nil, fmt.Errorf("token backend: secret is required")
	}
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("token backend: issuer is required")
	}
	if cfg.TTL == 0 {
		cfg.TTL = time.Hour
	}

	return &Backend{
		Base:    backend.NewBase("Token", "/login", cfg.CommonOptions),
		logger:  logger,
		metrics: metricsCollector,
		secret:  []byte(cfg.Secret),
		issuer:  cfg.Issuer,
		ttl:     cfg.TTL,
	}, nil
}

// Routes returns the single route a token backend contributes.
func (b *Backend) Routes() []backend.Route {
	return []backend.Route{
		{Path: "/login", Handler: http.HandlerFunc(b.handleLogin)},
	}
}

// Sign mints a token for the given username, bounded by the configured TTL.
func (b *Backend) Sign(username string) (string, error) {
	iss := clock()

	claims := jwt.StandardClaims{
		Id: uuid.New().String(),

		Issuer:  b.issuer,
		Subject: username,

		IssuedAt:  iss.Unix(),
		ExpiresAt: iss.Add(b.ttl).Unix(),
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.secret)
}

// Verify checks a token's signature, issuer and expiry, returning its subject.
func (b *Backend) Verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.StandardClaims{}, b.keyLookup)
	if err != nil {
		return "", fmt.Errorf("failed to parse and verify signature in token: %w", err)
	}

	claims := token.Claims.(*jwt.StandardClaims)
	if !claims.VerifyIssuer(b.issuer, true) {
		return "", fmt.Errorf("token is not for this system")
	}

	return claims.Subject, nil
}

// keyLookup pins the algorithm and returns the shared secret.
func (b *Backend) keyLookup(token *jwt.Token) (any, error) {
	if token.Header["alg"] != "HS256" {
		return nil, errors.New("unacceptable algorithm in token")
	}
	return b.secret, nil
}

// Authenticate verifies the token in creds and returns its subject.
func (b *Backend) Authenticate(ctx context.Context, creds backend.Credentials) (string, error) {
	tokenString := creds["token"]
	if tokenString == "" {
		return "", fmt.Errorf("no token supplied: %w", backend.ErrInvalidCredentials)
	}

	username, err := b.Verify(tokenString)
	if err != nil {
		return "", fmt.Errorf("%v: %w", err, backend.ErrInvalidCredentials)
	}
	return username, nil
}

// handleLogin accepts a token via Authorization header or form field and
// responds with the resolved username.
func (b *Backend) handleLogin(w http.ResponseWriter, r *http.Request) {
	logger := logging.LoggerFromContext(r.Context())
	if logger == nil {
		logger = b.logger
	}

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tokenString := bearerToken(r)
	if tokenString == "" {
		if err := r.ParseForm(); err == nil {
			tokenString = r.PostForm.Get("token")
		}
	}

	self := backend.Backend(b)
	if bound := backend.FromContext(r.Context()); bound != nil {
		self = bound
	}

	username, err := self.Authenticate(r.Context(), backend.Credentials{"token": tokenString})
	if err != nil {
		logger.Warn("Token authentication failed", logging.Err(err))
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

	logger.Info("Token authentication successful", "username", username)
	b.metrics.RecordAuthentication(b.DisplayName(), true)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"username": username})
}

// bearerToken extracts a Bearer token from the Authorization header.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(header, "Bearer ")
}
