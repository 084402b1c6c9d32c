// internal/backend/oauth/backend.go
package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"multiauth/internal/backend"
	"multiauth/internal/observability/logging"
	"multiauth/internal/observability/metrics"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/gitlab"
	"golang.org/x/oauth2/google"
)

// Backend implements OAuth2 / OIDC authentication against a single provider.
// Each instance owns its own client credentials, endpoints and session
// cookie; mounting the same kind twice yields two independent backends.
type Backend struct {
	backend.Base

	logger  *logging.Logger
	metrics *metrics.Collector

	kind          string
	oauth         oauth2.Config
	verifier      *oidc.IDTokenVerifier
	userinfoURL   string
	usernameClaim string

	cookieName      string
	cookieSecretKey []byte
	appCtx          context.Context
}

// Config holds the option fields an OAuth backend understands.
type Config struct {
	backend.CommonOptions `mapstructure:",squash"`

	// ClientID is the OAuth client ID
	ClientID string `mapstructure:"client_id"`

	// ClientSecret is the OAuth client secret
	ClientSecret string `mapstructure:"client_secret"`

	// CallbackURL is the registered OAuth callback URL
	CallbackURL string `mapstructure:"oauth_callback_url"`

	// Issuer enables OIDC discovery and ID-token verification when set
	Issuer string `mapstructure:"issuer"`

	// AuthorizeURL / TokenURL override the provider preset endpoints
	AuthorizeURL string `mapstructure:"authorize_url"`
	TokenURL     string `mapstructure:"token_url"`

	// UserinfoURL is the endpoint queried for the username (non-OIDC mode)
	UserinfoURL string `mapstructure:"userinfo_url"`

	// UsernameClaim names the claim or userinfo field holding the username
	UsernameClaim string `mapstructure:"username_claim"`

	// Scopes overrides the provider preset scopes
	Scopes []string `mapstructure:"scopes"`

	// CookieName is the name of the session cookie
	CookieName string `mapstructure:"cookie_name"`

	// CookieSecret is the secret key for session cookie encryption.
	// An ephemeral key is generated when unset.
	CookieSecret string `mapstructure:"cookie_secret"`
}

// preset carries the per-provider defaults for a registered backend kind.
type preset struct {
	label         string
	endpoint      oauth2.Endpoint
	userinfoURL   string
	usernameClaim string
	scopes        []string
}

var presets = map[string]preset{
	"github": {
		label:         "GitHub",
		endpoint:      github.Endpoint,
		userinfoURL:   "https://api.github.com/user",
		usernameClaim: "login",
		scopes:        []string{"read:user"},
	},
	"gitlab": {
		label:         "GitLab",
		endpoint:      gitlab.Endpoint,
		userinfoURL:   "https://gitlab.com/api/v4/user",
		usernameClaim: "username",
		scopes:        []string{"read_user"},
	},
	"google": {
		label:         "Google",
		endpoint:      google.Endpoint,
		userinfoURL:   "https://openidconnect.googleapis.com/v1/userinfo",
		usernameClaim: "email",
		scopes:        []string{"openid", "email", "profile"},
	},
	"oidc": {
		label:         "OIDC",
		usernameClaim: "preferred_username",
		scopes:        []string{"openid", "email", "profile"},
	},
}

// Kinds returns the registered OAuth backend kinds.
func Kinds() []string {
	kinds := make([]string, 0, len(presets))
	for k := range presets {
		kinds = append(kinds, k)
	}
	return kinds
}

// New creates a new OAuth backend of the given kind from an options mapping.
func New(kind string, options map[string]any, logger *logging.Logger, metricsCollector *metrics.Collector) (*Backend, error) {
	logger = logger.WithModule("backend." + kind)

	p, ok := presets[kind]
	if !ok {
		return nil, fmt.Errorf("unknown OAuth backend kind: %q", kind)
	}

	var cfg Config
	if err := backend.DecodeOptions(options, &cfg); err != nil {
		return nil, err
	}

	// Basic validation
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("%s backend: client_id and client_secret are required", kind)
	}
	if cfg.CallbackURL == "" {
		return nil, fmt.Errorf("%s backend: oauth_callback_url is required", kind)
	}

	// Apply preset defaults under explicit overrides
	endpoint := p.endpoint
	if cfg.AuthorizeURL != "" {
		endpoint.AuthURL = cfg.AuthorizeURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	userinfoURL := p.userinfoURL
	if cfg.UserinfoURL != "" {
		userinfoURL = cfg.UserinfoURL
	}
	usernameClaim := p.usernameClaim
	if cfg.UsernameClaim != "" {
		usernameClaim = cfg.UsernameClaim
	}
	scopes := p.scopes
	if len(cfg.Scopes) > 0 {
		scopes = cfg.Scopes
	}

	ctx := context.Background()

	// OIDC mode: discover endpoints and verify ID tokens
	var verifier *oidc.IDTokenVerifier
	if cfg.Issuer != "" {
		logger.Debug("Initializing OIDC provider", "issuer", logging.RedactStringURL(cfg.Issuer))
		provider, err := oidc.NewProvider(ctx, cfg.Issuer)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize OIDC provider: %w", err)
		}
		endpoint = provider.Endpoint()
		verifier = provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})
	} else if endpoint.AuthURL == "" || endpoint.TokenURL == "" {
		return nil, fmt.Errorf("%s backend: authorize_url and token_url are required without an issuer", kind)
	}

	cookieName := cfg.CookieName
	if cookieName == "" {
		cookieName = "multiauth_" + kind + "_session"
	}

	cookieSecretKey := []byte(cfg.CookieSecret)
	if len(cookieSecretKey) == 0 {
		// Ephemeral key: sessions do not survive a restart
		cookieSecretKey = make([]byte, 32)
		if _, err := io.ReadFull(rand.Reader, cookieSecretKey); err != nil {
			return nil, fmt.Errorf("failed to generate session cookie key: %w", err)
		}
		logger.Warn("No cookie_secret configured, using an ephemeral session key")
	} else if len(cookieSecretKey) < 32 {
		return nil, fmt.Errorf("%s backend: cookie_secret must be at least 32 bytes long", kind)
	}

	return &Backend{
		Base:    backend.NewBase(p.label, "/oauth_login", cfg.CommonOptions),
		logger:  logger,
		metrics: metricsCollector,
		kind:    kind,
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			RedirectURL:  cfg.CallbackURL,
			Scopes:       scopes,
		},
		verifier:        verifier,
		userinfoURL:     userinfoURL,
		usernameClaim:   usernameClaim,
		cookieName:      cookieName,
		cookieSecretKey: cookieSecretKey[:32],
		appCtx:          ctx,
	}, nil
}

// Routes returns the three routes an OAuth backend contributes.
func (b *Backend) Routes() []backend.Route {
	return []backend.Route{
		{Path: "/oauth_login", Handler: http.HandlerFunc(b.handleLogin)},
		{Path: "/oauth_callback", Handler: http.HandlerFunc(b.handleCallback)},
		{Path: "/logout", Handler: http.HandlerFunc(b.handleLogout)},
	}
}

// Authenticate exchanges the authorization code in creds for tokens and
// resolves the provider-side username.
func (b *Backend) Authenticate(ctx context.Context, creds backend.Credentials) (string, error) {
	code := creds["code"]
	if code == "" {
		return "", fmt.Errorf("no authorization code supplied: %w", backend.ErrInvalidCredentials)
	}

	token, err := b.oauth.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	if b.verifier != nil {
		return b.usernameFromIDToken(ctx, token)
	}
	return b.usernameFromUserinfo(ctx, token)
}

// usernameFromIDToken verifies the ID token and extracts the username claim.
func (b *Backend) usernameFromIDToken(ctx context.Context, token *oauth2.Token) (string, error) {
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return "", fmt.Errorf("no ID token in OAuth2 token: %w", backend.ErrInvalidCredentials)
	}

	idToken, err := b.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return "", fmt.Errorf("failed to verify ID token: %w", err)
	}

	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return "", fmt.Errorf("failed to parse ID token claims: %w", err)
	}

	return b.claimValue(claims)
}

// usernameFromUserinfo queries the provider's userinfo endpoint with the
// access token and extracts the username field.
func (b *Backend) usernameFromUserinfo(ctx context.Context, token *oauth2.Token) (string, error) {
	if b.userinfoURL == "" {
		return "", fmt.Errorf("%s backend has no userinfo_url configured", b.kind)
	}

	client := b.oauth.Client(ctx, token)
	resp, err := client.Get(b.userinfoURL)
	if err != nil {
		return "", fmt.Errorf("failed to query userinfo endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("userinfo endpoint returned status %d", resp.StatusCode)
	}

	var claims map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		return "", fmt.Errorf("failed to decode userinfo response: %w", err)
	}

	return b.claimValue(claims)
}

// claimValue pulls the configured username claim out of a claims mapping.
func (b *Backend) claimValue(claims map[string]any) (string, error) {
	value, ok := claims[b.usernameClaim]
	if !ok {
		return "", fmt.Errorf("claim %q missing from provider response: %w", b.usernameClaim, backend.ErrInvalidCredentials)
	}
	username := fmt.Sprintf("%v", value)
	if username == "" {
		return "", fmt.Errorf("claim %q is empty: %w", b.usernameClaim, backend.ErrInvalidCredentials)
	}
	return username, nil
}

// self returns the backend instance bound to the request context when the
// route table was produced by a wrapper, falling back to the bare backend.
func (b *Backend) self(ctx context.Context) backend.Backend {
	if bound := backend.FromContext(ctx); bound != nil {
		return bound
	}
	return b
}

// randomString generates a random URL-safe string of the specified length
func randomString(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := io.ReadFull(rand.Reader, bytes); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(bytes)[:length], nil
}
