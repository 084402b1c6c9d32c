// internal/server/factory.go
package server

import (
	"crypto/tls"
	"fmt"
	"html/template"
	"net/http"

	"multiauth/internal/config"
	"multiauth/internal/multiauth"
	"multiauth/internal/observability"
	"multiauth/internal/observability/logging"
	tlsconfig "multiauth/internal/tls"

	"github.com/gorilla/mux"
)

// pageTemplate wraps the composite login fragment in a minimal document.
var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head><title>Sign in</title></head>
<body>
{{.}}
</body>
</html>
`))

// NewFromConfig creates a new server from configuration
func NewFromConfig(cfg *config.Config) (*Server, error) {
	// Initialize observability
	obs, err := observability.NewProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize observability: %w", err)
	}
	logger := obs.Logger

	// Initialize TLS configuration
	var tlsCfg *tls.Config
	if cfg.TLS.Enabled {
		tlsSetup := &tlsconfig.Config{
			Logger:   logger,
			CertPath: cfg.TLS.CertPath,
			KeyPath:  cfg.TLS.KeyPath,
		}
		tlsCfg, err = tlsSetup.GetTLSConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS configuration: %w", err)
		}
	}

	// Initialize the composite authenticator; this fails fatally on any
	// backend misconfiguration before a single request is served
	authenticator, err := multiauth.New(cfg.Backends, logger, obs.Metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize authenticator: %w", err)
	}

	router := NewRouter(authenticator, cfg.Server.BaseURL, logger)

	serverConfig := Config{
		Address:         cfg.Server.Address,
		MetricsAddress:  cfg.Metrics.Address,
		TLSConfig:       tlsCfg,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}

	// Complete middleware chain: observability -> router
	handler := obs.Middleware(router)

	return New(serverConfig, handler, obs.MetricsHandler(), logger), nil
}

// NewRouter assembles the HTTP routing surface: the aggregated route table
// of every mounted backend plus the combined login page.
func NewRouter(authenticator *multiauth.MultiAuthenticator, baseURL string, logger *logging.Logger) *mux.Router {
	logger = logger.WithModule("router")
	router := mux.NewRouter()

	for _, route := range authenticator.Handlers(baseURL) {
		logger.Debug("Registering backend route", "path", route.Path)
		router.Path(route.Path).Handler(route.Handler)
	}

	loginPath := joinPath(baseURL, "/login")
	router.Path(loginPath).Methods(http.MethodGet).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleLoginPage(w, r, authenticator, baseURL, logger)
	})

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Warn("Request received for undefined route", "path", r.URL.Path)
		http.Error(w, "404 page not found", http.StatusNotFound)
	})

	return router
}

// handleLoginPage renders the combined login page, forwarding an optional
// next query parameter into every backend's login link.
func handleLoginPage(w http.ResponseWriter, r *http.Request, authenticator *multiauth.MultiAuthenticator, baseURL string, logger *logging.Logger) {
	if l := logging.LoggerFromContext(r.Context()); l != nil {
		logger = l
	}

	fragment, err := authenticator.LoginPage(baseURL, r.URL.Query().Get("next"))
	if err != nil {
		logger.Error("Failed to render login page", logging.Err(err))
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplate.Execute(w, fragment); err != nil {
		logger.Error("Failed to write login page", logging.Err(err))
	}
}

// joinPath joins two URL path fragments with exactly one slash between them.
func joinPath(base, path string) string {
	if base == "" {
		return path
	}
	for len(base) > 0 && base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	if len(path) > 0 && path[0] != '/' {
		path = "/" + path
	}
	return base + path
}
