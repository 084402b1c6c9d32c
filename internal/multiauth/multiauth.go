// internal/multiauth/multiauth.go
package multiauth

import (
	"fmt"
	"html/template"
	"strings"

	"multiauth/internal/backend"
	"multiauth/internal/backend/local"
	"multiauth/internal/backend/oauth"
	"multiauth/internal/backend/token"
	"multiauth/internal/config"
	"multiauth/internal/observability/logging"
	"multiauth/internal/observability/metrics"

	"golang.org/x/exp/slices"
)

// MultiAuthenticator composes several independent authentication backends
// behind a single front-end. Each configured backend is wrapped so its
// routes live under a private mount prefix and its identities carry a
// backend tag. Construction is a one-time step; the set of backends never
// changes afterwards.
type MultiAuthenticator struct {
	logger   *logging.Logger
	metrics  *metrics.Collector
	backends []*WrappedBackend
}

// New instantiates, wraps and validates every configured backend, in
// configuration order. It fails with the first construction or validation
// error; no partial state is returned.
func New(configs []config.BackendConfig, logger *logging.Logger, metricsCollector *metrics.Collector) (*MultiAuthenticator, error) {
	logger = logger.WithModule("multiauth")

	backends := make([]*WrappedBackend, 0, len(configs))
	for i, bc := range configs {
		inner, err := newBackend(bc.Type, bc.Options, logger, metricsCollector)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize backend %d (%s): %w", i, bc.Type, err)
		}

		wrapped, err := NewWrappedBackend(inner, bc.Prefix)
		if err != nil {
			return nil, err
		}

		backends = append(backends, wrapped)
		logger.Info("Mounted authentication backend",
			"type", bc.Type,
			"prefix", bc.Prefix,
			"tag", wrapped.Tag(),
		)
	}

	if len(backends) == 0 {
		logger.Warn("No authentication backends configured")
	}

	return &MultiAuthenticator{
		logger:   logger,
		metrics:  metricsCollector,
		backends: backends,
	}, nil
}

// newBackend instantiates a backend by its configured type.
func newBackend(backendType string, options map[string]any, logger *logging.Logger, metricsCollector *metrics.Collector) (backend.Backend, error) {
	switch {
	case backendType == "local":
		return local.New(options, logger, metricsCollector)
	case backendType == "token":
		return token.New(options, logger, metricsCollector)
	case slices.Contains(oauth.Kinds(), backendType):
		return oauth.New(backendType, options, logger, metricsCollector)
	default:
		return nil, fmt.Errorf("unknown backend type: %q", backendType)
	}
}

// Backends returns the wrapped backends in configuration order.
func (m *MultiAuthenticator) Backends() []*WrappedBackend {
	return m.backends
}

// Handlers concatenates every wrapped backend's route table, in
// configuration order, each path anchored under base. Overlapping mount
// prefixes are not deduplicated; they are the operator's responsibility.
func (m *MultiAuthenticator) Handlers(base string) []backend.Route {
	var routes []backend.Route
	for _, wb := range m.backends {
		for _, r := range wb.Routes() {
			routes = append(routes, backend.Route{
				Path:    joinPath(base, r.Path),
				Handler: r.Handler,
			})
		}
	}
	return routes
}

// loginTemplate renders one sign-in link per backend.
var loginTemplate = template.Must(template.New("login").Parse(strings.TrimLeft(`
{{- range . -}}
<div class="backend-login">
  <a role="button" href="{{.LoginURL}}">Sign in with {{.DisplayName}}</a>
</div>
{{end -}}`, "\n")))

// loginLink is one rendered entry on the combined login page.
type loginLink struct {
	DisplayName string
	LoginURL    string
}

// LoginPage renders the combined login fragment: one link per backend, in
// configuration order. A non-empty next target is appended to every login
// link as a query parameter so the framework can route the user back to
// their original destination after authentication.
func (m *MultiAuthenticator) LoginPage(base, next string) (template.HTML, error) {
	links := make([]loginLink, 0, len(m.backends))
	for _, wb := range m.backends {
		loginURL := wb.LoginURL(base)
		if next != "" {
			loginURL += "?next=" + next
		}
		links = append(links, loginLink{
			DisplayName: wb.DisplayName(),
			LoginURL:    loginURL,
		})
	}

	var buf strings.Builder
	if err := loginTemplate.Execute(&buf, links); err != nil {
		return "", fmt.Errorf("failed to render login page: %w", err)
	}

	m.metrics.RecordLoginPageRender()
	return template.HTML(buf.String()), nil
}
