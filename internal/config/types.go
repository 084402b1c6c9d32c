// internal/config/types.go
package config

import (
	"time"
)

// Config represents the complete application configuration
type Config struct {
	// Server holds HTTP server configuration
	Server struct {
		// Address is the address to listen on
		Address string
		// BaseURL is the public path prefix the login surface is served under
		BaseURL string
		// ShutdownTimeout is the maximum time to wait for a graceful shutdown
		ShutdownTimeout time.Duration
	}

	// Metrics holds metrics server configuration
	Metrics struct {
		// Address is the address to listen on for the metrics server
		Address string
	}

	// TLS holds TLS configuration
	TLS struct {
		// Enabled indicates whether TLS is enabled
		Enabled bool
		// CertPath is the path to the TLS certificate
		CertPath string
		// KeyPath is the path to the TLS key
		KeyPath string
	}

	// Observability holds observability configuration
	Observability struct {
		// LogLevel is the minimum log level to emit
		LogLevel string
		// LogFormat is the log format (json, text, console)
		LogFormat string
	}

	// Backends is the ordered list of authentication backends to mount.
	// Order is preserved in route aggregation and on the login page.
	Backends []BackendConfig
}

// BackendConfig describes one authentication backend to instantiate.
type BackendConfig struct {
	// Type is the backend kind (github, gitlab, google, oidc, local, token)
	Type string `mapstructure:"type" yaml:"type"`

	// Prefix is the URL path prefix the backend's routes are mounted under
	Prefix string `mapstructure:"prefix" yaml:"prefix"`

	// Options holds the backend-specific options mapping
	Options map[string]any `mapstructure:"options" yaml:"options"`
}
