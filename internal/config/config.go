// internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Load loads the configuration from all sources and returns the merged result
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set default values
	Settings.PopulateViperDefaults(v)

	// Set up environment variable handling
	v.SetEnvPrefix("MULTIAUTH")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	// Load from config file if specified
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// It's okay if the config file doesn't exist, but other errors should be reported
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	// Create the config object
	config := &Config{}

	// Populate server configuration
	config.Server.Address = v.GetString("SERVER_ADDR")
	config.Server.BaseURL = v.GetString("BASE_URL")
	shutdownTimeout, err := time.ParseDuration(v.GetString("SHUTDOWN_TIMEOUT"))
	if err != nil {
		return nil, fmt.Errorf("invalid shutdown timeout: %w", err)
	}
	config.Server.ShutdownTimeout = shutdownTimeout

	// Populate metrics configuration
	config.Metrics.Address = v.GetString("METRICS_ADDR")

	// Populate TLS configuration
	config.TLS.Enabled = v.GetBool("TLS_ENABLED")
	config.TLS.CertPath = v.GetString("TLS_CERT_PATH")
	config.TLS.KeyPath = v.GetString("TLS_KEY_PATH")

	// Populate observability configuration
	config.Observability.LogLevel = v.GetString("LOG_LEVEL")
	config.Observability.LogFormat = v.GetString("LOG_FORMAT")

	// Populate the ordered backend list
	if err := v.UnmarshalKey("backends", &config.Backends); err != nil {
		return nil, fmt.Errorf("failed to decode backend list: %w", err)
	}

	// Validate the configuration
	if err := validateConfig(config); err != nil {
		return nil, err
	}

	return config, nil
}

// validateConfig performs validation on the loaded configuration
func validateConfig(cfg *Config) error {
	// Validate TLS configuration
	if cfg.TLS.Enabled {
		if cfg.TLS.CertPath == "" {
			return fmt.Errorf("TLS certificate path is required when TLS is enabled")
		}
		if cfg.TLS.KeyPath == "" {
			return fmt.Errorf("TLS key path is required when TLS is enabled")
		}
	}

	// Validate the base URL shape
	if cfg.Server.BaseURL != "" && !strings.HasPrefix(cfg.Server.BaseURL, "/") {
		return fmt.Errorf("base URL must start with '/': %q", cfg.Server.BaseURL)
	}

	// Validate backend configurations
	for i, b := range cfg.Backends {
		if b.Type == "" {
			return fmt.Errorf("backend %d: type is required", i)
		}
		if err := ValidatePrefix(b.Prefix); err != nil {
			return fmt.Errorf("backend %d (%s): %w", i, b.Type, err)
		}
	}

	return nil
}

// ValidatePrefix checks that a mount prefix is usable as a URL path segment.
func ValidatePrefix(prefix string) error {
	if prefix == "" {
		return fmt.Errorf("mount prefix is required")
	}
	if !strings.HasPrefix(prefix, "/") {
		return fmt.Errorf("mount prefix must start with '/': %q", prefix)
	}
	if strings.ContainsAny(prefix, " ?#") {
		return fmt.Errorf("mount prefix is not a valid URL path segment: %q", prefix)
	}
	return nil
}
