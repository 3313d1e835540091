package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"slices"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// 1. Model provider validation
	if c.APIKey() == "" {
		return fmt.Errorf("%w: SHIPLOG_API_KEY environment variable is required",
			ErrMissingAPIKey)
	}

	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name cannot be empty", ErrInvalidModelName)
	}

	if c.ModelBaseURL == "" {
		return fmt.Errorf("%w: model_base_url cannot be empty", ErrInvalidModelBaseURL)
	}
	if u, err := url.Parse(c.ModelBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: %q is not an absolute URL", ErrInvalidModelBaseURL, c.ModelBaseURL)
	}

	// Temperature range: 0.0 (deterministic) to 2.0 (maximum creativity)
	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return fmt.Errorf("%w: must be between 0.0 and 2.0, got %.2f", ErrInvalidTemperature, c.Temperature)
	}

	if c.MaxTokens < 1 || c.MaxTokens > 2097152 {
		return fmt.Errorf("%w: must be between 1 and 2,097,152, got %d", ErrInvalidMaxTokens, c.MaxTokens)
	}

	// 2. Assistant loop validation
	if c.MaxToolIterations < 1 || c.MaxToolIterations > MaxAllowedToolIterations {
		return fmt.Errorf("%w: must be between 1 and %d, got %d",
			ErrInvalidToolIterations, MaxAllowedToolIterations, c.MaxToolIterations)
	}

	// 3. PostgreSQL configuration validation
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}

	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}

	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}

	if c.PostgresPassword == "" {
		return fmt.Errorf("%w: postgres_password must be set in config.yaml",
			ErrInvalidPostgresPassword)
	}

	// Warn on the shipped dev password but don't block local development
	if c.PostgresPassword == "shiplog_dev_password" {
		slog.Warn("Using default development password for PostgreSQL",
			"warning", "Change postgres_password in config.yaml for production deployments")
	}

	if len(c.PostgresPassword) < 8 {
		return fmt.Errorf("%w: postgres_password must be at least 8 characters (got %d)",
			ErrInvalidPostgresPassword, len(c.PostgresPassword))
	}

	// Modern SSL modes only; allow/prefer are deprecated (MITM vulnerable)
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if c.PostgresSSLMode == "" {
		return fmt.Errorf("%w: postgres_ssl_mode is empty (should have default from setDefaults)",
			ErrInvalidPostgresSSLMode)
	}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	return nil
}

// ValidateServe checks the additional requirements of serve mode.
// The cookie signing secret never has a default; it must come from the
// environment or config file and carry at least 256 bits of entropy.
func (c *Config) ValidateServe() error {
	if c.HMACSecret == "" {
		return fmt.Errorf("%w: set HMAC_SECRET for serve mode", ErrMissingHMACSecret)
	}
	if len(c.HMACSecret) < 32 {
		return fmt.Errorf("%w: must be at least 32 bytes (got %d)", ErrInvalidHMACSecret, len(c.HMACSecret))
	}
	return nil
}

// ValidateClient checks the requirements of chat client mode. Only the
// server URL matters; model and database settings belong to the server.
func (c *Config) ValidateClient() error {
	if c == nil {
		return ErrConfigNil
	}
	if c.ServerURL == "" {
		return fmt.Errorf("%w: server_url cannot be empty", ErrInvalidServerURL)
	}
	if u, err := url.Parse(c.ServerURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: %q is not an absolute URL", ErrInvalidServerURL, c.ServerURL)
	}
	return nil
}

// NormalizeContextMessages clamps the replay window to sane bounds.
func NormalizeContextMessages(limit int) int {
	if limit <= 0 {
		return DefaultMaxContextMessages
	}
	if limit > 500 {
		return 500
	}
	return limit
}
