// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.shiplog/config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - Model: OpenAI-compatible provider endpoint, model name, sampling
//   - Assistant: tool loop and context window limits
//   - Storage: PostgreSQL connection (see storage.go)
//   - Server: bind address, CORS, identity secrets, rate limiting
//
// Security: sensitive values (password, secrets) are never logged; the config
// directory uses 0750 permissions.
//
// Error Handling: sentinel errors for errors.Is() checks, wrapped with context.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates the model provider API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidModelBaseURL indicates the provider base URL is invalid.
	ErrInvalidModelBaseURL = errors.New("invalid model base URL")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates the max tokens value is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max tokens")

	// ErrInvalidToolIterations indicates the tool iteration cap is out of range.
	ErrInvalidToolIterations = errors.New("invalid max tool iterations")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresPassword indicates the PostgreSQL password is invalid.
	ErrInvalidPostgresPassword = errors.New("invalid PostgreSQL password")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrMissingHMACSecret indicates the cookie signing secret is not set.
	ErrMissingHMACSecret = errors.New("missing HMAC secret")

	// ErrInvalidHMACSecret indicates the cookie signing secret is too short.
	ErrInvalidHMACSecret = errors.New("invalid HMAC secret")

	// ErrInvalidServerURL indicates the chat client's server URL is invalid.
	ErrInvalidServerURL = errors.New("invalid server URL")
)

const (
	// DefaultMaxToolIterations bounds the assistant tool loop per request.
	DefaultMaxToolIterations = 10

	// MaxAllowedToolIterations is the absolute cap for the tool loop.
	MaxAllowedToolIterations = 50

	// DefaultMaxContextMessages is the number of stored messages replayed to
	// the model per request.
	DefaultMaxContextMessages = 50

	// DefaultRoundTimeoutSeconds bounds a single model streaming round.
	DefaultRoundTimeoutSeconds = 120

	// MessageMaxLength is the maximum user message length in characters.
	MessageMaxLength = 4000
)

// Config stores application configuration.
// SECURITY: Sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields (passwords, secrets, tokens), update MarshalJSON.
type Config struct {
	// Model provider configuration (OpenAI-compatible chat completions API)
	ModelBaseURL string  `mapstructure:"model_base_url" json:"model_base_url"`
	ModelName    string  `mapstructure:"model_name" json:"model_name"`
	Temperature  float32 `mapstructure:"temperature" json:"temperature"`
	MaxTokens    int     `mapstructure:"max_tokens" json:"max_tokens"`

	// Assistant loop configuration
	MaxToolIterations   int `mapstructure:"max_tool_iterations" json:"max_tool_iterations"`
	MaxContextMessages  int `mapstructure:"max_context_messages" json:"max_context_messages"`
	RoundTimeoutSeconds int `mapstructure:"round_timeout_seconds" json:"round_timeout_seconds"`

	// Storage configuration (see storage.go for documentation)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Server configuration (serve mode only)
	ListenAddr    string   `mapstructure:"listen_addr" json:"listen_addr"`
	HMACSecret    string   `mapstructure:"hmac_secret" json:"hmac_secret"` // SENSITIVE: masked in MarshalJSON
	AdminToken    string   `mapstructure:"admin_token" json:"admin_token"` // SENSITIVE: masked in MarshalJSON
	CORSOrigins   []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy    bool     `mapstructure:"trust_proxy" json:"trust_proxy"` // Trust X-Real-IP/X-Forwarded-For (set true behind reverse proxy)
	RateLimitRPS  float64  `mapstructure:"rate_limit_rps" json:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst" json:"rate_limit_burst"`

	// Tracing configuration (serve mode only). Empty OTLPEndpoint disables
	// span export; the tracer provider still runs so spans stay cheap no-ops.
	OTLPEndpoint       string `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`
	TracingEnvironment string `mapstructure:"tracing_environment" json:"tracing_environment"`

	// Client configuration (chat mode only)
	ServerURL string `mapstructure:"server_url" json:"server_url"`
}

// Load loads configuration for serve mode.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}
	return cfg, nil
}

// LoadClient loads configuration for the chat client. The client only
// talks to a Shiplog server, so model and database settings are not
// validated.
func LoadClient() (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateClient(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}
	return cfg, nil
}

func load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".shiplog")

	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."},
			"config_name", "config.yaml")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// Model defaults
	viper.SetDefault("model_base_url", "https://api.openai.com/v1")
	viper.SetDefault("model_name", "gpt-4o-mini")
	viper.SetDefault("temperature", 0.7)
	viper.SetDefault("max_tokens", 2048)

	// Assistant defaults
	viper.SetDefault("max_tool_iterations", DefaultMaxToolIterations)
	viper.SetDefault("max_context_messages", DefaultMaxContextMessages)
	viper.SetDefault("round_timeout_seconds", DefaultRoundTimeoutSeconds)

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "shiplog")
	viper.SetDefault("postgres_password", "shiplog_dev_password")
	viper.SetDefault("postgres_db_name", "shiplog")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Server defaults
	viper.SetDefault("listen_addr", ":8080")
	viper.SetDefault("cors_origins", []string{"http://localhost:5173"})
	viper.SetDefault("trust_proxy", false)
	viper.SetDefault("rate_limit_rps", 5.0)
	viper.SetDefault("rate_limit_burst", 10)

	// Tracing defaults (disabled until an OTLP endpoint is configured)
	viper.SetDefault("otlp_endpoint", "")
	viper.SetDefault("tracing_environment", "dev")

	// Client defaults
	viper.SetDefault("server_url", "http://localhost:8080")
}

// bindEnvVariables binds environment variables explicitly.
// Secrets come only from the environment:
//  1. SHIPLOG_API_KEY - model provider key, read via APIKey(), checked in Validate()
//  2. HMAC_SECRET - uid cookie signing (serve mode only)
//  3. SHIPLOG_ADMIN_TOKEN - grants admin tier on matching X-Admin-Token header
func bindEnvVariables() {
	// Hardcoded keys cannot fail to bind; a panic here is a bug, not a runtime error
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("hmac_secret", "HMAC_SECRET")
	mustBind("admin_token", "SHIPLOG_ADMIN_TOKEN")
	mustBind("cors_origins", "SHIPLOG_CORS_ORIGINS")
	mustBind("trust_proxy", "SHIPLOG_TRUST_PROXY")
	mustBind("listen_addr", "SHIPLOG_LISTEN_ADDR")
	mustBind("model_base_url", "SHIPLOG_MODEL_BASE_URL")
	mustBind("model_name", "SHIPLOG_MODEL_NAME")
	mustBind("server_url", "SHIPLOG_SERVER_URL")
	mustBind("otlp_endpoint", "SHIPLOG_OTLP_ENDPOINT")
	mustBind("tracing_environment", "SHIPLOG_TRACING_ENVIRONMENT")

	// NOTE: SHIPLOG_API_KEY is read directly via APIKey(), not through Viper,
	// so it never lands in the unmarshalled struct or config dumps.
}

// APIKey returns the model provider API key from the environment.
func (c *Config) APIKey() string {
	return os.Getenv("SHIPLOG_API_KEY")
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks (U+2588) avoid accidental substring matches against
// real secret material in logs.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Secrets of 8 chars or fewer are fully masked to prevent substring
// matching; longer secrets keep the first and last 2 characters for
// debug utility. This defends against accidental logging, nothing more.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	prefix := make([]byte, 2)
	suffix := make([]byte, 2)
	copy(prefix, s[:2])
	copy(suffix, s[len(s)-2:])
	return string(prefix) + "<" + maskedValue + ">" + string(suffix)
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
//
// Sensitive fields masked:
//   - PostgresPassword
//   - HMACSecret
//   - AdminToken
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	a.HMACSecret = maskSecret(a.HMACSecret)
	a.AdminToken = maskSecret(a.AdminToken)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
