// Package config loads application configuration from the environment.
//
// All settings are read once at startup via Load. A .env file, when present,
// is loaded by the main package (godotenv) before Load runs, so both container
// environments and local development resolve through the same path.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrMissingRequiredField indicates a required setting is absent.
	ErrMissingRequiredField = errors.New("missing required field")

	// ErrInvalidValue indicates a setting has an unusable value.
	ErrInvalidValue = errors.New("invalid field value")
)

// ValidationError wraps configuration validation errors with context.
type ValidationError struct {
	Section string // Config section (server, llm, kosis, agent, storage)
	Field   string // Environment variable or field name
	Err     error  // Underlying error
}

// Error returns formatted error message.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config %s: %s: %v", e.Section, e.Field, e.Err)
}

// Unwrap returns the underlying error.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Config is the root application configuration.
type Config struct {
	Server  ServerConfig
	LLM     LLMConfig
	KOSIS   KOSISConfig
	Agent   AgentConfig
	Storage StorageConfig

	// LogLevel is the slog level name: debug, info, warn, error.
	LogLevel string
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string // Bind host (default "0.0.0.0")
	Port int    // Bind port (default 8000)

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration // Must exceed the longest orchestrator run
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration // Grace period for draining active runs
}

// LLMConfig holds the language-model client settings.
type LLMConfig struct {
	APIKey      string        // Required
	BaseURL     string        // Empty = provider default
	Model       string        // Default model name (default "gpt-4o-mini")
	CallTimeout time.Duration // Cap per LLM call (default 60s)
}

// KOSISConfig holds the KOSIS open-data settings used by the static
// fetch_kosis_data tool. Connections of kind kosis_api carry their own key.
type KOSISConfig struct {
	APIKey  string // Empty = static tool disabled
	BaseURL string // Default "https://kosis.kr/openapi"
}

// AgentConfig bounds the plan-execute-reflect loop.
type AgentConfig struct {
	MaxPlans          int           // Reflection budget N (default 3)
	ExecuteTimeout    time.Duration // Cap per handler execute (default 30s)
	HTTPTimeout       time.Duration // Cap per API-handler HTTP call (default 30s)
	MaxConcurrentRuns int           // Parallel orchestrator runs (default 8)
}

// StorageConfig locates the durable connection-config store.
type StorageConfig struct {
	ConnectionsFile string // JSON array of connection configs (default "connections.json")
}

// Load reads configuration from the environment, applying defaults and
// validating the result.
func Load() (*Config, error) {
	cfg := Default()

	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)

	cfg.Server.Host = envString("HOST", cfg.Server.Host)
	port, err := envInt("PORT", cfg.Server.Port)
	if err != nil {
		return nil, err
	}
	cfg.Server.Port = port

	cfg.LLM.APIKey = envString("OPENAI_API_KEY", "")
	cfg.LLM.BaseURL = envString("OPENAI_BASE_URL", "")
	cfg.LLM.Model = envString("OPENAI_MODEL", cfg.LLM.Model)
	cfg.LLM.CallTimeout, err = envSeconds("LLM_TIMEOUT_SECONDS", cfg.LLM.CallTimeout)
	if err != nil {
		return nil, err
	}

	cfg.KOSIS.APIKey = envString("KOSIS_API_KEY", "")
	cfg.KOSIS.BaseURL = envString("KOSIS_BASE_URL", cfg.KOSIS.BaseURL)

	cfg.Agent.MaxPlans, err = envInt("MAX_PLANS", cfg.Agent.MaxPlans)
	if err != nil {
		return nil, err
	}
	cfg.Agent.ExecuteTimeout, err = envSeconds("EXECUTE_TIMEOUT_SECONDS", cfg.Agent.ExecuteTimeout)
	if err != nil {
		return nil, err
	}
	cfg.Agent.HTTPTimeout, err = envSeconds("HTTP_TIMEOUT_SECONDS", cfg.Agent.HTTPTimeout)
	if err != nil {
		return nil, err
	}
	cfg.Agent.MaxConcurrentRuns, err = envInt("MAX_CONCURRENT_RUNS", cfg.Agent.MaxConcurrentRuns)
	if err != nil {
		return nil, err
	}

	cfg.Storage.ConnectionsFile = envString("CONNECTIONS_FILE", cfg.Storage.ConnectionsFile)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints. LLM.APIKey is required: without it
// neither planning nor the general chat path can function.
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return &ValidationError{Section: "llm", Field: "OPENAI_API_KEY", Err: ErrMissingRequiredField}
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return &ValidationError{Section: "server", Field: "PORT", Err: ErrInvalidValue}
	}
	if c.Agent.MaxPlans < 1 {
		return &ValidationError{Section: "agent", Field: "MAX_PLANS", Err: ErrInvalidValue}
	}
	if c.Agent.MaxConcurrentRuns < 1 {
		return &ValidationError{Section: "agent", Field: "MAX_CONCURRENT_RUNS", Err: ErrInvalidValue}
	}
	if c.Storage.ConnectionsFile == "" {
		return &ValidationError{Section: "storage", Field: "CONNECTIONS_FILE", Err: ErrMissingRequiredField}
	}
	return nil
}

// SlogLevel maps the configured level name to a slog.Level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &ValidationError{Section: "env", Field: key, Err: fmt.Errorf("%w: %q", ErrInvalidValue, v)}
	}
	return n, nil
}

func envSeconds(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, &ValidationError{Section: "env", Field: key, Err: fmt.Errorf("%w: %q", ErrInvalidValue, v)}
	}
	return time.Duration(n) * time.Second, nil
}
