package config

import "time"

// Default KOSIS endpoint base. Connection configs may override per connection.
const DefaultKOSISBaseURL = "https://kosis.kr/openapi"

// Default returns a Config populated with every default value. Load starts
// from this and overlays the environment.
func Default() *Config {
	return &Config{
		Server:   DefaultServerConfig(),
		LLM:      DefaultLLMConfig(),
		KOSIS:    DefaultKOSISConfig(),
		Agent:    DefaultAgentConfig(),
		Storage:  DefaultStorageConfig(),
		LogLevel: "info",
	}
}

// DefaultServerConfig returns server defaults. WriteTimeout is generous
// because a streamed orchestrator run holds the response open across several
// LLM and handler calls.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:              "0.0.0.0",
		Port:              8000,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       120 * time.Second,
		ShutdownTimeout:   30 * time.Second,
	}
}

// DefaultLLMConfig returns LLM client defaults.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Model:       "gpt-4o-mini",
		CallTimeout: 60 * time.Second,
	}
}

// DefaultKOSISConfig returns KOSIS defaults.
func DefaultKOSISConfig() KOSISConfig {
	return KOSISConfig{
		BaseURL: DefaultKOSISBaseURL,
	}
}

// DefaultAgentConfig returns orchestrator defaults.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		MaxPlans:          3,
		ExecuteTimeout:    30 * time.Second,
		HTTPTimeout:       30 * time.Second,
		MaxConcurrentRuns: 8,
	}
}

// DefaultStorageConfig returns storage defaults.
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		ConnectionsFile: "connections.json",
	}
}
