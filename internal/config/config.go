// Package config provides the configuration schema and loader for the
// dyadscribe analysis tool.
package config

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Log        LogConfig        `yaml:"log"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Database   DatabaseConfig   `yaml:"database"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level controls verbosity. Default: info.
	Level LogLevel `yaml:"level"`
}

// ClassifierConfig selects and configures the classification backend.
type ClassifierConfig struct {
	// Name selects the backend ("openai" for the native OpenAI client, or any
	// any-llm-go backend name: "anthropic", "gemini", "ollama", ...).
	Name string `yaml:"name"`

	// APIKey is the authentication key for the backend's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the backend's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the backend (e.g., "gpt-4o").
	Model string `yaml:"model"`

	// Temperature is the sampling temperature for classification calls.
	// Zero means the pipeline default.
	Temperature float64 `yaml:"temperature"`
}

// DatabaseConfig holds persistence settings.
type DatabaseConfig struct {
	// DSN is the PostgreSQL connection string.
	DSN string `yaml:"dsn"`
}

// PipelineConfig tunes the analysis pipeline.
type PipelineConfig struct {
	// RoleSampleSize bounds how many of the earliest utterances are sent for
	// role identification. Zero means the pipeline default.
	RoleSampleSize int `yaml:"role_sample_size"`

	// TagBatchSize bounds how many utterances each tag assignment request
	// carries. Zero means the pipeline default.
	TagBatchSize int `yaml:"tag_batch_size"`
}

// MetricsConfig configures the Prometheus scrape endpoint.
type MetricsConfig struct {
	// ListenAddr is the TCP address serving /metrics (e.g., ":9090").
	// Empty disables the endpoint.
	ListenAddr string `yaml:"listen_addr"`
}
