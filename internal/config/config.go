package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all runtime configuration.
type Config struct {
	Console ConsoleConfig
	Shell   ShellConfig
	Heap    HeapConfig
	Logging LogConfig
	Metrics MetricsConfig
}

// ConsoleConfig holds console device configuration. The console path is
// the single well-known device the boot program opens three times to
// populate the first three descriptors.
type ConsoleConfig struct {
	Path string `envconfig:"CONSOLE_PATH" default:"/dev/console"`
	PTY  bool   `envconfig:"CONSOLE_PTY" default:"false"`
}

// ShellConfig holds shell configuration.
type ShellConfig struct {
	BinDir    string `envconfig:"SHELL_BIN_DIR" default:"/bin/"`
	Prompt    string `envconfig:"SHELL_PROMPT" default:"[osprey:/]$ "`
	ReadChunk uint64 `envconfig:"SHELL_READ_CHUNK" default:"100"`
}

// HeapConfig holds the image geometry backing the break primitive.
type HeapConfig struct {
	Limit uint64 `envconfig:"HEAP_LIMIT" default:"67108864"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// MetricsConfig holds prometheus exposition configuration. An empty
// address disables the endpoint.
type MetricsConfig struct {
	Addr string `envconfig:"METRICS_ADDR" default:""`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Console: ConsoleConfig{
			Path: "/dev/console",
		},
		Shell: ShellConfig{
			BinDir:    "/bin/",
			Prompt:    "[osprey:/]$ ",
			ReadChunk: 100,
		},
		Heap: HeapConfig{
			Limit: 64 << 20,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		Metrics: MetricsConfig{},
	}
}
