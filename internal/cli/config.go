package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/youssefsiam38/agentctx/compaction"
)

// Storage drivers.
const (
	DriverMemory = "memory"
	DriverPgx    = "pgx"
	DriverPQ     = "pq"
)

// Config is the CLI configuration file.
type Config struct {
	// Model selects the context window from compaction.KnownModels.
	Model string `yaml:"model"`

	// ContextWindow overrides the window of Model when set.
	ContextWindow int `yaml:"context_window"`

	Compaction compaction.Config `yaml:"compaction"`
	Storage    StorageConfig     `yaml:"storage"`

	// LogLevel is one of debug, info, warn or error.
	LogLevel string `yaml:"log_level"`
}

// StorageConfig selects where session state is kept.
type StorageConfig struct {
	Driver      string `yaml:"driver"`
	DatabaseURL string `yaml:"database_url"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Compaction: *compaction.DefaultConfig(),
		Storage:    StorageConfig{Driver: DriverPgx},
		LogLevel:   "info",
	}
}

// LoadConfig reads the YAML file at path over the defaults and applies
// environment overrides. An empty path reads no file; a missing file is an
// error only when the path was given explicitly.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("invalid config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	cfg.Compaction.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AGENTCTX_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("AGENTCTX_DATABASE_URL"); v != "" {
		cfg.Storage.DatabaseURL = v
	} else if v := os.Getenv("DATABASE_URL"); v != "" && cfg.Storage.DatabaseURL == "" {
		cfg.Storage.DatabaseURL = v
	}
	if v := os.Getenv("AGENTCTX_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.ContextWindow < 0 {
		return fmt.Errorf("context_window must not be negative, got %d", c.ContextWindow)
	}
	switch c.Storage.Driver {
	case DriverMemory, DriverPgx, DriverPQ:
	default:
		return fmt.Errorf("unknown storage driver %q (want %s, %s or %s)",
			c.Storage.Driver, DriverMemory, DriverPgx, DriverPQ)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return c.Compaction.Validate()
}

// ModelInfo returns the model the commands reason about.
func (c *Config) ModelInfo() compaction.ModelInfo {
	info := compaction.GetModelInfo(c.Model)
	if c.ContextWindow > 0 {
		info.ContextWindow = c.ContextWindow
	}
	return info
}

// Logger returns a text logger writing to stderr at the configured level.
func (c *Config) Logger() *slog.Logger {
	level, _ := parseLevel(c.LogLevel)
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

var errUnknownLevel = errors.New("unknown log level")

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("%w: %q", errUnknownLevel, s)
}
