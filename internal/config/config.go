package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Runtime   RuntimeConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8400"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// RuntimeConfig holds runtime host and bridge configuration.
type RuntimeConfig struct {
	// InitTimeout bounds worker spin-up plus package installation.
	InitTimeout time.Duration `envconfig:"RUNTIME_INIT_TIMEOUT" default:"2m"`
	// ExecTimeout bounds a single execution; on expiry the bridge gives up
	// waiting but the worker is not interrupted.
	ExecTimeout time.Duration `envconfig:"RUNTIME_EXEC_TIMEOUT" default:"1m"`
	// LoaderMode selects the bundle loading strategy: "local" or "remote".
	LoaderMode string `envconfig:"RUNTIME_LOADER" default:"local"`
	// BundleDir is the directory local bundles are read from.
	BundleDir string `envconfig:"RUNTIME_BUNDLE_DIR" default:"./bundles"`
	// BundleURL is the base URL remote bundles are fetched from.
	BundleURL string `envconfig:"RUNTIME_BUNDLE_URL" default:""`
	// ForceRerun disables the skip-already-successful-prerequisite
	// optimization in the cell scheduler.
	ForceRerun bool `envconfig:"RUNTIME_FORCE_RERUN" default:"false"`
	// ManifestDir is scanned at startup for notebook cell manifests.
	ManifestDir string `envconfig:"NOTEBOOK_MANIFEST_DIR" default:"./notebooks"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"50"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"100"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
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
		Server: ServerConfig{
			Port: "8400",
			Host: "0.0.0.0",
		},
		Runtime: RuntimeConfig{
			InitTimeout: 2 * time.Minute,
			ExecTimeout: time.Minute,
			LoaderMode:  "local",
			BundleDir:   "./bundles",
			ManifestDir: "./notebooks",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
			Enabled:           true,
		},
	}
}

func (c *Config) validate() error {
	switch c.Runtime.LoaderMode {
	case "local", "remote":
	default:
		return fmt.Errorf("invalid RUNTIME_LOADER %q: must be local or remote", c.Runtime.LoaderMode)
	}
	if c.Runtime.LoaderMode == "remote" && c.Runtime.BundleURL == "" {
		return fmt.Errorf("RUNTIME_BUNDLE_URL is required when RUNTIME_LOADER=remote")
	}
	return nil
}
