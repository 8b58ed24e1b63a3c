// Package config provides configuration loading, validation and hot reload.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Billing  BillingConfig  `yaml:"billing"`
	Sweep    SweepConfig    `yaml:"sweep"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DatabaseConfig configures the database.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "memory"
	DSN    string `yaml:"dsn"`
}

// BillingConfig configures subscription defaults.
type BillingConfig struct {
	// DefaultTrialDays applies when a start request leaves trialDays unset.
	DefaultTrialDays int `yaml:"default_trial_days"`
	// DefaultProvider labels subscriptions whose request omits a provider.
	DefaultProvider string `yaml:"default_provider"`
}

// SweepConfig configures the period-end finalization sweep.
type SweepConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"` // cron spec, e.g. "@every 1h"
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics exposure.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "bakano-billing.db",
		},
		Billing: BillingConfig{
			DefaultTrialDays: 0,
			DefaultProvider:  "",
		},
		Sweep: SweepConfig{
			Enabled:  true,
			Schedule: "@every 1h",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Load reads configuration from a YAML file, applies environment overrides
// and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnv builds configuration from defaults and BAKANO_* environment
// variables only, for deployments without a config file.
func LoadEnv() (*Config, error) {
	cfg := Default()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// HasEnvConfig reports whether any BAKANO_* override is set.
func HasEnvConfig() bool {
	for _, key := range []string{
		"BAKANO_SERVER_PORT", "BAKANO_DATABASE_DSN", "BAKANO_DATABASE_DRIVER",
		"BAKANO_LOG_LEVEL", "BAKANO_SWEEP_SCHEDULE", "BAKANO_DEFAULT_TRIAL_DAYS",
	} {
		if os.Getenv(key) != "" {
			return true
		}
	}
	return false
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BAKANO_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("BAKANO_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("BAKANO_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("BAKANO_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("BAKANO_DEFAULT_TRIAL_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil {
			cfg.Billing.DefaultTrialDays = days
		}
	}
	if v := os.Getenv("BAKANO_DEFAULT_PROVIDER"); v != "" {
		cfg.Billing.DefaultProvider = v
	}
	if v := os.Getenv("BAKANO_SWEEP_SCHEDULE"); v != "" {
		cfg.Sweep.Schedule = v
	}
	if v := os.Getenv("BAKANO_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("BAKANO_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	switch c.Database.Driver {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("invalid database driver: %q", c.Database.Driver)
	}
	if c.Database.Driver == "sqlite" && c.Database.DSN == "" {
		return fmt.Errorf("database dsn is required for sqlite")
	}
	if c.Billing.DefaultTrialDays < 0 {
		return fmt.Errorf("default_trial_days must not be negative")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}
	if c.Sweep.Enabled && c.Sweep.Schedule == "" {
		return fmt.Errorf("sweep schedule is required when sweep is enabled")
	}
	return nil
}

// Addr returns the host:port the server listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
