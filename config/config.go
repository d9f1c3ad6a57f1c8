// Package config provides configuration loading and hot reload.
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
	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
	Quota   QuotaConfig   `yaml:"quota"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// StoreConfig configures the usage store backend.
type StoreConfig struct {
	// Driver selects the adapter: "memory", "sqlite", "mongo" or "redis".
	Driver string `yaml:"driver"`
	// DSN is the database path (sqlite) or connection URI (mongo, redis).
	DSN string `yaml:"dsn"`
	// Database is the database name for mongo.
	Database string `yaml:"database,omitempty"`
	// Timeout bounds each store round trip.
	Timeout time.Duration `yaml:"timeout"`
}

// QuotaConfig configures quota accounting.
type QuotaConfig struct {
	// DailyLimit is the per-identity allowance per window (FREE_LIMIT in
	// the original product).
	DailyLimit int `yaml:"daily_limit"`
	// Timezone names the location whose midnight starts the window.
	Timezone string `yaml:"timezone"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns the configuration used when no file is present: a
// memory-backed store with the free-tier limit.
func Default() *Config {
	cfg := &Config{}
	applyEnvOverrides(cfg)
	setDefaults(cfg)
	return cfg
}

// applyEnvOverrides lets deployment environments tune the file config.
// FREE_LIMIT and MONGODB_URI carry over from the original product.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("QUOTAGATE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FREE_LIMIT"); v != "" {
		if limit, err := strconv.Atoi(v); err == nil {
			cfg.Quota.DailyLimit = limit
		}
	}
	if v := os.Getenv("QUOTAGATE_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("QUOTAGATE_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("MONGODB_URI"); v != "" && cfg.Store.DSN == "" {
		cfg.Store.Driver = "mongo"
		cfg.Store.DSN = v
	}
	if v := os.Getenv("QUOTAGATE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 10 * time.Second
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "memory"
	}
	if cfg.Store.Timeout == 0 {
		cfg.Store.Timeout = 2 * time.Second
	}
	if cfg.Quota.DailyLimit == 0 {
		cfg.Quota.DailyLimit = 3
	}
	if cfg.Quota.Timezone == "" {
		cfg.Quota.Timezone = "UTC"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory", "sqlite", "mongo", "redis":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Store.Driver != "memory" && c.Store.DSN == "" {
		return fmt.Errorf("store driver %q requires a dsn", c.Store.Driver)
	}
	if c.Quota.DailyLimit < 1 {
		return fmt.Errorf("quota daily_limit must be positive, got %d", c.Quota.DailyLimit)
	}
	if _, err := time.LoadLocation(c.Quota.Timezone); err != nil {
		return fmt.Errorf("invalid quota timezone %q: %w", c.Quota.Timezone, err)
	}
	return nil
}

// Location resolves the configured accounting timezone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Quota.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
