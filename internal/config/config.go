// Package config loads engine configuration from a YAML file with
// environment-variable overrides. A .env file, when present, is folded
// into the environment before overrides apply.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full engine configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Risk    RiskConfig    `yaml:"risk"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port           int `yaml:"port"`
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// StorageConfig selects the persistence backend. An empty DatabaseURL
// falls back to the in-memory store; RedisURL adds the read-through
// cache layer on top of PostgreSQL.
type StorageConfig struct {
	DatabaseURL     string `yaml:"database_url"`
	RedisURL        string `yaml:"redis_url"`
	CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
}

// RiskConfig controls the liquidation and keeper machinery.
type RiskConfig struct {
	LiquidationPeriodMinutes int     `yaml:"liquidation_period_minutes"`
	KeeperRatePerSecond      float64 `yaml:"keeper_rate_per_second"`
}

// LogConfig controls the log level and format.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load reads the YAML file at path, folds in .env, applies environment
// overrides, and fills defaults. A missing file is not an error: the
// engine can run entirely from the environment.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// CacheTTL returns the Redis cache TTL as a time.Duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Storage.CacheTTLSeconds) * time.Second
}

// LiquidationPeriod returns the per-period liquidation window.
func (c *Config) LiquidationPeriod() time.Duration {
	return time.Duration(c.Risk.LiquidationPeriodMinutes) * time.Minute
}

// RequestTimeout returns the per-request HTTP timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.TimeoutSeconds) * time.Second
}

// applyEnvOverrides replaces values with environment variables when set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Storage.RedisURL = v
	}
	if v := os.Getenv("PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil && port > 0 {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// setDefaults fills required values that remain unset.
func setDefaults(cfg *Config) {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.TimeoutSeconds <= 0 {
		cfg.Server.TimeoutSeconds = 30
	}
	if cfg.Storage.CacheTTLSeconds <= 0 {
		cfg.Storage.CacheTTLSeconds = 60
	}
	if cfg.Risk.LiquidationPeriodMinutes <= 0 {
		cfg.Risk.LiquidationPeriodMinutes = 60
	}
	if cfg.Risk.KeeperRatePerSecond <= 0 {
		cfg.Risk.KeeperRatePerSecond = 10
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}
