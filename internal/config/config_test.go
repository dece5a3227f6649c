package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.LiquidationPeriod() != time.Hour {
		t.Errorf("liquidation period = %s, want 1h", cfg.LiquidationPeriod())
	}
	if cfg.Log.Format != "json" {
		t.Errorf("log format = %s, want json", cfg.Log.Format)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
server:
  port: 9000
risk:
  liquidation_period_minutes: 15
  keeper_rate_per_second: 2.5
storage:
  cache_ttl_seconds: 120
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.LiquidationPeriod() != 15*time.Minute {
		t.Errorf("liquidation period = %s, want 15m", cfg.LiquidationPeriod())
	}
	if cfg.Risk.KeeperRatePerSecond != 2.5 {
		t.Errorf("keeper rate = %f, want 2.5", cfg.Risk.KeeperRatePerSecond)
	}
	if cfg.CacheTTL() != 2*time.Minute {
		t.Errorf("cache ttl = %s, want 2m", cfg.CacheTTL())
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9000\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PORT", "7777")
	t.Setenv("DATABASE_URL", "postgres://env-wins")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("port = %d, want env override 7777", cfg.Server.Port)
	}
	if cfg.Storage.DatabaseURL != "postgres://env-wins" {
		t.Errorf("database url = %s", cfg.Storage.DatabaseURL)
	}
}

func TestLoad_MalformedYAMLFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server: [not a map"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("malformed YAML should fail to load")
	}
}
