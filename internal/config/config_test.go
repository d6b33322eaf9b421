package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	yaml := `
server:
  host: 0.0.0.0
  port: 9000
cache:
  version: v7
network:
  base_url: https://api.farm.example.com
  timeout: 3s
sync:
  retry_ceiling: 8
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" || cfg.Server.Port != 9000 {
		t.Errorf("Server config not loaded: %+v", cfg.Server)
	}
	if cfg.Cache.Version != "v7" {
		t.Errorf("Expected cache version v7, got %s", cfg.Cache.Version)
	}
	if cfg.Network.GetTimeout() != 3*time.Second {
		t.Errorf("Expected 3s timeout, got %s", cfg.Network.GetTimeout())
	}
	if cfg.Sync.RetryCeiling != 8 {
		t.Errorf("Expected retry ceiling 8, got %d", cfg.Sync.RetryCeiling)
	}

	// Unset keys fall back to defaults.
	if cfg.Sync.BatchSize != 25 {
		t.Errorf("Expected default batch size 25, got %d", cfg.Sync.BatchSize)
	}
	if cfg.Scheduler.Interval != "@every 5m" {
		t.Errorf("Expected default scheduler interval, got %s", cfg.Scheduler.Interval)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging config wrong: %+v", cfg.Logging)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestDurationFallbacks(t *testing.T) {
	n := NetworkConfig{Timeout: "garbage"}
	if n.GetTimeout() != 10*time.Second {
		t.Errorf("Expected 10s fallback, got %s", n.GetTimeout())
	}

	s := SyncConfig{}
	if s.GetBackoffBase() != time.Second || s.GetBackoffMax() != 2*time.Minute {
		t.Errorf("Backoff fallbacks wrong: %s / %s", s.GetBackoffBase(), s.GetBackoffMax())
	}
}
