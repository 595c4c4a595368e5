package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "handy.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadSubstitutesEnv(t *testing.T) {
	t.Setenv("TEST_HANDY_DSN", "postgres://prod:secret@db:5432/handy")

	path := writeConfig(t, `{
		"server": {"port": 9090, "log_level": "${TEST_HANDY_LEVEL:debug}"},
		"scheduler": {"tick": "15s", "pool_size": 4},
		"agents": {
			"database": {"enabled": true, "dsn": "${TEST_HANDY_DSN}"}
		}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.LogLevel != "debug" {
		t.Errorf("unset env should fall back to default, got %q", cfg.Server.LogLevel)
	}
	if cfg.Agents.Database.DSN != "postgres://prod:secret@db:5432/handy" {
		t.Errorf("dsn not substituted: %q", cfg.Agents.Database.DSN)
	}
	tick, err := cfg.Scheduler.TickDuration()
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if tick != 15*time.Second {
		t.Errorf("tick = %v, want 15s", tick)
	}
}

func TestLoadRejectsEnabledAgentWithoutTarget(t *testing.T) {
	path := writeConfig(t, `{
		"agents": {"cache": {"enabled": true}}
	}`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for cache agent without url")
	}
}

func TestLoadRejectsBadTick(t *testing.T) {
	path := writeConfig(t, `{
		"scheduler": {"tick": "soonish"}
	}`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unparseable tick")
	}
}

func TestEmptyTickFallsBackToDefault(t *testing.T) {
	var sc SchedulerConfig
	tick, err := sc.TickDuration()
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if tick != 0 {
		t.Errorf("empty tick should be zero, got %v", tick)
	}
}

func TestResolvedFallbacks(t *testing.T) {
	cfg := &Config{}
	cfg.Agents.Database.DSN = "postgres://localhost/handy"
	cfg.Agents.Cache.URL = "redis://localhost:6379"

	if got := cfg.HistoryDSN(); got != "postgres://localhost/handy" {
		t.Errorf("history dsn fallback = %q", got)
	}
	cfg.History.DSN = "postgres://other/history"
	if got := cfg.HistoryDSN(); got != "postgres://other/history" {
		t.Errorf("explicit history dsn = %q", got)
	}

	if got := cfg.StreamURL(); got != "redis://localhost:6379" {
		t.Errorf("stream url fallback = %q", got)
	}
}
