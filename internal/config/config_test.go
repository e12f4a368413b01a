package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PORTSIDE_DATA_DIR", dir)
	t.Setenv("PORTSIDE_LISTEN", "")
	t.Setenv("PORTSIDE_LOG_LEVEL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:4141" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.DataDir != dir {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, dir)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.Discovery.Source != "exec" {
		t.Errorf("Discovery.Source = %q", cfg.Discovery.Source)
	}
	wantList := []string{"systemctl", "list-units", "--type=service", "--all", "--no-pager", "--plain"}
	if !reflect.DeepEqual(cfg.Discovery.ListUnitsCommand, wantList) {
		t.Errorf("ListUnitsCommand = %v", cfg.Discovery.ListUnitsCommand)
	}
	if !reflect.DeepEqual(cfg.Discovery.PortsCommand, []string{"ss", "-tlnp"}) {
		t.Errorf("PortsCommand = %v", cfg.Discovery.PortsCommand)
	}
	if cfg.Health.TimeoutSeconds != 2 || cfg.Health.CacheTTLSeconds != 60 {
		t.Errorf("Health = %+v", cfg.Health)
	}
	if cfg.Health.RefreshEnabled {
		t.Error("RefreshEnabled = true, want false")
	}

	// First load writes the commented default config.
	if _, err := os.Stat(filepath.Join(dir, "config.toml")); err != nil {
		t.Errorf("default config not written: %v", err)
	}
}

func TestLoadFileValues(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PORTSIDE_DATA_DIR", dir)
	t.Setenv("PORTSIDE_LISTEN", "")
	t.Setenv("PORTSIDE_LOG_LEVEL", "")

	content := `listen = "0.0.0.0:9090"
log_level = "DEBUG"

[discovery]
source = "exec"
ports_command = "ss -H -tlnp"
main_pid_command = "systemctl show -p MainPID --value"

[health]
timeout_seconds = 5
cache_ttl_seconds = 30
refresh_enabled = true
refresh_schedule = "@every 5m"
`
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != "0.0.0.0:9090" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if !reflect.DeepEqual(cfg.Discovery.PortsCommand, []string{"ss", "-H", "-tlnp"}) {
		t.Errorf("PortsCommand = %v", cfg.Discovery.PortsCommand)
	}
	if !reflect.DeepEqual(cfg.Discovery.MainPIDCommand, []string{"systemctl", "show", "-p", "MainPID", "--value"}) {
		t.Errorf("MainPIDCommand = %v", cfg.Discovery.MainPIDCommand)
	}
	if cfg.Health.TimeoutSeconds != 5 || cfg.Health.CacheTTLSeconds != 30 {
		t.Errorf("Health = %+v", cfg.Health)
	}
	if !cfg.Health.RefreshEnabled || cfg.Health.RefreshSchedule != "@every 5m" {
		t.Errorf("refresh = %v %q", cfg.Health.RefreshEnabled, cfg.Health.RefreshSchedule)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PORTSIDE_DATA_DIR", dir)
	t.Setenv("PORTSIDE_LISTEN", "127.0.0.1:7777")
	t.Setenv("PORTSIDE_LOG_LEVEL", "warn")

	content := "listen = \"0.0.0.0:9090\"\nlog_level = \"debug\"\n"
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:7777" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestLoadRejectsUnknownSource(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PORTSIDE_DATA_DIR", dir)

	content := "[discovery]\nsource = \"proc\"\n"
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(); err == nil {
		t.Fatal("Load succeeded, want unknown source error")
	}
}
