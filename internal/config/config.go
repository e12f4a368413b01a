package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"mvdan.cc/sh/v3/shell"
)

// Config is the resolved runtime configuration. Precedence is
// environment > config file > built-in default.
type Config struct {
	ListenAddr string
	DataDir    string
	LogLevel   string

	Discovery Discovery
	Health    Health
}

// Discovery selects the host observation backend. The exec source
// shells out to the configured command lines; the dbus source talks to
// systemd directly and ignores the unit commands.
type Discovery struct {
	Source           string
	ListUnitsCommand []string
	MainPIDCommand   []string
	PortsCommand     []string
}

type Health struct {
	TimeoutSeconds  int
	CacheTTLSeconds int
	RefreshEnabled  bool
	RefreshSchedule string
}

const (
	defaultListUnitsCommand = "systemctl list-units --type=service --all --no-pager --plain"
	defaultMainPIDCommand   = "systemctl show --property=MainPID"
	defaultPortsCommand     = "ss -tlnp"
)

// fileConfig mirrors the on-disk TOML layout.
type fileConfig struct {
	Listen   string `toml:"listen"`
	LogLevel string `toml:"log_level"`

	Discovery struct {
		Source           string `toml:"source"`
		ListUnitsCommand string `toml:"list_units_command"`
		MainPIDCommand   string `toml:"main_pid_command"`
		PortsCommand     string `toml:"ports_command"`
	} `toml:"discovery"`

	Health struct {
		TimeoutSeconds  int    `toml:"timeout_seconds"`
		CacheTTLSeconds int    `toml:"cache_ttl_seconds"`
		RefreshEnabled  bool   `toml:"refresh_enabled"`
		RefreshSchedule string `toml:"refresh_schedule"`
	} `toml:"health"`
}

const defaultConfigContent = `# Portside configuration
# All values shown are defaults. Uncomment and edit to customize.

# Address and port the server listens on.
# Environment variable: PORTSIDE_LISTEN
# listen = "127.0.0.1:4141"

# Log level: debug, info, warn, error.
# Environment variable: PORTSIDE_LOG_LEVEL
# log_level = "info"

[discovery]
# Observation backend: "exec" shells out to the commands below,
# "dbus" talks to systemd over the system bus (Linux only).
# source = "exec"

# Command lines are parsed with shell word splitting.
# The unit name is appended to main_pid_command.
# list_units_command = "systemctl list-units --type=service --all --no-pager --plain"
# main_pid_command = "systemctl show --property=MainPID"
# ports_command = "ss -tlnp"

[health]
# Per-probe timeout and how long a probe result is reused.
# timeout_seconds = 2
# cache_ttl_seconds = 60

# Background refresh of configured services' health, cron syntax.
# refresh_enabled = false
# refresh_schedule = "@every 1m"
`

func Load() (Config, error) {
	cfg := Config{
		ListenAddr: "127.0.0.1:4141",
		LogLevel:   "info",
		Discovery: Discovery{
			Source: "exec",
		},
		Health: Health{
			TimeoutSeconds:  2,
			CacheTTLSeconds: 60,
			RefreshSchedule: "@every 1m",
		},
	}

	// Resolve DataDir first (needed for the config file path).
	if v := strings.TrimSpace(os.Getenv("PORTSIDE_DATA_DIR")); v != "" {
		cfg.DataDir = v
	} else if home, err := os.UserHomeDir(); err == nil {
		cfg.DataDir = filepath.Join(home, ".portside")
	}

	configPath := filepath.Join(cfg.DataDir, "config.toml")
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		writeDefaultConfig(configPath)
	}

	var file fileConfig
	if _, err := toml.DecodeFile(configPath, &file); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("parse %s: %w", configPath, err)
	}

	if v := strings.TrimSpace(os.Getenv("PORTSIDE_LISTEN")); v != "" {
		cfg.ListenAddr = v
	} else if file.Listen != "" {
		cfg.ListenAddr = file.Listen
	}

	if v := strings.TrimSpace(os.Getenv("PORTSIDE_LOG_LEVEL")); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	} else if file.LogLevel != "" {
		cfg.LogLevel = strings.ToLower(file.LogLevel)
	}

	if file.Discovery.Source != "" {
		cfg.Discovery.Source = strings.ToLower(file.Discovery.Source)
	}
	if cfg.Discovery.Source != "exec" && cfg.Discovery.Source != "dbus" {
		return Config{}, fmt.Errorf("unknown discovery source %q", cfg.Discovery.Source)
	}

	var err error
	cfg.Discovery.ListUnitsCommand, err = commandLine(file.Discovery.ListUnitsCommand, defaultListUnitsCommand)
	if err != nil {
		return Config{}, fmt.Errorf("list_units_command: %w", err)
	}
	cfg.Discovery.MainPIDCommand, err = commandLine(file.Discovery.MainPIDCommand, defaultMainPIDCommand)
	if err != nil {
		return Config{}, fmt.Errorf("main_pid_command: %w", err)
	}
	cfg.Discovery.PortsCommand, err = commandLine(file.Discovery.PortsCommand, defaultPortsCommand)
	if err != nil {
		return Config{}, fmt.Errorf("ports_command: %w", err)
	}

	if file.Health.TimeoutSeconds > 0 {
		cfg.Health.TimeoutSeconds = file.Health.TimeoutSeconds
	}
	if file.Health.CacheTTLSeconds > 0 {
		cfg.Health.CacheTTLSeconds = file.Health.CacheTTLSeconds
	}
	cfg.Health.RefreshEnabled = file.Health.RefreshEnabled
	if file.Health.RefreshSchedule != "" {
		cfg.Health.RefreshSchedule = file.Health.RefreshSchedule
	}

	return cfg, nil
}

// commandLine splits a configured command with shell word rules, so
// quoted arguments survive. Falls back to the default when unset.
func commandLine(raw, fallback string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		raw = fallback
	}
	fields, err := shell.Fields(raw, nil)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	return fields, nil
}

// writeDefaultConfig creates the config file with commented-out defaults.
// Best-effort: errors are silently ignored.
func writeDefaultConfig(path string) {
	_ = os.MkdirAll(filepath.Dir(path), 0o700)
	_ = os.WriteFile(path, []byte(defaultConfigContent), 0o600)
}
