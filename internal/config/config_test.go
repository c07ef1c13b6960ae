package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cell-module.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, zerolog.InfoLevel, cfg.LogLevel)
	assert.Equal(t, "data/cell-module.db", cfg.DBPath)
	assert.Equal(t, "linux", cfg.Hardware)
	assert.Equal(t, 85, cfg.Module.SafetyCutoffC)
	assert.InDelta(t, 4.4, cfg.Module.LoadResistanceOhms, 1e-9)
	assert.Equal(t, 1000, cfg.Module.TickHz)
	assert.Equal(t, 8, cfg.Module.WatchdogSeconds)
	assert.Equal(t, 200, cfg.Module.PollIterations)
	assert.Equal(t, 1, cfg.Module.PollIntervalMs)
	assert.Equal(t, 5000, cfg.Module.MaxSleepMs)
	assert.InDelta(t, 5.0, cfg.PID.Kp, 1e-9)
	assert.InDelta(t, 1.0, cfg.PID.Ki, 1e-9)
	assert.InDelta(t, 0.1, cfg.PID.Kd, 1e-9)
	assert.InDelta(t, 3.0, cfg.PID.Hz, 1e-9)
	assert.False(t, cfg.Datadog.Enabled)
	assert.Equal(t, "bms/cell", cfg.MQTT.TopicPrefix)
}

func TestLoad_ConfigFile(t *testing.T) {
	path := writeConfig(t, `
log_level = "debug"
db_path = "/var/lib/cell/cell.db"
hardware = "sim"

[module]
safety_cutoff_c = 80
load_resistance_ohms = 3.3
poll_iterations = 50

[gpio]
chip = "gpiochip1"
load_line = 5

[mqtt]
broker = "tcp://broker:1883"
topic_prefix = "pack/cell07"

[datadog]
enabled = true
tags = ["cell:7", "pack:a"]
`)

	cfg, err := Load([]string{"--config", path})
	require.NoError(t, err)

	assert.Equal(t, path, cfg.ConfigFile)
	assert.Equal(t, zerolog.DebugLevel, cfg.LogLevel)
	assert.Equal(t, "/var/lib/cell/cell.db", cfg.DBPath)
	assert.Equal(t, "sim", cfg.Hardware)
	assert.Equal(t, 80, cfg.Module.SafetyCutoffC)
	assert.InDelta(t, 3.3, cfg.Module.LoadResistanceOhms, 1e-9)
	assert.Equal(t, 50, cfg.Module.PollIterations)
	assert.Equal(t, 1000, cfg.Module.TickHz, "unset keys keep their default")
	assert.Equal(t, "gpiochip1", cfg.GPIO.Chip)
	assert.Equal(t, 5, cfg.GPIO.LoadLine)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)
	assert.Equal(t, "pack/cell07", cfg.MQTT.TopicPrefix)
	assert.True(t, cfg.Datadog.Enabled)
	assert.Equal(t, []string{"cell:7", "pack:a"}, cfg.Datadog.Tags)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, `
[module]
safety_cutoff_c = 80
`)
	t.Setenv("CELLMODULE_MODULE_SAFETY_CUTOFF_C", "75")
	t.Setenv("CELLMODULE_DB_PATH", "/tmp/env.db")

	cfg, err := Load([]string{"--config", path})
	require.NoError(t, err)

	assert.Equal(t, 75, cfg.Module.SafetyCutoffC)
	assert.Equal(t, "/tmp/env.db", cfg.DBPath)
}

func TestLoad_FlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("CELLMODULE_HARDWARE", "linux")

	cfg, err := Load([]string{"--hardware", "sim", "--safe-mode", "--log-level", "warn", "--db", "/tmp/flag.db"})
	require.NoError(t, err)

	assert.Equal(t, "sim", cfg.Hardware)
	assert.True(t, cfg.SafeMode)
	assert.Equal(t, zerolog.WarnLevel, cfg.LogLevel)
	assert.Equal(t, "/tmp/flag.db", cfg.DBPath)
}

func TestLoad_InvalidFile(t *testing.T) {
	path := writeConfig(t, `this is not toml`)

	_, err := Load([]string{"--config", path})
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load([]string{"--config", filepath.Join(t.TempDir(), "nope.toml")})
	assert.Error(t, err)
}

func TestLoad_UnknownFlag(t *testing.T) {
	_, err := Load([]string{"--bogus"})
	assert.Error(t, err)
}

func TestModule_WatchdogGapMs(t *testing.T) {
	m := Module{MaxSleepMs: 5000, LoopIntervalMs: 4000, PollIterations: 200, PollIntervalMs: 1}
	assert.Equal(t, 5000+4000+200+watchdogMarginMs, m.WatchdogGapMs())
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			DBPath:   "x.db",
			Hardware: "sim",
			Module: Module{
				SafetyCutoffC:      85,
				LoadResistanceOhms: 4.4,
				TickHz:             1000,
				WatchdogSeconds:    8,
				PollIterations:     200,
				PollIntervalMs:     1,
				MaxSleepMs:         5000,
			},
			PID: PID{Hz: 3},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing db", func(c *Config) { c.DBPath = "" }, "db_path"},
		{"unknown hardware", func(c *Config) { c.Hardware = "arduino" }, "hardware"},
		{"zero tick", func(c *Config) { c.Module.TickHz = 0 }, "tick_hz"},
		{"zero resistance", func(c *Config) { c.Module.LoadResistanceOhms = 0 }, "load_resistance_ohms"},
		{"zero watchdog", func(c *Config) { c.Module.WatchdogSeconds = 0 }, "watchdog_seconds"},
		{"cutoff too low", func(c *Config) { c.Module.SafetyCutoffC = 20 }, "safety_cutoff_c"},
		{"negative poll", func(c *Config) { c.Module.PollIterations = -1 }, "poll_iterations"},
		{"sleep longer than watchdog", func(c *Config) { c.Module.MaxSleepMs = 8000 }, "max_sleep_ms"},
		{"zero sleep", func(c *Config) { c.Module.MaxSleepMs = 0 }, "max_sleep_ms"},
		{"negative loop interval", func(c *Config) { c.Module.LoopIntervalMs = -1 }, "loop_interval_ms"},
		{"sleep plus loop interval exceed watchdog", func(c *Config) { c.Module.LoopIntervalMs = 4000 }, "9700ms"},
		{"sleep plus long poll window exceed watchdog", func(c *Config) { c.Module.PollIterations = 2600 }, "watchdog period"},
		{"largest gap under watchdog", func(c *Config) { c.Module.LoopIntervalMs = 2299 }, ""},
		{"zero pid rate", func(c *Config) { c.PID.Hz = 0 }, "pid.hz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
