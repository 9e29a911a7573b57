package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9090\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Dialect)
	assert.Equal(t, 30*time.Second, cfg.Poller.Interval)
	assert.Equal(t, 10*time.Second, cfg.Poller.Timeout)
	assert.Equal(t, 1, cfg.Poller.MaxInFlight)
	assert.Equal(t, "GET", cfg.Poller.Source.Method)
	assert.Equal(t, 3, cfg.Poller.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Poller.Retry.BaseDelay)
	assert.Equal(t, 10*time.Second, cfg.Poller.Retry.CapDelay)
	assert.Equal(t, []string{"pump", "solenoid"}, cfg.Interlock.Actuators)
	assert.Equal(t, "float", cfg.Interlock.FloatSensor)
	assert.Equal(t, []float64{0}, cfg.Interlock.UnsafeValues)
	assert.Equal(t, []string{"empty", "unsafe", "low", "dry"}, cfg.Interlock.UnsafeStates)
	assert.Equal(t, []string{"safe", "full", "ok", "high"}, cfg.Interlock.SafeStates)
	assert.Equal(t, 1, cfg.Events.Workers)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "poller:\n  interval_ms: 1000\n  source:\n    url: http://file\n")
	t.Setenv("POLL_MS", "250")
	t.Setenv("TELEMETRY_SOURCE_URL", "http://env")
	t.Setenv("DATABASE_DIALECT", "SQLite")
	t.Setenv("DATABASE_DSN", "file::memory:")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.Poller.Interval)
	assert.Equal(t, "http://env", cfg.Poller.Source.URL)
	assert.Equal(t, "sqlite", cfg.Database.Dialect)
	assert.Equal(t, "file::memory:", cfg.Database.DSN)
}

func TestLoad_CapBelowBaseIsKept(t *testing.T) {
	path := writeConfig(t, "poller:\n  retry:\n    base_delay_ms: 2000\n    cap_delay_ms: 100\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.Poller.Retry.BaseDelay)
	assert.Equal(t, 100*time.Millisecond, cfg.Poller.Retry.CapDelay)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
