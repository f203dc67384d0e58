package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 4, cfg.Engine.MaxConcurrent)
	assert.Equal(t, 0, cfg.Engine.AvailableMemoryMB)
	assert.Equal(t, 3, cfg.Engine.DefaultMaxRetries)
	assert.Equal(t, 5, cfg.Engine.BreakerThreshold)
	assert.Equal(t, time.Minute, cfg.Engine.BreakerResetTimeout)
	assert.Equal(t, time.Second, cfg.Schedule.CheckInterval)
	assert.Equal(t, 24*time.Hour, cfg.Schedule.Retention)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TASKFORGE_SERVER_ADDR", ":9999")
	t.Setenv("TASKFORGE_ENGINE_MAX_CONCURRENT", "16")
	t.Setenv("TASKFORGE_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, 16, cfg.Engine.MaxConcurrent)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "taskforge.yaml")
	data := []byte(`
server:
  addr: ":7070"
engine:
  max_concurrent: 8
  breaker_threshold: 10
log_level: warn
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, 8, cfg.Engine.MaxConcurrent)
	assert.Equal(t, 10, cfg.Engine.BreakerThreshold)
	assert.Equal(t, "warn", cfg.LogLevel)
	// Unset file keys fall back to defaults.
	assert.Equal(t, 3, cfg.Engine.DefaultMaxRetries)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("TASKFORGE_LOG_LEVEL", "loud")
	_, err := Load("")
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
