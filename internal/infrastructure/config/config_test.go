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
	cfg, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 9090, cfg.Server.MetricsPort)
	assert.Equal(t, "automated", cfg.Assessment.DefaultMode)
	assert.True(t, cfg.Assessment.GeneratePoam)
	assert.False(t, cfg.Assessment.GenerateEvidence)
	assert.True(t, cfg.Assessment.UpdateSystemStatus)
	assert.Equal(t, 24*time.Hour, cfg.Assessment.CleanupAge)
	assert.Equal(t, 15*time.Minute, cfg.Redis.CatalogTTL)
}

func TestLoadFromYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
environment: production
log_level: warn
server:
  port: 8443
assessment:
  default_mode: hybrid
  generate_evidence: true
`), 0o600))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 8443, cfg.Server.Port)
	assert.Equal(t, "hybrid", cfg.Assessment.DefaultMode)
	assert.True(t, cfg.Assessment.GenerateEvidence)
	// Untouched keys keep their defaults.
	assert.Equal(t, 9090, cfg.Server.MetricsPort)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: warn\n"), 0o600))

	t.Setenv("CAE_LOG_LEVEL", "debug")
	t.Setenv("CAE_DATABASE__URL", "postgres://localhost:5432/compliance")

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "postgres://localhost:5432/compliance", cfg.Database.URL)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("CAE_ASSESSMENT__DEFAULT_MODE", "yolo")

	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validating config")
}
