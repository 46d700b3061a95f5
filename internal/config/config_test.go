package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(`{}`))
	require.NoError(t, err)

	assert.Equal(t, "./cg.db", cfg.DBPath)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 5*time.Minute, cfg.Attribution.Window())
	assert.Equal(t, 95.0, cfg.Stats.ConfidenceThreshold)
	assert.Equal(t, 30, cfg.Stats.MinSampleSize)
	assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, int64(64<<10), cfg.HTTP.MaxBodyBytes)
	assert.False(t, cfg.HTTP.ExposeErrorDetails)
}

func TestParse_Overrides(t *testing.T) {
	cfg, err := Parse([]byte(`
db_path: /var/lib/cg/cg.db
port: 9090
attribution:
  window_minutes: 10
stats:
  confidence_threshold: 99
  min_sample_size: 100
log:
  level: debug
  format: json
`))
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/cg/cg.db", cfg.DBPath)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 10*time.Minute, cfg.Attribution.Window())
	assert.Equal(t, 99.0, cfg.Stats.ConfidenceThreshold)
	assert.Equal(t, 100, cfg.Stats.MinSampleSize)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestParse_ValidationCollectsErrors(t *testing.T) {
	_, err := Parse([]byte(`
port: 70000
stats:
  confidence_threshold: 150
log:
  format: xml
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port 70000 out of range")
	assert.Contains(t, err.Error(), "confidence_threshold")
	assert.Contains(t, err.Error(), "log.format")
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "callgoat.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9000\n"), 0o600))

	t.Setenv("CG_PORT", "9100")
	t.Setenv("CG_ATTRIBUTION_WINDOW_MINUTES", "7")
	t.Setenv("CG_EXPOSE_ERROR_DETAILS", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, 7, cfg.Attribution.WindowMinutes)
	assert.True(t, cfg.HTTP.ExposeErrorDetails)
}
