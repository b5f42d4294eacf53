package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/seoworks/indexer-cli/internal/probe"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "indexer.db", cfg.Store.DatabaseURL)
	assert.Equal(t, int32(10), cfg.Store.Pool.MaxConns)
	assert.Equal(t, int32(2), cfg.Store.Pool.MinConns)
	assert.Equal(t, 200, cfg.Credentials.QuotaPerKey)
	assert.Equal(t, 30, cfg.Probe.TimeoutSecs)
	assert.Equal(t, probe.DefaultUserAgent, cfg.Probe.UserAgent)
	assert.Equal(t, 3, cfg.Probe.MaxRetries)
	assert.InDelta(t, 2.0, cfg.Probe.RatePerSec, 0.001)
	assert.Equal(t, 1, cfg.Probe.Burst)
	assert.Equal(t, "https://indexing.googleapis.com", cfg.Submit.Endpoint)
	assert.InDelta(t, 10.0, cfg.Submit.RatePerSec, 0.001)
	assert.Equal(t, 30, cfg.Submit.TimeoutSecs)
	assert.Equal(t, "reports", cfg.Sink.Dir)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.InDelta(t, 0.25, cfg.Monitoring.FailureRateThreshold, 0.001)
	assert.Equal(t, 300, cfg.Monitoring.CheckIntervalSecs)
	assert.Equal(t, 24, cfg.Monitoring.LookbackWindowHours)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/indexer
credentials:
  key_files:
    - keys/sa-1.json
    - keys/sa-2.json
  quota_per_key: 100
log:
  level: debug
  format: console
server:
  port: 9090
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/indexer", cfg.Store.DatabaseURL)
	assert.Equal(t, []string{"keys/sa-1.json", "keys/sa-2.json"}, cfg.Credentials.KeyFiles)
	assert.Equal(t, 100, cfg.Credentials.QuotaPerKey)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	// Defaults still apply for unset values
	assert.Equal(t, 30, cfg.Probe.TimeoutSecs)
	assert.Equal(t, "reports", cfg.Sink.Dir)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("INDEXER_STORE_DRIVER", "postgres")
	t.Setenv("INDEXER_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("INDEXER_SERVER_PORT", "3000")
	t.Setenv("INDEXER_SINK_DIR", "out")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "out", cfg.Sink.Dir)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "indexer.db"
	cfg.Credentials.QuotaPerKey = 200
	cfg.Probe.TimeoutSecs = 30
	cfg.Submit.RatePerSec = 10
	cfg.Sink.Dir = "reports"
	cfg.Server.Port = 8080
	cfg.Monitoring.LookbackWindowHours = 24
	return cfg
}

func TestValidateSubmit_AllPresent(t *testing.T) {
	cfg := validDefaults()
	cfg.Credentials.KeyFiles = []string{"keys/sa-1.json"}

	assert.NoError(t, cfg.Validate("submit"))
}

func TestValidateSubmit_ManifestAlone(t *testing.T) {
	cfg := validDefaults()
	cfg.Credentials.Manifest = "keys/manifest.yaml"

	assert.NoError(t, cfg.Validate("submit"))
}

func TestValidateSubmit_MissingFields(t *testing.T) {
	cfg := validDefaults()
	cfg.Credentials.QuotaPerKey = 0
	cfg.Sink.Dir = ""

	err := cfg.Validate("submit")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "credentials.key_files or credentials.manifest is required")
	assert.Contains(t, err.Error(), "credentials.quota_per_key must be > 0")
	assert.Contains(t, err.Error(), "sink.dir is required")
}

func TestValidateBadDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"

	err := cfg.Validate("runs")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be sqlite or postgres")
}

func TestValidateRuns_NoDB(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = ""

	err := cfg.Validate("runs")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
}

func TestValidateCheck_BadTimeout(t *testing.T) {
	cfg := validDefaults()
	cfg.Probe.TimeoutSecs = 0

	err := cfg.Validate("check")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "probe.timeout_secs must be > 0")
}

func TestValidateServe_ValidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 9090

	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
