package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, Validate(cfg))

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, 1000, cfg.Bench.Requests)
	assert.Equal(t, time.Second, cfg.Bench.Timeout)
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	// An explicitly named but missing file is an error, not a silent
	// fallback.
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoadNoFileAnywhereUsesDefaults(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hermes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logging:
  level: DEBUG
  format: json
bench:
  requests: 5
  payload_size: 16
  timeout: 250ms
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 5, cfg.Bench.Requests)
	assert.Equal(t, 16, cfg.Bench.PayloadSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Bench.Timeout)
	// Untouched fields keep their defaults.
	assert.Equal(t, Default().Bench.MaxMsgSize, cfg.Bench.MaxMsgSize)
}

func TestEnvOverride(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	t.Setenv("HERMES_LOGGING_LEVEL", "ERROR")
	t.Setenv("HERMES_BENCH_REQUESTS", "42")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "ERROR", cfg.Logging.Level)
	assert.Equal(t, 42, cfg.Bench.Requests)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Bench.Requests = 0
	assert.Error(t, Validate(cfg))

	cfg = Default()
	cfg.Logging.Level = "LOUD"
	assert.Error(t, Validate(cfg))

	cfg = Default()
	cfg.Logging.Format = "xml"
	assert.Error(t, Validate(cfg))
}
