package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultManifestURL, cfg.ManifestURL)
	assert.Equal(t, 3, cfg.Concurrency)
	assert.Equal(t, 3, cfg.Retries)
	assert.Equal(t, 500*time.Millisecond, cfg.Backoff)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.NotEmpty(t, cfg.TempDir)
	assert.NotEmpty(t, cfg.StateFile)
	assert.False(t, cfg.Quiet)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("MAS_MANIFEST_URL", "https://mirror.example.com/manifest.json")
	t.Setenv("MAS_CONCURRENCY", "5")
	t.Setenv("MAS_BACKOFF", "2s")
	t.Setenv("MAS_QUIET", "true")
	t.Setenv("MAS_VOLUME_DB", "-3.5")
	t.Setenv("MAS_LOG_FORMAT", "json")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://mirror.example.com/manifest.json", cfg.ManifestURL)
	assert.Equal(t, 5, cfg.Concurrency)
	assert.Equal(t, 2*time.Second, cfg.Backoff)
	assert.True(t, cfg.Quiet)
	assert.Equal(t, -3.5, cfg.VolumeDB)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("MAS_CONCURRENCY", "many")
	t.Setenv("MAS_BACKOFF", "soon")
	t.Setenv("MAS_QUIET", "perhaps")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Concurrency)
	assert.Equal(t, 500*time.Millisecond, cfg.Backoff)
	assert.False(t, cfg.Quiet)
}

func TestLoad_ValidationFailure(t *testing.T) {
	t.Setenv("MAS_MANIFEST_URL", "not a url")

	_, err := Load()
	assert.Error(t, err)

	t.Setenv("MAS_MANIFEST_URL", DefaultManifestURL)
	t.Setenv("MAS_CONCURRENCY", "64")

	_, err = Load()
	assert.Error(t, err, "concurrency above the cap must fail validation")
}

func TestLoad_BadLogLevel(t *testing.T) {
	t.Setenv("MAS_LOG_LEVEL", "loud")

	_, err := Load()
	assert.Error(t, err)
}
