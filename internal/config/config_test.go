package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_LoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfigFilename), []byte(`{"APIKEY": "k1"}`), 0600))

	m := NewManager(dir)
	cfg, err := m.Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultUpstreamEndpoint, cfg.Upstream.Endpoint)
	assert.Equal(t, DefaultTokenEndpoint, cfg.Upstream.TokenEndpoint)
	assert.Equal(t, "k1", cfg.APIKey)
}

func TestConfig_FillDefaults(t *testing.T) {
	// Interactive setup leaves accepted defaults as zero values; filling
	// them must produce a config that validates and saves cleanly.
	cfg := &Config{APIKey: "k1"}
	cfg.FillDefaults()

	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultUpstreamEndpoint, cfg.Upstream.Endpoint)
	assert.Equal(t, DefaultTokenEndpoint, cfg.Upstream.TokenEndpoint)
	assert.Equal(t, "k1", cfg.APIKey)

	// Explicit answers survive.
	cfg = &Config{Host: "0.0.0.0", Port: 9000}
	cfg.FillDefaults()
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 9000, cfg.Port)
}

func TestManager_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultConfigFilename), []byte(`{}`), 0600))

	t.Setenv("DATABASE_URL", "postgres://env")
	t.Setenv("QRELAY_API_KEY", "env-key")
	t.Setenv("UPSTREAM_ENDPOINT", "https://alt.example.com/")

	cfg, err := NewManager(dir).Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://env", cfg.DatabaseURL)
	assert.Equal(t, "env-key", cfg.APIKey)
	assert.Equal(t, "https://alt.example.com/", cfg.Upstream.Endpoint)
}

func TestManager_SaveRoundTrip(t *testing.T) {
	m := NewManager(t.TempDir())

	require.NoError(t, m.Save(&Config{Host: "0.0.0.0", Port: 9000}))
	assert.True(t, m.Exists())

	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 9000, cfg.Port)
}

func TestManager_GetFallsBackWithoutFile(t *testing.T) {
	m := NewManager(t.TempDir())

	cfg := m.Get()
	require.NotNil(t, cfg)
	assert.Equal(t, DefaultPort, cfg.Port)
}

func TestManager_LoadMissingFile(t *testing.T) {
	_, err := NewManager(t.TempDir()).Load()
	assert.Error(t, err)
}
