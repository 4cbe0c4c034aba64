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
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080", cfg.BaseURL)
	assert.Equal(t, "sse", cfg.Transport)
	assert.Equal(t, 100, cfg.BackfillLimit)
	assert.Equal(t, 5*time.Second, cfg.BackfillTimeout)
	assert.Equal(t, time.Second, cfg.ReconnectBaseDelay)
	assert.Equal(t, 30*time.Second, cfg.ReconnectMaxDelay)
	assert.False(t, cfg.ReconnectFixed)
	assert.Equal(t, 2000, cfg.DedupCapacity)
	assert.Equal(t, 5000, cfg.EventLogCap)
	assert.Zero(t, cfg.RunCap)
	assert.Equal(t, 10*time.Second, cfg.PollInterval)
	assert.Equal(t, "nagare", cfg.ServiceName)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("NAGARE_BASE_URL", "http://producer:9000")
	t.Setenv("NAGARE_TRANSPORT", "websocket")
	t.Setenv("NAGARE_BACKFILL_LIMIT", "250")
	t.Setenv("NAGARE_BACKFILL_TIMEOUT", "2s")
	t.Setenv("NAGARE_RECONNECT_FIXED", "true")
	t.Setenv("NAGARE_RUN_CAP", "100")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://producer:9000", cfg.BaseURL)
	assert.Equal(t, "websocket", cfg.Transport)
	assert.Equal(t, 250, cfg.BackfillLimit)
	assert.Equal(t, 2*time.Second, cfg.BackfillTimeout)
	assert.True(t, cfg.ReconnectFixed)
	assert.Equal(t, 100, cfg.RunCap)
}

func TestLoadTOMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nagare.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
base_url = "http://from-file:7000"
backfill_limit = 42
`), 0o644))

	t.Setenv("NAGARE_CONFIG", path)
	t.Setenv("NAGARE_TRANSPORT", "websocket")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://from-file:7000", cfg.BaseURL, "file overrides env")
	assert.Equal(t, 42, cfg.BackfillLimit)
	assert.Equal(t, "websocket", cfg.Transport, "keys absent from the file keep their env values")
}

func TestLoadMissingConfigFile(t *testing.T) {
	t.Setenv("NAGARE_CONFIG", filepath.Join(t.TempDir(), "nope.toml"))
	_, err := Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := Config{
		BaseURL:       "http://localhost:8080",
		Transport:     "sse",
		BackfillLimit: 100,
		DedupCapacity: 2000,
		EventLogCap:   5000,
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty base url", func(c *Config) { c.BaseURL = "" }},
		{"bad transport", func(c *Config) { c.Transport = "carrier-pigeon" }},
		{"zero backfill limit", func(c *Config) { c.BackfillLimit = 0 }},
		{"zero dedup capacity", func(c *Config) { c.DedupCapacity = 0 }},
		{"zero event log cap", func(c *Config) { c.EventLogCap = 0 }},
		{"negative run cap", func(c *Config) { c.RunCap = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
