package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "http://localhost:9000", cfg.Server.BaseURL)
	assert.Equal(t, 2, cfg.Assets.MaxRetries)
	assert.Equal(t, 500, cfg.Assets.BackoffStepMs)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[server]
base_url = "https://sessions.example.test"

[logging]
level = "debug"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "https://sessions.example.test", cfg.Server.BaseURL)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// untouched sections keep their defaults
	assert.Equal(t, 256, cfg.Realtime.SendBufferSize)
	assert.Equal(t, "luup-sessions.db", cfg.Storage.SQLitePath)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestLoadWithFallbackPrefersExplicitPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "explicit.toml")
	require.NoError(t, os.WriteFile(path, []byte(`[logging]
level = "warn"
`), 0644))

	cfg, err := LoadWithFallback(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty base url", func(c *Config) { c.Server.BaseURL = "" }},
		{"non-http base url", func(c *Config) { c.Server.BaseURL = "ftp://example.test" }},
		{"empty sqlite path", func(c *Config) { c.Storage.SQLitePath = "" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"zero send buffer", func(c *Config) { c.Realtime.SendBufferSize = 0 }},
		{"negative retries", func(c *Config) { c.Assets.MaxRetries = -1 }},
		{"zero list refresh", func(c *Config) { c.Sessions.ListRefreshSeconds = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
