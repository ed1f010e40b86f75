package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func missingEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "absent.env")
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(missingEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, ":3000", cfg.ConsoleAddr)
	assert.Equal(t, "admin", cfg.APINamespace)
	assert.Equal(t, 5, cfg.NotificationLimit)
	assert.Equal(t, 500*time.Millisecond, cfg.SearchDebounce)
	assert.Equal(t, 300*time.Millisecond, cfg.BulkStagger)
	assert.Equal(t, 5*time.Second, cfg.RealtimeReconnect)
	assert.Zero(t, cfg.APITimeout)
	assert.Equal(t, 12*time.Hour, cfg.WorkspaceIdleTTL)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("API_BASE_URL", "https://api.example.com/")
	t.Setenv("API_NAMESPACE", "/staff/")
	t.Setenv("SEARCH_DEBOUNCE", "250ms")

	cfg, err := Load(missingEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com", cfg.APIBaseURL)
	assert.Equal(t, "staff", cfg.APINamespace)
	assert.Equal(t, 250*time.Millisecond, cfg.SearchDebounce)
	assert.Equal(t, "wss://api.example.com/staff/ws", cfg.RealtimeEndpoint())
}

func TestLoad_ReadsEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "console.env")
	require.NoError(t, WriteDotEnv(path, map[string]string{"CONSOLE_ADDR": ":4567"}, false))
	t.Cleanup(func() { _ = os.Unsetenv("CONSOLE_ADDR") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":4567", cfg.ConsoleAddr)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"relative base url", func(c *Config) { c.APIBaseURL = "/api" }},
		{"bad realtime scheme", func(c *Config) { c.RealtimeURL = "http://x" }},
		{"negative limit", func(c *Config) { c.NotificationLimit = -1 }},
		{"negative stagger", func(c *Config) { c.BulkStagger = -time.Second }},
		{"unknown log format", func(c *Config) { c.LogFormat = "xml" }},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(missingEnvFile(t))
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestWriteDotEnv_RefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, WriteDotEnv(path, map[string]string{"A": "1"}, false))
	assert.Error(t, WriteDotEnv(path, map[string]string{"A": "2"}, false))
	require.NoError(t, WriteDotEnv(path, map[string]string{"A": "2"}, true))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `A=2`)
}
