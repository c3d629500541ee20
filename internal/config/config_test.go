package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8787", cfg.Server.Addr)
	assert.Equal(t, "sentinel.db", cfg.Storage.DatabasePath)
	assert.True(t, cfg.Browser.IsHeadless())
	assert.Equal(t, 10*time.Minute, cfg.Agent.AgentTimeout())
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sentinel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9999"
agent:
  model: gemini-2.0-flash
  timeout: 5m
browser:
  headless: false
storage:
  database_path: /tmp/qa.db
projects:
  - id: shop
    name: Demo Shop
    base_url: https://shop.test
    sensitive_keys: [member_id]
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, "gemini-2.0-flash", cfg.Agent.Model)
	assert.Equal(t, 5*time.Minute, cfg.Agent.AgentTimeout())
	assert.False(t, cfg.Browser.IsHeadless())
	assert.Equal(t, "/tmp/qa.db", cfg.Storage.DatabasePath)
	require.Len(t, cfg.Projects, 1)
	assert.Equal(t, []string{"member_id"}, cfg.Projects[0].SensitiveKeys)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SENTINEL_ADDR", ":7000")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("SENTINEL_DB", "/data/s.db")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, "sk-test", cfg.Agent.APIKey)
	assert.Equal(t, "/data/s.db", cfg.Storage.DatabasePath)
}

func TestGeminiKeySelection(t *testing.T) {
	t.Setenv("SENTINEL_MODEL", "gemini-2.0-flash")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")
	t.Setenv("GEMINI_API_KEY", "sk-gem")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "sk-gem", cfg.Agent.APIKey)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.ErrorContains(t, cfg.Validate(), "API key")
	cfg.Agent.APIKey = "sk-test"
	assert.NoError(t, cfg.Validate())
	cfg.Agent.Model = ""
	assert.ErrorContains(t, cfg.Validate(), "model")
}

func TestBadTimeoutFallsBack(t *testing.T) {
	c := AgentConfig{Timeout: "not-a-duration"}
	assert.Equal(t, 10*time.Minute, c.AgentTimeout())
}
