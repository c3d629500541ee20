// Package config loads the Sentinel configuration from YAML with
// environment overrides. A missing config file falls back to defaults,
// but a missing model API key fails fast at validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all Sentinel configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Agent    AgentConfig    `yaml:"agent"`
	Browser  BrowserConfig  `yaml:"browser"`
	Storage  StorageConfig  `yaml:"storage"`
	Notify   NotifyConfig   `yaml:"notify"`
	Logging  LoggingConfig  `yaml:"logging"`
	Projects []ProjectSeed  `yaml:"projects"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// AgentConfig configures the model driving runs.
type AgentConfig struct {
	Model       string `yaml:"model"`
	APIKey      string `yaml:"api_key"`
	BaseURL     string `yaml:"base_url"`
	MaxTurns    int    `yaml:"max_turns"`
	Timeout     string `yaml:"timeout"`
	ImageWindow int    `yaml:"image_window"`
}

// AgentTimeout parses the agent timeout, defaulting to 10 minutes.
func (c AgentConfig) AgentTimeout() time.Duration {
	if c.Timeout == "" {
		return 10 * time.Minute
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return 10 * time.Minute
	}
	return d
}

// BrowserConfig configures Chrome.
type BrowserConfig struct {
	DebuggerURL         string `yaml:"debugger_url"`
	ChromeBin           string `yaml:"chrome_bin"`
	Headless            *bool  `yaml:"headless"`
	NavigationTimeoutMs int    `yaml:"navigation_timeout_ms"`
}

// IsHeadless defaults to true when unset.
func (c BrowserConfig) IsHeadless() bool {
	return c.Headless == nil || *c.Headless
}

// StorageConfig configures persistence paths.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	EvidenceRoot string `yaml:"evidence_root"`
}

// NotifyConfig configures outbound notifications.
type NotifyConfig struct {
	SlackWebhookURL string            `yaml:"slack_webhook_url"`
	Owners          map[string]string `yaml:"owners"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// ProjectSeed registers a project at startup.
type ProjectSeed struct {
	ID            string   `yaml:"id"`
	Name          string   `yaml:"name"`
	BaseURL       string   `yaml:"base_url"`
	SensitiveKeys []string `yaml:"sensitive_keys"`
	SlackChannel  string   `yaml:"slack_channel"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8787"},
		Agent: AgentConfig{
			Model:       "claude-sonnet-4-20250514",
			MaxTurns:    80,
			ImageWindow: 3,
		},
		Browser: BrowserConfig{NavigationTimeoutMs: 30000},
		Storage: StorageConfig{
			DatabasePath: "sentinel.db",
			EvidenceRoot: "evidence",
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads the YAML config at path, merging defaults, a .env file when
// present, and environment overrides. A missing config file is not an
// error; defaults apply.
func Load(path string) (*Config, error) {
	// .env is optional; real environment variables win over it.
	_ = godotenv.Load()

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SENTINEL_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("SENTINEL_MODEL"); v != "" {
		c.Agent.Model = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" && !strings.HasPrefix(strings.ToLower(c.Agent.Model), "gemini") {
		c.Agent.APIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" && strings.HasPrefix(strings.ToLower(c.Agent.Model), "gemini") {
		c.Agent.APIKey = v
	}
	if v := os.Getenv("SENTINEL_DB"); v != "" {
		c.Storage.DatabasePath = v
	}
	if v := os.Getenv("SENTINEL_EVIDENCE_ROOT"); v != "" {
		c.Storage.EvidenceRoot = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		c.Notify.SlackWebhookURL = v
	}
	if v := os.Getenv("CHROME_BIN"); v != "" {
		c.Browser.ChromeBin = v
	}
	if v := os.Getenv("SENTINEL_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate fails fast on settings the server cannot run without.
func (c *Config) Validate() error {
	if c.Agent.Model == "" {
		return fmt.Errorf("config: agent model is required")
	}
	if c.Agent.APIKey == "" {
		return fmt.Errorf("config: agent API key is required (set ANTHROPIC_API_KEY or GEMINI_API_KEY)")
	}
	if c.Storage.DatabasePath == "" {
		return fmt.Errorf("config: storage database_path is required")
	}
	return nil
}
