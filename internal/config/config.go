// Package config loads console and devapi settings from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

const DefaultEnvFile = ".env"

type Config struct {
	ConsoleAddr  string `env:"CONSOLE_ADDR" default:":3000"`
	APIBaseURL   string `env:"API_BASE_URL" default:"http://localhost:8080"`
	APINamespace string `env:"API_NAMESPACE" default:"admin"`
	RealtimeURL  string `env:"REALTIME_URL"`
	DataDir      string `env:"DATA_DIR" default:"./data"`

	NotificationLimit int           `env:"NOTIFICATION_LIMIT" default:"5"`
	SearchDebounce    time.Duration `env:"SEARCH_DEBOUNCE" default:"500ms"`
	BulkStagger       time.Duration `env:"BULK_STAGGER" default:"300ms"`
	RealtimeReconnect time.Duration `env:"REALTIME_RECONNECT" default:"5s"`
	APITimeout        time.Duration `env:"API_TIMEOUT" default:"0s"`
	WorkspaceIdleTTL  time.Duration `env:"WORKSPACE_IDLE_TTL" default:"12h"`

	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	DevAPIAddr          string `env:"DEVAPI_ADDR" default:":8080"`
	DevAPIAdminEmail    string `env:"DEVAPI_ADMIN_EMAIL" default:"admin@example.com"`
	DevAPIAdminPassword string `env:"DEVAPI_ADMIN_PASSWORD"`
}

// Load reads envFile (when present) and then the process environment. Variables already set win over the file.
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = DefaultEnvFile
	}
	if err := godotenv.Load(envFile); err != nil {
		slog.Debug("no env file loaded, using environment variables", "path", envFile)
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	cfg.APINamespace = strings.Trim(strings.TrimSpace(cfg.APINamespace), "/")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("API_BASE_URL must be an absolute http(s) URL, got %q", c.APIBaseURL)
	}
	if c.RealtimeURL != "" {
		u, err := url.Parse(c.RealtimeURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			return fmt.Errorf("REALTIME_URL must be a ws(s) URL, got %q", c.RealtimeURL)
		}
	}
	if c.ConsoleAddr == "" {
		return errors.New("CONSOLE_ADDR is required")
	}
	if c.NotificationLimit < 0 {
		return errors.New("NOTIFICATION_LIMIT must not be negative")
	}
	durations := map[string]time.Duration{
		"SEARCH_DEBOUNCE":    c.SearchDebounce,
		"BULK_STAGGER":       c.BulkStagger,
		"REALTIME_RECONNECT": c.RealtimeReconnect,
		"API_TIMEOUT":        c.APITimeout,
		"WORKSPACE_IDLE_TTL": c.WorkspaceIdleTTL,
	}
	for name, d := range durations {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	return nil
}

// RealtimeEndpoint is REALTIME_URL, or the API base rewritten to ws(s) with the namespace's /ws path.
func (c *Config) RealtimeEndpoint() string {
	if c.RealtimeURL != "" {
		return c.RealtimeURL
	}
	base := c.APIBaseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	if c.APINamespace == "" {
		return base + "/ws"
	}
	return base + "/" + c.APINamespace + "/ws"
}

// WriteDotEnv writes values to path. An existing file is kept unless overwrite is set.
func WriteDotEnv(path string, values map[string]string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}
	if err := godotenv.Write(values, path); err != nil {
		return err
	}
	return os.Chmod(path, 0o600)
}
