package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Server   ServerConfig   `toml:"server"`   // Upstream session server settings
	Storage  StorageConfig  `toml:"storage"`  // Local cache persistence settings
	Logging  LoggingConfig  `toml:"logging"`  // Application logging settings
	Realtime RealtimeConfig `toml:"realtime"` // WebSocket channel settings
	Assets   AssetsConfig   `toml:"assets"`   // Photo retrieval settings
	Sessions SessionsConfig `toml:"sessions"` // Session list maintenance settings
}

// ServerConfig contains the upstream session server settings
type ServerConfig struct {
	BaseURL               string `toml:"base_url"`                // Base URL of the session server (e.g. http://localhost:9000)
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"` // Timeout for HTTP requests to the server
}

// StorageConfig contains local cache persistence settings
type StorageConfig struct {
	SQLitePath string `toml:"sqlite_path"` // Path to the local session cache database file
}

// LoggingConfig contains application logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", or "error"
	Format string `toml:"format"` // Log format: "json" (structured) or "console" (human-readable)
}

// RealtimeConfig contains WebSocket channel settings
type RealtimeConfig struct {
	HandshakeTimeoutSeconds int `toml:"handshake_timeout_seconds"` // Dial timeout for establishing a channel
	SendBufferSize          int `toml:"send_buffer_size"`          // Outbound message buffer per channel
}

// AssetsConfig contains photo retrieval settings
type AssetsConfig struct {
	MaxRetries    int `toml:"max_retries"`     // Retries after the initial attempt (total attempts = max_retries + 1)
	BackoffStepMs int `toml:"backoff_step_ms"` // Linear backoff step between attempts in milliseconds
}

// SessionsConfig contains session list maintenance settings
type SessionsConfig struct {
	ListRefreshSeconds int `toml:"list_refresh_seconds"` // Coarse refresh interval for the background active-sessions list
}

// Default returns a configuration with sensible defaults applied
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BaseURL:               "http://localhost:9000",
			RequestTimeoutSeconds: 30,
		},
		Storage: StorageConfig{
			SQLitePath: "luup-sessions.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Realtime: RealtimeConfig{
			HandshakeTimeoutSeconds: 10,
			SendBufferSize:          256,
		},
		Assets: AssetsConfig{
			MaxRetries:    2,
			BackoffStepMs: 500,
		},
		Sessions: SessionsConfig{
			ListRefreshSeconds: 30,
		},
	}
}

// Load reads and parses the configuration file at the given path
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	config := Default()
	if _, err := toml.DecodeFile(path, config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	return config, nil
}

// LoadWithFallback loads configuration from the preferred path if given,
// otherwise searches the conventional locations
func LoadWithFallback(preferredPath string) (*Config, error) {
	searchPaths := []string{
		preferredPath,
		"configs/config.toml",
		"config.toml",
	}

	uniquePaths := make([]string, 0, len(searchPaths))
	seen := make(map[string]bool)
	for _, path := range searchPaths {
		if path != "" && !seen[path] {
			uniquePaths = append(uniquePaths, path)
			seen[path] = true
		}
	}

	var lastErr error
	for _, path := range uniquePaths {
		if _, err := os.Stat(path); err == nil {
			config, err := Load(path)
			if err != nil {
				lastErr = fmt.Errorf("failed to load config from %s: %w", path, err)
				continue
			}
			return config, nil
		}
		lastErr = fmt.Errorf("config file not found: %s", path)
	}

	return nil, fmt.Errorf("config file not found in any of the expected locations: %v. Last error: %w", uniquePaths, lastErr)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server base_url is required")
	}
	if !strings.HasPrefix(c.Server.BaseURL, "http://") && !strings.HasPrefix(c.Server.BaseURL, "https://") {
		return fmt.Errorf("invalid server base_url: %s", c.Server.BaseURL)
	}
	if c.Server.RequestTimeoutSeconds < 0 {
		return fmt.Errorf("invalid request_timeout_seconds: %d", c.Server.RequestTimeoutSeconds)
	}

	if c.Storage.SQLitePath == "" {
		return fmt.Errorf("storage sqlite_path is required")
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if c.Realtime.SendBufferSize <= 0 {
		return fmt.Errorf("invalid realtime send_buffer_size: %d", c.Realtime.SendBufferSize)
	}
	if c.Realtime.HandshakeTimeoutSeconds < 0 {
		return fmt.Errorf("invalid realtime handshake_timeout_seconds: %d", c.Realtime.HandshakeTimeoutSeconds)
	}

	if c.Assets.MaxRetries < 0 {
		return fmt.Errorf("invalid assets max_retries: %d", c.Assets.MaxRetries)
	}
	if c.Assets.BackoffStepMs < 0 {
		return fmt.Errorf("invalid assets backoff_step_ms: %d", c.Assets.BackoffStepMs)
	}

	if c.Sessions.ListRefreshSeconds <= 0 {
		return fmt.Errorf("invalid sessions list_refresh_seconds: %d", c.Sessions.ListRefreshSeconds)
	}

	return nil
}
