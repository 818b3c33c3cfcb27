// Package config handles opsdesk configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config is the root configuration structure for opsdesk.
type Config struct {
	Session SessionConfig `yaml:"session" mapstructure:"session"`
	API     APIConfig     `yaml:"api" mapstructure:"api"`
	Push    PushConfig    `yaml:"push" mapstructure:"push"`
	Sync    SyncConfig    `yaml:"sync" mapstructure:"sync"`
	Typing  TypingConfig  `yaml:"typing" mapstructure:"typing"`
	Prefs   PrefsConfig   `yaml:"prefs" mapstructure:"prefs"`
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
}

// SessionConfig identifies the local user.
type SessionConfig struct {
	// UserID is sent as X-User-ID and used to subscribe to push events.
	UserID int64 `yaml:"user_id" mapstructure:"user_id"`

	DisplayName string `yaml:"display_name" mapstructure:"display_name"`

	// DefaultChannelID is activated when no last channel is remembered and
	// is the fallback after losing access to the active channel.
	DefaultChannelID int64 `yaml:"default_channel_id" mapstructure:"default_channel_id"`
}

// APIConfig points at the REST backend.
type APIConfig struct {
	BaseURL string        `yaml:"base_url" mapstructure:"base_url"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// PushConfig configures the push event transport.
type PushConfig struct {
	// Addr is host:port, or unix:/path for a local socket.
	Addr              string        `yaml:"addr" mapstructure:"addr"`
	DialTimeout       time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval" mapstructure:"reconnect_interval"`
	Buffer            int           `yaml:"buffer" mapstructure:"buffer"`
}

// SyncConfig tunes the sync engine.
type SyncConfig struct {
	// HistoryLimit is how many recent messages an activation fetches.
	HistoryLimit int `yaml:"history_limit" mapstructure:"history_limit"`

	// BulkConcurrency caps concurrent deletes in a bulk delete.
	BulkConcurrency int `yaml:"bulk_concurrency" mapstructure:"bulk_concurrency"`
}

// TypingConfig tunes typing indicators.
type TypingConfig struct {
	Debounce time.Duration `yaml:"debounce" mapstructure:"debounce"`
	Expiry   time.Duration `yaml:"expiry" mapstructure:"expiry"`
}

// PrefsConfig locates the persisted UI preferences.
type PrefsConfig struct {
	// Path is the JSON prefs file. Empty keeps prefs in memory only.
	Path string `yaml:"path" mapstructure:"path"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error).
	Level string `yaml:"level" mapstructure:"level"`

	// Format is the output format (json, console, auto).
	Format string `yaml:"format" mapstructure:"format"`

	// File is an optional log file path.
	File string `yaml:"file" mapstructure:"file"`

	// EnableCaller adds caller information to logs.
	EnableCaller bool `yaml:"enable_caller" mapstructure:"enable_caller"`
}

// ServerConfig configures `opsdesk serve`.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr"`
	PushAddr string `yaml:"push_addr" mapstructure:"push_addr"`
	DBPath   string `yaml:"db_path" mapstructure:"db_path"`
	SeedFile string `yaml:"seed_file" mapstructure:"seed_file"`

	// Metrics exposes /metrics on the HTTP listener.
	Metrics bool `yaml:"metrics" mapstructure:"metrics"`
}

// DefaultConfig returns a configuration with sensible defaults for a local
// reference backend.
func DefaultConfig() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Session: SessionConfig{
			UserID:           1,
			DefaultChannelID: 1,
		},
		API: APIConfig{
			BaseURL: "http://127.0.0.1:8740",
			Timeout: 10 * time.Second,
		},
		Push: PushConfig{
			Addr:              "127.0.0.1:8741",
			DialTimeout:       2 * time.Second,
			ReconnectInterval: 2 * time.Second,
			Buffer:            256,
		},
		Sync: SyncConfig{
			HistoryLimit:    200,
			BulkConcurrency: 8,
		},
		Typing: TypingConfig{
			Debounce: 3 * time.Second,
			Expiry:   5 * time.Second,
		},
		Prefs: PrefsConfig{
			Path: filepath.Join(dataDir, "prefs.json"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
		Server: ServerConfig{
			HTTPAddr: "127.0.0.1:8740",
			PushAddr: "127.0.0.1:8741",
			DBPath:   filepath.Join(dataDir, "opsdesk.db"),
			Metrics:  true,
		},
	}
}

func defaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "opsdesk")
	}
	return filepath.Join("~", ".local", "share", "opsdesk")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error
	if c.Session.UserID <= 0 {
		errs = append(errs, fmt.Errorf("session.user_id must be positive"))
	}
	if c.Session.DefaultChannelID < 0 {
		errs = append(errs, fmt.Errorf("session.default_channel_id must not be negative"))
	}
	if strings.TrimSpace(c.API.BaseURL) == "" {
		errs = append(errs, fmt.Errorf("api.base_url is required"))
	}
	if c.API.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("api.timeout must be positive"))
	}
	if strings.TrimSpace(c.Push.Addr) == "" {
		errs = append(errs, fmt.Errorf("push.addr is required"))
	}
	if c.Sync.HistoryLimit < 1 {
		errs = append(errs, fmt.Errorf("sync.history_limit must be at least 1"))
	}
	if c.Sync.BulkConcurrency < 1 {
		errs = append(errs, fmt.Errorf("sync.bulk_concurrency must be at least 1"))
	}
	if c.Typing.Debounce <= 0 {
		errs = append(errs, fmt.Errorf("typing.debounce must be positive"))
	}
	if c.Typing.Expiry <= 0 {
		errs = append(errs, fmt.Errorf("typing.expiry must be positive"))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "auto", "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be auto, json or console"))
	}
	return errors.Join(errs...)
}

// EnsureDirectories creates the parent directories of the prefs file and
// the server database.
func (c *Config) EnsureDirectories() error {
	for _, path := range []string{c.Prefs.Path, c.Server.DBPath, c.Logging.File} {
		if path == "" || path == ":memory:" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create directory for %s: %w", path, err)
		}
	}
	return nil
}
