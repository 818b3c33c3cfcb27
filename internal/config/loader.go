package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. OPSDESK_API_BASE_URL.
const EnvPrefix = "OPSDESK"

// Loader handles configuration loading with Viper.
type Loader struct {
	v          *viper.Viper
	configFile string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{v: viper.New()}
}

// SetConfigFile sets an explicit config file path.
func (l *Loader) SetConfigFile(path string) {
	l.configFile = path
}

// Set overrides a key, taking precedence over file and environment. The
// CLI uses it for flags.
func (l *Loader) Set(key string, value any) {
	l.v.Set(key, value)
}

// Load loads configuration with proper precedence:
// defaults < config file < env vars < flags
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()
	l.setupViper(cfg)

	if err := l.loadConfigFile(); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	expandPaths(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// ConfigFileUsed returns the config file that was loaded.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Settings returns the merged key/value view, for diagnostics.
func (l *Loader) Settings() map[string]any {
	return l.v.AllSettings()
}

// expandTilde expands ~ to the user's home directory.
func expandTilde(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
	}
	return path
}

func expandPaths(cfg *Config) {
	cfg.Prefs.Path = expandTilde(cfg.Prefs.Path)
	cfg.Logging.File = expandTilde(cfg.Logging.File)
	cfg.Server.DBPath = expandTilde(cfg.Server.DBPath)
	cfg.Server.SeedFile = expandTilde(cfg.Server.SeedFile)
}

func (l *Loader) setupViper(cfg *Config) {
	v := l.v
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		v.AddConfigPath(filepath.Join(xdgConfig, "opsdesk"))
	}
	if homeDir, _ := os.UserHomeDir(); homeDir != "" {
		v.AddConfigPath(filepath.Join(homeDir, ".config", "opsdesk"))
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for key, value := range defaults(cfg) {
		v.SetDefault(key, value)
		// Unmarshal only sees env vars for keys that are explicitly bound.
		_ = v.BindEnv(key)
	}
	v.AutomaticEnv()
}

func defaults(cfg *Config) map[string]any {
	return map[string]any{
		"session.user_id":            cfg.Session.UserID,
		"session.display_name":       cfg.Session.DisplayName,
		"session.default_channel_id": cfg.Session.DefaultChannelID,

		"api.base_url": cfg.API.BaseURL,
		"api.timeout":  cfg.API.Timeout,

		"push.addr":               cfg.Push.Addr,
		"push.dial_timeout":       cfg.Push.DialTimeout,
		"push.reconnect_interval": cfg.Push.ReconnectInterval,
		"push.buffer":             cfg.Push.Buffer,

		"sync.history_limit":    cfg.Sync.HistoryLimit,
		"sync.bulk_concurrency": cfg.Sync.BulkConcurrency,

		"typing.debounce": cfg.Typing.Debounce,
		"typing.expiry":   cfg.Typing.Expiry,

		"prefs.path": cfg.Prefs.Path,

		"logging.level":         cfg.Logging.Level,
		"logging.format":        cfg.Logging.Format,
		"logging.file":          cfg.Logging.File,
		"logging.enable_caller": cfg.Logging.EnableCaller,

		"server.http_addr": cfg.Server.HTTPAddr,
		"server.push_addr": cfg.Server.PushAddr,
		"server.db_path":   cfg.Server.DBPath,
		"server.seed_file": cfg.Server.SeedFile,
		"server.metrics":   cfg.Server.Metrics,
	}
}

// loadConfigFile reads the config file. A missing file is only an error
// when one was set explicitly.
func (l *Loader) loadConfigFile() error {
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	}
	err := l.v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if err != nil && l.configFile == "" && errors.As(err, &notFound) {
		return nil
	}
	return err
}

// LoadFromFile loads configuration from a specific file.
func LoadFromFile(path string) (*Config, error) {
	loader := NewLoader()
	loader.SetConfigFile(path)
	return loader.Load()
}
