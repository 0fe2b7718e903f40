package config

import (
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/spf13/viper"

	"github.com/jask/focusguard/internal/filter"
)

// Config holds application configuration.
type Config struct {
	Database DatabaseConfig
	Oracle   OracleConfig
	Filter   FilterConfig
	Session  SessionConfig
	Log      LogConfig
}

// DatabaseConfig holds sqlite settings.
type DatabaseConfig struct {
	Path string
}

// OracleConfig holds relevance oracle settings.
type OracleConfig struct {
	Provider  string
	APIKeyEnv string `mapstructure:"api_key_env"`
	APIKey    string `mapstructure:"api_key"`
	Model     string
	BaseURL   string `mapstructure:"base_url"`
	Timeout   time.Duration
	MaxLinks  int `mapstructure:"max_links"`
	// RatePerMinute caps oracle calls; 0 disables the cap.
	RatePerMinute int `mapstructure:"rate_per_minute"`
	Burst         int
}

// FilterConfig holds the content filter blocklists.
type FilterConfig struct {
	BlockedTLDs  []string `mapstructure:"blocked_tlds"`
	BlockedSites []string `mapstructure:"blocked_sites"`
}

// SessionConfig holds focus session defaults.
type SessionConfig struct {
	DefaultMinutes int `mapstructure:"default_minutes"`
}

// LogConfig holds logger settings. An empty path discards logs.
type LogConfig struct {
	Level string
	Path  string
}

// Path is the config file location: $FOCUSGUARD_CONFIG, else
// ~/.config/focusguard/config.toml.
func Path() string {
	if p := os.Getenv("FOCUSGUARD_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(os.Getenv("HOME"), ".config", "focusguard", "config.toml")
}

// Load reads configuration from file and env. Env var overrides use prefix FOCUSGUARD_.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("toml")
	v.SetConfigFile(Path())

	v.SetEnvPrefix("FOCUSGUARD")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// read config file if present
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound):
		case errors.Is(err, fs.ErrNotExist):
		default:
			return Config{}, errors.Wrap(err, "read config")
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, errors.Wrap(err, "unmarshal config")
	}
	return c, nil
}

func setDefaults(v *viper.Viper) {
	home := os.Getenv("HOME")
	v.SetDefault("database.path", filepath.Join(home, ".local", "share", "focusguard", "focusguard.db"))
	v.SetDefault("oracle.provider", "openai")
	v.SetDefault("oracle.api_key_env", "OPENAI_API_KEY")
	v.SetDefault("oracle.api_key", "")
	v.SetDefault("oracle.model", "gpt-4o-mini")
	v.SetDefault("oracle.base_url", "")
	v.SetDefault("oracle.timeout", 20*time.Second)
	v.SetDefault("oracle.max_links", 8)
	v.SetDefault("oracle.rate_per_minute", 30)
	v.SetDefault("oracle.burst", 3)
	v.SetDefault("filter.blocked_tlds", filter.DefaultBlockedTLDs)
	v.SetDefault("filter.blocked_sites", filter.DefaultBlockedSites)
	v.SetDefault("session.default_minutes", 25)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.path", filepath.Join(home, ".local", "state", "focusguard", "focusguard.log"))
}

// Save writes the provided config to disk, creating the config directory if needed.
// The API key is stored in plain text; prefer env vars or `focusguard secret set`.
func Save(cfg Config) error {
	path := Path()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "mkdir config dir")
	}

	v := viper.New()
	v.SetConfigType("toml")
	v.Set("database.path", cfg.Database.Path)
	v.Set("oracle.provider", cfg.Oracle.Provider)
	v.Set("oracle.api_key_env", cfg.Oracle.APIKeyEnv)
	v.Set("oracle.api_key", cfg.Oracle.APIKey)
	v.Set("oracle.model", cfg.Oracle.Model)
	v.Set("oracle.base_url", cfg.Oracle.BaseURL)
	v.Set("oracle.timeout", cfg.Oracle.Timeout.String())
	v.Set("oracle.max_links", cfg.Oracle.MaxLinks)
	v.Set("oracle.rate_per_minute", cfg.Oracle.RatePerMinute)
	v.Set("oracle.burst", cfg.Oracle.Burst)
	v.Set("filter.blocked_tlds", cfg.Filter.BlockedTLDs)
	v.Set("filter.blocked_sites", cfg.Filter.BlockedSites)
	v.Set("session.default_minutes", cfg.Session.DefaultMinutes)
	v.Set("log.level", cfg.Log.Level)
	v.Set("log.path", cfg.Log.Path)

	if err := v.WriteConfigAs(path); err != nil {
		return errors.Wrap(err, "write config")
	}
	return nil
}

// Settable lists the keys Set accepts.
var Settable = []string{
	"oracle.provider", "oracle.model", "oracle.base_url", "oracle.timeout",
	"oracle.max_links", "oracle.rate_per_minute", "oracle.burst",
	"session.default_minutes", "log.level", "log.path", "database.path",
}

// Set parses value into the field named by key.
func Set(cfg *Config, key, value string) error {
	value = strings.TrimSpace(value)
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "oracle.provider":
		switch strings.ToLower(value) {
		case "openai", "offline":
			cfg.Oracle.Provider = strings.ToLower(value)
		default:
			return errors.Errorf("oracle.provider must be openai or offline, got %q", value)
		}
	case "oracle.model":
		cfg.Oracle.Model = value
	case "oracle.base_url":
		cfg.Oracle.BaseURL = value
	case "oracle.timeout":
		d, err := time.ParseDuration(value)
		if err != nil || d <= 0 {
			return errors.Errorf("oracle.timeout must be a positive duration, got %q", value)
		}
		cfg.Oracle.Timeout = d
	case "oracle.max_links":
		return setInt(&cfg.Oracle.MaxLinks, key, value, 1)
	case "oracle.rate_per_minute":
		return setInt(&cfg.Oracle.RatePerMinute, key, value, 0)
	case "oracle.burst":
		return setInt(&cfg.Oracle.Burst, key, value, 1)
	case "session.default_minutes":
		return setInt(&cfg.Session.DefaultMinutes, key, value, 1)
	case "log.level":
		cfg.Log.Level = value
	case "log.path":
		cfg.Log.Path = value
	case "database.path":
		if value == "" {
			return errors.New("database.path must not be empty")
		}
		cfg.Database.Path = value
	default:
		return errors.Errorf("unknown key %q (settable: %s)", key, strings.Join(Settable, ", "))
	}
	return nil
}

func setInt(dst *int, key, value string, min int) error {
	n, err := strconv.Atoi(value)
	if err != nil || n < min {
		return errors.Errorf("%s must be an integer >= %d, got %q", key, min, value)
	}
	*dst = n
	return nil
}
