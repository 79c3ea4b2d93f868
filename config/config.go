package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/aschepis/memvault/reaper"
)

// DatabaseConfig controls where and how the SQLite database is opened.
type DatabaseConfig struct {
	Path          string `yaml:"path,omitempty"`            // Database file (default: ~/.memvault/memories.db)
	Driver        string `yaml:"driver,omitempty"`          // "sqlite" (pure Go) or "sqlite3" (cgo)
	BusyTimeoutMS int    `yaml:"busy_timeout_ms,omitempty"` // SQLite busy timeout in milliseconds
}

// LoggingConfig controls logger output.
type LoggingConfig struct {
	File   string `yaml:"file,omitempty"`   // Log file path; empty logs to stderr
	Pretty bool   `yaml:"pretty,omitempty"` // Human-readable console output
	Level  string `yaml:"level,omitempty"`  // debug, info, warn, error; LOG_LEVEL is used when empty
}

// ReaperConfig controls the background purge of expired records.
type ReaperConfig struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	Schedule string `yaml:"schedule,omitempty"` // e.g. "15m", "0 */15 * * * *"
}

// MetricsConfig controls the Prometheus endpoint started by serve.
type MetricsConfig struct {
	Addr string `yaml:"addr,omitempty"` // Listen address; empty disables the endpoint
}

// DefaultMaxRetries is used when retry.max_retries is not set.
const DefaultMaxRetries = 3

// RetryConfig controls retries of idempotent service calls.
// MaxRetries is a pointer so that an explicit 0 disables retries; zero
// intervals fall back to the defaults.
type RetryConfig struct {
	MaxRetries        *int `yaml:"max_retries,omitempty"`
	InitialIntervalMS int  `yaml:"initial_interval_ms,omitempty"`
	MaxIntervalMS     int  `yaml:"max_interval_ms,omitempty"`
}

// Retries returns the configured retry count.
func (r RetryConfig) Retries() int {
	if r.MaxRetries == nil {
		return DefaultMaxRetries
	}
	return *r.MaxRetries
}

// InitialInterval returns the first retry delay.
func (r RetryConfig) InitialInterval() time.Duration {
	return time.Duration(r.InitialIntervalMS) * time.Millisecond
}

// MaxInterval returns the retry delay cap.
func (r RetryConfig) MaxInterval() time.Duration {
	return time.Duration(r.MaxIntervalMS) * time.Millisecond
}

// Config is the memvault configuration file.
type Config struct {
	Database DatabaseConfig `yaml:"database,omitempty"`
	Logging  LoggingConfig  `yaml:"logging,omitempty"`
	Reaper   ReaperConfig   `yaml:"reaper,omitempty"`
	Metrics  MetricsConfig  `yaml:"metrics,omitempty"`
	Retry    RetryConfig    `yaml:"retry,omitempty"`
}

// BusyTimeout returns the configured SQLite busy timeout.
func (c *Config) BusyTimeout() time.Duration {
	return time.Duration(c.Database.BusyTimeoutMS) * time.Millisecond
}

// Defaults returns the configuration used when no file is present.
func Defaults() Config {
	return Config{
		Database: DatabaseConfig{
			Path:          filepath.Join(homeDir(), ".memvault", "memories.db"),
			Driver:        "sqlite",
			BusyTimeoutMS: 5000,
		},
		Reaper: ReaperConfig{
			Enabled:  false,
			Schedule: "1h",
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9464",
		},
		Retry: RetryConfig{
			MaxRetries:        intPtr(DefaultMaxRetries),
			InitialIntervalMS: 50,
			MaxIntervalMS:     1000,
		},
	}
}

// GetConfigPath returns the default config file path.
// Can be overridden via MEMVAULT_CONFIG_PATH environment variable.
func GetConfigPath() string {
	if envPath := os.Getenv("MEMVAULT_CONFIG_PATH"); envPath != "" {
		return expandPath(envPath)
	}
	return filepath.Join(homeDir(), ".memvault", "config.yaml")
}

func intPtr(v int) *int { return &v }

func homeDir() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return dir
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// Load reads the config file at path and merges it onto the defaults.
// Returns defaults if the file doesn't exist. MEMVAULT_DB overrides the
// database path either way.
func Load(path string) (*Config, error) {
	defaults := Defaults()

	expandedPath := expandPath(path)
	if _, err := os.Stat(expandedPath); err == nil {
		configYAML, err := os.ReadFile(expandedPath) //#nosec 304 -- intentional file read for config
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", expandedPath, err)
		}

		var config Config
		if err := yaml.Unmarshal(configYAML, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}

		if err := mergo.Merge(&defaults, config, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge config: %w", err)
		}
		// mergo never lets a zero value override, so an explicit 0 is applied here.
		if config.Retry.MaxRetries != nil {
			defaults.Retry.MaxRetries = intPtr(*config.Retry.MaxRetries)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat config file %q: %w", expandedPath, err)
	}

	if envDB := os.Getenv("MEMVAULT_DB"); envDB != "" {
		defaults.Database.Path = envDB
	}
	defaults.Database.Path = expandPath(defaults.Database.Path)
	defaults.Logging.File = expandPath(defaults.Logging.File)

	return &defaults, nil
}

// Save writes cfg to path as YAML, creating the directory if needed.
func Save(cfg *Config, path string) error {
	expandedPath := expandPath(path)

	dir := filepath.Dir(expandedPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(expandedPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "sqlite3":
	default:
		return fmt.Errorf("database.driver must be \"sqlite\" or \"sqlite3\", got %q", c.Database.Driver)
	}
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}
	if c.Database.BusyTimeoutMS < 0 {
		return fmt.Errorf("database.busy_timeout_ms must not be negative, got %d", c.Database.BusyTimeoutMS)
	}
	if c.Retry.Retries() < 0 {
		return fmt.Errorf("retry.max_retries must not be negative, got %d", c.Retry.Retries())
	}
	if c.Retry.InitialIntervalMS < 0 || c.Retry.MaxIntervalMS < 0 {
		return errors.New("retry intervals must not be negative")
	}
	if c.Reaper.Enabled {
		if _, err := reaper.ParseSchedule(c.Reaper.Schedule); err != nil {
			return fmt.Errorf("reaper.schedule: %w", err)
		}
	}
	return nil
}
