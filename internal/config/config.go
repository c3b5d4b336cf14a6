package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the cache service.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Cache    CacheConfig    `yaml:"cache"`
	Tracker  TrackerConfig  `yaml:"tracker"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

// GetHost returns the server host, with container detection.
func (c ServerConfig) GetHost() string {
	// In a container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds the Postgres connection settings. The same URL is
// used for the pooled query connection and for the dedicated LISTEN/NOTIFY
// connection.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// CacheConfig holds the projection engine settings.
type CacheConfig struct {
	ForwardWindowDays          int `yaml:"forward_window_days"`
	CleanupIntervalHours       int `yaml:"cleanup_interval_hours"`
	CleanupStartupDelayMinutes int `yaml:"cleanup_startup_delay_minutes"`
}

// ForwardWindow returns the loader's forward window as a duration.
func (c CacheConfig) ForwardWindow() time.Duration {
	return time.Duration(c.ForwardWindowDays) * 24 * time.Hour
}

// CleanupInterval returns the cleaner cadence as a duration.
func (c CacheConfig) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalHours) * time.Hour
}

// CleanupStartupDelay returns the delay before the first cleanup run.
func (c CacheConfig) CleanupStartupDelay() time.Duration {
	return time.Duration(c.CleanupStartupDelayMinutes) * time.Minute
}

// TrackerConfig holds the attendance tracker settings. Rotation cadence is
// fixed at one minute and is deliberately not configurable: the history
// entries are defined as minutes.
type TrackerConfig struct {
	SessionCleanupMinutes int     `yaml:"session_cleanup_minutes"`
	RuleCleanupMinutes    int     `yaml:"rule_cleanup_minutes"`
	RuleStalenessMinutes  int     `yaml:"rule_staleness_minutes"`
	ActivityThreshold     float64 `yaml:"activity_threshold"`
	PersistTimeoutSeconds int     `yaml:"persist_timeout_seconds"`
	MaxPersistAttempts    int     `yaml:"max_persist_attempts"`
}

// SessionCleanupInterval returns how often ended session trackers are persisted.
func (c TrackerConfig) SessionCleanupInterval() time.Duration {
	return time.Duration(c.SessionCleanupMinutes) * time.Minute
}

// RuleCleanupInterval returns how often stale rule trackers are swept.
func (c TrackerConfig) RuleCleanupInterval() time.Duration {
	return time.Duration(c.RuleCleanupMinutes) * time.Minute
}

// RuleStaleness returns the idle threshold after which a rule-context tracker
// is dropped.
func (c TrackerConfig) RuleStaleness() time.Duration {
	return time.Duration(c.RuleStalenessMinutes) * time.Minute
}

// PersistTimeout returns the per-attempt deadline for aggregate writes.
func (c TrackerConfig) PersistTimeout() time.Duration {
	return time.Duration(c.PersistTimeoutSeconds) * time.Second
}

// Load reads and parses the configuration file. A missing file is not an
// error: the service can run entirely from defaults plus environment
// variables.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Cache.ForwardWindowDays == 0 {
		cfg.Cache.ForwardWindowDays = 7
	}
	if cfg.Cache.CleanupIntervalHours == 0 {
		cfg.Cache.CleanupIntervalHours = 6
	}
	if cfg.Cache.CleanupStartupDelayMinutes == 0 {
		cfg.Cache.CleanupStartupDelayMinutes = 60
	}
	if cfg.Tracker.SessionCleanupMinutes == 0 {
		cfg.Tracker.SessionCleanupMinutes = 5
	}
	if cfg.Tracker.RuleCleanupMinutes == 0 {
		cfg.Tracker.RuleCleanupMinutes = 10
	}
	if cfg.Tracker.RuleStalenessMinutes == 0 {
		cfg.Tracker.RuleStalenessMinutes = 30
	}
	if cfg.Tracker.ActivityThreshold == 0 {
		cfg.Tracker.ActivityThreshold = 0.8
	}
	if cfg.Tracker.PersistTimeoutSeconds == 0 {
		cfg.Tracker.PersistTimeoutSeconds = 5
	}
	if cfg.Tracker.MaxPersistAttempts == 0 {
		cfg.Tracker.MaxPersistAttempts = 1
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in production.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if v := os.Getenv("CACHE_FORWARD_WINDOW_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Cache.ForwardWindowDays = n
		}
	}
	if v := os.Getenv("CACHE_CLEANUP_INTERVAL_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Cache.CleanupIntervalHours = n
		}
	}
	if v := os.Getenv("TRACKER_MAX_PERSIST_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Tracker.MaxPersistAttempts = n
		}
	}

	return cfg, nil
}
