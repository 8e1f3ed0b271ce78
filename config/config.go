// Package config loads and persists quill configuration from TOML files,
// environment variables, and defaults.
package config

import (
	"fmt"
	"time"
)

// Config represents the core quill configuration
type Config struct {
	Database     DatabaseConfig     `mapstructure:"database"`
	Sync         SyncConfig         `mapstructure:"sync"`
	Remote       RemoteConfig       `mapstructure:"remote"`
	Connectivity ConnectivityConfig `mapstructure:"connectivity"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// SyncConfig configures the sync queue and drain loop
type SyncConfig struct {
	BatchSize             int    `mapstructure:"batch_size"`              // Operations per drain batch (default: 20)
	QueueCap              int    `mapstructure:"queue_cap"`               // Hard cap on queued operations (default: 10000)
	RetryCeiling          int    `mapstructure:"retry_ceiling"`           // Retries before parking as failed (default: 5)
	BackoffBaseMs         int    `mapstructure:"backoff_base_ms"`         // Exponential backoff base (default: 1000)
	BackoffCapMs          int    `mapstructure:"backoff_cap_ms"`          // Backoff ceiling (default: 300000)
	ConflictPolicy        string `mapstructure:"conflict_policy"`         // use-local, use-remote, manual-merge (default)
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds"` // Per-upload HTTP timeout (default: 30)
	RequestsPerMinute     int    `mapstructure:"requests_per_minute"`     // Upload rate limit, 0 = unlimited (default: 120)
}

// RemoteConfig configures the sync server
type RemoteConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	AuthToken string `mapstructure:"auth_token"`
}

// ConnectivityConfig configures the reachability probe
type ConnectivityConfig struct {
	ProbeIntervalSeconds int `mapstructure:"probe_interval_seconds"` // Seconds between health probes (default: 30)
}

// File system constants
const (
	DefaultDirPermissions  = 0o755
	DefaultFilePermissions = 0o644
)

// GetDatabasePath returns the configured database path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return "quill.db"
	}
	return c.Database.Path
}

// BackoffBase returns the backoff base as a duration
func (c *Config) BackoffBase() time.Duration {
	if c.Sync.BackoffBaseMs <= 0 {
		return time.Second
	}
	return time.Duration(c.Sync.BackoffBaseMs) * time.Millisecond
}

// BackoffCap returns the backoff ceiling as a duration
func (c *Config) BackoffCap() time.Duration {
	if c.Sync.BackoffCapMs <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Sync.BackoffCapMs) * time.Millisecond
}

// RequestTimeout returns the per-upload HTTP timeout as a duration
func (c *Config) RequestTimeout() time.Duration {
	if c.Sync.RequestTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Sync.RequestTimeoutSeconds) * time.Second
}

// ProbeInterval returns the connectivity probe interval as a duration
func (c *Config) ProbeInterval() time.Duration {
	if c.Connectivity.ProbeIntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Connectivity.ProbeIntervalSeconds) * time.Second
}

// String returns a string representation of the config. The auth token is
// deliberately omitted.
func (c *Config) String() string {
	return fmt.Sprintf("Config{Database: %s, Remote: %s, Sync: {BatchSize: %d, Policy: %s}}",
		c.Database.Path, c.Remote.BaseURL, c.Sync.BatchSize, c.Sync.ConflictPolicy)
}
