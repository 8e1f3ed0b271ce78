package config

import (
	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "quill.db")

	// Sync defaults
	v.SetDefault("sync.batch_size", 20)
	v.SetDefault("sync.queue_cap", 10000)
	v.SetDefault("sync.retry_ceiling", 5)
	v.SetDefault("sync.backoff_base_ms", 1000)   // 1s
	v.SetDefault("sync.backoff_cap_ms", 300000)  // 5m
	v.SetDefault("sync.conflict_policy", "manual-merge")
	v.SetDefault("sync.request_timeout_seconds", 30)
	v.SetDefault("sync.requests_per_minute", 120)

	// Remote defaults
	v.SetDefault("remote.base_url", "http://localhost:8970")

	// Connectivity defaults
	v.SetDefault("connectivity.probe_interval_seconds", 30)
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("remote.auth_token", "QUILL_REMOTE_AUTH_TOKEN")
	v.BindEnv("remote.base_url", "QUILL_REMOTE_BASE_URL")
	v.BindEnv("database.path", "QUILL_DATABASE_PATH")
}
