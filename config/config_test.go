package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	cfg, err := LoadWithViper(v)
	require.NoError(t, err)

	assert.Equal(t, "quill.db", cfg.GetDatabasePath())
	assert.Equal(t, 20, cfg.Sync.BatchSize)
	assert.Equal(t, 5, cfg.Sync.RetryCeiling)
	assert.Equal(t, 10000, cfg.Sync.QueueCap)
	assert.Equal(t, "manual-merge", cfg.Sync.ConflictPolicy)
	assert.Equal(t, time.Second, cfg.BackoffBase())
	assert.Equal(t, 5*time.Minute, cfg.BackoffCap())
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout())
	assert.Equal(t, 30*time.Second, cfg.ProbeInterval())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quill.toml")
	content := `
[database]
path = "/tmp/custom.db"

[sync]
batch_size = 5
conflict_policy = "use-remote"

[remote]
base_url = "https://sync.example.com"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/custom.db", cfg.Database.Path)
	assert.Equal(t, 5, cfg.Sync.BatchSize)
	assert.Equal(t, "use-remote", cfg.Sync.ConflictPolicy)
	assert.Equal(t, "https://sync.example.com", cfg.Remote.BaseURL)

	// Unspecified keys still fall back to defaults
	assert.Equal(t, 5, cfg.Sync.RetryCeiling)
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestZeroValueDurationFallbacks(t *testing.T) {
	var cfg Config
	assert.Equal(t, time.Second, cfg.BackoffBase())
	assert.Equal(t, 5*time.Minute, cfg.BackoffCap())
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout())
}

func TestStringOmitsAuthToken(t *testing.T) {
	cfg := &Config{
		Remote: RemoteConfig{BaseURL: "https://sync.example.com", AuthToken: "secret-token"},
	}
	assert.NotContains(t, cfg.String(), "secret-token")
}

func TestCreateBackupRotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	// No file yet: backup is a no-op
	require.NoError(t, createBackup(path))
	_, err := os.Stat(path + ".back1")
	assert.True(t, os.IsNotExist(err))

	for _, content := range []string{"v1", "v2", "v3"} {
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		require.NoError(t, createBackup(path))
	}

	// Most recent content lands in .back1, older rotates down
	b1, err := os.ReadFile(path + ".back1")
	require.NoError(t, err)
	assert.Equal(t, "v3", string(b1))

	b2, err := os.ReadFile(path + ".back2")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(b2))

	b3, err := os.ReadFile(path + ".back3")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(b3))
}

func TestIsBackupFile(t *testing.T) {
	assert.True(t, isBackupFile("/home/x/.quill/config.toml.back1"))
	assert.False(t, isBackupFile("/home/x/.quill/config.toml"))
}

func TestResetClearsCache(t *testing.T) {
	Reset()
	assert.Nil(t, globalConfig)
	assert.Nil(t, viperInstance)
}
