package config

import (
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/quillnotes/quill/errors"
	"github.com/quillnotes/quill/logger"
)

// createBackup creates rotating backups (.back1, .back2, .back3) before
// modifying a config file
func createBackup(configPath string) error {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil // No file to backup
	}

	back3 := configPath + ".back3"
	back2 := configPath + ".back2"
	back1 := configPath + ".back1"

	if err := os.Remove(back3); err != nil && !os.IsNotExist(err) {
		// Deletion failure must not block the config save
		logger.Warnw("Failed to delete old config backup", "path", back3, "error", err)
	}

	if _, err := os.Stat(back2); err == nil {
		if err := os.Rename(back2, back3); err != nil {
			return errors.Wrap(err, "failed to rotate .back2 to .back3")
		}
	}

	if _, err := os.Stat(back1); err == nil {
		if err := os.Rename(back1, back2); err != nil {
			return errors.Wrap(err, "failed to rotate .back1 to .back2")
		}
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to read config for backup")
	}

	if err := os.WriteFile(back1, content, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to create .back1")
	}

	return nil
}

// GetUserConfigPath returns the path to the user config file in
// ~/.quill/config.toml
func GetUserConfigPath() string {
	dir := UserConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.toml")
}

// loadOrInitializeUserConfig loads the user config file, or starts an empty
// one if it doesn't exist
func loadOrInitializeUserConfig() (map[string]interface{}, string, error) {
	configPath := GetUserConfigPath()
	if configPath == "" {
		return nil, "", errors.New("could not determine home directory")
	}

	var config map[string]interface{}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := toml.Unmarshal(data, &config); err != nil {
			return nil, "", errors.Wrap(err, "failed to parse user config")
		}
	} else {
		config = make(map[string]interface{})
	}

	return config, configPath, nil
}

// saveUserConfig writes the config to the user config file with backup
func saveUserConfig(config map[string]interface{}, configPath string) error {
	if err := createBackup(configPath); err != nil {
		return errors.Wrap(err, "failed to create backup")
	}

	data, err := toml.Marshal(config)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	// Mark this as our own write to prevent reload loops
	globalWatcherMu.Lock()
	if globalWatcher != nil {
		globalWatcher.MarkOwnWrite()
	}
	globalWatcherMu.Unlock()

	if err := os.WriteFile(configPath, data, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to write user config")
	}

	return nil
}

func updateSection(section, key string, value interface{}) error {
	config, configPath, err := loadOrInitializeUserConfig()
	if err != nil {
		return errors.Wrap(err, "failed to load user config")
	}

	var sec map[string]interface{}
	if s, ok := config[section].(map[string]interface{}); ok {
		sec = s
	} else {
		sec = make(map[string]interface{})
	}
	sec[key] = value
	config[section] = sec

	return saveUserConfig(config, configPath)
}

// UpdateConflictPolicy persists the conflict resolution policy
func UpdateConflictPolicy(policy string) error {
	return updateSection("sync", "conflict_policy", policy)
}

// UpdateRemoteBaseURL persists the sync server base URL
func UpdateRemoteBaseURL(baseURL string) error {
	return updateSection("remote", "base_url", baseURL)
}

// UpdateDatabasePath persists the database path
func UpdateDatabasePath(path string) error {
	return updateSection("database", "path", path)
}

// UpdateBatchSize persists the drain batch size
func UpdateBatchSize(size int) error {
	return updateSection("sync", "batch_size", size)
}
