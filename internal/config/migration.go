package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"signet/internal/security"
)

// MigrationResult contains the result of a configuration migration.
type MigrationResult struct {
	FromVersion int       `json:"from_version"`
	ToVersion   int       `json:"to_version"`
	At          time.Time `json:"at"`
	Backup      string    `json:"backup,omitempty"`
	Changes     []string  `json:"changes,omitempty"`
	Warnings    []string  `json:"warnings,omitempty"`
}

// configMigrations upgrade a config by one version each; index i upgrades
// version i+1.
var configMigrations = []func(cfg *Config) (changes, warnings []string){
	migrateV1ToV2,
	migrateV2ToV3,
}

// MigrateConfig migrates a configuration from an older version to the current version.
// It creates a backup of configPath first and rewrites the file afterwards.
func MigrateConfig(cfg *Config, configPath string) (*MigrationResult, error) {
	if cfg.Version >= Version {
		return nil, nil
	}

	result := &MigrationResult{
		FromVersion: cfg.Version,
		ToVersion:   Version,
		At:          time.Now().UTC(),
	}

	if configPath != "" {
		backup, err := backupConfig(configPath)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("could not create backup: %v", err))
		} else {
			result.Backup = backup
		}
	}

	for cfg.Version < Version {
		if cfg.Version < 1 || cfg.Version > len(configMigrations) {
			return result, fmt.Errorf("unknown version %d", cfg.Version)
		}
		changes, warnings := configMigrations[cfg.Version-1](cfg)
		result.Changes = append(result.Changes, changes...)
		result.Warnings = append(result.Warnings, warnings...)
		cfg.Version++
	}

	if configPath != "" {
		if err := SaveConfig(cfg, configPath); err != nil {
			return result, fmt.Errorf("write migrated config: %w", err)
		}
	}
	return result, nil
}

// migrateV1ToV2 replaces keyboard.skip_right_alt with keyboard.right_alt
// and turns on alias matching, which version 1 did not have.
func migrateV1ToV2(cfg *Config) (changes, warnings []string) {
	if cfg.Keyboard.LegacySkipRightAlt != nil {
		if *cfg.Keyboard.LegacySkipRightAlt {
			cfg.Keyboard.RightAlt = RightAltSkip
		} else {
			cfg.Keyboard.RightAlt = RightAltProbe
		}
		cfg.Keyboard.LegacySkipRightAlt = nil
		changes = append(changes, fmt.Sprintf("keyboard.skip_right_alt replaced by keyboard.right_alt = %q", cfg.Keyboard.RightAlt))
	}

	if !cfg.Import.AliasMatch {
		cfg.Import.AliasMatch = true
		changes = append(changes, "enabled import.alias_match")
	}
	return changes, warnings
}

// migrateV2ToV3 adds the security and backup sections. Version 2 caches
// were written in the clear, so encryption stays off until the user opts in.
func migrateV2ToV3(cfg *Config) (changes, warnings []string) {
	dir := SignetDir()

	if cfg.Security.SaltPath == "" {
		cfg.Security.SaltPath = filepath.Join(dir, "cache.salt")
	}
	if cfg.Security.KDF == (security.KDFParams{}) {
		cfg.Security.KDF = security.DefaultKDFParams()
	}
	changes = append(changes, "added security configuration")

	if cfg.Storage.Encrypt {
		cfg.Storage.Encrypt = false
		warnings = append(warnings, "storage.encrypt left off for the existing plaintext cache; run 'signetctl sync' after enabling it")
	}

	if cfg.Backup.Dir == "" {
		cfg.Backup.Dir = filepath.Join(dir, "backups")
		cfg.Backup.Level = "default"
		cfg.Backup.Keep = 10
	}
	changes = append(changes, "added backup configuration")
	return changes, warnings
}

// backupConfig copies the config file next to itself with a timestamp.
func backupConfig(configPath string) (string, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read config: %w", err)
	}

	backupPath := configPath + ".backup-" + time.Now().Format("20060102-150405")
	if err := security.WriteSecretFile(backupPath, data); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}
	return backupPath, nil
}

// Encode renders cfg in the format implied by the file extension of path.
// Unknown extensions get TOML.
func Encode(cfg *Config, path string) ([]byte, error) {
	switch filepath.Ext(path) {
	case ".json":
		return json.MarshalIndent(cfg, "", "  ")
	case ".yaml", ".yml":
		return yaml.Marshal(cfg)
	default:
		var buf bytes.Buffer
		buf.WriteString("# signet configuration\n\n")
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
}

// SaveConfig saves the configuration to a file with owner-only permissions.
func SaveConfig(cfg *Config, path string) error {
	data, err := Encode(cfg, path)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := security.WriteSecretFile(path, data); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func migrationHistoryPath() string {
	return filepath.Join(SignetDir(), "migration_history.json")
}

// GetMigrationHistory returns the stored migration history.
func GetMigrationHistory() ([]MigrationResult, error) {
	data, err := os.ReadFile(migrationHistoryPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read migration history: %w", err)
	}

	var history []MigrationResult
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("parse migration history: %w", err)
	}
	return history, nil
}

// SaveMigrationHistory appends a migration result to the history file.
func SaveMigrationHistory(result *MigrationResult) error {
	history, err := GetMigrationHistory()
	if err != nil {
		history = nil
	}
	history = append(history, *result)

	data, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return fmt.Errorf("encode migration history: %w", err)
	}
	if err := security.WriteSecretFile(migrationHistoryPath(), data); err != nil {
		return fmt.Errorf("write migration history: %w", err)
	}
	return nil
}
