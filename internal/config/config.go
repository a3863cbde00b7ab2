// Package config handles configuration loading, validation, and management for signet.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"signet/internal/account"
	"signet/internal/logging"
	"signet/internal/security"
	"signet/internal/signetdev"
)

// Version is the current configuration schema version.
const Version = 3

// Right-Alt probing modes for keyboard calibration.
const (
	RightAltAuto  = "auto"
	RightAltProbe = "probe"
	RightAltSkip  = "skip"
)

// Config holds the complete client configuration.
type Config struct {
	// Version is the configuration schema version for migrations.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Device selects how the token is reached.
	Device DeviceConfig `toml:"device" json:"device" yaml:"device"`

	// Storage configures the local entry cache.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Security configures passphrase stretching for the cache key.
	Security SecurityConfig `toml:"security" json:"security" yaml:"security"`

	// Keyboard configures layout calibration.
	Keyboard KeyboardConfig `toml:"keyboard" json:"keyboard" yaml:"keyboard"`

	// Import configures external file import.
	Import ImportConfig `toml:"import" json:"import" yaml:"import"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Backup configures cache backups.
	Backup BackupConfig `toml:"backup" json:"backup" yaml:"backup"`

	mu sync.RWMutex `toml:"-" json:"-" yaml:"-"`
}

// DeviceConfig holds token transport configuration.
type DeviceConfig struct {
	// Transport is "auto", "hidraw" or "socket".
	Transport string `toml:"transport" json:"transport" yaml:"transport"`

	// Path is a hidraw node or the emulator socket. Empty scans /dev/hidraw*.
	Path string `toml:"path" json:"path" yaml:"path"`

	VendorID  uint16 `toml:"vendor_id" json:"vendor_id" yaml:"vendor_id"`
	ProductID uint16 `toml:"product_id" json:"product_id" yaml:"product_id"`

	DialTimeoutMs    int `toml:"dial_timeout_ms" json:"dial_timeout_ms" yaml:"dial_timeout_ms"`
	RequestTimeoutMs int `toml:"request_timeout_ms" json:"request_timeout_ms" yaml:"request_timeout_ms"`
}

// StorageConfig holds cache configuration.
type StorageConfig struct {
	// Path is the SQLite database file.
	Path string `toml:"path" json:"path" yaml:"path"`

	// Encrypt seals cached entry data under a passphrase-derived key.
	Encrypt bool `toml:"encrypt" json:"encrypt" yaml:"encrypt"`
}

// SecurityConfig holds key derivation settings.
type SecurityConfig struct {
	// SaltPath stores the Argon2id salt and parameters.
	SaltPath string `toml:"salt_path" json:"salt_path" yaml:"salt_path"`

	// KDF are the Argon2id cost parameters for new salts.
	KDF security.KDFParams `toml:"kdf" json:"kdf" yaml:"kdf"`

	// LockMemory pins the master key in RAM.
	LockMemory bool `toml:"lock_memory" json:"lock_memory" yaml:"lock_memory"`
}

// KeyboardConfig holds calibration settings.
type KeyboardConfig struct {
	// RightAlt is "auto" (ask the host), "probe" or "skip".
	RightAlt string `toml:"right_alt" json:"right_alt" yaml:"right_alt"`

	// ExportPath is the default target of `keyboard export`.
	ExportPath string `toml:"export_path" json:"export_path" yaml:"export_path"`

	// LegacySkipRightAlt is the version 1 boolean replaced by RightAlt.
	LegacySkipRightAlt *bool `toml:"skip_right_alt,omitempty" json:"skip_right_alt,omitempty" yaml:"skip_right_alt,omitempty"`
}

// ImportConfig holds import settings.
type ImportConfig struct {
	// AliasMatch enables loose alias matching of field names.
	AliasMatch bool `toml:"alias_match" json:"alias_match" yaml:"alias_match"`

	// Aliases are extra loose aliases per field.
	Aliases account.AliasSet `toml:"aliases" json:"aliases" yaml:"aliases"`

	// WatchDir is the drop directory for `import watch`.
	WatchDir string `toml:"watch_dir" json:"watch_dir" yaml:"watch_dir"`

	// DebounceMs is how long a dropped file must be quiet before import.
	DebounceMs int `toml:"debounce_ms" json:"debounce_ms" yaml:"debounce_ms"`

	// RemoveAfterImport deletes files from WatchDir once imported.
	RemoveAfterImport bool `toml:"remove_after_import" json:"remove_after_import" yaml:"remove_after_import"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is "stdout", "stderr", "file" or "both".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file when output includes a file.
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	MaxSizeMB  int  `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int  `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int  `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`
	Compress   bool `toml:"compress" json:"compress" yaml:"compress"`

	// AuditPath is the append-only audit log. Empty disables auditing.
	AuditPath string `toml:"audit_path" json:"audit_path" yaml:"audit_path"`
}

// BackupConfig holds backup settings.
type BackupConfig struct {
	// Dir is where `backup` writes when no file is given.
	Dir string `toml:"dir" json:"dir" yaml:"dir"`

	// Level is the zstd level: fastest, default, better, best.
	Level string `toml:"level" json:"level" yaml:"level"`

	// Keep is how many backups to retain in Dir. Zero keeps all.
	Keep int `toml:"keep" json:"keep" yaml:"keep"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	dir := SignetDir()

	return &Config{
		Version: Version,
		Device: DeviceConfig{
			Transport:        signetdev.TransportAuto,
			VendorID:         signetdev.DefaultVendorID,
			ProductID:        signetdev.DefaultProductID,
			DialTimeoutMs:    2000,
			RequestTimeoutMs: 5000,
		},
		Storage: StorageConfig{
			Path:    filepath.Join(dir, "cache.db"),
			Encrypt: true,
		},
		Security: SecurityConfig{
			SaltPath:   filepath.Join(dir, "cache.salt"),
			KDF:        security.DefaultKDFParams(),
			LockMemory: true,
		},
		Keyboard: KeyboardConfig{
			RightAlt:   RightAltAuto,
			ExportPath: filepath.Join(dir, "layout.yaml"),
		},
		Import: ImportConfig{
			AliasMatch: true,
			WatchDir:   filepath.Join(dir, "import"),
			DebounceMs: 500,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(dir, "logs", "signet.log"),
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
			AuditPath:  filepath.Join(dir, "logs", "audit.log"),
		},
		Backup: BackupConfig{
			Dir:   filepath.Join(dir, "backups"),
			Level: "default",
			Keep:  10,
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	if envPath := os.Getenv("SIGNET_CONFIG"); envPath != "" {
		return envPath
	}
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// Load reads configuration from the specified path.
// If the file doesn't exist, returns default configuration.
// Supports TOML, JSON, and YAML formats based on file extension.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}
	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// EnsureDirectories creates all directories the client writes into.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.Storage.Path),
		filepath.Dir(c.Security.SaltPath),
		c.Backup.Dir,
		c.Import.WatchDir,
	}
	if c.Logging.Output == "file" || c.Logging.Output == "both" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}
	if c.Logging.AuditPath != "" {
		dirs = append(dirs, filepath.Dir(c.Logging.AuditPath))
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := security.EnsureSecureDir(dir); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// SignetDir returns the base data directory.
// Uses platform-specific paths or the SIGNET_DATA_DIR environment override.
func SignetDir() string {
	if envDir := os.Getenv("SIGNET_DATA_DIR"); envDir != "" {
		return envDir
	}
	return PlatformDataDir()
}

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables are prefixed with SIGNET_ and use underscores.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v := os.Getenv("SIGNET_DEVICE_TRANSPORT"); v != "" {
		c.Device.Transport = v
	}
	if v := os.Getenv("SIGNET_DEVICE_PATH"); v != "" {
		c.Device.Path = v
	}
	if v := os.Getenv("SIGNET_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("SIGNET_STORAGE_ENCRYPT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Storage.Encrypt = b
		}
	}
	if v := os.Getenv("SIGNET_KEYBOARD_RIGHT_ALT"); v != "" {
		c.Keyboard.RightAlt = v
	}
	if v := os.Getenv("SIGNET_IMPORT_WATCH_DIR"); v != "" {
		c.Import.WatchDir = v
	}
	if v := os.Getenv("SIGNET_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("SIGNET_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	clone := &Config{
		Version:  c.Version,
		Device:   c.Device,
		Storage:  c.Storage,
		Security: c.Security,
		Keyboard: c.Keyboard,
		Import:   c.Import,
		Logging:  c.Logging,
		Backup:   c.Backup,
	}
	clone.Import.Aliases = account.AliasSet{
		Name:     append([]string(nil), c.Import.Aliases.Name...),
		UserName: append([]string(nil), c.Import.Aliases.UserName...),
		Password: append([]string(nil), c.Import.Aliases.Password...),
		URL:      append([]string(nil), c.Import.Aliases.URL...),
	}
	return clone
}

// Signetdev converts the device section into a transport configuration.
func (d DeviceConfig) Signetdev() signetdev.Config {
	return signetdev.Config{
		Transport:      d.Transport,
		Path:           ExpandPath(d.Path),
		VendorID:       d.VendorID,
		ProductID:      d.ProductID,
		DialTimeout:    time.Duration(d.DialTimeoutMs) * time.Millisecond,
		RequestTimeout: time.Duration(d.RequestTimeoutMs) * time.Millisecond,
	}
}

// Debounce returns the import quiet period.
func (i ImportConfig) Debounce() time.Duration {
	return time.Duration(i.DebounceMs) * time.Millisecond
}

// Logging converts the logging section for the logging package.
func (l LoggingConfig) Logging(component string) (*logging.Config, error) {
	level, err := logging.ParseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	format := logging.FormatText
	if l.Format == "json" {
		format = logging.FormatJSON
	}
	return &logging.Config{
		Level:      level,
		Format:     format,
		Output:     l.Output,
		FilePath:   ExpandPath(l.FilePath),
		MaxSize:    int64(l.MaxSizeMB),
		MaxAge:     l.MaxAgeDays,
		MaxBackups: l.MaxBackups,
		Compress:   l.Compress,
		Component:  component,
	}, nil
}

// Audit returns the audit log configuration, or nil when auditing is off.
func (l LoggingConfig) Audit() *logging.AuditConfig {
	if l.AuditPath == "" {
		return nil
	}
	return &logging.AuditConfig{
		FilePath:   ExpandPath(l.AuditPath),
		MaxSize:    int64(l.MaxSizeMB),
		MaxAge:     l.MaxAgeDays,
		MaxBackups: l.MaxBackups,
		Compress:   l.Compress,
		Component:  "audit",
	}
}

// SkipRightAlt resolves the right-Alt mode. In auto mode the answer comes
// from the host inspector, so ok is false.
func (k KeyboardConfig) SkipRightAlt() (skip, ok bool) {
	switch k.RightAlt {
	case RightAltSkip:
		return true, true
	case RightAltProbe:
		return false, true
	}
	return false, false
}

// decodeTOML decodes data over cfg and returns the keys it did not
// recognise, which older config versions may still carry.
func decodeTOML(data []byte, cfg *Config) ([]string, error) {
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, err
	}
	var unknown []string
	for _, k := range md.Undecoded() {
		unknown = append(unknown, k.String())
	}
	return unknown, nil
}
