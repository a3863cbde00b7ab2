package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signet/internal/signetdev"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("SIGNET_DATA_DIR", dir)
	for _, k := range []string{
		"SIGNET_CONFIG", "SIGNET_DEVICE_TRANSPORT", "SIGNET_DEVICE_PATH",
		"SIGNET_STORAGE_PATH", "SIGNET_STORAGE_ENCRYPT", "SIGNET_KEYBOARD_RIGHT_ALT",
		"SIGNET_IMPORT_WATCH_DIR", "SIGNET_LOG_LEVEL", "SIGNET_LOG_PATH",
	} {
		t.Setenv(k, "")
	}
	return dir
}

func TestDefaultConfig(t *testing.T) {
	dir := isolate(t)
	cfg := DefaultConfig()

	assert.Equal(t, Version, cfg.Version)
	assert.Equal(t, filepath.Join(dir, "cache.db"), cfg.Storage.Path)
	assert.True(t, cfg.Storage.Encrypt)
	assert.Equal(t, RightAltAuto, cfg.Keyboard.RightAlt)
	assert.True(t, cfg.Import.AliasMatch)
	assert.Equal(t, signetdev.DefaultVendorID, cfg.Device.VendorID)
	require.NoError(t, cfg.Validate())
}

func TestLoadNonexistent(t *testing.T) {
	isolate(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, Version, cfg.Version)
}

func TestLoadFormats(t *testing.T) {
	isolate(t)

	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "toml",
			file: "config.toml",
			content: `
version = 3

[device]
transport = "socket"
path = "/run/signet.sock"

[keyboard]
right_alt = "skip"

[import.aliases]
username = ["benutzer"]
`,
		},
		{
			name: "json",
			file: "config.json",
			content: `{"version": 3,
 "device": {"transport": "socket", "path": "/run/signet.sock"},
 "keyboard": {"right_alt": "skip"},
 "import": {"aliases": {"username": ["benutzer"]}}}`,
		},
		{
			name: "yaml",
			file: "config.yaml",
			content: `
version: 3
device:
  transport: socket
  path: /run/signet.sock
keyboard:
  right_alt: skip
import:
  aliases:
    username: [benutzer]
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0600))

			cfg, err := NewLoader(path, nil).Load()
			require.NoError(t, err)

			assert.Equal(t, signetdev.TransportSocket, cfg.Device.Transport)
			assert.Equal(t, "/run/signet.sock", cfg.Device.Path)
			assert.Equal(t, []string{"benutzer"}, cfg.Import.Aliases.UserName)
			skip, ok := cfg.Keyboard.SkipRightAlt()
			assert.True(t, skip)
			assert.True(t, ok)

			// Unset sections keep their defaults.
			assert.Equal(t, 5000, cfg.Device.RequestTimeoutMs)
			assert.Equal(t, "info", cfg.Logging.Level)
		})
	}
}

func TestLoadInvalid(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("[device\ntransport ="), 0600))
	_, err := Load(bad)
	assert.Error(t, err)

	invalid := filepath.Join(dir, "invalid.toml")
	require.NoError(t, os.WriteFile(invalid, []byte("version = 3\n[device]\ntransport = \"usb\"\n"), 0600))
	_, err = NewLoader(invalid, nil).Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
	assert.Contains(t, err.Error(), "device.transport")
}

func TestEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("SIGNET_DEVICE_PATH", "/dev/hidraw7")
	t.Setenv("SIGNET_STORAGE_ENCRYPT", "false")
	t.Setenv("SIGNET_LOG_LEVEL", "debug")
	t.Setenv("SIGNET_KEYBOARD_RIGHT_ALT", "probe")

	cfg, err := Load(filepath.Join(t.TempDir(), "none.toml"))
	require.NoError(t, err)

	assert.Equal(t, "/dev/hidraw7", cfg.Device.Path)
	assert.False(t, cfg.Storage.Encrypt)
	assert.Equal(t, "debug", cfg.Logging.Level)
	skip, ok := cfg.Keyboard.SkipRightAlt()
	assert.False(t, skip)
	assert.True(t, ok)
}

func TestValidate(t *testing.T) {
	isolate(t)

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad version", func(c *Config) { c.Version = 99 }, "version"},
		{"socket without path", func(c *Config) { c.Device.Transport = "socket" }, "device.path"},
		{"request timeout", func(c *Config) { c.Device.RequestTimeoutMs = 1 }, "device.request_timeout_ms"},
		{"no storage path", func(c *Config) { c.Storage.Path = "" }, "storage.path"},
		{"weak kdf", func(c *Config) { c.Security.KDF.Time = 0 }, "security.kdf"},
		{"right alt", func(c *Config) { c.Keyboard.RightAlt = "maybe" }, "keyboard.right_alt"},
		{"empty alias", func(c *Config) { c.Import.Aliases.URL = []string{" "} }, "import.aliases.url"},
		{"log level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"log file", func(c *Config) { c.Logging.Output = "file"; c.Logging.FilePath = "" }, "logging.file_path"},
		{"backup level", func(c *Config) { c.Backup.Level = "max" }, "backup.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			var verrs ValidationErrors
			require.ErrorAs(t, err, &verrs)
			found := false
			for _, v := range verrs {
				if v.Field == tt.field {
					found = true
				}
			}
			assert.True(t, found, "expected error on %s, got %v", tt.field, err)
		})
	}

	// Weak KDF parameters do not matter without encryption.
	cfg := DefaultConfig()
	cfg.Storage.Encrypt = false
	cfg.Security.KDF.Time = 0
	assert.NoError(t, cfg.Validate())
}

func TestMigrateFromV1(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	v1 := `
[device]
path = "/dev/hidraw2"

[storage]
path = "` + filepath.ToSlash(filepath.Join(dir, "old.db")) + `"

[keyboard]
skip_right_alt = true

[import]
alias_match = false
`
	require.NoError(t, os.WriteFile(path, []byte(v1), 0600))

	cfg, err := NewLoader(path, nil).Load()
	require.NoError(t, err)

	assert.Equal(t, Version, cfg.Version)
	assert.Equal(t, RightAltSkip, cfg.Keyboard.RightAlt)
	assert.Nil(t, cfg.Keyboard.LegacySkipRightAlt)
	assert.True(t, cfg.Import.AliasMatch)
	assert.False(t, cfg.Storage.Encrypt, "existing caches stay readable")
	assert.Equal(t, "/dev/hidraw2", cfg.Device.Path)

	// The file was rewritten at the current version and backed up.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "version = 3")
	assert.NotContains(t, string(data), "skip_right_alt")

	backups, err := filepath.Glob(path + ".backup-*")
	require.NoError(t, err)
	assert.Len(t, backups, 1)

	history, err := GetMigrationHistory()
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 1, history[0].FromVersion)
	assert.Equal(t, Version, history[0].ToVersion)
}

func TestSaveConfigRoundTrip(t *testing.T) {
	isolate(t)

	for _, ext := range []string{".toml", ".json", ".yaml"} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config"+ext)
			cfg := DefaultConfig()
			cfg.Device.Transport = "hidraw"
			cfg.Import.Aliases.Password = []string{"kennwort"}
			cfg.Backup.Keep = 3

			require.NoError(t, SaveConfig(cfg, path))
			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

			got, err := NewLoader(path, nil).Load()
			require.NoError(t, err)
			assert.Equal(t, "hidraw", got.Device.Transport)
			assert.Equal(t, []string{"kennwort"}, got.Import.Aliases.Password)
			assert.Equal(t, 3, got.Backup.Keep)
			assert.Equal(t, cfg.Security.KDF, got.Security.KDF)
		})
	}
}

func TestLoadOrCreate(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "sub", "config.toml")

	cfg, created, err := LoadOrCreate(path, nil)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, Version, cfg.Version)

	_, created, err = LoadOrCreate(path, nil)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestClone(t *testing.T) {
	isolate(t)
	cfg := DefaultConfig()
	cfg.Import.Aliases.Name = []string{"titel"}

	clone := cfg.Clone()
	clone.Import.Aliases.Name[0] = "changed"
	clone.Device.Path = "/elsewhere"

	assert.Equal(t, "titel", cfg.Import.Aliases.Name[0])
	assert.Empty(t, cfg.Device.Path)
}

func TestConversions(t *testing.T) {
	isolate(t)
	cfg := DefaultConfig()

	dev := cfg.Device.Signetdev()
	assert.Equal(t, 5*time.Second, dev.RequestTimeout)
	assert.Equal(t, 2*time.Second, dev.DialTimeout)

	lc, err := cfg.Logging.Logging("signetctl")
	require.NoError(t, err)
	assert.Equal(t, "signetctl", lc.Component)
	assert.Equal(t, int64(10), lc.MaxSize)

	_, ok := cfg.Keyboard.SkipRightAlt()
	assert.False(t, ok, "auto mode defers to the host")

	assert.Equal(t, 500*time.Millisecond, cfg.Import.Debounce())
}

func TestLoaderWatchReloads(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, SaveConfig(DefaultConfig(), path))

	l := NewLoader(path, nil)
	_, err := l.Load()
	require.NoError(t, err)

	changed := make(chan *Config, 1)
	l.OnChange(func(_, newCfg *Config) {
		select {
		case changed <- newCfg:
		default:
		}
	})
	require.NoError(t, l.Watch())
	defer l.Close()

	cfg := DefaultConfig()
	cfg.Logging.Level = "debug"
	require.NoError(t, SaveConfig(cfg, path))

	select {
	case got := <-changed:
		assert.Equal(t, "debug", got.Logging.Level)
		assert.Equal(t, "debug", l.Config().Logging.Level)
	case err := <-l.Errors():
		t.Fatalf("watch error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}
}

func TestPlatformDirs(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("XDG_DATA_HOME", filepath.Join(home, "data"))

	assert.Equal(t, filepath.Join(home, ".config", "signet"), platformDir("linux", dirConfig))
	assert.Equal(t, filepath.Join(home, "data", "signet"), platformDir("linux", dirData))
	assert.Equal(t, filepath.Join(home, "Library", "Logs", "signet"), platformDir("darwin", dirLog))
	assert.Equal(t, filepath.Join(home, ".signet", "cache"), platformDir("plan9", dirCache))

	t.Setenv("SIGNET_CONFIG", "")
	assert.True(t, strings.HasSuffix(ConfigPath(), "config.toml"))
	t.Setenv("SIGNET_CONFIG", "/etc/signet.toml")
	assert.Equal(t, "/etc/signet.toml", ConfigPath())
}
