package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
)

const appName = "signet"

// dirKind names one of the per-user directories.
type dirKind int

const (
	dirData dirKind = iota
	dirConfig
	dirCache
	dirLog
)

// PlatformDataDir returns the platform-specific data directory.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/signet/
//   - Linux:   $XDG_DATA_HOME/signet/ or ~/.local/share/signet/
//   - Windows: %APPDATA%\signet\
//
// Falls back to ~/.signet on other systems.
func PlatformDataDir() string { return platformDir(runtime.GOOS, dirData) }

// PlatformConfigDir returns the platform-specific config directory. Only
// Linux keeps config apart from data ($XDG_CONFIG_HOME/signet/).
func PlatformConfigDir() string { return platformDir(runtime.GOOS, dirConfig) }

// PlatformCacheDir returns the platform-specific cache directory.
func PlatformCacheDir() string { return platformDir(runtime.GOOS, dirCache) }

// PlatformLogDir returns the platform-specific log directory.
func PlatformLogDir() string { return platformDir(runtime.GOOS, dirLog) }

func platformDir(goos string, kind dirKind) string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}

	switch goos {
	case "darwin":
		lib := filepath.Join(home, "Library")
		switch kind {
		case dirCache:
			return filepath.Join(lib, "Caches", appName)
		case dirLog:
			return filepath.Join(lib, "Logs", appName)
		}
		return filepath.Join(lib, "Application Support", appName)

	case "linux":
		switch kind {
		case dirConfig:
			return filepath.Join(xdg("XDG_CONFIG_HOME", home, ".config"), appName)
		case dirCache:
			return filepath.Join(xdg("XDG_CACHE_HOME", home, ".cache"), appName)
		case dirLog:
			return filepath.Join(xdg("XDG_STATE_HOME", home, ".local", "state"), appName)
		}
		return filepath.Join(xdg("XDG_DATA_HOME", home, ".local", "share"), appName)

	case "windows":
		local := xdg("LOCALAPPDATA", home, "AppData", "Local")
		switch kind {
		case dirCache:
			return filepath.Join(local, appName, "cache")
		case dirLog:
			return filepath.Join(local, appName, "logs")
		}
		return filepath.Join(xdg("APPDATA", home, "AppData", "Roaming"), appName)
	}

	base := filepath.Join(home, "."+appName)
	switch kind {
	case dirCache:
		return filepath.Join(base, "cache")
	case dirLog:
		return filepath.Join(base, "logs")
	}
	return base
}

// xdg returns $env, or home joined with fallback when it is unset.
func xdg(env, home string, fallback ...string) string {
	if v := os.Getenv(env); v != "" {
		return v
	}
	return filepath.Join(append([]string{home}, fallback...)...)
}

// PlatformRuntimeDir returns the directory for the emulator socket. It is
// empty on Windows.
func PlatformRuntimeDir() string {
	switch runtime.GOOS {
	case "windows":
		return ""
	case "linux":
		if v := os.Getenv("XDG_RUNTIME_DIR"); v != "" {
			return filepath.Join(v, appName)
		}
	}
	return filepath.Join(os.TempDir(), appName+"-"+strconv.Itoa(os.Getuid()))
}

// DefaultPaths lists the default locations used on this platform.
type DefaultPaths struct {
	DataDir    string
	ConfigDir  string
	CacheDir   string
	LogDir     string
	RuntimeDir string

	ConfigFile   string
	DatabaseFile string
	SaltFile     string
	SocketPath   string
}

// GetDefaultPaths returns all default paths for the current platform.
func GetDefaultPaths() *DefaultPaths {
	dataDir := PlatformDataDir()
	configDir := PlatformConfigDir()
	runtimeDir := PlatformRuntimeDir()

	p := &DefaultPaths{
		DataDir:    dataDir,
		ConfigDir:  configDir,
		CacheDir:   PlatformCacheDir(),
		LogDir:     PlatformLogDir(),
		RuntimeDir: runtimeDir,

		ConfigFile:   filepath.Join(configDir, "config.toml"),
		DatabaseFile: filepath.Join(dataDir, "cache.db"),
		SaltFile:     filepath.Join(dataDir, "cache.salt"),
	}
	if runtimeDir != "" {
		p.SocketPath = filepath.Join(runtimeDir, "signet-emulator.sock")
	}
	return p
}

// SupportedConfigFormats returns the list of supported config file formats.
func SupportedConfigFormats() []string {
	return []string{"toml", "json", "yaml", "yml"}
}

// FindConfigFile searches the current directory, then the config directory,
// then the data directory. It returns "" when nothing is found.
func FindConfigFile() string {
	paths := GetDefaultPaths()
	for _, dir := range []string{".", paths.ConfigDir, paths.DataDir} {
		for _, ext := range SupportedConfigFormats() {
			path := filepath.Join(dir, "config."+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}
