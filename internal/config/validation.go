package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"signet/internal/signetdev"
)

// ErrInvalidConfig is returned when validation fails.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Is lets errors.Is(err, ErrInvalidConfig) match a validation failure.
func (e ValidationErrors) Is(target error) bool {
	return target == ErrInvalidConfig
}

func (e *ValidationErrors) add(field, format string, args ...any) {
	*e = append(*e, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// ValidateConfig performs comprehensive validation of the configuration.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs.add("version", "unsupported version %d (current: %d)", c.Version, Version)
	}

	errs = append(errs, validateDevice(&c.Device)...)
	errs = append(errs, validateStorage(c)...)
	errs = append(errs, validateKeyboard(&c.Keyboard)...)
	errs = append(errs, validateImport(&c.Import)...)
	errs = append(errs, validateLogging(&c.Logging)...)
	errs = append(errs, validateBackup(&c.Backup)...)

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateDevice(d *DeviceConfig) ValidationErrors {
	var errs ValidationErrors

	switch d.Transport {
	case signetdev.TransportAuto, signetdev.TransportHIDRaw:
	case signetdev.TransportSocket:
		if d.Path == "" {
			errs.add("device.path", "socket transport needs a path")
		}
	default:
		errs.add("device.transport", "invalid transport: %s (valid: auto, hidraw, socket)", d.Transport)
	}

	if d.DialTimeoutMs < 0 {
		errs.add("device.dial_timeout_ms", "cannot be negative")
	}
	if d.RequestTimeoutMs < 100 || d.RequestTimeoutMs > 60000 {
		errs = append(errs, *RangeError("device.request_timeout_ms", 100, 60000))
	}
	return errs
}

func validateStorage(c *Config) ValidationErrors {
	var errs ValidationErrors

	if c.Storage.Path == "" {
		errs = append(errs, *RequiredFieldError("storage.path"))
	}
	if c.Storage.Encrypt {
		if c.Security.SaltPath == "" {
			errs.add("security.salt_path", "required when storage.encrypt is set")
		}
		if err := c.Security.KDF.Validate(); err != nil {
			errs.add("security.kdf", "%v", err)
		}
	}
	return errs
}

func validateKeyboard(k *KeyboardConfig) ValidationErrors {
	var errs ValidationErrors

	switch k.RightAlt {
	case RightAltAuto, RightAltProbe, RightAltSkip:
	default:
		errs.add("keyboard.right_alt", "invalid mode: %s (valid: auto, probe, skip)", k.RightAlt)
	}
	if k.LegacySkipRightAlt != nil {
		errs.add("keyboard.skip_right_alt", "deprecated, use keyboard.right_alt")
	}
	return errs
}

func validateImport(i *ImportConfig) ValidationErrors {
	var errs ValidationErrors

	if i.DebounceMs < 0 || i.DebounceMs > 60000 {
		errs = append(errs, *RangeError("import.debounce_ms", 0, 60000))
	}
	for field, aliases := range map[string][]string{
		"name":     i.Aliases.Name,
		"username": i.Aliases.UserName,
		"password": i.Aliases.Password,
		"url":      i.Aliases.URL,
	} {
		for _, a := range aliases {
			if strings.TrimSpace(a) == "" {
				errs.add("import.aliases."+field, "empty alias")
			}
		}
	}
	if i.WatchDir != "" {
		if info, err := os.Stat(ExpandPath(i.WatchDir)); err == nil && !info.IsDir() {
			errs.add("import.watch_dir", "%s is not a directory", i.WatchDir)
		}
	}
	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		errs.add("logging.level", "invalid log level: %s (valid: debug, info, warn, error)", l.Level)
	}

	switch l.Format {
	case "text", "json":
	default:
		errs.add("logging.format", "invalid log format: %s (valid: text, json)", l.Format)
	}

	switch l.Output {
	case "stdout", "stderr":
	case "file", "both":
		if l.FilePath == "" {
			errs.add("logging.file_path", "file path is required when output is '%s'", l.Output)
		}
	default:
		errs.add("logging.output", "invalid output: %s (valid: stdout, stderr, file, both)", l.Output)
	}

	if l.MaxSizeMB < 1 {
		errs.add("logging.max_size_mb", "max size must be at least 1 MB")
	}
	if l.MaxBackups < 0 {
		errs.add("logging.max_backups", "max backups cannot be negative")
	}
	if l.MaxAgeDays < 0 {
		errs.add("logging.max_age_days", "max age cannot be negative")
	}
	return errs
}

func validateBackup(b *BackupConfig) ValidationErrors {
	var errs ValidationErrors

	switch b.Level {
	case "fastest", "default", "better", "best":
	default:
		errs.add("backup.level", "invalid level: %s (valid: fastest, default, better, best)", b.Level)
	}
	if b.Keep < 0 {
		errs.add("backup.keep", "cannot be negative")
	}
	return errs
}

// ExpandPath replaces a leading ~/ with the home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// IsWarning reports whether this is a non-fatal validation issue.
func (e *ValidationError) IsWarning() bool {
	return e.Field == "keyboard.skip_right_alt"
}

// Warnings returns only warning-level validation errors.
func (e ValidationErrors) Warnings() ValidationErrors {
	var warnings ValidationErrors
	for _, err := range e {
		if err.IsWarning() {
			warnings = append(warnings, err)
		}
	}
	return warnings
}

// Errors returns only error-level validation errors.
func (e ValidationErrors) Errors() ValidationErrors {
	var errs ValidationErrors
	for _, err := range e {
		if !err.IsWarning() {
			errs = append(errs, err)
		}
	}
	return errs
}

// HasErrors returns true if there are any non-warning errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e.Errors()) > 0
}

// RequiredFieldError creates a validation error for a required field.
func RequiredFieldError(field string) *ValidationError {
	return &ValidationError{Field: field, Message: "required field is missing"}
}

// RangeError creates a validation error for an out-of-range value.
func RangeError(field string, min, max any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf("value must be between %v and %v", min, max)}
}
