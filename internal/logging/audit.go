package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

// AuditEventType names an operation recorded in the audit log.
type AuditEventType string

// Audit event types.
const (
	AuditDeviceConnected AuditEventType = "device_connected"
	AuditEntriesSynced   AuditEventType = "entries_synced"
	AuditEntriesImported AuditEventType = "entries_imported"
	AuditLayoutApplied   AuditEventType = "layout_applied"
	AuditLayoutExported  AuditEventType = "layout_exported"
	AuditBackupCreated   AuditEventType = "backup_created"
	AuditBackupRestored  AuditEventType = "backup_restored"
	AuditCacheUnlock     AuditEventType = "cache_unlock"
	AuditConfigMigrated  AuditEventType = "config_migrated"
)

// Audit results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// AuditEvent is one JSON line of the audit log.
type AuditEvent struct {
	Timestamp time.Time      `json:"timestamp"`
	Type      AuditEventType `json:"event_type"`
	Component string         `json:"component"`
	Resource  string         `json:"resource,omitempty"`
	Result    string         `json:"result"`
	Details   map[string]any `json:"details,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// AuditConfig configures an AuditLogger backed by a rotated file.
type AuditConfig struct {
	FilePath   string
	MaxSize    int64
	MaxAge     int
	MaxBackups int
	Compress   bool
	Component  string
}

// AuditLogger appends AuditEvents as JSON lines. Detail values under
// sensitive keys are redacted the same way log attributes are.
type AuditLogger struct {
	component string
	mu        sync.Mutex
	w         io.Writer
	rotator   *FileRotator
	now       func() time.Time
}

// NewAuditLogger opens the audit file described by cfg.
func NewAuditLogger(cfg *AuditConfig) (*AuditLogger, error) {
	rotator, err := NewFileRotator(&Config{
		FilePath:   cfg.FilePath,
		MaxSize:    cfg.MaxSize,
		MaxAge:     cfg.MaxAge,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("create audit rotator: %w", err)
	}
	a := NewAuditWriter(rotator, cfg.Component)
	a.rotator = rotator
	return a, nil
}

// NewAuditWriter returns an AuditLogger writing to w.
func NewAuditWriter(w io.Writer, component string) *AuditLogger {
	if component == "" {
		component = "signet"
	}
	return &AuditLogger{component: component, w: w, now: time.Now}
}

// Log writes one event. A nil logger discards it.
func (a *AuditLogger) Log(ctx context.Context, event AuditEvent) error {
	if a == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = a.now().UTC()
	}
	if event.Component == "" {
		event.Component = a.component
	}
	if event.Result == "" {
		event.Result = ResultSuccess
	}
	for k := range event.Details {
		if shouldRedact(k) {
			event.Details[k] = "[REDACTED]"
		}
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	data = append(data, '\n')

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := a.w.Write(data); err != nil {
		return fmt.Errorf("write audit event: %w", err)
	}
	return nil
}

func outcome(err error) (result, msg string) {
	if err != nil {
		return ResultFailure, err.Error()
	}
	return ResultSuccess, ""
}

// LogDeviceConnected records a successful handshake with a device.
func (a *AuditLogger) LogDeviceConnected(ctx context.Context, path string, protocol int) error {
	return a.Log(ctx, AuditEvent{
		Type:     AuditDeviceConnected,
		Resource: path,
		Details:  map[string]any{"protocol": protocol},
	})
}

// LogEntriesSynced records a cache refresh from the device.
func (a *AuditLogger) LogEntriesSynced(ctx context.Context, module string, entries, failed int) error {
	return a.Log(ctx, AuditEvent{
		Type:     AuditEntriesSynced,
		Resource: module,
		Details:  map[string]any{"entries": entries, "failed": failed},
	})
}

// LogEntriesImported records an import run.
func (a *AuditLogger) LogEntriesImported(ctx context.Context, source string, imported, skipped int, err error) error {
	result, msg := outcome(err)
	return a.Log(ctx, AuditEvent{
		Type:     AuditEntriesImported,
		Resource: source,
		Result:   result,
		Error:    msg,
		Details:  map[string]any{"imported": imported, "skipped": skipped},
	})
}

// LogLayoutApplied records a keyboard layout being written to the device.
func (a *AuditLogger) LogLayoutApplied(ctx context.Context, source string, entries int, err error) error {
	result, msg := outcome(err)
	return a.Log(ctx, AuditEvent{
		Type:     AuditLayoutApplied,
		Resource: source,
		Result:   result,
		Error:    msg,
		Details:  map[string]any{"entries": entries},
	})
}

// LogLayoutExported records a layout written to a file.
func (a *AuditLogger) LogLayoutExported(ctx context.Context, path string) error {
	return a.Log(ctx, AuditEvent{Type: AuditLayoutExported, Resource: path})
}

// LogBackup records a backup being created.
func (a *AuditLogger) LogBackup(ctx context.Context, path string, entries int, err error) error {
	result, msg := outcome(err)
	return a.Log(ctx, AuditEvent{
		Type:     AuditBackupCreated,
		Resource: path,
		Result:   result,
		Error:    msg,
		Details:  map[string]any{"entries": entries},
	})
}

// LogRestore records a backup being restored into the cache.
func (a *AuditLogger) LogRestore(ctx context.Context, path string, entries int, err error) error {
	result, msg := outcome(err)
	return a.Log(ctx, AuditEvent{
		Type:     AuditBackupRestored,
		Resource: path,
		Result:   result,
		Error:    msg,
		Details:  map[string]any{"entries": entries},
	})
}

// LogUnlock records an attempt to unlock the encrypted cache.
func (a *AuditLogger) LogUnlock(ctx context.Context, path string, err error) error {
	result, msg := outcome(err)
	return a.Log(ctx, AuditEvent{
		Type:     AuditCacheUnlock,
		Resource: path,
		Result:   result,
		Error:    msg,
	})
}

// LogConfigMigrated records a configuration file upgrade.
func (a *AuditLogger) LogConfigMigrated(ctx context.Context, path string, from, to int, changes []string) error {
	return a.Log(ctx, AuditEvent{
		Type:     AuditConfigMigrated,
		Resource: path,
		Details:  map[string]any{"from": from, "to": to, "changes": changes},
	})
}

// Close closes the audit file, if the logger owns one.
func (a *AuditLogger) Close() error {
	if a == nil || a.rotator == nil {
		return nil
	}
	return a.rotator.Close()
}
