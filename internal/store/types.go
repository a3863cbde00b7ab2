// Package store provides the SQLite cache of a Signet device's entries,
// calibrated keyboard layouts and import history.
package store

import (
	"time"

	"signet/internal/keyboard"
)

// Entry is one cached versioned block of a device module.
type Entry struct {
	Module    string
	EntryID   int
	Revision  int
	Data      []byte
	UpdatedAt time.Time
}

// LayoutSource records where a stored layout came from.
type LayoutSource string

const (
	// LayoutCalibrated is a layout produced by a calibration run.
	LayoutCalibrated LayoutSource = "calibrated"
	// LayoutDevice is a layout read back from the token.
	LayoutDevice LayoutSource = "device"
	// LayoutImported is a layout loaded from a YAML export.
	LayoutImported LayoutSource = "imported"
)

// LayoutRecord is a stored keyboard layout.
type LayoutRecord struct {
	ID        int64
	CreatedAt time.Time
	Source    LayoutSource
	Layout    keyboard.Layout
}

// ImportRun summarises one import of an external file.
type ImportRun struct {
	ID        int64
	StartedAt time.Time
	Source    string
	Format    string
	Imported  int
	Skipped   int
}

// Stats counts rows in the cache.
type Stats struct {
	Entries    int64
	Sealed     int64
	Layouts    int64
	ImportRuns int64
}
