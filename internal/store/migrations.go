package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Migration represents a database schema migration.
type Migration struct {
	Version     int
	Description string
	Up          string
	Down        string
}

// migrations contains all database migrations in order.
var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema with cached module entries",
		Up:          migrationV1Up,
		Down:        migrationV1Down,
	},
	{
		Version:     2,
		Description: "Add keyboard_layouts table for calibration results",
		Up:          migrationV2Up,
		Down:        migrationV2Down,
	},
	{
		Version:     3,
		Description: "Add import_runs table for file import history",
		Up:          migrationV3Up,
		Down:        migrationV3Down,
	},
	{
		Version:     4,
		Description: "Add sealed flag to entries",
		Up:          migrationV4Up,
		Down:        migrationV4Down,
	},
}

// Migration SQL statements

const migrationV1Up = `
-- Entries table, one row per (module, entry id)
CREATE TABLE IF NOT EXISTS entries (
    module          TEXT NOT NULL,
    entry_id        INTEGER NOT NULL,
    revision        INTEGER NOT NULL,
    data            BLOB NOT NULL,
    updated_at      INTEGER NOT NULL,
    PRIMARY KEY (module, entry_id)
);

CREATE INDEX IF NOT EXISTS idx_entries_updated ON entries(updated_at);
`

const migrationV1Down = `
DROP INDEX IF EXISTS idx_entries_updated;
DROP TABLE IF EXISTS entries;
`

const migrationV2Up = `
-- Keyboard layouts, newest row is the active one
CREATE TABLE IF NOT EXISTS keyboard_layouts (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    created_at      INTEGER NOT NULL,
    source          TEXT NOT NULL,
    data            BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_layouts_created ON keyboard_layouts(created_at);
`

const migrationV2Down = `
DROP INDEX IF EXISTS idx_layouts_created;
DROP TABLE IF EXISTS keyboard_layouts;
`

const migrationV3Up = `
-- Import history
CREATE TABLE IF NOT EXISTS import_runs (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    started_at      INTEGER NOT NULL,
    source          TEXT NOT NULL,
    format          TEXT NOT NULL,
    imported        INTEGER NOT NULL DEFAULT 0,
    skipped         INTEGER NOT NULL DEFAULT 0
);
`

const migrationV3Down = `
DROP TABLE IF EXISTS import_runs;
`

const migrationV4Up = `
ALTER TABLE entries ADD COLUMN sealed INTEGER NOT NULL DEFAULT 0;
`

const migrationV4Down = `
ALTER TABLE entries DROP COLUMN sealed;
`

// ErrNoMigrations is returned when rolling back an empty schema.
var ErrNoMigrations = errors.New("store: no migrations applied")

// LatestVersion is the schema version MigrateDB brings a database to.
func LatestVersion() int {
	return migrations[len(migrations)-1].Version
}

// SchemaVersion returns the highest applied migration.
func SchemaVersion(db *sql.DB) (int, error) {
	var v int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("get schema version: %w", err)
	}
	return v, nil
}

// MigrateDB applies all pending migrations, each in its own transaction.
func MigrateDB(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INTEGER PRIMARY KEY,
			applied_at  INTEGER NOT NULL,
			description TEXT
		)
	`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	current, err := SchemaVersion(db)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := runMigration(db, m.Version, m.Up,
			"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
			m.Version, time.Now().UnixNano(), m.Description); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
		}
	}
	return nil
}

// RollbackTo reverts migrations until the schema is at version target.
func RollbackTo(db *sql.DB, target int) error {
	current, err := SchemaVersion(db)
	if err != nil {
		return err
	}
	if current == 0 {
		return ErrNoMigrations
	}
	for i := len(migrations) - 1; i >= 0; i-- {
		m := migrations[i]
		if m.Version > current || m.Version <= target {
			continue
		}
		if err := runMigration(db, m.Version, m.Down,
			"DELETE FROM schema_migrations WHERE version = ?", m.Version); err != nil {
			return fmt.Errorf("rollback migration %d: %w", m.Version, err)
		}
	}
	return nil
}

func runMigration(db *sql.DB, version int, script, record string, args ...any) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(script); err != nil {
		return err
	}
	if _, err := tx.Exec(record, args...); err != nil {
		return fmt.Errorf("record version %d: %w", version, err)
	}
	return tx.Commit()
}

// MigrationStatus describes which migrations a database has applied.
type MigrationStatus struct {
	CurrentVersion int
	LatestVersion  int
	Pending        []Migration
	Applied        []AppliedMigration
}

// AppliedMigration is one row of schema_migrations.
type AppliedMigration struct {
	Version     int
	AppliedAt   time.Time
	Description string
}

// GetMigrationStatus returns the current migration status.
func GetMigrationStatus(db *sql.DB) (*MigrationStatus, error) {
	status := &MigrationStatus{LatestVersion: LatestVersion()}

	rows, err := db.Query("SELECT version, applied_at, description FROM schema_migrations ORDER BY version")
	if err != nil {
		status.Pending = migrations
		return status, nil
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var am AppliedMigration
		var at int64
		var desc sql.NullString
		if err := rows.Scan(&am.Version, &at, &desc); err != nil {
			return nil, fmt.Errorf("scan migration: %w", err)
		}
		am.AppliedAt = time.Unix(0, at)
		am.Description = desc.String
		status.Applied = append(status.Applied, am)
		applied[am.Version] = true
		status.CurrentVersion = max(status.CurrentVersion, am.Version)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, m := range migrations {
		if !applied[m.Version] {
			status.Pending = append(status.Pending, m)
		}
	}
	return status, nil
}

// ValidateSchema checks that all expected tables exist.
func ValidateSchema(db *sql.DB) error {
	for _, table := range []string{"entries", "keyboard_layouts", "import_runs", "schema_migrations"} {
		var count int
		err := db.QueryRow(
			"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&count)
		if err != nil {
			return fmt.Errorf("check table %s: %w", table, err)
		}
		if count == 0 {
			return fmt.Errorf("missing required table: %s", table)
		}
	}
	return nil
}
