package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"signet/internal/account"
	"signet/internal/keyboard"
	"signet/internal/security"
)

// Store errors
var (
	ErrLocked   = errors.New("store: entry is sealed and no key is loaded")
	ErrNotFound = errors.New("store: not found")
)

// Store represents the SQLite entry cache.
type Store struct {
	db *sql.DB

	mu     sync.RWMutex
	sealer *security.Sealer
}

// Open opens or creates the SQLite database at the given path and runs migrations.
func Open(path string) (*Store, error) {
	if err := security.EnsureSecureDir(filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := MigrateDB(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	// The cache holds secrets even when unsealed.
	if err := os.Chmod(path, security.PermSecretFile); err != nil && !os.IsNotExist(err) {
		db.Close()
		return nil, fmt.Errorf("restrict database permissions: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB exposes the underlying handle for migration tooling.
func (s *Store) DB() *sql.DB {
	return s.db
}

// SetSealer enables sealing of entry data. Entries written afterwards are
// encrypted; entries written earlier are read as they are. A nil sealer
// disables sealing again.
func (s *Store) SetSealer(sealer *security.Sealer) {
	s.mu.Lock()
	s.sealer = sealer
	s.mu.Unlock()
}

// Sealed reports whether a sealer is loaded.
func (s *Store) Sealed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sealer != nil
}

func entryAD(module string, id int) []byte {
	return []byte(module + "/" + strconv.Itoa(id))
}

// PutEntry inserts or replaces a cached entry.
func (s *Store) PutEntry(e *Entry) error {
	return putEntry(s.db, s.currentSealer(), e)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func putEntry(db execer, sealer *security.Sealer, e *Entry) error {
	data := e.Data
	sealed := 0
	if sealer != nil {
		var err error
		data, err = sealer.Seal(e.Data, entryAD(e.Module, e.EntryID))
		if err != nil {
			return fmt.Errorf("seal entry %s/%d: %w", e.Module, e.EntryID, err)
		}
		sealed = 1
	}
	updated := e.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	_, err := db.Exec(`
		INSERT INTO entries (module, entry_id, revision, data, updated_at, sealed)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(module, entry_id) DO UPDATE SET
			revision = excluded.revision,
			data = excluded.data,
			updated_at = excluded.updated_at,
			sealed = excluded.sealed`,
		e.Module, e.EntryID, e.Revision, data, updated.UnixNano(), sealed,
	)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

func (s *Store) currentSealer() *security.Sealer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sealer
}

// PutBlock caches a versioned block of module.
func (s *Store) PutBlock(module string, b account.VersionedBlock) error {
	return s.PutEntry(&Entry{Module: module, EntryID: b.EntryID, Revision: b.Revision, Data: b.Data})
}

// ReplaceModule swaps the whole cached content of module for blocks in one
// transaction.
func (s *Store) ReplaceModule(module string, blocks []account.VersionedBlock) error {
	sealer := s.currentSealer()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM entries WHERE module = ?`, module); err != nil {
		return fmt.Errorf("clear module %s: %w", module, err)
	}
	now := time.Now()
	for _, b := range blocks {
		e := &Entry{Module: module, EntryID: b.EntryID, Revision: b.Revision, Data: b.Data, UpdatedAt: now}
		if err := putEntry(tx, sealer, e); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetEntry retrieves an entry. It returns ErrNotFound when no row exists
// and ErrLocked when the row is sealed and no sealer is set.
func (s *Store) GetEntry(module string, id int) (*Entry, error) {
	row := s.db.QueryRow(`
		SELECT module, entry_id, revision, data, updated_at, sealed
		FROM entries WHERE module = ? AND entry_id = ?`, module, id)

	e, err := s.scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s/%d", ErrNotFound, module, id)
		}
		return nil, err
	}
	return e, nil
}

// ListEntries returns the entries of module ordered by entry id.
func (s *Store) ListEntries(module string) ([]Entry, error) {
	rows, err := s.db.Query(`
		SELECT module, entry_id, revision, data, updated_at, sealed
		FROM entries WHERE module = ?
		ORDER BY entry_id ASC`, module)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := s.scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

// Modules returns the names of the modules with cached entries.
func (s *Store) Modules() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT module FROM entries ORDER BY module`)
	if err != nil {
		return nil, fmt.Errorf("query modules: %w", err)
	}
	defer rows.Close()

	var modules []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("scan module: %w", err)
		}
		modules = append(modules, m)
	}
	return modules, rows.Err()
}

// DeleteEntry removes a cached entry. Deleting a missing entry is not an error.
func (s *Store) DeleteEntry(module string, id int) error {
	if _, err := s.db.Exec(`DELETE FROM entries WHERE module = ? AND entry_id = ?`, module, id); err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanEntry(row scanner) (*Entry, error) {
	var e Entry
	var updated int64
	var sealed bool
	if err := row.Scan(&e.Module, &e.EntryID, &e.Revision, &e.Data, &updated, &sealed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan entry: %w", err)
	}
	e.UpdatedAt = time.Unix(0, updated)

	if sealed {
		sealer := s.currentSealer()
		if sealer == nil {
			return nil, fmt.Errorf("%w: %s/%d", ErrLocked, e.Module, e.EntryID)
		}
		data, err := sealer.Open(e.Data, entryAD(e.Module, e.EntryID))
		if err != nil {
			return nil, fmt.Errorf("open entry %s/%d: %w", e.Module, e.EntryID, err)
		}
		e.Data = data
	}
	return &e, nil
}

// LoadBook decodes every cached account entry into a fresh book. Entries
// that fail to decode are skipped and returned as errors alongside the book.
func (s *Store) LoadBook() (*account.Book, []error, error) {
	entries, err := s.ListEntries(account.Module)
	if err != nil {
		return nil, nil, err
	}

	book := account.NewBook()
	var bad []error
	for _, e := range entries {
		if _, err := book.Apply(account.VersionedBlock{EntryID: e.EntryID, Revision: e.Revision, Data: e.Data}); err != nil {
			bad = append(bad, fmt.Errorf("entry %d: %w", e.EntryID, err))
		}
	}
	return book, bad, nil
}

// SaveLayout stores a keyboard layout and returns its row id.
func (s *Store) SaveLayout(source LayoutSource, l keyboard.Layout) (int64, error) {
	return s.SaveLayoutAt(source, l, time.Now())
}

// SaveLayoutAt is SaveLayout with an explicit creation time.
func (s *Store) SaveLayoutAt(source LayoutSource, l keyboard.Layout, at time.Time) (int64, error) {
	data, err := l.MarshalBinary()
	if err != nil {
		return 0, fmt.Errorf("encode layout: %w", err)
	}

	result, err := s.db.Exec(`
		INSERT INTO keyboard_layouts (created_at, source, data)
		VALUES (?, ?, ?)`,
		at.UnixNano(), string(source), data,
	)
	if err != nil {
		return 0, fmt.Errorf("insert layout: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	return id, nil
}

// LatestLayout returns the most recently stored layout.
func (s *Store) LatestLayout() (*LayoutRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, created_at, source, data
		FROM keyboard_layouts
		ORDER BY id DESC
		LIMIT 1`)
	rec, err := scanLayout(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no keyboard layout stored", ErrNotFound)
	}
	return rec, err
}

// ListLayouts returns stored layouts, newest first.
func (s *Store) ListLayouts(limit int) ([]LayoutRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`
		SELECT id, created_at, source, data
		FROM keyboard_layouts
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query layouts: %w", err)
	}
	defer rows.Close()

	var out []LayoutRecord
	for rows.Next() {
		rec, err := scanLayout(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate layouts: %w", err)
	}
	return out, nil
}

func scanLayout(row scanner) (*LayoutRecord, error) {
	var rec LayoutRecord
	var created int64
	var source string
	var data []byte
	if err := row.Scan(&rec.ID, &created, &source, &data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan layout: %w", err)
	}
	rec.CreatedAt = time.Unix(0, created)
	rec.Source = LayoutSource(source)
	if err := rec.Layout.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("decode layout %d: %w", rec.ID, err)
	}
	return &rec, nil
}

// RecordImportRun stores the outcome of an import and returns its row id.
func (s *Store) RecordImportRun(r *ImportRun) (int64, error) {
	started := r.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	result, err := s.db.Exec(`
		INSERT INTO import_runs (started_at, source, format, imported, skipped)
		VALUES (?, ?, ?, ?, ?)`,
		started.UnixNano(), r.Source, r.Format, r.Imported, r.Skipped,
	)
	if err != nil {
		return 0, fmt.Errorf("insert import run: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	r.ID = id
	return id, nil
}

// ImportRuns returns the import history, newest first.
func (s *Store) ImportRuns() ([]ImportRun, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, source, format, imported, skipped
		FROM import_runs
		ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query import runs: %w", err)
	}
	defer rows.Close()

	var runs []ImportRun
	for rows.Next() {
		var r ImportRun
		var started int64
		if err := rows.Scan(&r.ID, &started, &r.Source, &r.Format, &r.Imported, &r.Skipped); err != nil {
			return nil, fmt.Errorf("scan import run: %w", err)
		}
		r.StartedAt = time.Unix(0, started)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate import runs: %w", err)
	}
	return runs, nil
}

// GetStats counts cached rows.
func (s *Store) GetStats() (*Stats, error) {
	var st Stats
	err := s.db.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM entries),
			(SELECT COUNT(*) FROM entries WHERE sealed = 1),
			(SELECT COUNT(*) FROM keyboard_layouts),
			(SELECT COUNT(*) FROM import_runs)`,
	).Scan(&st.Entries, &st.Sealed, &st.Layouts, &st.ImportRuns)
	if err != nil {
		return nil, fmt.Errorf("get stats: %w", err)
	}
	return &st, nil
}
