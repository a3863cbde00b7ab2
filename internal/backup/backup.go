// Package backup writes the entry cache, stored keyboard layouts and import
// history to a single zstd-compressed JSON file and restores them.
//
// A plain backup is a bare zstd stream. A sealed backup starts with a magic
// header followed by the zstd stream sealed with a key derived from the
// cache master key.
package backup

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"signet/internal/account"
	"signet/internal/keyboard"
	"signet/internal/security"
	"signet/internal/store"
)

// FormatVersion is the version written into Data.
const FormatVersion = 1

// Suffix ends every backup file name.
const Suffix = ".json.zst"

var sealedMagic = []byte("SGNB\x01")

var sealedAD = []byte("signet-backup")

var (
	ErrSealed      = errors.New("backup: file is sealed")
	ErrBadVersion  = errors.New("backup: unsupported format version")
	ErrInvalidFile = errors.New("backup: invalid file")
)

// Entry is a cached entry block.
type Entry struct {
	Module   string    `json:"module"`
	EntryID  int       `json:"entry_id"`
	Revision int       `json:"revision"`
	Data     []byte    `json:"data"`
	Updated  time.Time `json:"updated_at"`
}

// Layout is a stored keyboard layout.
type Layout struct {
	CreatedAt time.Time          `json:"created_at"`
	Source    store.LayoutSource `json:"source"`
	Layout    keyboard.Layout    `json:"layout"`
}

// ImportRun is one import history row.
type ImportRun struct {
	StartedAt time.Time `json:"started_at"`
	Source    string    `json:"source"`
	Format    string    `json:"format"`
	Imported  int       `json:"imported"`
	Skipped   int       `json:"skipped"`
}

// Data is the backup document.
type Data struct {
	Version    int         `json:"version"`
	CreatedAt  time.Time   `json:"created_at"`
	Entries    []Entry     `json:"entries"`
	Layouts    []Layout    `json:"layouts,omitempty"`
	ImportRuns []ImportRun `json:"import_runs,omitempty"`
}

// Options control compression and sealing.
type Options struct {
	// Level is a zstd level name: fastest, default, better or best.
	Level string

	// Sealer, when set, seals new backups and opens sealed ones.
	Sealer *security.Sealer
}

func (o Options) encoderLevel() (zstd.EncoderLevel, error) {
	if o.Level == "" {
		return zstd.SpeedDefault, nil
	}
	ok, level := zstd.EncoderLevelFromString(o.Level)
	if !ok {
		return 0, fmt.Errorf("backup: unknown compression level %q", o.Level)
	}
	return level, nil
}

// Snapshot reads everything a backup holds from st. Sealed entries come
// out in the clear, so st must be unlocked if its cache is encrypted.
func Snapshot(st *store.Store) (*Data, error) {
	data := &Data{Version: FormatVersion, CreatedAt: time.Now().UTC()}

	modules, err := st.Modules()
	if err != nil {
		return nil, err
	}
	for _, m := range modules {
		entries, err := st.ListEntries(m)
		if err != nil {
			return nil, fmt.Errorf("module %s: %w", m, err)
		}
		for _, e := range entries {
			data.Entries = append(data.Entries, Entry{
				Module:   e.Module,
				EntryID:  e.EntryID,
				Revision: e.Revision,
				Data:     e.Data,
				Updated:  e.UpdatedAt.UTC(),
			})
		}
	}

	layouts, err := st.ListLayouts(0)
	if err != nil {
		return nil, err
	}
	// ListLayouts is newest first; restore order is oldest first.
	for i := len(layouts) - 1; i >= 0; i-- {
		l := layouts[i]
		data.Layouts = append(data.Layouts, Layout{CreatedAt: l.CreatedAt.UTC(), Source: l.Source, Layout: l.Layout})
	}

	runs, err := st.ImportRuns()
	if err != nil {
		return nil, err
	}
	for i := len(runs) - 1; i >= 0; i-- {
		r := runs[i]
		data.ImportRuns = append(data.ImportRuns, ImportRun{
			StartedAt: r.StartedAt.UTC(),
			Source:    r.Source,
			Format:    r.Format,
			Imported:  r.Imported,
			Skipped:   r.Skipped,
		})
	}
	return data, nil
}

// Encode writes data to w.
func Encode(w io.Writer, data *Data, opts Options) error {
	level, err := opts.encoderLevel()
	if err != nil {
		return err
	}

	var compressed bytes.Buffer
	zw, err := zstd.NewWriter(&compressed, zstd.WithEncoderLevel(level))
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	if err := json.NewEncoder(zw).Encode(data); err != nil {
		zw.Close()
		return fmt.Errorf("encode backup: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("flush zstd writer: %w", err)
	}

	if opts.Sealer == nil {
		_, err = w.Write(compressed.Bytes())
		return err
	}
	sealed, err := opts.Sealer.Seal(compressed.Bytes(), sealedAD)
	if err != nil {
		return err
	}
	if _, err := w.Write(sealedMagic); err != nil {
		return err
	}
	_, err = w.Write(sealed)
	return err
}

// Decode reads a backup written by Encode.
func Decode(r io.Reader, opts Options) (*Data, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	if IsSealed(raw) {
		if opts.Sealer == nil {
			return nil, ErrSealed
		}
		raw, err = opts.Sealer.Open(raw[len(sealedMagic):], sealedAD)
		if err != nil {
			return nil, err
		}
	}

	zr, err := zstd.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	var data Data
	if err := json.NewDecoder(zr).Decode(&data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}
	if data.Version < 1 || data.Version > FormatVersion {
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, data.Version)
	}
	return &data, nil
}

// IsSealed reports whether raw starts with the sealed backup header.
func IsSealed(raw []byte) bool {
	return bytes.HasPrefix(raw, sealedMagic)
}

// FileName returns the default backup file name for t.
func FileName(t time.Time) string {
	return "signet-" + t.UTC().Format("20060102-150405") + Suffix
}

// Create snapshots st into a new file in dir and returns its path and the
// snapshot.
func Create(st *store.Store, dir string, opts Options) (string, *Data, error) {
	data, err := Snapshot(st)
	if err != nil {
		return "", nil, err
	}
	if err := security.EnsureSecureDir(dir); err != nil {
		return "", nil, err
	}

	var buf bytes.Buffer
	if err := Encode(&buf, data, opts); err != nil {
		return "", nil, err
	}
	path := filepath.Join(dir, FileName(data.CreatedAt))
	if err := security.WriteSecretFile(path, buf.Bytes()); err != nil {
		return "", nil, err
	}
	return path, data, nil
}

// Read decodes the backup at path.
func Read(path string, opts Options) (*Data, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f, opts)
}

// Restore replaces every module in data, then appends its layouts and
// import history to st. Modules in st that data does not mention are left
// alone. It returns the number of entries written.
func Restore(st *store.Store, data *Data) (int, error) {
	byModule := make(map[string][]account.VersionedBlock)
	var order []string
	for _, e := range data.Entries {
		if _, ok := byModule[e.Module]; !ok {
			order = append(order, e.Module)
		}
		byModule[e.Module] = append(byModule[e.Module], account.VersionedBlock{
			EntryID: e.EntryID, Revision: e.Revision, Data: e.Data,
		})
	}

	n := 0
	for _, m := range order {
		if err := st.ReplaceModule(m, byModule[m]); err != nil {
			return n, fmt.Errorf("restore module %s: %w", m, err)
		}
		n += len(byModule[m])
	}

	for _, l := range data.Layouts {
		if _, err := st.SaveLayoutAt(l.Source, l.Layout, l.CreatedAt); err != nil {
			return n, err
		}
	}
	for _, r := range data.ImportRuns {
		run := store.ImportRun{StartedAt: r.StartedAt, Source: r.Source, Format: r.Format, Imported: r.Imported, Skipped: r.Skipped}
		if _, err := st.RecordImportRun(&run); err != nil {
			return n, err
		}
	}
	return n, nil
}

// List returns the backup files in dir, newest first.
func List(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "signet-*"+Suffix))
	if err != nil {
		return nil, err
	}
	// Names embed a sortable UTC timestamp.
	sort.Sort(sort.Reverse(sort.StringSlice(matches)))
	return matches, nil
}

// Prune removes all but the newest keep backups in dir and returns the
// removed paths. keep <= 0 keeps everything.
func Prune(dir string, keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}
	files, err := List(dir)
	if err != nil || len(files) <= keep {
		return nil, err
	}
	var removed []string
	for _, f := range files[keep:] {
		if !strings.HasSuffix(f, Suffix) {
			continue
		}
		if err := os.Remove(f); err != nil {
			return removed, err
		}
		removed = append(removed, f)
	}
	return removed, nil
}
