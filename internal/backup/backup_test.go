package backup

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signet/internal/account"
	"signet/internal/keyboard"
	"signet/internal/security"
	"signet/internal/store"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func sealer(t *testing.T, master []byte, label string) *security.Sealer {
	t.Helper()
	s, err := security.NewSealerForLabel(master, label)
	require.NoError(t, err)
	return s
}

func populate(t *testing.T, st *store.Store) {
	t.Helper()
	for _, a := range []*account.Account{
		{ID: 1, AcctName: "Bank", UserName: "jo", Password: "pw"},
		{ID: 2, AcctName: "Mail", URL: "https://mail.example"},
	} {
		b, err := account.ToBlock(a)
		require.NoError(t, err)
		require.NoError(t, st.PutBlock(account.Module, b))
	}
	layout := keyboard.Layout{{Char: 'a', Keys: [2]keyboard.PhysicalKey{{Scancode: 4}}}}
	_, err := st.SaveLayout(store.LayoutCalibrated, layout)
	require.NoError(t, err)
	_, err = st.RecordImportRun(&store.ImportRun{Source: "vault.csv", Format: "csv", Imported: 2, Skipped: 1})
	require.NoError(t, err)
}

func TestEncodeDecode(t *testing.T) {
	data := &Data{
		Version:   FormatVersion,
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Entries:   []Entry{{Module: "accounts", EntryID: 7, Revision: 6, Data: []byte{1, 2, 3}}},
	}

	for _, level := range []string{"", "fastest", "better", "best"} {
		var buf bytes.Buffer
		require.NoError(t, Encode(&buf, data, Options{Level: level}), level)
		assert.False(t, IsSealed(buf.Bytes()))

		got, err := Decode(&buf, Options{})
		require.NoError(t, err, level)
		assert.Equal(t, data.Entries, got.Entries)
		assert.True(t, data.CreatedAt.Equal(got.CreatedAt))
	}

	assert.Error(t, Encode(&bytes.Buffer{}, data, Options{Level: "ludicrous"}))
}

func TestDecode_Rejects(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte("not zstd")), Options{})
	assert.Error(t, err)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, &Data{Version: FormatVersion + 1}, Options{}))
	_, err = Decode(&buf, Options{})
	assert.ErrorIs(t, err, ErrBadVersion)
}

func TestSealedBackup(t *testing.T) {
	master, err := security.GenerateKey(security.KeySize)
	require.NoError(t, err)
	other, err := security.GenerateKey(security.KeySize)
	require.NoError(t, err)

	data := &Data{Version: FormatVersion, Entries: []Entry{{Module: "accounts", EntryID: 1, Data: []byte("secret")}}}
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, data, Options{Sealer: sealer(t, master, security.LabelBackup)}))
	raw := buf.Bytes()
	require.True(t, IsSealed(raw))

	_, err = Decode(bytes.NewReader(raw), Options{})
	assert.ErrorIs(t, err, ErrSealed)

	_, err = Decode(bytes.NewReader(raw), Options{Sealer: sealer(t, other, security.LabelBackup)})
	assert.ErrorIs(t, err, security.ErrDecrypt)

	_, err = Decode(bytes.NewReader(raw), Options{Sealer: sealer(t, master, security.LabelCache)})
	assert.ErrorIs(t, err, security.ErrDecrypt)

	got, err := Decode(bytes.NewReader(raw), Options{Sealer: sealer(t, master, security.LabelBackup)})
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), got.Entries[0].Data)
}

func TestCreateAndRestore(t *testing.T) {
	src := openStore(t)
	populate(t, src)
	dir := filepath.Join(t.TempDir(), "backups")

	path, snap, err := Create(src, dir, Options{Level: "better"})
	require.NoError(t, err)
	assert.Len(t, snap.Entries, 2)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(security.PermSecretFile), info.Mode().Perm())

	data, err := Read(path, Options{})
	require.NoError(t, err)

	dst := openStore(t)
	stale, err := account.ToBlock(&account.Account{ID: 9, AcctName: "Stale"})
	require.NoError(t, err)
	require.NoError(t, dst.PutBlock(account.Module, stale))

	n, err := Restore(dst, data)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	book, bad, err := dst.LoadBook()
	require.NoError(t, err)
	assert.Empty(t, bad)
	assert.Equal(t, 2, book.Len())
	_, ok := book.Get(9)
	assert.False(t, ok, "restore replaces the module")

	rec, err := dst.LatestLayout()
	require.NoError(t, err)
	assert.Equal(t, store.LayoutCalibrated, rec.Source)
	assert.Len(t, rec.Layout, 1)

	runs, err := dst.ImportRuns()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "vault.csv", runs[0].Source)
}

func TestCreate_SealedCache(t *testing.T) {
	master, err := security.GenerateKey(security.KeySize)
	require.NoError(t, err)

	st := openStore(t)
	st.SetSealer(sealer(t, master, security.LabelCache))
	populate(t, st)

	path, _, err := Create(st, t.TempDir(), Options{Sealer: sealer(t, master, security.LabelBackup)})
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, IsSealed(raw))

	data, err := Read(path, Options{Sealer: sealer(t, master, security.LabelBackup)})
	require.NoError(t, err)
	a, err := account.DecodeBlock(account.VersionedBlock{
		EntryID: data.Entries[0].EntryID, Revision: data.Entries[0].Revision, Data: data.Entries[0].Data,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Bank", a.AcctName)
}

func TestListAndPrune(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		name := FileName(base.Add(time.Duration(i) * time.Hour))
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))

	files, err := List(dir)
	require.NoError(t, err)
	require.Len(t, files, 4)
	assert.Equal(t, FileName(base.Add(3*time.Hour)), filepath.Base(files[0]))

	removed, err := Prune(dir, 2)
	require.NoError(t, err)
	assert.Len(t, removed, 2)

	files, err = List(dir)
	require.NoError(t, err)
	assert.Len(t, files, 2)
	_, err = os.Stat(filepath.Join(dir, "notes.txt"))
	assert.NoError(t, err)

	removed, err = Prune(dir, 0)
	assert.NoError(t, err)
	assert.Empty(t, removed)
}
