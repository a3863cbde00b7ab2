package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signet/internal/account"
	"signet/internal/keyboard"
	"signet/internal/signetdev"
)

type testEnv struct {
	dir string
	emu *signetdev.Emulator
}

// newTestEnv points configuration, data and the device at a temp dir and
// serves an emulated token on a socket there.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	sock := filepath.Join(dir, "token.sock")

	t.Setenv("SIGNET_DATA_DIR", dir)
	t.Setenv("SIGNET_CONFIG", filepath.Join(dir, "config.toml"))
	t.Setenv("SIGNET_DEVICE_TRANSPORT", signetdev.TransportSocket)
	t.Setenv("SIGNET_DEVICE_PATH", sock)
	t.Setenv("SIGNET_STORAGE_ENCRYPT", "false")
	t.Setenv(passphraseEnv, "")

	l, err := net.Listen("unix", sock)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	emu := signetdev.NewEmulator(nil)
	go emu.ListenAndServe(ctx, l)
	return &testEnv{dir: dir, emu: emu}
}

func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return e.runContext(context.Background(), args...)
}

func (e *testEnv) runContext(ctx context.Context, args ...string) (string, error) {
	var out, errOut bytes.Buffer
	a := &app{stdin: strings.NewReader(""), stdout: &out, stderr: &errOut}
	cmd := newRootCmd(a)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	a.close()
	return out.String(), err
}

func (e *testEnv) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func seedAccounts(t *testing.T, emu *signetdev.Emulator, accts ...*account.Account) {
	t.Helper()
	var blocks []account.VersionedBlock
	for _, a := range accts {
		b, err := account.ToBlock(a)
		require.NoError(t, err)
		blocks = append(blocks, b)
	}
	emu.SetEntries(account.Module, blocks)
}

// =============================================================================
// Config
// =============================================================================

func TestConfig_PathCreatesDefault(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "config", "path")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(env.dir, "config.toml"), strings.TrimSpace(out))
	assert.FileExists(t, filepath.Join(env.dir, "config.toml"))

	out, err = env.run(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "[keyboard]")
	assert.Contains(t, out, "alias_match = true")
}

func TestConfig_InitRefusesOverwrite(t *testing.T) {
	env := newTestEnv(t)
	target := filepath.Join(env.dir, "other.yaml")

	out, err := env.run(t, "config", "init", target)
	require.NoError(t, err)
	assert.Contains(t, out, "YAML")

	_, err = env.run(t, "config", "init", target)
	assert.Error(t, err)

	_, err = env.run(t, "config", "init", "--force", target)
	assert.NoError(t, err)
}

// =============================================================================
// Device and accounts
// =============================================================================

func TestDeviceInfo(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "device", "info")
	require.NoError(t, err)
	assert.Contains(t, out, "EMULATOR")
	assert.Contains(t, out, "1.3.0")
	assert.Contains(t, out, "unlocked")
}

func TestSyncAndAccounts(t *testing.T) {
	env := newTestEnv(t)
	seedAccounts(t, env.emu,
		&account.Account{ID: 1, AcctName: "mail", UserName: "ana", Password: "hunter2", URL: "https://mail.example"},
		&account.Account{ID: 2, AcctName: "bank", UserName: "ana.b", Password: "s3cret"},
	)

	out, err := env.run(t, "sync")
	require.NoError(t, err)
	assert.Contains(t, out, "Synced 2 entries")

	out, err = env.run(t, "accounts", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "mail")
	assert.Contains(t, out, "bank")
	assert.NotContains(t, out, "hunter2")

	out, err = env.run(t, "accounts", "show", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "https://mail.example")
	assert.NotContains(t, out, "hunter2")

	out, err = env.run(t, "accounts", "show", "--reveal", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "hunter2")

	out, err = env.run(t, "cache", "verify")
	require.NoError(t, err)
	assert.Contains(t, out, "2 entries")

	_, err = env.run(t, "accounts", "show", "9")
	assert.Error(t, err)
}

// =============================================================================
// Import
// =============================================================================

const exportCSV = "title,login,pass,website,notes\n" +
	"mail,ana,hunter2,https://mail.example,personal\n" +
	",,,,\n" +
	"bank,ana.b,s3cret,,\n"

func TestImport_DryRun(t *testing.T) {
	env := newTestEnv(t)
	path := env.write(t, "export.csv", exportCSV)

	out, err := env.run(t, "import", "--dry-run", path)
	require.NoError(t, err)
	assert.Contains(t, out, "2 accounts, 1 skipped")
	assert.Contains(t, out, "mail")
	assert.Empty(t, env.emu.Entries(account.Module))
}

func TestImport_Commit(t *testing.T) {
	env := newTestEnv(t)
	seedAccounts(t, env.emu, &account.Account{ID: 4, AcctName: "old"})
	path := env.write(t, "export.csv", exportCSV)

	out, err := env.run(t, "import", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 2 of 2")

	blocks := env.emu.Entries(account.Module)
	require.Len(t, blocks, 3)
	got, err := account.DecodeBlock(blocks[1], nil)
	require.NoError(t, err)
	assert.Equal(t, 5, got.ID)
	assert.Equal(t, "mail", got.AcctName)
	assert.Equal(t, "hunter2", got.Password)

	out, err = env.run(t, "accounts", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "bank")
	assert.NotContains(t, out, "old")
}

func TestImport_Watch(t *testing.T) {
	env := newTestEnv(t)
	t.Setenv("SIGNET_IMPORT_WATCH_DIR", filepath.Join(env.dir, "drop"))
	_, err := env.run(t, "config", "path")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := env.runContext(ctx, "import", "watch")
		done <- err
	}()

	env.write(t, filepath.Join("drop", "vault.yaml"), "- name: wiki\n  password: pw\n")
	require.Eventually(t, func() bool {
		return len(env.emu.Entries(account.Module)) == 1
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("import watch did not stop")
	}

	got, err := account.DecodeBlock(env.emu.Entries(account.Module)[0], nil)
	require.NoError(t, err)
	assert.Equal(t, "wiki", got.AcctName)
}

// =============================================================================
// Keyboard
// =============================================================================

func TestKeyboard_LoadExportHistory(t *testing.T) {
	env := newTestEnv(t)
	layout := keyboard.Layout{
		{Char: 'a', Keys: [2]keyboard.PhysicalKey{{Scancode: 4}}},
		{Char: 'A', Keys: [2]keyboard.PhysicalKey{{Modifier: keyboard.ModShift, Scancode: 4}}},
	}
	data, err := keyboard.ExportYAML(layout)
	require.NoError(t, err)
	path := env.write(t, "layout.yaml", string(data))

	out, err := env.run(t, "keyboard", "load", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Loaded 2 characters")
	assert.Equal(t, layout, env.emu.Layout())

	out, err = env.run(t, "keyboard", "export", "-")
	require.NoError(t, err)
	back, err := keyboard.ImportYAML([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, layout, back)

	out, err = env.run(t, "keyboard", "history")
	require.NoError(t, err)
	assert.Contains(t, out, "imported")

	out, err = env.run(t, "keyboard", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "a")
}

func TestKeyboard_ShowWithoutLayout(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "keyboard", "show")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no cached layout")
}

// =============================================================================
// Backup
// =============================================================================

func TestBackupRestore(t *testing.T) {
	env := newTestEnv(t)
	seedAccounts(t, env.emu,
		&account.Account{ID: 1, AcctName: "mail", Password: "hunter2"},
		&account.Account{ID: 2, AcctName: "bank"},
	)
	_, err := env.run(t, "sync")
	require.NoError(t, err)

	target := filepath.Join(env.dir, "manual", "snap.json")
	out, err := env.run(t, "backup", target)
	require.NoError(t, err)
	assert.Contains(t, out, "Backed up 2 entries")
	assert.FileExists(t, target+".zst")

	out, err = env.run(t, "backup")
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(env.dir, "backups"))

	out, err = env.run(t, "backup", "list")
	require.NoError(t, err)
	assert.Contains(t, out, ".json.zst")

	env.emu.SetEntries(account.Module, nil)
	_, err = env.run(t, "sync")
	require.NoError(t, err)

	out, err = env.run(t, "restore", target+".zst")
	require.NoError(t, err)
	assert.Contains(t, out, "Restored 2 entries")

	out, err = env.run(t, "accounts", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "mail")
}

func TestDoctor(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "doctor")
	require.NoError(t, err)
	assert.Contains(t, out, "EMULATOR")
	assert.Contains(t, out, "config")
	assert.Contains(t, out, "backups")

	t.Setenv("SIGNET_DEVICE_PATH", filepath.Join(env.dir, "absent.sock"))
	out, err = env.run(t, "doctor")
	require.Error(t, err)
	assert.Contains(t, out, "fail")
}

// =============================================================================
// Passphrase
// =============================================================================

func TestReadPassphrase(t *testing.T) {
	t.Setenv(passphraseEnv, "")

	a := &app{stdin: strings.NewReader("correct horse\nrest\n"), stderr: &bytes.Buffer{}}
	pass, err := a.readPassphrase("> ")
	require.NoError(t, err)
	assert.Equal(t, "correct horse", string(pass))

	a.stdin = strings.NewReader("\n")
	_, err = a.readPassphrase("> ")
	assert.ErrorIs(t, err, errNoPassphrase)

	t.Setenv(passphraseEnv, "from-env")
	pass, err = a.readPassphrase("> ")
	require.NoError(t, err)
	assert.Equal(t, "from-env", string(pass))
}
