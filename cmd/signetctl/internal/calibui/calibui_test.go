package calibui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signet/internal/calibrate"
	"signet/internal/hostkbd"
	"signet/internal/keyboard"
)

type fakeRunner struct {
	calls    []string
	text     []string
	snaps    chan calibrate.Snapshot
	layout   keyboard.Layout
	resetErr error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{snaps: make(chan calibrate.Snapshot, 1)}
}

func (f *fakeRunner) Configure() { f.calls = append(f.calls, "configure") }
func (f *fakeRunner) Focus(focused bool) {
	if focused {
		f.calls = append(f.calls, "focus")
	} else {
		f.calls = append(f.calls, "blur")
	}
}
func (f *fakeRunner) Text(text string) { f.text = append(f.text, text) }
func (f *fakeRunner) Cancel()          { f.calls = append(f.calls, "cancel") }
func (f *fakeRunner) Apply(context.Context) (keyboard.Layout, error) {
	f.calls = append(f.calls, "apply")
	return f.layout, nil
}
func (f *fakeRunner) Reset(context.Context) (keyboard.Layout, error) {
	f.calls = append(f.calls, "reset")
	return nil, f.resetErr
}
func (f *fakeRunner) Snapshots() <-chan calibrate.Snapshot { return f.snaps }

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(Model)
	require.True(t, ok)
	return nm, cmd
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestModel_FocusAndStart(t *testing.T) {
	r := newFakeRunner()
	m := New(context.Background(), r, "linux")

	m, _ = update(t, m, tea.FocusMsg{})
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	m, _ = update(t, m, tea.BlurMsg{})

	assert.Equal(t, []string{"focus", "focus", "configure", "blur"}, r.calls)
	assert.Contains(t, m.View(), "Press enter to start")
}

func TestModel_ResetError(t *testing.T) {
	r := newFakeRunner()
	r.resetErr = errors.New("runner stopped")
	m := New(context.Background(), r, "linux")
	m, _ = update(t, m, snapshotMsg{State: calibrate.StateCompleted})

	m, cmd := update(t, m, runes("r"))
	require.NotNil(t, cmd)
	m, _ = update(t, m, cmd())

	assert.Contains(t, r.calls, "reset")
	assert.Contains(t, m.View(), "runner stopped")
}

type silentDevice struct {
	mu  sync.Mutex
	seq uint32
}

func (d *silentDevice) TypeRaw([]byte, int) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	return d.seq, nil
}

// A terminal that already has focus sends no focus report when reporting
// is switched on, so starting from the keyboard must be enough.
func TestModel_StartWithoutFocusReport(t *testing.T) {
	runner := calibrate.NewRunner(calibrate.Config{
		Device:    &silentDevice{},
		Inspector: hostkbd.Static(false),
		GOOS:      "linux",
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runner.Run(ctx)

	m := New(ctx, runner, "linux")
	m, _ = update(t, m, m.Init()())
	require.Equal(t, calibrate.StateIdle, m.snap.State)

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	deadline := time.After(5 * time.Second)
	for m.snap.State != calibrate.StateTesting {
		select {
		case snap := <-runner.Snapshots():
			m, _ = update(t, m, snapshotMsg(snap))
		case <-deadline:
			t.Fatalf("state after enter: %s", m.snap.State)
		}
	}
}

func TestModel_ForwardsTextWhileTesting(t *testing.T) {
	r := newFakeRunner()
	m := New(context.Background(), r, "linux")
	m, cmd := update(t, m, snapshotMsg{State: calibrate.StateTesting, PassCount: 4, TableSize: 49, Index: 0})
	assert.NotNil(t, cmd, "keeps waiting for snapshots")

	m, _ = update(t, m, runes("q"))
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeySpace})
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyLeft})

	assert.Equal(t, []string{"q", " ", "\n"}, r.text)
	assert.Empty(t, r.calls, "typed characters are not commands while testing")

	view := m.View()
	assert.Contains(t, view, "pass 1 of 4")
	assert.Contains(t, view, "received: q ⏎")

	cur, ok := m.current()
	require.True(t, ok)
	assert.Equal(t, keyboard.PhysicalKey{Scancode: 4}, cur)
}

func TestModel_ApplyAfterCompletion(t *testing.T) {
	r := newFakeRunner()
	r.layout = keyboard.Layout{{Char: 'a', Keys: [2]keyboard.PhysicalKey{{Scancode: 4}}}}
	m := New(context.Background(), r, "linux")

	m, _ = update(t, m, snapshotMsg{State: calibrate.StateCompleted, Layout: r.layout, Probes: 12})
	assert.Contains(t, m.View(), "Done: 1 characters from 12 probes.")

	m, cmd := update(t, m, runes("a"))
	require.NotNil(t, cmd)
	msg := cmd()
	m, cmd = update(t, m, msg)
	require.NotNil(t, cmd)

	l, ok := m.Result()
	assert.True(t, ok)
	assert.Equal(t, r.layout, l)
	assert.Contains(t, r.calls, "apply")
}

func TestModel_QuitCancels(t *testing.T) {
	r := newFakeRunner()
	m := New(context.Background(), r, "linux")
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.Equal(t, []string{"cancel"}, r.calls)
	_, ok := m.Result()
	assert.False(t, ok)
	assert.Empty(t, m.View())
}

func TestRenderLayout(t *testing.T) {
	l := keyboard.Layout{
		{Char: 'a', Keys: [2]keyboard.PhysicalKey{{Scancode: 4}}},
		{Char: 'A', Keys: [2]keyboard.PhysicalKey{{Modifier: keyboard.ModShift, Scancode: 4}}},
		{Char: '@', Keys: [2]keyboard.PhysicalKey{{Modifier: keyboard.ModRightAlt, Scancode: 20}}},
		{Char: 'é', Keys: [2]keyboard.PhysicalKey{{Modifier: keyboard.ModRightAlt, Scancode: 52}, {Scancode: 8}}},
	}
	out := RenderLayout(l, keyboard.PhysicalKey{}, false)
	for _, want := range []string{"plain", "shift", "right-alt", " a ", " A ", " @ "} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "é", "composed characters are listed separately")
	assert.Equal(t, 1, len(ComposedEntries(l)))
	assert.True(t, strings.HasPrefix(ComposedEntries(l)[0], "'é'="))
}
