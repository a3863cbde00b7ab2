// Package calibui is the terminal front end of a keyboard calibration. The
// terminal itself is the host text field: characters the token types arrive
// as key messages and are handed to the calibration runner, and terminal
// focus reports stand in for window focus.
package calibui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"signet/internal/calibrate"
	"signet/internal/keyboard"
)

// ErrAborted is returned by Run when the user leaves without applying.
var ErrAborted = errors.New("calibration aborted")

// Runner is the part of *calibrate.Runner the UI drives.
type Runner interface {
	Configure()
	Focus(focused bool)
	Text(text string)
	Cancel()
	Apply(ctx context.Context) (keyboard.Layout, error)
	Reset(ctx context.Context) (keyboard.Layout, error)
	Snapshots() <-chan calibrate.Snapshot
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	stateStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	helpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type snapshotMsg calibrate.Snapshot

type appliedMsg struct {
	layout keyboard.Layout
	err    error
}

type resetMsg struct {
	layout keyboard.Layout
	err    error
}

// Model is the bubbletea model of a calibration run.
type Model struct {
	ctx    context.Context
	runner Runner
	table  []keyboard.ScancodeInfo

	snap     calibrate.Snapshot
	bar      progress.Model
	typed    []rune
	result   keyboard.Layout
	applied  bool
	err      error
	quitting bool
}

// New returns a model for runner. goos selects the probe table used to
// highlight the key being tested.
func New(ctx context.Context, runner Runner, goos string) Model {
	return Model{
		ctx:    ctx,
		runner: runner,
		table:  keyboard.Table(goos),
		bar:    progress.New(progress.WithDefaultGradient(), progress.WithWidth(48)),
	}
}

func waitSnapshot(ch <-chan calibrate.Snapshot) tea.Cmd {
	return func() tea.Msg {
		s, ok := <-ch
		if !ok {
			return nil
		}
		return snapshotMsg(s)
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return waitSnapshot(m.runner.Snapshots())
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.bar.Width = min(max(msg.Width-4, 10), 72)
		return m, nil

	case tea.FocusMsg:
		m.runner.Focus(true)
		return m, nil

	case tea.BlurMsg:
		m.runner.Focus(false)
		return m, nil

	case snapshotMsg:
		prev := m.snap.State
		m.snap = calibrate.Snapshot(msg)
		if m.snap.State == calibrate.StateTesting && prev != calibrate.StateTesting {
			m.typed = m.typed[:0]
		}
		return m, waitSnapshot(m.runner.Snapshots())

	case appliedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.result = msg.layout
		m.applied = true
		m.quitting = true
		return m, tea.Quit

	case resetMsg:
		if msg.err != nil {
			m.err = msg.err
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		m.runner.Cancel()
		m.quitting = true
		return m, tea.Quit
	}

	if m.snap.State == calibrate.StateTesting {
		if text := keyText(msg); text != "" {
			m.typed = append(m.typed, []rune(text)...)
			if len(m.typed) > 64 {
				m.typed = m.typed[len(m.typed)-64:]
			}
			m.runner.Text(text)
		}
		return m, nil
	}

	switch msg.String() {
	case "enter", "s":
		if m.snap.State != calibrate.StateConfiguring && m.snap.State != calibrate.StateAwaitingFocus {
			m.err = nil
			// Focus reports only arrive on change, and a key press means
			// this terminal already has focus.
			m.runner.Focus(true)
			m.runner.Configure()
		}
	case "a":
		if m.snap.State == calibrate.StateCompleted {
			return m, m.apply()
		}
	case "r":
		if m.snap.State == calibrate.StateCompleted {
			return m, m.reset()
		}
	case "q", "esc":
		m.runner.Cancel()
		m.quitting = true
		return m, tea.Quit
	}
	return m, nil
}

// keyText is the text a key message stands for while testing.
func keyText(msg tea.KeyMsg) string {
	switch msg.Type {
	case tea.KeyRunes:
		return string(msg.Runes)
	case tea.KeySpace:
		return " "
	case tea.KeyEnter:
		return "\n"
	case tea.KeyTab:
		return "\t"
	}
	return ""
}

func (m Model) apply() tea.Cmd {
	return func() tea.Msg {
		l, err := m.runner.Apply(m.ctx)
		return appliedMsg{layout: l, err: err}
	}
}

func (m Model) reset() tea.Cmd {
	return func() tea.Msg {
		l, err := m.runner.Reset(m.ctx)
		return resetMsg{layout: l, err: err}
	}
}

// current returns the key being probed, if any.
func (m Model) current() (keyboard.PhysicalKey, bool) {
	if m.snap.State != calibrate.StateTesting || m.snap.Index >= len(m.table)-1 {
		return keyboard.PhysicalKey{}, false
	}
	return keyboard.PhysicalKey{Modifier: m.snap.Pass, Scancode: m.table[m.snap.Index].Code}, true
}

func passName(mod uint8) string {
	var parts []string
	if mod&keyboard.ModShift != 0 {
		parts = append(parts, "shift")
	}
	if mod&keyboard.ModRightAlt != 0 {
		parts = append(parts, "right-alt")
	}
	if len(parts) == 0 {
		return "plain"
	}
	return strings.Join(parts, "+")
}

func (m Model) status() string {
	switch m.snap.State {
	case calibrate.StateIdle:
		return "Press enter to start. Keep this terminal focused while keys are typed."
	case calibrate.StateConfiguring:
		return "Inspecting host keyboard..."
	case calibrate.StateAwaitingFocus:
		return "Waiting for this terminal to be focused."
	case calibrate.StateTesting:
		return fmt.Sprintf("Testing %s keys, pass %d of %d, key %d of %d",
			passName(m.snap.Pass), m.snap.PassIndex+1, m.snap.PassCount, m.snap.Index+1, m.snap.TableSize)
	case calibrate.StateInterrupted:
		return "Interrupted. Press enter to start over."
	case calibrate.StateCompleted:
		return fmt.Sprintf("Done: %d characters from %d probes.", len(m.snap.Layout), m.snap.Probes)
	}
	return m.snap.State.String()
}

func (m Model) help() string {
	switch m.snap.State {
	case calibrate.StateTesting:
		return "ctrl+c abort"
	case calibrate.StateCompleted:
		return "a apply • r reset • enter redo • q quit"
	}
	return "enter start • q quit"
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	cur, hasCur := m.current()
	sections := []string{
		titleStyle.Render("Signet keyboard calibration"),
		stateStyle.Render(m.status()),
		m.bar.ViewAs(m.snap.Progress()),
		RenderLayout(m.snap.Layout, cur, hasCur),
	}
	if m.snap.SkipRightAlt {
		sections = append(sections, helpStyle.Render("Right-Alt acts as a plain modifier here; right-Alt passes are skipped."))
	}
	if composed := ComposedEntries(m.snap.Layout); len(composed) > 0 {
		sections = append(sections, "Dead keys: "+strings.Join(composed, " "))
	}
	if m.snap.State == calibrate.StateTesting && len(m.typed) > 0 {
		sections = append(sections, helpStyle.Render("received: "+strings.ReplaceAll(string(m.typed), "\n", "⏎")))
	}
	if err := m.err; err != nil {
		sections = append(sections, errStyle.Render(err.Error()))
	} else if m.snap.Err != nil {
		sections = append(sections, errStyle.Render(m.snap.Err.Error()))
	}
	sections = append(sections, helpStyle.Render(m.help()))
	return lipgloss.JoinVertical(lipgloss.Left, sections...) + "\n"
}

// Result returns the applied layout.
func (m Model) Result() (keyboard.Layout, bool) {
	return m.result, m.applied
}

// Run shows the calibration UI until the user applies a layout or quits.
func Run(ctx context.Context, runner Runner, goos string, opts ...tea.ProgramOption) (keyboard.Layout, error) {
	opts = append([]tea.ProgramOption{tea.WithReportFocus(), tea.WithContext(ctx)}, opts...)
	final, err := tea.NewProgram(New(ctx, runner, goos), opts...).Run()
	if err != nil {
		return nil, err
	}
	m, ok := final.(Model)
	if !ok {
		return nil, ErrAborted
	}
	if l, applied := m.Result(); applied {
		return l, nil
	}
	return nil, ErrAborted
}
