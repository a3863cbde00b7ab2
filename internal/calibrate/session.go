// Package calibrate teaches the Signet token the host keyboard layout.
//
// A Session makes the device type every key in the scancode table under each
// modifier pass and records which character the host reports for it. The
// session itself is a plain state machine: it never blocks and never starts
// goroutines. Every input (device confirmation, host text, focus change,
// timer expiry) is a method call, and a Runner serialises those calls onto a
// single goroutine for real use.
package calibrate

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"signet/internal/keyboard"
)

// ProbeTimeout is how long the host gets to report a character for a probe.
const ProbeTimeout = 100 * time.Millisecond

// maxUnconfirmed is how many probe timeouts may pass while the device has
// not confirmed the outstanding command.
const maxUnconfirmed = 2

// Errors reported by a session.
var (
	ErrInterrupted   = errors.New("calibrate: interrupted")
	ErrDeviceTimeout = errors.New("calibrate: device did not confirm command")
	ErrDevice        = errors.New("calibrate: device command failed")
	ErrNotCompleted  = errors.New("calibrate: session not completed")
	ErrBusy          = errors.New("calibrate: session already running")
)

// State is the phase a session is in.
type State int

const (
	StateIdle State = iota
	StateConfiguring
	StateAwaitingFocus
	StateTesting
	StateInterrupted
	StateCompleted
)

var stateNames = [...]string{"idle", "configuring", "awaiting-focus", "testing", "interrupted", "completed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Device types raw key reports. TypeRaw must only queue the command and
// return its token; completion is reported back through CommandCompleted.
type Device interface {
	TypeRaw(codes []byte, keyCount int) (uint32, error)
}

// Timer is the single probe timer of a session. Reset replaces any pending
// expiry; when it fires the owner calls Session.TimerExpired with gen.
type Timer interface {
	Reset(gen uint64, d time.Duration)
	Stop()
}

// Inspector answers whether the host keyboard uses right-Alt as a plain
// modifier, in which case right-Alt passes produce nothing useful.
type Inspector interface {
	RightAltIsModifier() (bool, error)
}

// Config wires a session to its collaborators.
type Config struct {
	Device    Device
	Timer     Timer
	Inspector Inspector

	// Previous is the layout currently on the device; it is kept when the
	// session is cancelled, interrupted or reset.
	Previous keyboard.Layout

	// GOOS selects the probe table and seed entries. Defaults to runtime.GOOS.
	GOOS   string
	Logger *slog.Logger
}

// Snapshot is a copy of the observable session state.
type Snapshot struct {
	State        State
	Pass         uint8
	PassIndex    int
	PassCount    int
	Index        int
	TableSize    int
	Probes       int
	SkipRightAlt bool
	Layout       keyboard.Layout
	Err          error
}

// Progress is the fraction of probes done, in [0,1].
func (s Snapshot) Progress() float64 {
	total := s.PassCount * s.TableSize
	if total == 0 {
		return 0
	}
	if s.State == StateCompleted {
		return 1
	}
	return float64(s.PassIndex*s.TableSize+s.Index) / float64(total)
}

// Session is one calibration run. It is not safe for concurrent use.
type Session struct {
	dev   Device
	timer Timer
	insp  Inspector
	log   *slog.Logger

	table    []keyboard.ScancodeInfo
	goos     string
	previous keyboard.Layout

	state    State
	focused  bool
	skipRAlt bool
	passes   []uint8
	passIdx  int
	idx      int
	layout   keyboard.Layout
	probes   int
	err      error

	// per probe
	emitted     []keyboard.PhysicalKey
	timeouts    int
	unconfirmed int
	typed       bool
	answered    bool

	// outstanding device command
	pending bool
	token   uint32

	gen   uint64
	armed bool
}

// NewSession returns an idle session.
func NewSession(cfg Config) *Session {
	goos := cfg.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		dev:      cfg.Device,
		timer:    cfg.Timer,
		insp:     cfg.Inspector,
		log:      log.With(slog.String("component", "calibrate")),
		table:    keyboard.Table(goos),
		goos:     goos,
		previous: cfg.Previous.Clone(),
	}
}

// State returns the current state.
func (s *Session) State() State { return s.state }

// Err returns why the session was interrupted.
func (s *Session) Err() error { return s.err }

// Layout returns the layout being built while testing or after completion,
// otherwise the previous layout.
func (s *Session) Layout() keyboard.Layout {
	if s.state == StateTesting || s.state == StateCompleted {
		return s.layout.Clone()
	}
	return s.previous.Clone()
}

// Snapshot copies the observable state.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		State:        s.state,
		PassIndex:    s.passIdx,
		PassCount:    len(s.passes),
		Index:        s.idx,
		TableSize:    len(s.table) - 1,
		Probes:       s.probes,
		SkipRightAlt: s.skipRAlt,
		Layout:       s.Layout(),
		Err:          s.err,
	}
	if s.passIdx < len(s.passes) {
		snap.Pass = s.passes[s.passIdx]
	}
	return snap
}

// Configure inspects the host keyboard and waits for focus. It may be called
// from Idle, Interrupted or Completed to start over.
func (s *Session) Configure() error {
	switch s.state {
	case StateIdle, StateInterrupted, StateCompleted:
	default:
		return fmt.Errorf("%w: %s", ErrBusy, s.state)
	}
	s.state = StateConfiguring
	s.err = nil
	s.layout = nil

	s.skipRAlt = false
	if s.insp != nil {
		skip, err := s.insp.RightAltIsModifier()
		if err != nil {
			s.log.Warn("host keyboard inspection failed, probing right-alt", "error", err)
		} else {
			s.skipRAlt = skip
		}
	}
	s.passes = keyboard.Passes(s.skipRAlt)
	s.log.Info("calibration configured", "skip_right_alt", s.skipRAlt, "passes", len(s.passes))

	s.state = StateAwaitingFocus
	if s.focused {
		s.startTesting()
	}
	return nil
}

// FocusChanged reports whether the window receiving the typed keys has focus.
func (s *Session) FocusChanged(focused bool) {
	s.focused = focused
	switch {
	case focused && s.state == StateAwaitingFocus:
		s.startTesting()
	case !focused && s.state == StateTesting:
		s.interrupt(ErrInterrupted)
	}
}

// ActivationChanged reports whether the host application is active.
func (s *Session) ActivationChanged(active bool) {
	if !active && s.state == StateTesting {
		s.interrupt(ErrInterrupted)
	}
}

// CommandCompleted is the device's confirmation for a command. Tokens other
// than the outstanding one are ignored.
func (s *Session) CommandCompleted(token uint32, cmdErr error) {
	if !s.pending || token != s.token {
		s.log.Debug("ignoring stale device response", "seq", token)
		return
	}
	s.pending = false
	if s.state != StateTesting {
		return
	}
	if cmdErr != nil {
		s.interrupt(fmt.Errorf("%w: %v", ErrDevice, cmdErr))
		return
	}
	s.typed = true
	s.unconfirmed = 0
	if s.answered {
		s.stopTimer()
		s.advance()
	}
}

// TextReceived is the text the host produced for the keys typed so far.
// Empty text is ignored; a missing character shows up as probe timeouts.
func (s *Session) TextReceived(text string) {
	if s.state != StateTesting || s.answered || text == "" {
		return
	}
	runes := []rune(text)
	if len(runes) == 1 && runes[0] == ' ' && s.timeouts > 0 {
		// Echo of the space typed to flush a dead key.
		return
	}

	s.answered = true
	if len(runes) != 1 {
		s.log.Debug("ambiguous host text, skipping key", "pass", s.pass(), "scancode", s.current().Code, "runes", len(runes))
	} else {
		s.record(runes[0])
	}
	if s.typed {
		s.stopTimer()
		s.advance()
		return
	}
	// Keep watching for the device confirmation.
	s.startTimer()
}

// TimerExpired is delivered when the probe timer for gen fires. Expiries
// of earlier generations are ignored.
func (s *Session) TimerExpired(gen uint64) {
	if gen != s.gen || !s.armed || s.state != StateTesting {
		return
	}
	s.armed = false

	if !s.typed {
		// Still waiting on the device for the outstanding command.
		s.unconfirmed++
		if s.unconfirmed > maxUnconfirmed {
			s.interrupt(ErrDeviceTimeout)
			return
		}
		s.startTimer()
		return
	}
	s.onProbeTimeout()
}

// Apply returns the completed layout so the caller can commit it, and makes
// it the session's previous layout.
func (s *Session) Apply() (keyboard.Layout, error) {
	if s.state != StateCompleted {
		return nil, fmt.Errorf("%w: %s", ErrNotCompleted, s.state)
	}
	s.previous = s.layout.Clone()
	s.layout = nil
	s.state = StateIdle
	return s.previous.Clone(), nil
}

// Reset discards the completed layout and keeps the previous one.
func (s *Session) Reset() keyboard.Layout {
	if s.state == StateCompleted || s.state == StateInterrupted {
		s.state = StateIdle
	}
	s.layout = nil
	s.err = nil
	return s.previous.Clone()
}

// Cancel abandons the session and keeps the previous layout. A running test
// is stopped on the device.
func (s *Session) Cancel() {
	if s.state == StateTesting {
		s.stopDevice()
	}
	s.layout = nil
	s.err = nil
	s.state = StateIdle
}

func (s *Session) startTesting() {
	s.state = StateTesting
	s.passIdx = 0
	s.idx = 0
	s.probes = 0
	s.pending = false
	s.layout = keyboard.Seed(s.goos)
	s.log.Info("calibration started", "probes", (len(s.table)-1)*len(s.passes))
	s.probe()
}

func (s *Session) current() keyboard.ScancodeInfo { return s.table[s.idx] }

func (s *Session) pass() uint8 { return s.passes[s.passIdx] }

func (s *Session) resetProbe() {
	s.emitted = s.emitted[:0]
	s.timeouts = 0
	s.unconfirmed = 0
	s.typed = false
	s.answered = false
}

// probe types the current table key under the current pass.
func (s *Session) probe() {
	s.resetProbe()
	key := keyboard.PhysicalKey{Modifier: s.pass(), Scancode: s.current().Code}
	s.probes++
	s.typeKey(key)
}

// typeKey presses and releases key and arms the probe timer.
func (s *Session) typeKey(key keyboard.PhysicalKey) {
	s.emitted = append(s.emitted, key)
	s.typed = false
	if !s.send([]byte{key.Modifier, key.Scancode, key.Modifier, 0}, 2) {
		return
	}
	s.startTimer()
}

func (s *Session) send(codes []byte, keyCount int) bool {
	tok, err := s.dev.TypeRaw(codes, keyCount)
	if err != nil {
		s.interrupt(fmt.Errorf("%w: %v", ErrDevice, err))
		return false
	}
	s.pending = true
	s.token = tok
	return true
}

// onProbeTimeout handles a probe with no host text once the device has
// confirmed it. The first time a neutral space is typed so a pending dead key
// composes; the second time the key is given up.
func (s *Session) onProbeTimeout() {
	s.timeouts++
	if s.timeouts < 2 {
		s.typeKey(keyboard.PhysicalKey{Scancode: keyboard.ScancodeSpace})
		return
	}
	s.log.Debug("no host text, skipping key", "pass", s.pass(), "scancode", s.current().Code)
	s.answered = true
	s.advance()
}

func (s *Session) record(r rune) {
	if _, dup := s.layout.Lookup(r); dup {
		return
	}
	e := keyboard.LayoutEntry{Char: r}
	e.Keys[0] = s.emitted[0]
	if len(s.emitted) > 1 {
		e.Keys[1] = s.emitted[1]
	}
	s.layout = append(s.layout, e)
}

// advance moves to the next key, pass or completion.
func (s *Session) advance() {
	s.idx++
	if s.current().Code == 0 {
		s.idx = 0
		s.passIdx++
		if s.passIdx == len(s.passes) {
			s.complete()
			return
		}
	}
	s.probe()
}

func (s *Session) complete() {
	s.stopDevice()
	s.passIdx = len(s.passes) - 1
	s.idx = len(s.table) - 1
	s.state = StateCompleted
	s.log.Info("calibration completed", "entries", len(s.layout), "probes", s.probes)
}

func (s *Session) interrupt(err error) {
	s.stopDevice()
	s.layout = nil
	s.err = err
	s.state = StateInterrupted
	s.log.Warn("calibration interrupted", "error", err)
}

// stopDevice stops the timer and releases any key the device still holds.
// The stop command is sent even with a command outstanding.
func (s *Session) stopDevice() {
	s.stopTimer()
	s.pending = false
	if _, err := s.dev.TypeRaw([]byte{0, 0}, 1); err != nil {
		s.log.Warn("stop command failed", "error", err)
	}
}

func (s *Session) startTimer() {
	s.gen++
	s.armed = true
	if s.timer != nil {
		s.timer.Reset(s.gen, ProbeTimeout)
	}
}

func (s *Session) stopTimer() {
	if !s.armed {
		return
	}
	s.armed = false
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
	}
}
