package calibrate

import (
	"context"
	"sync"
	"time"

	"signet/internal/keyboard"
)

// Runner owns a Session and feeds it every event from a single goroutine.
// Callers post events from any goroutine; state changes are published on
// Snapshots, newest first, dropping ones nobody read in time.
type Runner struct {
	session   *Session
	events    chan func(*Session)
	snapshots chan Snapshot
	done      chan struct{}
	closeOnce sync.Once
}

// NewRunner builds a session from cfg. cfg.Timer is replaced by a wall-clock
// timer that posts expiries back through the runner.
func NewRunner(cfg Config) *Runner {
	r := &Runner{
		events:    make(chan func(*Session), 64),
		snapshots: make(chan Snapshot, 1),
		done:      make(chan struct{}),
	}
	cfg.Timer = &clockTimer{post: r.post}
	r.session = NewSession(cfg)
	return r
}

// Run processes events until ctx is cancelled. A running test is cancelled
// on the device before Run returns.
func (r *Runner) Run(ctx context.Context) error {
	defer r.closeOnce.Do(func() { close(r.done) })
	r.publish()
	for {
		select {
		case <-ctx.Done():
			if r.session.State() == StateTesting {
				r.session.Cancel()
			}
			return ctx.Err()
		case ev := <-r.events:
			ev(r.session)
			r.publish()
		}
	}
}

// Snapshots delivers state after every event.
func (r *Runner) Snapshots() <-chan Snapshot {
	return r.snapshots
}

func (r *Runner) publish() {
	snap := r.session.Snapshot()
	select {
	case r.snapshots <- snap:
		return
	default:
	}
	// Replace the unread snapshot with the newer one.
	select {
	case <-r.snapshots:
	default:
	}
	select {
	case r.snapshots <- snap:
	default:
	}
}

// post queues ev; it reports false once the runner has stopped.
func (r *Runner) post(ev func(*Session)) bool {
	select {
	case <-r.done:
		return false
	default:
	}
	select {
	case r.events <- ev:
		return true
	case <-r.done:
		return false
	}
}

// Configure starts a new calibration.
func (r *Runner) Configure() {
	r.post(func(s *Session) {
		if err := s.Configure(); err != nil {
			s.log.Warn("configure rejected", "error", err)
		}
	})
}

// Focus reports a focus change of the window receiving the typed keys.
func (r *Runner) Focus(focused bool) {
	r.post(func(s *Session) { s.FocusChanged(focused) })
}

// Activation reports the host application gaining or losing activation.
func (r *Runner) Activation(active bool) {
	r.post(func(s *Session) { s.ActivationChanged(active) })
}

// Text reports characters the host produced.
func (r *Runner) Text(text string) {
	r.post(func(s *Session) { s.TextReceived(text) })
}

// DeviceResponse reports completion of a device command.
func (r *Runner) DeviceResponse(token uint32, err error) {
	r.post(func(s *Session) { s.CommandCompleted(token, err) })
}

// Cancel abandons a running calibration.
func (r *Runner) Cancel() {
	r.post(func(s *Session) { s.Cancel() })
}

// Apply waits for the session to hand over its completed layout.
func (r *Runner) Apply(ctx context.Context) (keyboard.Layout, error) {
	type result struct {
		layout keyboard.Layout
		err    error
	}
	ch := make(chan result, 1)
	if !r.post(func(s *Session) {
		l, err := s.Apply()
		ch <- result{l, err}
	}) {
		return nil, context.Canceled
	}
	select {
	case res := <-ch:
		return res.layout, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Reset discards a completed layout and returns the previous one.
func (r *Runner) Reset(ctx context.Context) (keyboard.Layout, error) {
	ch := make(chan keyboard.Layout, 1)
	if !r.post(func(s *Session) { ch <- s.Reset() }) {
		return nil, context.Canceled
	}
	select {
	case l := <-ch:
		return l, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// clockTimer turns Timer calls into time.AfterFunc callbacks that post the
// expiry back to the runner goroutine.
type clockTimer struct {
	mu   sync.Mutex
	t    *time.Timer
	post func(func(*Session)) bool
}

func (c *clockTimer) Reset(gen uint64, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.t != nil {
		c.t.Stop()
	}
	c.t = time.AfterFunc(d, func() {
		c.post(func(s *Session) { s.TimerExpired(gen) })
	})
}

func (c *clockTimer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.t != nil {
		c.t.Stop()
		c.t = nil
	}
}
