// Package throttle coalesces bursts of calls so that at most one runs per
// window. The latest call of a burst is kept and runs at the end of the
// window.
package throttle

import (
	"sync"
	"time"
)

// Scheduler runs fn after d and returns a function that cancels it.
type Scheduler func(d time.Duration, fn func()) (stop func() bool)

// AfterFunc is the real-time scheduler.
func AfterFunc(d time.Duration, fn func()) func() bool {
	return time.AfterFunc(d, fn).Stop
}

// Throttle coalesces calls to Do.
type Throttle struct {
	window   time.Duration
	now      func() time.Time
	schedule Scheduler

	mu      sync.Mutex
	last    time.Time
	ran     bool
	pending func()
	stop    func() bool
}

// Option configures a Throttle.
type Option func(*Throttle)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Throttle) { t.now = now }
}

// WithScheduler replaces time.AfterFunc.
func WithScheduler(s Scheduler) Option {
	return func(t *Throttle) { t.schedule = s }
}

// New creates a throttle with the given window.
func New(window time.Duration, opts ...Option) *Throttle {
	t := &Throttle{window: window, now: time.Now, schedule: AfterFunc}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Do runs fn now if the window since the last run has passed. Otherwise fn
// replaces any pending call and runs when the window closes. It reports
// whether fn ran synchronously.
func (t *Throttle) Do(fn func()) bool {
	t.mu.Lock()
	now := t.now()
	if t.pending == nil && (!t.ran || now.Sub(t.last) >= t.window) {
		t.last = now
		t.ran = true
		t.mu.Unlock()
		fn()
		return true
	}
	t.pending = fn
	if t.stop == nil {
		wait := t.window - now.Sub(t.last)
		if wait < 0 {
			wait = 0
		}
		t.stop = t.schedule(wait, t.fire)
	}
	t.mu.Unlock()
	return false
}

func (t *Throttle) fire() {
	t.mu.Lock()
	fn := t.pending
	t.pending = nil
	t.stop = nil
	if fn == nil {
		t.mu.Unlock()
		return
	}
	t.last = t.now()
	t.ran = true
	t.mu.Unlock()
	fn()
}

// Stop drops any pending call.
func (t *Throttle) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop != nil {
		t.stop()
		t.stop = nil
	}
	t.pending = nil
}
