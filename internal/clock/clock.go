// Package clock abstracts timers so the simulation can run on wall-clock time
// in production and on a manually advanced clock in tests.
package clock

import (
	"sync"
	"time"
)

// Timer is a pending callback that can be cancelled.
type Timer interface {
	Stop() bool
}

// Clock schedules callbacks.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Real is the wall clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Ticker fires f every d until stopped. Each fire is rescheduled only after f
// returns, so a slow callback never overlaps with the next one.
type Ticker struct {
	clk Clock
	d   time.Duration
	f   func()

	mu      sync.Mutex
	timer   Timer
	stopped bool
}

// Every starts a Ticker on clk.
func Every(clk Clock, d time.Duration, f func()) *Ticker {
	t := &Ticker{clk: clk, d: d, f: f}
	t.schedule()
	return t
}

func (t *Ticker) schedule() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.timer = t.clk.AfterFunc(t.d, t.fire)
}

func (t *Ticker) fire() {
	t.mu.Lock()
	stopped := t.stopped
	t.mu.Unlock()
	if stopped {
		return
	}
	t.f()
	t.schedule()
}

// Stop cancels the pending fire. It is safe to call more than once.
func (t *Ticker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}
