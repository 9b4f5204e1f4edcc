package simulator

import (
	"slices"
	"sync"

	"netfish/internal/model"
)

type listener struct {
	fn func(model.SimulationState)
}

// effects collects what a locked section wants done after the lock is
// released.
type effects struct {
	notify         bool
	throttled      bool
	outOfRange     func()
	rebalanced     []model.RebalanceEvent
	rebalanceHooks []func(model.RebalanceEvent)
}

// Subscribe registers fn for state snapshots and returns its unsubscribe
// function. Beyond the listener cap the oldest registrations are dropped.
func (e *Engine) Subscribe(fn func(model.SimulationState)) func() {
	l := &listener{fn: fn}

	e.mu.Lock()
	e.listeners = append(e.listeners, l)
	if limit := e.cfg.MaxListeners; limit > 0 && len(e.listeners) > limit {
		dropped := len(e.listeners) - limit
		e.listeners = slices.Clone(e.listeners[dropped:])
		e.logger.Warn("Too many listeners, dropping oldest", "dropped", dropped, "limit", limit)
	}
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.listeners = slices.DeleteFunc(e.listeners, func(x *listener) bool { return x == l })
		})
	}
}

// ListenerCount returns the number of registered listeners.
func (e *Engine) ListenerCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners)
}

func (e *Engine) apply(fx *effects) {
	if fx.outOfRange != nil {
		e.safeCall("out-of-range callback", fx.outOfRange)
	}
	for _, ev := range fx.rebalanced {
		for _, hook := range fx.rebalanceHooks {
			e.safeCall("rebalance hook", func() { hook(ev) })
		}
	}
	switch {
	case fx.notify:
		e.notify()
	case fx.throttled:
		e.scheduleNotify()
	}
}

// scheduleNotify drops notifications that come faster than the throttle.
// Only delivery is throttled; the state itself is always current.
func (e *Engine) scheduleNotify() {
	e.mu.Lock()
	due := e.clock.Now().Sub(e.lastNotify) >= e.cfg.NotifyThrottle
	e.mu.Unlock()
	if due {
		e.notify()
	}
}

// notify delivers a fresh snapshot to every listener. A notify raised while
// a delivery is in progress (from a listener or another goroutine) does not
// recurse; the running delivery loops once more with the newest state. The
// pending flag is set before the dispatch slot is tried, so whichever caller
// holds the slot last always sees it.
func (e *Engine) notify() {
	e.redispatch.Store(true)
	for e.redispatch.Load() && e.dispatching.CompareAndSwap(false, true) {
		for e.redispatch.Swap(false) {
			e.mu.Lock()
			snapshot := e.state
			listeners := slices.Clone(e.listeners)
			e.lastNotify = e.clock.Now()
			e.mu.Unlock()

			for _, l := range listeners {
				e.deliver(l, snapshot)
			}
		}
		e.dispatching.Store(false)
	}
}

func (e *Engine) deliver(l *listener, s model.SimulationState) {
	e.safeCall("listener", func() { l.fn(s) })
}

func (e *Engine) safeCall(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("Callback panicked", "callback", what, "panic", r)
		}
	}()
	fn()
}
