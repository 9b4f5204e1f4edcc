package simulator

import (
	"math"
	"time"

	"netfish/internal/clock"
)

// Demo status captions derived from the engine flags.
const (
	StatusIdle        = ""
	StatusRebalancing = "rebalancing..."
	StatusPaused      = "demo paused (manual control)"
	StatusMoving      = "demo running (price moving)"
	StatusWaiting     = "demo running (waiting)"
)

// animation is one eased move of the demo price toward a target.
type animation struct {
	start     float64
	target    float64
	startedAt time.Time
	duration  time.Duration
	active    bool
}

// pausedMove remembers where an interrupted move was heading.
type pausedMove struct {
	target    float64
	remaining time.Duration
}

type demoState struct {
	running    bool
	paused     bool
	price      float64
	anim       animation
	resume     *pausedMove
	frameTimer clock.Timer
	pauseTimer clock.Timer
	gen        uint64
}

// StartDemo begins the scripted random walk. With a deposit it also starts
// profit accrual.
func (e *Engine) StartDemo() {
	e.mu.Lock()
	if e.destroyed || e.demo.running {
		e.mu.Unlock()
		return
	}
	d := &e.demo
	d.running = true
	d.paused = false
	d.price = e.state.Price
	d.gen++
	e.newTargetLocked(e.clock.Now())
	if e.depositAmount > 0 && e.profitTicker == nil {
		e.startProfitTrackingLocked()
	}
	e.scheduleFrameLocked()
	deposit := e.depositAmount
	e.mu.Unlock()

	e.logger.Info("Demo started", "deposit", deposit)
	e.notify()
}

// StartDemoWithSettings restarts profit accrual and starts the demo. It
// refuses to run without a deposit.
func (e *Engine) StartDemoWithSettings() error {
	e.mu.Lock()
	if e.depositAmount <= 0 {
		e.mu.Unlock()
		return ErrNoDeposit
	}
	e.startProfitTrackingLocked()
	e.mu.Unlock()

	e.StartDemo()
	return nil
}

// StopDemo cancels the animation, any pending resume and the automatic
// rebalance sequence. Accrual stops unless the periodic ticker still runs.
func (e *Engine) StopDemo() {
	e.mu.Lock()
	was := e.demo.running
	e.stopDemoLocked()
	if !e.running {
		e.stopProfitTrackingLocked()
	}
	e.cancelAutoRebalanceLocked()
	e.mu.Unlock()

	if was {
		e.logger.Info("Demo stopped")
		e.notify()
	}
}

func (e *Engine) stopDemoLocked() {
	d := &e.demo
	d.running = false
	d.paused = false
	d.gen++
	if d.frameTimer != nil {
		d.frameTimer.Stop()
		d.frameTimer = nil
	}
	if d.pauseTimer != nil {
		d.pauseTimer.Stop()
		d.pauseTimer = nil
	}
	d.anim.active = false
	d.resume = nil
}

// IsDemoActive reports whether the demo walk is running.
func (e *Engine) IsDemoActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.demo.running
}

// IsDemoPaused reports whether the demo is paused or under manual control.
func (e *Engine) IsDemoPaused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.demo.paused
}

// PauseDemo freezes the in-flight move at its current value. A positive
// duration resumes automatically; zero waits for ResumeDemo.
func (e *Engine) PauseDemo(resumeAfter time.Duration) {
	e.mu.Lock()
	ok := e.pauseDemoLocked(resumeAfter)
	e.mu.Unlock()

	if ok {
		e.logger.Info("Demo paused", "resumeAfter", resumeAfter)
		e.notify()
	}
}

func (e *Engine) pauseDemoLocked(resumeAfter time.Duration) bool {
	d := &e.demo
	if !d.running || d.paused {
		return false
	}
	d.paused = true

	now := e.clock.Now()
	if d.anim.active {
		elapsed := now.Sub(d.anim.startedAt)
		d.price = d.anim.at(now)
		e.state.Price = d.price
		d.resume = &pausedMove{
			target:    d.anim.target,
			remaining: max(0, d.anim.duration-elapsed),
		}
	}

	if d.frameTimer != nil {
		d.frameTimer.Stop()
		d.frameTimer = nil
	}
	d.anim.active = false
	d.gen++

	if d.pauseTimer != nil {
		d.pauseTimer.Stop()
		d.pauseTimer = nil
	}
	if resumeAfter > 0 {
		gen := d.gen
		d.pauseTimer = e.clock.AfterFunc(resumeAfter, func() { e.onPauseElapsed(gen) })
	}
	return true
}

func (e *Engine) onPauseElapsed(gen uint64) {
	e.mu.Lock()
	if gen != e.demo.gen || e.demo.pauseTimer == nil {
		e.mu.Unlock()
		return
	}
	e.demo.pauseTimer = nil
	ok := e.resumeDemoLocked()
	e.mu.Unlock()

	if ok {
		e.logger.Info("Demo resumed after pause")
		e.notify()
	}
}

// ResumeDemo continues the interrupted move from the current price, or
// picks a new target when nothing was in flight.
func (e *Engine) ResumeDemo() {
	e.mu.Lock()
	ok := e.resumeDemoLocked()
	e.mu.Unlock()

	if ok {
		e.logger.Info("Demo resumed")
		e.notify()
	}
}

func (e *Engine) resumeDemoLocked() bool {
	d := &e.demo
	if !d.running || !d.paused {
		return false
	}
	d.paused = false
	if d.pauseTimer != nil {
		d.pauseTimer.Stop()
		d.pauseTimer = nil
	}

	// Manual nudges made while paused are kept.
	d.price = e.state.Price
	now := e.clock.Now()
	if d.resume != nil && d.resume.remaining > 0 {
		d.anim = animation{
			start:     d.price,
			target:    d.resume.target,
			startedAt: now,
			duration:  d.resume.remaining,
			active:    true,
		}
	} else {
		e.newTargetLocked(now)
	}
	d.resume = nil
	d.gen++
	e.scheduleFrameLocked()
	return true
}

// StartManualControl pauses the demo with no automatic resume.
func (e *Engine) StartManualControl() {
	e.PauseDemo(0)
}

// StopManualControl hands the price back to the demo.
func (e *Engine) StopManualControl() {
	e.ResumeDemo()
}

// DemoStatus returns a short caption for the current driver state.
func (e *Engine) DemoStatus() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case e.autoRebalancing:
		return StatusRebalancing
	case !e.demo.running:
		return StatusIdle
	case e.demo.paused:
		return StatusPaused
	case e.demo.anim.active:
		return StatusMoving
	default:
		return StatusWaiting
	}
}

func (e *Engine) scheduleFrameLocked() {
	gen := e.demo.gen
	e.demo.frameTimer = e.clock.AfterFunc(e.cfg.FrameInterval, func() { e.onFrame(gen) })
}

func (e *Engine) onFrame(gen uint64) {
	e.mu.Lock()
	d := &e.demo
	if !d.running || d.paused || gen != d.gen {
		e.mu.Unlock()
		return
	}
	d.frameTimer = nil
	fx := &effects{}
	e.demoStepLocked(e.clock.Now(), fx)
	e.scheduleFrameLocked()
	e.mu.Unlock()

	e.apply(fx)
}

// demoStepLocked advances the eased move and lets the school follow. A new
// target is picked as soon as the current one is reached.
func (e *Engine) demoStepLocked(now time.Time, fx *effects) {
	d := &e.demo
	if !d.anim.active {
		e.newTargetLocked(now)
		return
	}

	d.price = d.anim.at(now)
	if d.anim.progress(now) >= 1 || math.Abs(d.price-d.anim.target) < e.cfg.DemoEpsilon {
		d.price = d.anim.target
		d.anim.active = false
		e.newTargetLocked(now)
	}

	e.state.Price = d.price
	e.followLocked(e.cfg.DemoConvergence)
	e.checkRangeLocked(fx)
	fx.throttled = true
}

// newTargetLocked picks a non-zero integer offset, clamps the target into the
// demo band and starts a fresh move.
func (e *Engine) newTargetLocked(now time.Time) {
	d := &e.demo
	step := max(1, e.cfg.DemoMaxStep)
	move := 0
	for move == 0 {
		move = e.rng.IntN(2*step+1) - step
	}
	target := min(e.cfg.DemoMaxPrice, max(e.cfg.DemoMinPrice, d.price+float64(move)))
	d.anim = animation{
		start:     d.price,
		target:    target,
		startedAt: now,
		duration:  e.cfg.DemoMoveDuration,
		active:    true,
	}
}

func (a animation) progress(now time.Time) float64 {
	if a.duration <= 0 {
		return 1
	}
	return min(1, float64(now.Sub(a.startedAt))/float64(a.duration))
}

func (a animation) at(now time.Time) float64 {
	return lerp(a.start, a.target, easeInOutQuad(a.progress(now)))
}

func lerp(start, end, t float64) float64 {
	return start + (end-start)*t
}

func easeInOutQuad(t float64) float64 {
	if t < 0.5 {
		return 2 * t * t
	}
	return -1 + (4-2*t)*t
}
