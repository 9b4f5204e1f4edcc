// Package simulator implements the concentrated-liquidity simulation engine:
// the price walk, the net (liquidity range), yield accrual while the school
// of fish stays inside the net, and rebalancing.
//
// All state lives behind one mutex. Timer callbacks lock it, mutate, unlock
// and then run their side effects (listeners, hooks), so listeners may call
// back into the engine freely.
package simulator

import (
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"netfish/internal/clock"
	"netfish/internal/config"
	"netfish/internal/model"
)

// ErrNoDeposit is returned when a run that earns yield is started without a deposit.
var ErrNoDeposit = errors.New("deposit amount is zero")

// Engine owns all mutable simulation state.
type Engine struct {
	logger *slog.Logger
	cfg    config.SimulationConfig
	clock  clock.Clock
	rng    *rand.Rand

	mu    sync.Mutex
	state model.SimulationState

	depositAmount        float64
	aprRate              float64
	timeUnit             model.TimeUnit
	useCustomRange       bool
	customRange          model.PriceRange
	autoRebalanceEnabled bool
	onOutOfRange         func()
	onRebalance          []func(model.RebalanceEvent)

	destroyed   bool
	running     bool
	priceTicker *clock.Ticker
	priceGen    uint64

	profitTicker *clock.Ticker
	profitGen    uint64
	simStart     time.Time

	wasInRange bool

	autoRebalancing bool
	rebalanceTimer  clock.Timer
	flagTimer       clock.Timer
	holdTimer       clock.Timer
	rebalanceGen    uint64

	rebalancePaused   bool
	wasProfitTracking bool

	demo demoState

	listeners   []*listener
	lastNotify  time.Time
	dispatching atomic.Bool
	redispatch  atomic.Bool
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock, typically with a clock.Fake in tests.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithRand sets the random source used by the random walk and the demo driver.
func WithRand(r *rand.Rand) Option {
	return func(e *Engine) { e.rng = r }
}

// NewEngine creates a new instance of the Engine.
func NewEngine(logger *slog.Logger, cfg config.SimulationConfig, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		logger:   logger,
		cfg:      cfg,
		clock:    clock.Real{},
		timeUnit: model.TenMinutes,
		customRange: model.PriceRange{
			Min: cfg.InitialRangeMin,
			Max: cfg.InitialRangeMax,
		},
		useCustomRange: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.rng == nil {
		e.rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15))
	}

	now := e.clock.Now()
	e.state = model.SimulationState{
		Price:             cfg.InitialPrice,
		TrackedValue:      cfg.InitialPrice,
		RangeCenter:       cfg.InitialRangeCenter,
		RangeWidthPercent: cfg.InitialRangeWidth / cfg.InitialRangeCenter * 100,
		PriceDirection:    1,
		LastUpdateTime:    now,
		RebalancePhase:    model.PhaseIdle,
	}
	e.simStart = now
	e.wasInRange = e.state.InRange()
	return e
}

// Start begins periodic price updates and, with a deposit, profit accrual.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.destroyed || e.priceTicker != nil {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.priceGen++
	gen := e.priceGen
	e.priceTicker = clock.Every(e.clock, e.cfg.PriceTickInterval, func() { e.onPriceTick(gen) })
	if e.depositAmount > 0 && e.profitTicker == nil {
		e.startProfitTrackingLocked()
	}
	e.mu.Unlock()

	e.logger.Info("Simulation started", "interval", e.cfg.PriceTickInterval)
}

// Stop halts periodic price updates and cancels a pending auto-rebalance.
// Profit accrual keeps running while the demo still drives the scene.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.priceTicker == nil {
		e.mu.Unlock()
		return
	}
	e.priceTicker.Stop()
	e.priceTicker = nil
	e.priceGen++
	e.running = false
	if !e.demo.running {
		e.stopProfitTrackingLocked()
	}
	e.cancelAutoRebalanceLocked()
	e.mu.Unlock()

	e.logger.Info("Simulation stopped")
	e.notify()
}

// Destroy cancels every timer the engine created. The engine ignores later
// start requests.
func (e *Engine) Destroy() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return
	}
	e.destroyed = true
	if e.priceTicker != nil {
		e.priceTicker.Stop()
		e.priceTicker = nil
	}
	e.priceGen++
	e.running = false
	e.stopDemoLocked()
	e.stopProfitTrackingLocked()
	e.cancelAutoRebalanceLocked()
	e.rebalancePaused = false
	e.wasProfitTracking = false

	e.logger.Info("Simulation destroyed")
}

// State returns a snapshot of the current state.
func (e *Engine) State() model.SimulationState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// GetRange returns the absolute bounds of the net.
func (e *Engine) GetRange() model.NetRange {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Range()
}

// IsInRange reports whether the tracked value is inside the net.
func (e *Engine) IsInRange() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.InRange()
}

// IsRunning reports whether the price ticker is running.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// SetDepositAndAPR configures the position. aprPercent is a percentage
// (100 means 100%) and is stored as a fraction.
func (e *Engine) SetDepositAndAPR(deposit, aprPercent float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.depositAmount = max(0, deposit)
	e.aprRate = max(0, aprPercent) / 100
	e.logger.Info("Deposit configured", "deposit", e.depositAmount, "apr", e.aprRate)
}

// DepositAmount returns the current deposit.
func (e *Engine) DepositAmount() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.depositAmount
}

// APR returns the configured rate as a fraction.
func (e *Engine) APR() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.aprRate
}

// AddToDeposit grows the deposit, used when harvested yield is compounded.
func (e *Engine) AddToDeposit(amount float64) {
	if amount <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.depositAmount += amount
	e.logger.Info("Deposit increased", "added", amount, "deposit", e.depositAmount,
		"yearly_potential", e.depositAmount*e.aprRate)
}

// SetTimeUnit changes how much simulated time passes per real second and
// restarts the simulated clock.
func (e *Engine) SetTimeUnit(u model.TimeUnit) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !u.Valid() {
		e.logger.Warn("Unknown time unit, using default", "unit", u, "default", model.TenMinutes)
		u = model.TenMinutes
	}
	e.timeUnit = u
	e.simStart = e.clock.Now()
}

// TimeUnit returns the active simulated-time unit.
func (e *Engine) TimeUnit() model.TimeUnit {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timeUnit
}

// SimulatedElapsed returns the simulated time since the clock was last synced.
func (e *Engine) SimulatedElapsed() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	secs := e.simulatedSecondsLocked(e.clock.Now())
	if limit := e.cfg.MaxSimulatedDuration; limit > 0 && secs > limit.Seconds() {
		return limit
	}
	return time.Duration(secs * float64(time.Second))
}

// SetAutoRebalanceEnabled switches the automatic recenter on range exit.
func (e *Engine) SetAutoRebalanceEnabled(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.autoRebalanceEnabled = enabled
	e.logger.Info("Auto-rebalance toggled", "enabled", enabled)
}

// IsAutoRebalanceEnabled reports whether automatic recentering is on.
func (e *Engine) IsAutoRebalanceEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.autoRebalanceEnabled
}

// SetOnOutOfRangeCallback registers the hook invoked when the school leaves
// the net while auto-rebalance is disabled. Pass nil to clear it.
func (e *Engine) SetOnOutOfRangeCallback(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onOutOfRange = fn
}

// OnRebalance registers a hook invoked after every rebalance.
func (e *Engine) OnRebalance(fn func(model.RebalanceEvent)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onRebalance = append(e.onRebalance, fn)
}
