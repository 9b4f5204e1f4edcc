package simulator

import (
	"time"

	"netfish/internal/clock"
)

const secondsPerDay = 24 * 60 * 60

// profitPerSecondLocked is the single accrual formula:
// deposit × APR / 365 × simulated days per real second.
func (e *Engine) profitPerSecondLocked() float64 {
	if e.depositAmount <= 0 || e.aprRate <= 0 {
		return 0
	}
	daily := e.depositAmount * e.aprRate / 365
	return daily * e.timeUnit.DaysPerSecond()
}

// ProfitPerSecond returns the yield earned per real second while in range.
func (e *Engine) ProfitPerSecond() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.profitPerSecondLocked()
}

// accrueLocked credits elapsed real time worth of yield when the school is
// inside the net. Out of range, accrual pauses; nothing is reset.
func (e *Engine) accrueLocked(elapsed time.Duration) bool {
	if !e.state.InRange() {
		return false
	}
	amount := e.profitPerSecondLocked() * elapsed.Seconds()
	if amount <= 0 {
		return false
	}
	e.state.AccumulatedProfit += amount
	e.syncHarvestableLocked()
	return true
}

func (e *Engine) syncHarvestableLocked() {
	e.state.HarvestableProfit = max(0, e.state.AccumulatedProfit-e.state.HarvestedProfit)
}

// StartProfitTracking (re)starts the accrual timer. While paused for a
// rebalance animation the request is remembered and honored on resume.
func (e *Engine) StartProfitTracking() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.startProfitTrackingLocked()
}

func (e *Engine) startProfitTrackingLocked() {
	if e.destroyed {
		return
	}
	if e.rebalancePaused {
		e.wasProfitTracking = true
		return
	}
	if e.profitTicker != nil {
		e.profitTicker.Stop()
	}
	e.profitGen++
	gen := e.profitGen
	e.profitTicker = clock.Every(e.clock, e.cfg.ProfitTickInterval, func() { e.onProfitTick(gen) })
	e.logger.Info("Profit tracking started", "interval", e.cfg.ProfitTickInterval)
}

// StopProfitTracking halts accrual.
func (e *Engine) StopProfitTracking() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopProfitTrackingLocked()
}

func (e *Engine) stopProfitTrackingLocked() {
	e.wasProfitTracking = false
	if e.profitTicker == nil {
		return
	}
	e.profitTicker.Stop()
	e.profitTicker = nil
	e.profitGen++
	e.logger.Info("Profit tracking stopped")
}

// IsProfitTracking reports whether the accrual timer is active.
func (e *Engine) IsProfitTracking() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.profitTicker != nil
}

func (e *Engine) onProfitTick(gen uint64) {
	e.mu.Lock()
	if e.profitTicker == nil || gen != e.profitGen || e.rebalancePaused {
		e.mu.Unlock()
		return
	}
	now := e.clock.Now()
	e.accrueLocked(e.cfg.ProfitTickInterval)
	e.syncSimulatedClockLocked(now)
	e.state.LastUpdateTime = now
	fx := &effects{notify: true}
	e.checkRangeLocked(fx)
	e.mu.Unlock()

	e.apply(fx)
}

func (e *Engine) simulatedSecondsLocked(now time.Time) float64 {
	return now.Sub(e.simStart).Seconds() * e.timeUnit.DaysPerSecond() * secondsPerDay
}

// syncSimulatedClockLocked restarts the simulated clock when it runs past
// the configured limit, e.g. after a stalled wall clock.
func (e *Engine) syncSimulatedClockLocked(now time.Time) {
	limit := e.cfg.MaxSimulatedDuration
	if limit <= 0 {
		return
	}
	if secs := e.simulatedSecondsLocked(now); secs > limit.Seconds() {
		e.logger.Warn("Simulated clock exceeded limit, resynchronizing", "simulated_seconds", secs, "limit", limit)
		e.simStart = now
	}
}

// HarvestHarvestable moves the claimable balance into the harvested total and
// returns it. Accumulated profit is left untouched.
func (e *Engine) HarvestHarvestable() float64 {
	e.mu.Lock()
	amount := e.state.HarvestableProfit
	if amount <= 0 {
		e.mu.Unlock()
		return 0
	}
	// harvested + harvestable == accumulated; assigning keeps the
	// remainder at exactly zero.
	e.state.HarvestedProfit = e.state.AccumulatedProfit
	e.syncHarvestableLocked()
	e.mu.Unlock()

	e.logger.Info("Harvested", "amount", amount)
	e.notify()
	return amount
}

// ResetProfit zeroes every profit counter.
func (e *Engine) ResetProfit() {
	e.mu.Lock()
	e.state.AccumulatedProfit = 0
	e.state.HarvestableProfit = 0
	e.state.HarvestedProfit = 0
	e.mu.Unlock()

	e.notify()
}
