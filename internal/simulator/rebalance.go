package simulator

import (
	"slices"

	"netfish/internal/clock"
	"netfish/internal/model"
)

// Rebalance recenters the net on the tracked value with a fixed absolute
// half width. The width is stored as a percentage, so the net gets
// narrower in percentage terms as the price climbs.
func (e *Engine) Rebalance() {
	e.mu.Lock()
	fx := &effects{notify: true}
	e.rebalanceLocked(model.TriggerManual, fx)
	e.mu.Unlock()

	e.apply(fx)
}

func (e *Engine) rebalanceLocked(trigger model.RebalanceTrigger, fx *effects) {
	old := e.state.Range()
	center := e.state.TrackedValue
	e.state.RangeCenter = center
	e.state.RangeWidthPercent = 2 * e.cfg.RebalanceHalfWidth / center * 100
	e.wasInRange = true

	nr := e.state.Range()
	ev := model.RebalanceEvent{
		Timestamp:    e.clock.Now(),
		Trigger:      trigger,
		TrackedValue: center,
		Price:        e.state.Price,
		OldLower:     old.Lower,
		OldUpper:     old.Upper,
		NewLower:     nr.Lower,
		NewUpper:     nr.Upper,
	}
	e.logger.Info("Net rebalanced",
		"trigger", trigger,
		"tracked", center,
		"oldLower", old.Lower,
		"oldUpper", old.Upper,
		"newLower", nr.Lower,
		"newUpper", nr.Upper,
	)
	fx.rebalanced = append(fx.rebalanced, ev)
	fx.rebalanceHooks = slices.Clone(e.onRebalance)
}

// checkRangeLocked detects the school leaving the net. A fresh exit either
// starts the automatic sequence or hands over to the out-of-range hook.
func (e *Engine) checkRangeLocked(fx *effects) {
	in := e.state.InRange()
	if e.wasInRange && !in {
		r := e.state.Range()
		e.logger.Info("School left the net",
			"tracked", e.state.TrackedValue,
			"lower", r.Lower,
			"upper", r.Upper,
			"autoRebalance", e.autoRebalanceEnabled,
		)
		if e.autoRebalanceEnabled {
			e.triggerAutoRebalanceLocked(fx)
		} else if e.onOutOfRange != nil {
			fx.outOfRange = e.onOutOfRange
		}
	}
	e.wasInRange = in
}

func (e *Engine) triggerAutoRebalanceLocked(fx *effects) {
	if e.destroyed {
		return
	}
	if e.autoRebalancing || e.rebalanceTimer != nil {
		e.logger.Debug("Auto-rebalance already in flight, skipping")
		return
	}
	e.autoRebalancing = true
	e.state.IsAutoRebalancing = true
	e.setPhaseLocked(model.PhasePulling)
	e.rebalanceGen++
	gen := e.rebalanceGen
	e.rebalanceTimer = e.clock.AfterFunc(e.cfg.AutoRebalanceDelay, func() { e.onAutoRebalanceDue(gen) })
	fx.notify = true

	e.logger.Info("Auto-rebalance triggered", "delay", e.cfg.AutoRebalanceDelay)
}

func (e *Engine) onAutoRebalanceDue(gen uint64) {
	e.mu.Lock()
	if gen != e.rebalanceGen || e.rebalanceTimer == nil {
		e.mu.Unlock()
		return
	}
	e.rebalanceTimer = nil
	fx := &effects{notify: true}
	e.rebalanceLocked(model.TriggerAuto, fx)
	e.state.ForceRebalanceAnimation = true
	e.setPhaseLocked(model.PhaseMoving)
	e.flagTimer = e.clock.AfterFunc(e.cfg.AnimationFlagReset, func() { e.onAnimationFlagReset(gen) })
	e.holdTimer = e.clock.AfterFunc(e.cfg.AutoRebalanceHold, func() { e.onAutoRebalanceDone(gen) })
	e.mu.Unlock()

	e.apply(fx)
}

func (e *Engine) onAnimationFlagReset(gen uint64) {
	e.mu.Lock()
	if gen != e.rebalanceGen || e.flagTimer == nil {
		e.mu.Unlock()
		return
	}
	e.flagTimer = nil
	e.state.ForceRebalanceAnimation = false
	e.setPhaseLocked(model.PhaseDeploying)
	e.mu.Unlock()

	e.notify()
}

func (e *Engine) onAutoRebalanceDone(gen uint64) {
	e.mu.Lock()
	if gen != e.rebalanceGen || e.holdTimer == nil {
		e.mu.Unlock()
		return
	}
	e.holdTimer = nil
	if e.flagTimer != nil {
		e.flagTimer.Stop()
		e.flagTimer = nil
		e.state.ForceRebalanceAnimation = false
	}
	e.autoRebalancing = false
	e.state.IsAutoRebalancing = false
	e.setPhaseLocked(model.PhaseIdle)
	e.mu.Unlock()

	e.logger.Info("Auto-rebalance complete")
	e.notify()
}

// cancelAutoRebalanceLocked drops any pending step of the automatic sequence.
func (e *Engine) cancelAutoRebalanceLocked() {
	for _, t := range []*clock.Timer{&e.rebalanceTimer, &e.flagTimer, &e.holdTimer} {
		if *t != nil {
			(*t).Stop()
			*t = nil
		}
	}
	e.rebalanceGen++
	e.autoRebalancing = false
	e.state.IsAutoRebalancing = false
	e.state.ForceRebalanceAnimation = false
	e.state.RebalancePhase = model.PhaseIdle
}

func (e *Engine) setPhaseLocked(p model.RebalancePhase) {
	if !model.CanTransition(e.state.RebalancePhase, p) {
		e.logger.Warn("Unexpected rebalance phase transition", "from", e.state.RebalancePhase, "to", p)
	}
	e.state.RebalancePhase = p
}

// ConsumeRebalanceAnimation returns the one-shot animation flag and clears it.
func (e *Engine) ConsumeRebalanceAnimation() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	v := e.state.ForceRebalanceAnimation
	e.state.ForceRebalanceAnimation = false
	return v
}

// IsAutoRebalancing reports whether an automatic sequence is in flight.
func (e *Engine) IsAutoRebalancing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.autoRebalancing
}

// PauseForRebalancing freezes profit accrual while an external animation
// plays. Price motion keeps going.
func (e *Engine) PauseForRebalancing() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rebalancePaused {
		return
	}
	tracking := e.profitTicker != nil
	e.stopProfitTrackingLocked()
	e.wasProfitTracking = tracking
	e.rebalancePaused = true
	e.logger.Info("Paused for rebalancing", "wasProfitTracking", tracking)
}

// ResumeAfterRebalancing restarts accrual if it was running before the pause.
func (e *Engine) ResumeAfterRebalancing() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.rebalancePaused {
		return
	}
	e.rebalancePaused = false
	resume := e.wasProfitTracking
	e.wasProfitTracking = false
	if resume && e.depositAmount > 0 {
		e.startProfitTrackingLocked()
	}
	e.logger.Info("Resumed after rebalancing", "profitTracking", e.profitTicker != nil)
}

// IsPausedForRebalancing reports whether accrual is frozen for an animation.
func (e *Engine) IsPausedForRebalancing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rebalancePaused
}
