package simulator

import (
	"netfish/internal/model"
)

func (e *Engine) onPriceTick(gen uint64) {
	e.mu.Lock()
	if e.priceTicker == nil || gen != e.priceGen {
		e.mu.Unlock()
		return
	}
	e.advancePriceLocked()
	if e.useCustomRange {
		e.followLocked(e.cfg.BoundedConvergence)
	} else {
		e.followLocked(e.cfg.RandomConvergence)
	}
	fx := &effects{notify: true}
	e.checkRangeLocked(fx)
	e.mu.Unlock()

	e.apply(fx)
}

// advancePriceLocked moves the price one tick. With a custom range the price
// walks a triangle wave one unit per tick; otherwise it takes a small
// multiplicative random step.
func (e *Engine) advancePriceLocked() {
	if e.useCustomRange {
		if e.state.PriceDirection == 0 {
			e.state.PriceDirection = 1
		}
		p := e.state.Price + float64(e.state.PriceDirection)
		switch {
		case p >= e.customRange.Max:
			p = e.customRange.Max
			e.state.PriceDirection = -1
		case p <= e.customRange.Min:
			p = e.customRange.Min
			e.state.PriceDirection = 1
		}
		e.state.Price = p
		return
	}

	change := (e.rng.Float64() - 0.5) * 2 * e.cfg.RandomWalkVolatility
	e.state.Price = max(e.cfg.MinPrice, e.state.Price*(1+change))
}

// followLocked pulls the tracked value toward the price. The lag is what
// lets the price leave the net before the school does.
func (e *Engine) followLocked(factor float64) {
	e.state.TrackedValue += (e.state.Price - e.state.TrackedValue) * factor
}

// IncrementPrice nudges the price up by one unit and notifies immediately.
func (e *Engine) IncrementPrice() {
	e.nudgePrice(1)
}

// DecrementPrice nudges the price down by one unit, never below the floor.
func (e *Engine) DecrementPrice() {
	e.nudgePrice(-1)
}

func (e *Engine) nudgePrice(delta float64) {
	e.mu.Lock()
	e.state.Price = max(e.cfg.MinPrice, e.state.Price+delta)
	e.followLocked(e.cfg.ManualConvergence)
	e.syncHarvestableLocked()
	fx := &effects{notify: true}
	e.checkRangeLocked(fx)
	e.mu.Unlock()

	e.apply(fx)
}

// SetPriceRange switches to the sequential mode. The price restarts at the
// minimum, heading up. Callers validate the range.
func (e *Engine) SetPriceRange(r model.PriceRange) {
	e.mu.Lock()
	e.customRange = r
	e.useCustomRange = true
	e.state.Price = r.Min
	e.state.PriceDirection = 1
	e.mu.Unlock()

	e.logger.Info("Price range set", "min", r.Min, "max", r.Max)
	e.notify()
}

// ResetToRandomMode switches the tick driver to the random walk.
func (e *Engine) ResetToRandomMode() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.useCustomRange = false
	e.logger.Info("Switched to random walk")
}

// CurrentRange returns the custom range, or nil in random-walk mode.
func (e *Engine) CurrentRange() *model.PriceRange {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.useCustomRange {
		return nil
	}
	r := e.customRange
	return &r
}
