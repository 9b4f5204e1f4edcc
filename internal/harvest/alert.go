package harvest

import (
	"math"
	"sync"

	"netfish/internal/model"
)

// AlertWatcher fires when the harvestable balance crosses a new multiple of
// the alert step, e.g. every $5.
type AlertWatcher struct {
	step float64
	fire func(harvestable float64)

	mu      sync.Mutex
	reached int
}

// NewAlertWatcher returns a watcher for step. A non-positive step disables it.
func NewAlertWatcher(step float64, fire func(harvestable float64)) *AlertWatcher {
	return &AlertWatcher{step: step, fire: fire}
}

// Observe is meant to be subscribed to the engine.
func (w *AlertWatcher) Observe(s model.SimulationState) {
	if w.step <= 0 || w.fire == nil {
		return
	}
	level := int(math.Floor(s.HarvestableProfit / w.step))

	w.mu.Lock()
	crossed := level >= 1 && level > w.reached
	if crossed {
		w.reached = level
	} else if level < w.reached {
		// The balance dropped, e.g. after a harvest or a reset.
		w.reached = level
	}
	w.mu.Unlock()

	if crossed {
		w.fire(s.HarvestableProfit)
	}
}

// Reset forgets the levels already reported.
func (w *AlertWatcher) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.reached = 0
}
