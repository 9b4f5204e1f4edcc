package simulator

import (
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netfish/internal/config"
	"netfish/internal/model"
)

// leaveNet nudges the price down until the school is out of the net.
func leaveNet(t *testing.T, e *Engine) {
	t.Helper()
	for i := 0; e.IsInRange(); i++ {
		require.Less(t, i, 50, "school never left the net")
		e.DecrementPrice()
	}
}

func enterNet(t *testing.T, e *Engine) {
	t.Helper()
	for i := 0; !e.IsInRange(); i++ {
		require.Less(t, i, 50, "school never came back")
		e.IncrementPrice()
	}
}

func TestRebalance_RecentersOnTrackedValue(t *testing.T) {
	tests := []struct {
		name  string
		price float64
	}{
		{"low price", 12},
		{"reference price", 153},
		{"high price", 12000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newTestEngine(t, func(c *config.SimulationConfig) { c.InitialPrice = tt.price })

			var events []model.RebalanceEvent
			e.OnRebalance(func(ev model.RebalanceEvent) { events = append(events, ev) })
			e.Rebalance()

			r := e.GetRange()
			assert.InDelta(t, tt.price-5, r.Lower, 1e-9)
			assert.InDelta(t, tt.price+5, r.Upper, 1e-9)
			assert.InDelta(t, 10/tt.price*100, e.State().RangeWidthPercent, 1e-9)
			assert.True(t, e.IsInRange())

			require.Len(t, events, 1)
			ev := events[0]
			assert.Equal(t, model.TriggerManual, ev.Trigger)
			assert.Equal(t, tt.price, ev.TrackedValue)
			assert.InDelta(t, 150, ev.OldLower, 1e-9)
			assert.InDelta(t, 160, ev.OldUpper, 1e-9)
			assert.InDelta(t, r.Lower, ev.NewLower, 1e-9)
			assert.InDelta(t, r.Upper, ev.NewUpper, 1e-9)
		})
	}
}

func TestRebalance_AfterDrift(t *testing.T) {
	e, _ := newTestEngine(t)
	for range 30 {
		e.IncrementPrice()
	}
	tracked := e.State().TrackedValue
	e.Rebalance()

	r := e.GetRange()
	assert.InDelta(t, tracked-5, r.Lower, 1e-9)
	assert.InDelta(t, tracked+5, r.Upper, 1e-9)
}

func TestRebalance_OutOfRangeCallback(t *testing.T) {
	e, _ := newTestEngine(t)
	calls := 0
	e.SetOnOutOfRangeCallback(func() { calls++ })

	leaveNet(t, e)
	assert.Equal(t, 1, calls)

	// Still outside: no repeated notifications.
	e.DecrementPrice()
	e.DecrementPrice()
	assert.Equal(t, 1, calls)

	enterNet(t, e)
	leaveNet(t, e)
	assert.Equal(t, 2, calls)
}

func TestRebalance_CallbackMayRebalance(t *testing.T) {
	e, _ := newTestEngine(t)
	calls := 0
	e.SetOnOutOfRangeCallback(func() {
		calls++
		e.Rebalance()
	})

	// The callback recenters the net on the first exit, so stop nudging
	// as soon as it has fired.
	for i := 0; calls == 0; i++ {
		require.Less(t, i, 50, "school never left the net")
		e.DecrementPrice()
	}

	assert.Equal(t, 1, calls)
	assert.True(t, e.IsInRange())
	tracked := e.State().TrackedValue
	r := e.GetRange()
	assert.InDelta(t, tracked-5, r.Lower, 1e-9)
	assert.InDelta(t, tracked+5, r.Upper, 1e-9)
}

func TestRebalance_AutoSequence(t *testing.T) {
	e, clk := newTestEngine(t)
	e.SetAutoRebalanceEnabled(true)
	callbacks := 0
	e.SetOnOutOfRangeCallback(func() { callbacks++ })
	var events []model.RebalanceEvent
	e.OnRebalance(func(ev model.RebalanceEvent) { events = append(events, ev) })
	snapshots := collect(e)

	leaveNet(t, e)
	assert.True(t, e.IsAutoRebalancing())
	assert.Equal(t, StatusRebalancing, e.DemoStatus())
	assert.False(t, e.IsInRange())

	clk.Advance(3 * time.Second)

	require.Len(t, events, 1)
	assert.Equal(t, model.TriggerAuto, events[0].Trigger)
	assert.Equal(t, epoch.Add(500*time.Millisecond), events[0].Timestamp)
	assert.Zero(t, callbacks, "auto-rebalance replaces the out-of-range hook")
	assert.True(t, e.IsInRange())
	assert.False(t, e.IsAutoRebalancing())

	var phases []model.RebalancePhase
	sawFlag := false
	for _, s := range *snapshots {
		phases = append(phases, s.RebalancePhase)
		sawFlag = sawFlag || s.ForceRebalanceAnimation
	}
	assert.Equal(t, []model.RebalancePhase{
		model.PhaseIdle, model.PhasePulling, model.PhaseMoving, model.PhaseDeploying, model.PhaseIdle,
	}, slices.Compact(phases))
	assert.True(t, sawFlag)

	final := e.State()
	assert.False(t, final.ForceRebalanceAnimation)
	assert.False(t, final.IsAutoRebalancing)
	assert.Equal(t, model.PhaseIdle, final.RebalancePhase)
}

func TestRebalance_AutoIsNotReentrant(t *testing.T) {
	e, clk := newTestEngine(t)
	e.SetAutoRebalanceEnabled(true)
	count := 0
	e.OnRebalance(func(model.RebalanceEvent) { count++ })

	leaveNet(t, e)
	enterNet(t, e)
	leaveNet(t, e)
	clk.Advance(400 * time.Millisecond)
	leaveNet(t, e)

	clk.Advance(3 * time.Second)
	assert.Equal(t, 1, count)
	assert.Zero(t, clk.Pending())
}

func TestRebalance_AnimationFlag(t *testing.T) {
	e, clk := newTestEngine(t)
	e.SetAutoRebalanceEnabled(true)
	leaveNet(t, e)

	clk.Advance(500 * time.Millisecond)
	assert.True(t, e.State().ForceRebalanceAnimation)
	assert.True(t, e.ConsumeRebalanceAnimation())
	assert.False(t, e.ConsumeRebalanceAnimation())
	assert.Equal(t, model.PhaseMoving, e.State().RebalancePhase)

	clk.Advance(100 * time.Millisecond)
	assert.Equal(t, model.PhaseDeploying, e.State().RebalancePhase)
	assert.True(t, e.IsAutoRebalancing())

	clk.Advance(1400 * time.Millisecond)
	assert.Equal(t, model.PhaseIdle, e.State().RebalancePhase)
	assert.False(t, e.IsAutoRebalancing())
}

func TestRebalance_StopCancelsPendingAuto(t *testing.T) {
	e, clk := newTestEngine(t)
	e.SetAutoRebalanceEnabled(true)
	count := 0
	e.OnRebalance(func(model.RebalanceEvent) { count++ })
	e.Start()

	leaveNet(t, e)
	require.True(t, e.IsAutoRebalancing())
	e.Stop()

	clk.Advance(3 * time.Second)
	assert.Zero(t, count)
	assert.False(t, e.IsAutoRebalancing())
	assert.Equal(t, model.PhaseIdle, e.State().RebalancePhase)
	assert.Zero(t, clk.Pending())
}

func TestRebalance_StopDemoCancelsPendingAuto(t *testing.T) {
	e, clk := newTestEngine(t)
	e.SetAutoRebalanceEnabled(true)
	count := 0
	e.OnRebalance(func(model.RebalanceEvent) { count++ })
	e.StartDemo()

	leaveNet(t, e)
	e.StopDemo()

	clk.Advance(3 * time.Second)
	assert.Zero(t, count)
	assert.False(t, e.IsAutoRebalancing())
}

func TestRebalance_DetectedOnPriceTicks(t *testing.T) {
	e, clk := newTestEngine(t)
	calls := 0
	e.SetOnOutOfRangeCallback(func() { calls++ })
	e.SetPriceRange(model.PriceRange{Min: 140, Max: 145})
	e.Start()

	// Bounded mode drags the school down to the 140-145 band, below the net.
	clk.Advance(5 * time.Second)
	assert.False(t, e.IsInRange())
	assert.Equal(t, 1, calls)
}

func TestRebalance_HookPanicIsContained(t *testing.T) {
	e, _ := newTestEngine(t)
	second := 0
	e.OnRebalance(func(model.RebalanceEvent) { panic("boom") })
	e.OnRebalance(func(model.RebalanceEvent) { second++ })

	assert.NotPanics(t, e.Rebalance)
	assert.Equal(t, 1, second)
}
