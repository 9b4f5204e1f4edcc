package simulator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netfish/internal/config"
	"netfish/internal/model"
)

func TestProfit_ReferenceScenario(t *testing.T) {
	e, clk := newTestEngine(t)
	e.SetDepositAndAPR(365, 100)
	e.SetTimeUnit(model.OneDay)
	require.InDelta(t, 1.0, e.ProfitPerSecond(), 1e-12)

	e.StartProfitTracking()
	clk.Advance(10 * time.Second)
	e.StopProfitTracking()

	s := e.State()
	assert.InDelta(t, 10, s.AccumulatedProfit, 1e-9)
	assert.InDelta(t, 10, s.HarvestableProfit, 1e-9)

	got := e.HarvestHarvestable()
	assert.InDelta(t, 10, got, 1e-9)

	s = e.State()
	assert.InDelta(t, 10, s.HarvestedProfit, 1e-9)
	assert.Equal(t, 0.0, s.HarvestableProfit)
	assert.InDelta(t, 10, s.AccumulatedProfit, 1e-9)

	assert.Zero(t, e.HarvestHarvestable())
}

func TestProfit_YieldFormula(t *testing.T) {
	e, clk := newTestEngine(t)
	e.SetDepositAndAPR(1000, 100)
	unit, err := model.ParseTimeUnit("10분")
	require.NoError(t, err)
	e.SetTimeUnit(unit)

	e.StartProfitTracking()
	clk.Advance(time.Second)

	assert.InDelta(t, 0.01903, e.State().AccumulatedProfit, 0.01903*0.1)
}

func TestProfit_RateIndependentOfTickInterval(t *testing.T) {
	for _, interval := range []time.Duration{100 * time.Millisecond, 250 * time.Millisecond, time.Second} {
		t.Run(interval.String(), func(t *testing.T) {
			e, clk := newTestEngine(t, func(c *config.SimulationConfig) { c.ProfitTickInterval = interval })
			e.SetDepositAndAPR(365, 100)
			e.SetTimeUnit(model.OneDay)
			e.StartProfitTracking()
			clk.Advance(4 * time.Second)

			assert.InDelta(t, 4, e.State().AccumulatedProfit, 1e-9)
		})
	}
}

func TestProfit_MonotonicAndConserved(t *testing.T) {
	e, clk := newTestEngine(t)
	e.ResetToRandomMode()
	e.SetDepositAndAPR(10000, 80)
	e.SetTimeUnit(model.OneHour)
	snapshots := collect(e)
	e.Start()

	for i := range 60 {
		clk.Advance(time.Second)
		if i%15 == 0 {
			e.HarvestHarvestable()
		}
	}
	require.NotEmpty(t, *snapshots)

	prev := 0.0
	for _, s := range *snapshots {
		assert.GreaterOrEqual(t, s.AccumulatedProfit, prev)
		assert.GreaterOrEqual(t, s.HarvestableProfit, 0.0)
		assert.InDelta(t, max(0, s.AccumulatedProfit-s.HarvestedProfit), s.HarvestableProfit, 1e-9)
		prev = s.AccumulatedProfit
	}
	assert.Greater(t, prev, 0.0)
}

func TestProfit_GatedByRange(t *testing.T) {
	e, clk := newTestEngine(t)
	e.SetDepositAndAPR(1000, 100)
	e.StartProfitTracking()
	clk.Advance(2 * time.Second)
	inside := e.State().AccumulatedProfit
	require.Greater(t, inside, 0.0)

	for i := 0; e.IsInRange(); i++ {
		require.Less(t, i, 20)
		e.DecrementPrice()
	}

	frozen := e.State().AccumulatedProfit
	assert.Equal(t, inside, frozen)
	clk.Advance(5 * time.Second)
	assert.Equal(t, frozen, e.State().AccumulatedProfit)

	// Back inside the net accrual resumes without anything being reset.
	e.Rebalance()
	clk.Advance(time.Second)
	assert.Greater(t, e.State().AccumulatedProfit, frozen)
}

func TestProfit_EmptyHarvest(t *testing.T) {
	e, _ := newTestEngine(t)
	before := e.State()

	assert.Zero(t, e.HarvestHarvestable())

	after := e.State()
	assert.Equal(t, before.AccumulatedProfit, after.AccumulatedProfit)
	assert.Equal(t, before.HarvestedProfit, after.HarvestedProfit)
	assert.Equal(t, before.HarvestableProfit, after.HarvestableProfit)
}

func TestProfit_NoDepositNoYield(t *testing.T) {
	e, clk := newTestEngine(t)
	e.StartProfitTracking()
	clk.Advance(5 * time.Second)

	assert.Zero(t, e.State().AccumulatedProfit)
	assert.Zero(t, e.ProfitPerSecond())
}

func TestProfit_AddToDeposit(t *testing.T) {
	e, _ := newTestEngine(t)
	e.SetDepositAndAPR(365, 100)
	e.SetTimeUnit(model.OneDay)

	e.AddToDeposit(365)
	e.AddToDeposit(-10)

	assert.Equal(t, 730.0, e.DepositAmount())
	assert.InDelta(t, 2.0, e.ProfitPerSecond(), 1e-12)
}

func TestProfit_ResetProfit(t *testing.T) {
	e, clk := newTestEngine(t)
	e.SetDepositAndAPR(365, 100)
	e.SetTimeUnit(model.OneDay)
	e.StartProfitTracking()
	clk.Advance(2 * time.Second)
	e.HarvestHarvestable()
	clk.Advance(time.Second)

	e.ResetProfit()

	s := e.State()
	assert.Zero(t, s.AccumulatedProfit)
	assert.Zero(t, s.HarvestableProfit)
	assert.Zero(t, s.HarvestedProfit)
}

func TestProfit_StartKeepsSingleTicker(t *testing.T) {
	e, clk := newTestEngine(t)
	e.SetDepositAndAPR(365, 100)
	e.SetTimeUnit(model.OneDay)

	e.StartProfitTracking()
	e.StartProfitTracking()
	e.StartProfitTracking()
	clk.Advance(time.Second)

	assert.InDelta(t, 1, e.State().AccumulatedProfit, 1e-9)
	assert.True(t, e.IsProfitTracking())
}

func TestProfit_PauseForRebalancing(t *testing.T) {
	e, clk := newTestEngine(t, func(c *config.SimulationConfig) { c.InitialRangeWidth = 100 })
	e.SetDepositAndAPR(365, 100)
	e.SetTimeUnit(model.OneDay)
	require.NoError(t, e.StartDemoWithSettings())
	clk.Advance(time.Second)

	e.PauseForRebalancing()
	assert.True(t, e.IsPausedForRebalancing())
	assert.False(t, e.IsProfitTracking())

	paused := e.State()
	clk.Advance(3 * time.Second)
	s := e.State()
	assert.Equal(t, paused.AccumulatedProfit, s.AccumulatedProfit)
	assert.NotEqual(t, paused.Price, s.Price, "demo keeps moving while accrual is frozen")

	e.ResumeAfterRebalancing()
	assert.False(t, e.IsPausedForRebalancing())
	assert.True(t, e.IsProfitTracking())
	clk.Advance(time.Second)
	assert.InDelta(t, paused.AccumulatedProfit+1, e.State().AccumulatedProfit, 1e-9)
}

func TestProfit_StartWhilePausedIsDeferred(t *testing.T) {
	e, clk := newTestEngine(t)
	e.SetDepositAndAPR(365, 100)
	e.SetTimeUnit(model.OneDay)

	e.PauseForRebalancing()
	e.StartProfitTracking()
	assert.False(t, e.IsProfitTracking())
	clk.Advance(time.Second)
	assert.Zero(t, e.State().AccumulatedProfit)

	e.ResumeAfterRebalancing()
	assert.True(t, e.IsProfitTracking())
}
