package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"netfish/internal/clock"
	"netfish/internal/config"
	"netfish/internal/model"
	"netfish/internal/simulator"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Migrate(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockRepository) LogHarvest(ctx context.Context, h model.HarvestRecord) error {
	args := m.Called(ctx, h)
	return args.Error(0)
}

func (m *MockRepository) LogRebalance(ctx context.Context, ev model.RebalanceEvent) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}

func (m *MockRepository) RecentHarvests(ctx context.Context, limit int) ([]model.HarvestRecord, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]model.HarvestRecord), args.Error(1)
}

func (m *MockRepository) RecentRebalances(ctx context.Context, limit int) ([]model.RebalanceEvent, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]model.RebalanceEvent), args.Error(1)
}

func newTestSession(t *testing.T, repo *MockRepository) (*Session, *simulator.Engine, *clock.Fake) {
	t.Helper()
	cfg := config.DefaultSimulation()
	// A wide net keeps the demo walk inside it.
	cfg.InitialRangeWidth = 100
	clk := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := simulator.NewEngine(logger, cfg,
		simulator.WithClock(clk),
		simulator.WithRand(rand.New(rand.NewPCG(7, 7))),
	)
	t.Cleanup(eng.Destroy)
	return New(logger, eng, repo), eng, clk
}

func TestSession_StartChallenge(t *testing.T) {
	s, eng, clk := newTestSession(t, new(MockRepository))

	_, ok := s.Challenge()
	assert.False(t, ok)
	assert.Zero(t, s.Progress())

	require.NoError(t, s.StartChallenge("coffee", 100))
	c, ok := s.Challenge()
	require.True(t, ok)
	assert.Equal(t, "coffee", c.Name)
	assert.Equal(t, 1000.0, eng.DepositAmount())
	assert.Equal(t, 1.0, eng.APR())
	assert.True(t, eng.IsDemoActive())
	assert.True(t, eng.IsProfitTracking())

	eng.SetTimeUnit(model.SevenDays)
	clk.Advance(time.Second)
	// 1000 × 100% / 365 × 7 per second, in $5 rewards.
	assert.Equal(t, 3, s.Progress())

	s.StopChallenge()
	assert.False(t, eng.IsDemoActive())
}

func TestSession_ResetOnlyOnFirstStart(t *testing.T) {
	s, eng, clk := newTestSession(t, new(MockRepository))

	eng.SetDepositAndAPR(365, 100)
	eng.SetTimeUnit(model.OneDay)
	eng.StartProfitTracking()
	clk.Advance(time.Second)
	require.Greater(t, eng.State().AccumulatedProfit, 0.0)

	require.NoError(t, s.StartChallenge("coffee", 50))
	assert.Zero(t, eng.State().AccumulatedProfit)

	clk.Advance(time.Second)
	s.StopChallenge()
	earned := eng.State().AccumulatedProfit
	require.Greater(t, earned, 0.0)

	require.NoError(t, s.StartChallenge("meal", 200))
	assert.Equal(t, earned, eng.State().AccumulatedProfit)
	assert.Equal(t, 5000.0, eng.DepositAmount())
}

func TestSession_StartChallengeValidation(t *testing.T) {
	s, eng, _ := newTestSession(t, new(MockRepository))

	err := s.StartChallenge("pizza", 100)
	assert.ErrorIs(t, err, ErrUnknownChallenge)

	err = s.StartChallenge("meal", 0)
	assert.ErrorIs(t, err, ErrInvalidAPR)

	err = s.StartChallenge("meal", -3)
	assert.ErrorIs(t, err, ErrInvalidAPR)

	assert.False(t, eng.IsDemoActive())
	assert.Zero(t, eng.DepositAmount())
}

func TestSession_SetPriceRange(t *testing.T) {
	s, eng, _ := newTestSession(t, new(MockRepository))

	tests := []struct {
		name    string
		r       model.PriceRange
		wantErr bool
	}{
		{"valid", model.PriceRange{Min: 140, Max: 150}, false},
		{"inverted", model.PriceRange{Min: 150, Max: 140}, true},
		{"empty", model.PriceRange{Min: 150, Max: 150}, true},
		{"non-positive", model.PriceRange{Min: 0, Max: 10}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.SetPriceRange(tt.r)
			if tt.wantErr {
				assert.ErrorIs(t, err, model.ErrInvalidRange)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.r.Min, eng.State().Price)
		})
	}
	assert.Equal(t, &model.PriceRange{Min: 140, Max: 150}, eng.CurrentRange())
}

func TestSession_RunLogsRebalances(t *testing.T) {
	mockRepo := new(MockRepository)
	logged := make(chan model.RebalanceEvent, 2)
	mockRepo.On("LogRebalance", mock.Anything, mock.MatchedBy(func(ev model.RebalanceEvent) bool {
		return ev.Trigger == model.TriggerManual
	})).Return(nil).Run(func(args mock.Arguments) {
		logged <- args.Get(1).(model.RebalanceEvent)
	}).Once()
	mockRepo.On("LogRebalance", mock.Anything, mock.Anything).
		Return(errors.New("disk full")).
		Run(func(args mock.Arguments) {
			logged <- args.Get(1).(model.RebalanceEvent)
		})

	s, eng, _ := newTestSession(t, mockRepo)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	eng.Rebalance()
	select {
	case ev := <-logged:
		assert.Equal(t, model.TriggerManual, ev.Trigger)
		assert.Equal(t, 153.0, ev.TrackedValue)
	case <-time.After(2 * time.Second):
		t.Fatal("rebalance was not logged")
	}

	// A failing write is logged and the worker keeps going.
	eng.Rebalance()
	select {
	case <-logged:
	case <-time.After(2 * time.Second):
		t.Fatal("second rebalance was not logged")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
	mockRepo.AssertNumberOfCalls(t, "LogRebalance", 2)
}

func TestSession_EnqueueNeverBlocks(t *testing.T) {
	s, eng, _ := newTestSession(t, new(MockRepository))

	// No worker is draining; the engine must not stall.
	for range eventBuffer + 10 {
		eng.Rebalance()
	}
	assert.Len(t, s.events, eventBuffer)
}
