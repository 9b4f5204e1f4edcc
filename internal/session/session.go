// Package session is the command layer in front of the engine: savings
// challenges, validated price ranges, and persistence of rebalance events.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"netfish/internal/database"
	"netfish/internal/model"
)

var (
	ErrUnknownChallenge = errors.New("unknown challenge")
	ErrInvalidAPR       = errors.New("apr must be positive")
)

const eventBuffer = 64

// Challenge is a savings goal: a fixed deposit and the price of one reward.
type Challenge struct {
	Name    string  `json:"name"`
	Deposit float64 `json:"deposit"`
	Unit    float64 `json:"unit"`
}

// Challenges lists the selectable goals by name.
var Challenges = map[string]Challenge{
	"coffee": {Name: "coffee", Deposit: 1000, Unit: 5},
	"meal":   {Name: "meal", Deposit: 5000, Unit: 10},
}

// Engine is the part of the simulation the session commands.
type Engine interface {
	State() model.SimulationState
	SetDepositAndAPR(deposit, aprPercent float64)
	ResetProfit()
	StartDemoWithSettings() error
	StopDemo()
	SetPriceRange(r model.PriceRange)
	OnRebalance(fn func(model.RebalanceEvent))
}

// Session tracks the active challenge and forwards rebalances to storage.
type Session struct {
	logger *slog.Logger
	engine Engine
	repo   database.Repository
	events chan model.RebalanceEvent

	mu        sync.Mutex
	challenge *Challenge
	apr       float64
	started   bool
}

// New creates a Session and subscribes it to the engine's rebalances.
func New(logger *slog.Logger, engine Engine, repo database.Repository) *Session {
	s := &Session{
		logger: logger,
		engine: engine,
		repo:   repo,
		events: make(chan model.RebalanceEvent, eventBuffer),
	}
	engine.OnRebalance(s.enqueue)
	return s
}

// enqueue runs on engine timer goroutines and must not block.
func (s *Session) enqueue(ev model.RebalanceEvent) {
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("Rebalance event dropped, writer is behind", "trigger", ev.Trigger)
	}
}

// Run writes rebalance events to the repository until ctx is cancelled.
func (s *Session) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.events:
			if err := s.repo.LogRebalance(ctx, ev); err != nil {
				s.logger.Error("Failed to log rebalance", "error", err)
			}
		}
	}
}

// StartChallenge configures the deposit for name and starts the demo.
// Profit counters are reset only the first time a challenge is started.
func (s *Session) StartChallenge(name string, aprPercent float64) error {
	c, ok := Challenges[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownChallenge, name)
	}
	if aprPercent <= 0 || math.IsNaN(aprPercent) || math.IsInf(aprPercent, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidAPR, aprPercent)
	}

	s.mu.Lock()
	first := !s.started
	s.started = true
	s.challenge = &c
	s.apr = aprPercent
	s.mu.Unlock()

	s.engine.SetDepositAndAPR(c.Deposit, aprPercent)
	if first {
		s.engine.ResetProfit()
	}
	if err := s.engine.StartDemoWithSettings(); err != nil {
		return fmt.Errorf("start demo: %w", err)
	}

	s.logger.Info("Challenge started", "challenge", c.Name, "apr", aprPercent, "resumed", !first)
	return nil
}

// StopChallenge stops the demo. The selection is kept for a later restart.
func (s *Session) StopChallenge() {
	s.engine.StopDemo()
	s.logger.Info("Challenge stopped")
}

// Challenge returns the selected challenge, if any.
func (s *Session) Challenge() (Challenge, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.challenge == nil {
		return Challenge{}, false
	}
	return *s.challenge, true
}

// Progress returns how many rewards the accumulated yield pays for.
func (s *Session) Progress() int {
	c, ok := s.Challenge()
	if !ok || c.Unit <= 0 {
		return 0
	}
	return int(math.Floor(s.engine.State().AccumulatedProfit / c.Unit))
}

// SetPriceRange validates r before switching the engine to sequential mode.
func (s *Session) SetPriceRange(r model.PriceRange) error {
	if err := r.Validate(); err != nil {
		return err
	}
	s.engine.SetPriceRange(r)
	return nil
}
