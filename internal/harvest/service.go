// Package harvest turns the engine's claimable yield into booked proceeds:
// it applies the management fee, optionally compounds the remainder into the
// deposit and records every harvest.
package harvest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"netfish/internal/config"
	"netfish/internal/database"
	"netfish/internal/model"
)

// ErrNothingToHarvest is returned when no yield is claimable.
var ErrNothingToHarvest = errors.New("nothing to harvest")

// feePlaces is the precision fees are rounded to.
const feePlaces = 8

// Engine is the part of the simulation the harvester drives.
type Engine interface {
	HarvestHarvestable() float64
	AddToDeposit(amount float64)
	DepositAmount() float64
}

// Totals are the cumulative amounts booked since start.
type Totals struct {
	Count      int             `json:"count"`
	Gross      decimal.Decimal `json:"gross"`
	Fees       decimal.Decimal `json:"fees"`
	Proceeds   decimal.Decimal `json:"proceeds"`
	Compounded decimal.Decimal `json:"compounded"`
}

// Service holds the logic for booking harvests.
type Service struct {
	logger *slog.Logger
	repo   database.Repository
	engine Engine
	cfg    config.HarvestConfig
	now    func() time.Time

	mu     sync.Mutex
	totals Totals
	hooks  []func(model.HarvestRecord)
}

// NewService creates a new instance of the Service.
func NewService(logger *slog.Logger, repo database.Repository, engine Engine, cfg config.HarvestConfig) *Service {
	return &Service{
		logger: logger,
		repo:   repo,
		engine: engine,
		cfg:    cfg,
		now:    time.Now,
	}
}

// OnHarvest registers fn to run after every booked harvest.
func (s *Service) OnHarvest(fn func(model.HarvestRecord)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// Harvest claims the engine's harvestable yield and books it.
func (s *Service) Harvest(ctx context.Context) (model.HarvestRecord, error) {
	amount := s.engine.HarvestHarvestable()
	if amount <= 0 {
		return model.HarvestRecord{}, ErrNothingToHarvest
	}

	gross := decimal.NewFromFloat(amount)
	fee, net := s.split(gross)

	compound := s.cfg.CompoundingEnabled && net.IsPositive()
	if compound {
		s.engine.AddToDeposit(net.InexactFloat64())
	}

	record := model.HarvestRecord{
		Timestamp:    s.now(),
		Gross:        gross.InexactFloat64(),
		Fee:          fee.InexactFloat64(),
		Net:          net.InexactFloat64(),
		Compounded:   compound,
		DepositAfter: s.engine.DepositAmount(),
	}

	s.mu.Lock()
	s.totals.Count++
	s.totals.Gross = s.totals.Gross.Add(gross)
	s.totals.Fees = s.totals.Fees.Add(fee)
	if compound {
		s.totals.Compounded = s.totals.Compounded.Add(net)
	} else {
		s.totals.Proceeds = s.totals.Proceeds.Add(net)
	}
	hooks := append([]func(model.HarvestRecord){}, s.hooks...)
	s.mu.Unlock()

	s.logger.Info("Harvest booked",
		"gross", record.Gross,
		"fee", record.Fee,
		"net", record.Net,
		"compounded", compound,
		"deposit", record.DepositAfter,
	)

	if err := s.repo.LogHarvest(ctx, record); err != nil {
		s.logger.Error("Failed to log harvest", "error", err)
	}

	for _, hook := range hooks {
		hook(record)
	}
	return record, nil
}

// split deducts the management fee. The fee is clamped to [0, gross].
func (s *Service) split(gross decimal.Decimal) (fee, net decimal.Decimal) {
	rate := decimal.NewFromFloat(s.cfg.ManagementFeeRate)
	if rate.IsNegative() {
		rate = decimal.Zero
	}
	fee = decimal.Min(gross, gross.Mul(rate).Round(feePlaces))
	return fee, gross.Sub(fee)
}

// Totals returns the cumulative amounts.
func (s *Service) Totals() Totals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totals
}
