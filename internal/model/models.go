package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidRange is returned when a custom price range is not usable.
var ErrInvalidRange = errors.New("invalid price range")

// SimulationState is the snapshot handed to subscribers after every mutation.
// Consumers always receive a copy; the engine keeps its own instance.
type SimulationState struct {
	Price                   float64        `json:"price"`
	TrackedValue            float64        `json:"tracked_value"`
	RangeCenter             float64        `json:"range_center"`
	RangeWidthPercent       float64        `json:"range_width_percent"`
	AccumulatedProfit       float64        `json:"accumulated_profit"`
	HarvestableProfit       float64        `json:"harvestable_profit"`
	HarvestedProfit         float64        `json:"harvested_profit"`
	PriceDirection          int            `json:"price_direction"`
	LastUpdateTime          time.Time      `json:"last_update_time"`
	IsAutoRebalancing       bool           `json:"is_auto_rebalancing"`
	ForceRebalanceAnimation bool           `json:"force_rebalance_animation"`
	RebalancePhase          RebalancePhase `json:"rebalance_phase"`
}

// NetRange is the absolute band covered by the liquidity position.
type NetRange struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// Contains reports whether v lies inside the band, bounds included.
func (r NetRange) Contains(v float64) bool {
	return v >= r.Lower && v <= r.Upper
}

// Width returns the absolute width of the band.
func (r NetRange) Width() float64 {
	return r.Upper - r.Lower
}

// Range derives the net band from the center and the percentage width.
func (s SimulationState) Range() NetRange {
	half := s.RangeWidthPercent / 200
	return NetRange{
		Lower: s.RangeCenter * (1 - half),
		Upper: s.RangeCenter * (1 + half),
	}
}

// InRange reports whether the tracked value sits inside the net.
func (s SimulationState) InRange() bool {
	return s.Range().Contains(s.TrackedValue)
}

// PriceRange bounds the oscillation used by the sequential price mode.
type PriceRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Validate rejects ranges the oscillator cannot walk.
func (r PriceRange) Validate() error {
	if r.Min <= 0 {
		return fmt.Errorf("%w: min %.2f must be positive", ErrInvalidRange, r.Min)
	}
	if r.Min >= r.Max {
		return fmt.Errorf("%w: min %.2f must be below max %.2f", ErrInvalidRange, r.Min, r.Max)
	}
	return nil
}

// RebalanceTrigger tells who moved the net.
type RebalanceTrigger string

const (
	TriggerManual RebalanceTrigger = "manual"
	TriggerAuto   RebalanceTrigger = "auto"
)

// RebalanceEvent describes one recentering of the net.
type RebalanceEvent struct {
	ID           int64            `db:"id" json:"-"`
	Timestamp    time.Time        `db:"timestamp" json:"timestamp"`
	Trigger      RebalanceTrigger `db:"trigger" json:"trigger"`
	TrackedValue float64          `db:"tracked_value" json:"tracked_value"`
	Price        float64          `db:"price" json:"price"`
	OldLower     float64          `db:"old_lower" json:"old_lower"`
	OldUpper     float64          `db:"old_upper" json:"old_upper"`
	NewLower     float64          `db:"new_lower" json:"new_lower"`
	NewUpper     float64          `db:"new_upper" json:"new_upper"`
}

// HarvestRecord represents a completed harvest after fees.
type HarvestRecord struct {
	ID           int64     `db:"id" json:"-"`
	Timestamp    time.Time `db:"timestamp" json:"timestamp"`
	Gross        float64   `db:"gross" json:"gross"`
	Fee          float64   `db:"fee" json:"fee"`
	Net          float64   `db:"net" json:"net"`
	Compounded   bool      `db:"compounded" json:"compounded"`
	DepositAfter float64   `db:"deposit_after" json:"deposit_after"`
}
