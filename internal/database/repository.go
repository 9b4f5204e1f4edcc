package database

import (
	"context"

	"netfish/internal/model"
)

// Repository defines the standard interface for database operations.
type Repository interface {
	Migrate(ctx context.Context) error
	LogHarvest(ctx context.Context, h model.HarvestRecord) error
	LogRebalance(ctx context.Context, ev model.RebalanceEvent) error
	RecentHarvests(ctx context.Context, limit int) ([]model.HarvestRecord, error)
	RecentRebalances(ctx context.Context, limit int) ([]model.RebalanceEvent, error)
}

// Discard is used when no database is configured. Writes succeed and reads
// return nothing.
type Discard struct{}

var _ Repository = Discard{}

func (Discard) Migrate(context.Context) error                            { return nil }
func (Discard) LogHarvest(context.Context, model.HarvestRecord) error    { return nil }
func (Discard) LogRebalance(context.Context, model.RebalanceEvent) error { return nil }

func (Discard) RecentHarvests(context.Context, int) ([]model.HarvestRecord, error) {
	return nil, nil
}

func (Discard) RecentRebalances(context.Context, int) ([]model.RebalanceEvent, error) {
	return nil, nil
}
