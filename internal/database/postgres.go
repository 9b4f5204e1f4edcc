package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"netfish/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS harvests (
	id SERIAL PRIMARY KEY,
	timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	gross DOUBLE PRECISION NOT NULL,
	fee DOUBLE PRECISION NOT NULL,
	net DOUBLE PRECISION NOT NULL,
	compounded BOOLEAN NOT NULL,
	deposit_after DOUBLE PRECISION NOT NULL
);

CREATE TABLE IF NOT EXISTS rebalances (
	id SERIAL PRIMARY KEY,
	timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	trigger VARCHAR(16) NOT NULL,
	tracked_value DOUBLE PRECISION NOT NULL,
	price DOUBLE PRECISION NOT NULL,
	old_lower DOUBLE PRECISION NOT NULL,
	old_upper DOUBLE PRECISION NOT NULL,
	new_lower DOUBLE PRECISION NOT NULL,
	new_upper DOUBLE PRECISION NOT NULL
);`

// PostgresRepository stores harvests and rebalances in PostgreSQL.
type PostgresRepository struct {
	Pool *pgxpool.Pool
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository connects to dsn and verifies the connection.
func NewPostgresRepository(ctx context.Context, dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresRepository{Pool: pool}, nil
}

// Close releases the pool.
func (r *PostgresRepository) Close() {
	r.Pool.Close()
}

// Migrate creates the tables if they do not exist yet.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (r *PostgresRepository) LogHarvest(ctx context.Context, h model.HarvestRecord) error {
	query := `
		INSERT INTO harvests (timestamp, gross, fee, net, compounded, deposit_after)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.Pool.Exec(ctx, query, h.Timestamp, h.Gross, h.Fee, h.Net, h.Compounded, h.DepositAfter)
	if err != nil {
		return fmt.Errorf("insert harvest: %w", err)
	}
	return nil
}

func (r *PostgresRepository) LogRebalance(ctx context.Context, ev model.RebalanceEvent) error {
	query := `
		INSERT INTO rebalances (timestamp, trigger, tracked_value, price, old_lower, old_upper, new_lower, new_upper)
		VALUES (@timestamp, @trigger, @tracked_value, @price, @old_lower, @old_upper, @new_lower, @new_upper)
	`
	_, err := r.Pool.Exec(ctx, query, pgx.NamedArgs{
		"timestamp":     ev.Timestamp,
		"trigger":       string(ev.Trigger),
		"tracked_value": ev.TrackedValue,
		"price":         ev.Price,
		"old_lower":     ev.OldLower,
		"old_upper":     ev.OldUpper,
		"new_lower":     ev.NewLower,
		"new_upper":     ev.NewUpper,
	})
	if err != nil {
		return fmt.Errorf("insert rebalance: %w", err)
	}
	return nil
}

// RecentHarvests returns up to limit harvests, newest first.
func (r *PostgresRepository) RecentHarvests(ctx context.Context, limit int) ([]model.HarvestRecord, error) {
	query := `
		SELECT id, timestamp, gross, fee, net, compounded, deposit_after
		FROM harvests
		ORDER BY timestamp DESC, id DESC
		LIMIT $1
	`
	rows, err := r.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query harvests: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[model.HarvestRecord])
	if err != nil {
		return nil, fmt.Errorf("scan harvests: %w", err)
	}
	return out, nil
}

// RecentRebalances returns up to limit rebalances, newest first.
func (r *PostgresRepository) RecentRebalances(ctx context.Context, limit int) ([]model.RebalanceEvent, error) {
	query := `
		SELECT id, timestamp, trigger, tracked_value, price, old_lower, old_upper, new_lower, new_upper
		FROM rebalances
		ORDER BY timestamp DESC, id DESC
		LIMIT $1
	`
	rows, err := r.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query rebalances: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[model.RebalanceEvent])
	if err != nil {
		return nil, fmt.Errorf("scan rebalances: %w", err)
	}
	return out, nil
}
