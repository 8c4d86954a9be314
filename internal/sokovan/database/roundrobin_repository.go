package database

import (
	"context"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"

	"github.com/lablup/sokovan/internal/sokovan/selector"
)

// PostgresRoundRobinRepository persists the round-robin cursor per
// (scaling group, architecture). A missing row reads as index zero.
type PostgresRoundRobinRepository struct {
	db *pgxpool.Pool
}

func NewPostgresRoundRobinRepository(db *pgxpool.Pool) *PostgresRoundRobinRepository {
	return &PostgresRoundRobinRepository{db: db}
}

func (r *PostgresRoundRobinRepository) GetState(
	ctx context.Context,
	scalingGroup string,
	architecture string,
) (selector.RoundRobinState, error) {
	var nextIndex int
	err := r.db.QueryRow(ctx,
		`SELECT next_index FROM round_robin_states WHERE scaling_group = $1 AND architecture = $2`,
		scalingGroup, architecture,
	).Scan(&nextIndex)
	if errors.Is(err, pgx.ErrNoRows) {
		return selector.RoundRobinState{}, nil
	}
	if err != nil {
		return selector.RoundRobinState{}, errors.WithStack(err)
	}
	return selector.RoundRobinState{NextIndex: nextIndex}, nil
}

func (r *PostgresRoundRobinRepository) SetState(
	ctx context.Context,
	scalingGroup string,
	architecture string,
	state selector.RoundRobinState,
) error {
	_, err := r.db.Exec(ctx, `
INSERT INTO round_robin_states (scaling_group, architecture, next_index)
VALUES ($1, $2, $3)
ON CONFLICT (scaling_group, architecture) DO UPDATE SET next_index = excluded.next_index`,
		scalingGroup, architecture, state.NextIndex)
	return errors.WithStack(err)
}
