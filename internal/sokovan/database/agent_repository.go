package database

import (
	"context"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"

	"github.com/lablup/sokovan/internal/sokovan/schedulerobjects"
)

// PostgresAgentRepository stores the cluster's agent inventory. The
// scheduler reads a fresh snapshot per tick and writes occupancy back
// after committing allocations.
type PostgresAgentRepository struct {
	db *pgxpool.Pool
}

func NewPostgresAgentRepository(db *pgxpool.Pool) *PostgresAgentRepository {
	return &PostgresAgentRepository{db: db}
}

// ListAgents returns the live agents of one scaling group.
func (r *PostgresAgentRepository) ListAgents(
	ctx context.Context,
	scalingGroup string,
) ([]*schedulerobjects.AgentInfo, error) {
	query, args, err := psql.
		From("agents").
		Select("id", "addr", "architecture", "scaling_group",
			"available_slots", "occupied_slots", "container_count").
		Where(goqu.Ex{"scaling_group": scalingGroup, "alive": true}).
		Order(goqu.I("id").Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, errors.WithStack(err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()

	var agents []*schedulerobjects.AgentInfo
	for rows.Next() {
		var (
			agent         schedulerobjects.AgentInfo
			availableJSON []byte
			occupiedJSON  []byte
		)
		err := rows.Scan(
			&agent.ID, &agent.Addr, &agent.Architecture, &agent.ScalingGroup,
			&availableJSON, &occupiedJSON, &agent.ContainerCount)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		agent.AvailableSlots, err = unmarshalSlot(availableJSON)
		if err != nil {
			return nil, errors.WithMessagef(err, "available slots of agent %s", agent.ID)
		}
		agent.OccupiedSlots, err = unmarshalSlot(occupiedJSON)
		if err != nil {
			return nil, errors.WithMessagef(err, "occupied slots of agent %s", agent.ID)
		}
		agents = append(agents, &agent)
	}
	return agents, errors.WithStack(rows.Err())
}

// UpsertAgent registers an agent or refreshes its heartbeat state.
func (r *PostgresAgentRepository) UpsertAgent(
	ctx context.Context,
	agent *schedulerobjects.AgentInfo,
	lastSeenAt time.Time,
) error {
	availableJSON, err := marshalSlot(agent.AvailableSlots)
	if err != nil {
		return err
	}
	occupiedJSON, err := marshalSlot(agent.OccupiedSlots)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
INSERT INTO agents (id, addr, architecture, scaling_group, available_slots, occupied_slots, container_count, alive, last_seen_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, true, $8)
ON CONFLICT (id) DO UPDATE SET
	addr            = excluded.addr,
	architecture    = excluded.architecture,
	scaling_group   = excluded.scaling_group,
	available_slots = excluded.available_slots,
	occupied_slots  = excluded.occupied_slots,
	container_count = excluded.container_count,
	alive           = true,
	last_seen_at    = excluded.last_seen_at`,
		agent.ID, agent.Addr, agent.Architecture, agent.ScalingGroup,
		availableJSON, occupiedJSON, agent.ContainerCount, lastSeenAt)
	return errors.WithStack(err)
}

// UpdateOccupancy writes the post-commit occupancy of one agent back to
// the inventory.
func (r *PostgresAgentRepository) UpdateOccupancy(
	ctx context.Context,
	agent *schedulerobjects.AgentInfo,
) error {
	occupiedJSON, err := marshalSlot(agent.OccupiedSlots)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE agents SET occupied_slots = $1, container_count = $2 WHERE id = $3`,
		occupiedJSON, agent.ContainerCount, agent.ID)
	if err != nil {
		return errors.WithStack(err)
	}
	if tag.RowsAffected() == 0 {
		return errors.Errorf("agent %s is not registered", agent.ID)
	}
	return nil
}

// MarkLost flags an agent as no longer live; lost agents stop receiving
// allocations but keep their rows for bookkeeping.
func (r *PostgresAgentRepository) MarkLost(ctx context.Context, id schedulerobjects.AgentID) error {
	tag, err := r.db.Exec(ctx, `UPDATE agents SET alive = false WHERE id = $1`, id)
	if err != nil {
		return errors.WithStack(err)
	}
	if tag.RowsAffected() == 0 {
		return errors.WithStack(pgx.ErrNoRows)
	}
	return nil
}
