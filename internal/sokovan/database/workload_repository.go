package database

import (
	"context"
	"encoding/json"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"

	"github.com/lablup/sokovan/internal/sokovan/schedulerobjects"
	"github.com/lablup/sokovan/internal/sokovan/selector"
)

// Session lifecycle states persisted in the sessions table.
const (
	SessionStatusPending   = "PENDING"
	SessionStatusScheduled = "SCHEDULED"
	SessionStatusCancelled = "CANCELLED"
)

// PostgresWorkloadRepository stores pending sessions and their kernels.
// Scheduling outcomes move sessions out of PENDING: successful placements
// become SCHEDULED with kernels bound to agents, non-retryable failures
// become CANCELLED, and retryable failures stay PENDING for the next tick.
type PostgresWorkloadRepository struct {
	db *pgxpool.Pool
}

func NewPostgresWorkloadRepository(db *pgxpool.Pool) *PostgresWorkloadRepository {
	return &PostgresWorkloadRepository{db: db}
}

// EnqueueSession stores a new pending session together with its kernels.
func (r *PostgresWorkloadRepository) EnqueueSession(
	ctx context.Context,
	workload *schedulerobjects.SessionWorkload,
) error {
	requestedJSON, err := marshalSlot(workload.RequestedSlots)
	if err != nil {
		return err
	}
	designatedJSON, err := json.Marshal(workload.DesignatedAgentIDs)
	if err != nil {
		return errors.WithStack(err)
	}
	return r.db.BeginTxFunc(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
INSERT INTO sessions (id, access_key, user_uuid, project_id, domain_name, scaling_group,
	priority, session_type, cluster_mode, endpoint_id, requested_slots, designated_agent_ids, starts_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			workload.SessionID, workload.AccessKey, workload.UserUUID, workload.ProjectID,
			workload.DomainName, workload.ScalingGroup, workload.Priority,
			string(workload.SessionType), string(workload.ClusterMode),
			nullableUUID(workload.EndpointID),
			requestedJSON, designatedJSON, workload.StartsAt, workload.CreatedAt)
		if err != nil {
			return errors.WithStack(err)
		}
		for _, kernel := range workload.Kernels {
			slotsJSON, err := marshalSlot(kernel.RequestedSlots)
			if err != nil {
				return err
			}
			_, err = tx.Exec(ctx, `
INSERT INTO kernels (id, session_id, image, architecture, requested_slots)
VALUES ($1, $2, $3, $4, $5)`,
				kernel.KernelID, workload.SessionID, kernel.Image,
				kernel.Architecture, slotsJSON)
			if err != nil {
				return errors.WithStack(err)
			}
		}
		return nil
	})
}

// ListPendingWorkloads returns the pending sessions of one scaling group
// with their kernels attached, oldest first.
func (r *PostgresWorkloadRepository) ListPendingWorkloads(
	ctx context.Context,
	scalingGroup string,
) ([]*schedulerobjects.SessionWorkload, error) {
	query, args, err := psql.
		From("sessions").
		Select("id", "access_key", "user_uuid", "project_id", "domain_name",
			"scaling_group", "priority", "session_type", "cluster_mode",
			"endpoint_id", "requested_slots", "designated_agent_ids",
			"starts_at", "created_at").
		Where(goqu.Ex{"scaling_group": scalingGroup, "status": SessionStatusPending}).
		Order(goqu.I("created_at").Asc()).
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

	var workloads []*schedulerobjects.SessionWorkload
	byID := map[uuid.UUID]*schedulerobjects.SessionWorkload{}
	for rows.Next() {
		var (
			workload       schedulerobjects.SessionWorkload
			endpointID     uuid.NullUUID
			requestedJSON  []byte
			designatedJSON []byte
		)
		err := rows.Scan(
			&workload.SessionID, &workload.AccessKey, &workload.UserUUID,
			&workload.ProjectID, &workload.DomainName, &workload.ScalingGroup,
			&workload.Priority, &workload.SessionType, &workload.ClusterMode,
			&endpointID, &requestedJSON, &designatedJSON,
			&workload.StartsAt, &workload.CreatedAt)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		if endpointID.Valid {
			workload.EndpointID = endpointID.UUID
		}
		workload.RequestedSlots, err = unmarshalSlot(requestedJSON)
		if err != nil {
			return nil, errors.WithMessagef(err, "requested slots of session %s", workload.SessionID)
		}
		if err := json.Unmarshal(designatedJSON, &workload.DesignatedAgentIDs); err != nil {
			return nil, errors.WithStack(err)
		}
		byID[workload.SessionID] = &workload
		workloads = append(workloads, &workload)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WithStack(err)
	}
	if len(workloads) == 0 {
		return nil, nil
	}

	if err := r.attachKernels(ctx, byID); err != nil {
		return nil, err
	}
	return workloads, nil
}

func (r *PostgresWorkloadRepository) attachKernels(
	ctx context.Context,
	sessions map[uuid.UUID]*schedulerobjects.SessionWorkload,
) error {
	sessionIDs := make([]uuid.UUID, 0, len(sessions))
	for id := range sessions {
		sessionIDs = append(sessionIDs, id)
	}
	query, args, err := psql.
		From("kernels").
		Select("id", "session_id", "image", "architecture", "requested_slots").
		Where(goqu.C("session_id").In(sessionIDs)).
		Order(goqu.I("id").Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return errors.WithStack(err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return errors.WithStack(err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			kernel    schedulerobjects.KernelWorkload
			sessionID uuid.UUID
			slotsJSON []byte
		)
		err := rows.Scan(&kernel.KernelID, &sessionID, &kernel.Image,
			&kernel.Architecture, &slotsJSON)
		if err != nil {
			return errors.WithStack(err)
		}
		kernel.RequestedSlots, err = unmarshalSlot(slotsJSON)
		if err != nil {
			return errors.WithMessagef(err, "requested slots of kernel %s", kernel.KernelID)
		}
		if session, ok := sessions[sessionID]; ok {
			session.Kernels = append(session.Kernels, kernel)
		}
	}
	return errors.WithStack(rows.Err())
}

// MarkScheduled binds a session's kernels to their selected agents and
// moves the session out of the pending queue.
func (r *PostgresWorkloadRepository) MarkScheduled(
	ctx context.Context,
	sessionID uuid.UUID,
	selections []selector.AgentSelection,
) error {
	return r.db.BeginTxFunc(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, selection := range selections {
			for _, kernelID := range selection.Requirement.KernelIDs {
				_, err := tx.Exec(ctx,
					`UPDATE kernels SET agent_id = $1 WHERE id = $2`,
					selection.Agent.ID, kernelID)
				if err != nil {
					return errors.WithStack(err)
				}
			}
		}
		tag, err := tx.Exec(ctx,
			`UPDATE sessions SET status = $1, last_failure = NULL WHERE id = $2`,
			SessionStatusScheduled, sessionID)
		if err != nil {
			return errors.WithStack(err)
		}
		if tag.RowsAffected() == 0 {
			return errors.Errorf("session %s does not exist", sessionID)
		}
		return nil
	})
}

// CountKernelsByAgent reports how many running kernels of one serving
// endpoint each agent hosts, derived from the kernel-to-agent bindings of
// the endpoint's scheduled sessions. Agents without replicas are absent
// from the result.
func (r *PostgresWorkloadRepository) CountKernelsByAgent(
	ctx context.Context,
	endpointID uuid.UUID,
) (map[schedulerobjects.AgentID]int, error) {
	rows, err := r.db.Query(ctx, `
SELECT k.agent_id, count(*)
FROM kernels k
JOIN sessions s ON s.id = k.session_id
WHERE s.endpoint_id = $1 AND s.status = $2 AND k.agent_id IS NOT NULL
GROUP BY k.agent_id`,
		endpointID, SessionStatusScheduled)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()

	counts := map[schedulerobjects.AgentID]int{}
	for rows.Next() {
		var (
			agentID schedulerobjects.AgentID
			count   int
		)
		if err := rows.Scan(&agentID, &count); err != nil {
			return nil, errors.WithStack(err)
		}
		counts[agentID] = count
	}
	return counts, errors.WithStack(rows.Err())
}

// MarkFailed records a scheduling failure. Retryable failures keep the
// session pending; the rest cancel it.
func (r *PostgresWorkloadRepository) MarkFailed(
	ctx context.Context,
	sessionID uuid.UUID,
	reason string,
	retryable bool,
) error {
	status := SessionStatusCancelled
	if retryable {
		status = SessionStatusPending
	}
	_, err := r.db.Exec(ctx,
		`UPDATE sessions SET status = $1, last_failure = $2 WHERE id = $3`,
		status, reason, sessionID)
	return errors.WithStack(err)
}
