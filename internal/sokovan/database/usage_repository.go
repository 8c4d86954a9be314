package database

import (
	"context"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"

	"github.com/lablup/sokovan/internal/sokovan/fairshare"
)

// PostgresUsageRepository stores daily usage buckets per scope. Writes go
// through the aggregator, so callers hand over raw kernel usage records and
// day-boundary splitting happens here.
type PostgresUsageRepository struct {
	db         *pgxpool.Pool
	aggregator *fairshare.Aggregator
}

func NewPostgresUsageRepository(db *pgxpool.Pool) *PostgresUsageRepository {
	return &PostgresUsageRepository{
		db:         db,
		aggregator: fairshare.NewAggregator(),
	}
}

// AddKernelUsage folds the given usage records into the persisted buckets.
// Each bucket is updated in its own transaction under a row lock, so
// concurrent observers writing disjoint scopes do not contend.
func (r *PostgresUsageRepository) AddKernelUsage(
	ctx context.Context,
	records []fairshare.KernelUsageRecord,
) error {
	deltas := r.aggregator.AggregateKernelUsage(records)
	for key, delta := range deltas {
		if err := r.applyDelta(ctx, key, delta); err != nil {
			return err
		}
	}
	return nil
}

func (r *PostgresUsageRepository) applyDelta(
	ctx context.Context,
	key fairshare.BucketKey,
	delta *fairshare.BucketDelta,
) error {
	scope := key.Scope
	return r.db.BeginTxFunc(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var (
			usageJSON       []byte
			durationSeconds int64
		)
		err := tx.QueryRow(ctx, `
SELECT usage, duration_seconds FROM usage_buckets
WHERE resource_group = $1 AND scope_level = $2 AND scope_id = $3 AND bucket_date = $4
FOR UPDATE`,
			key.ResourceGroup, string(scope.Level), scope.ID(), key.BucketDate,
		).Scan(&usageJSON, &durationSeconds)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return errors.WithStack(err)
		}

		usage, err := unmarshalSlot(usageJSON)
		if err != nil {
			return err
		}
		merged, err := marshalSlot(usage.Add(delta.Usage))
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
INSERT INTO usage_buckets (
	resource_group, scope_level, scope_id, domain_name, project_id, user_uuid,
	bucket_date, usage, duration_seconds
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (resource_group, scope_level, scope_id, bucket_date) DO UPDATE SET
	usage = excluded.usage,
	duration_seconds = excluded.duration_seconds`,
			key.ResourceGroup, string(scope.Level), scope.ID(),
			scope.DomainName, nullableUUID(scope.ProjectID), nullableUUID(scope.UserUUID),
			key.BucketDate, merged, durationSeconds+delta.DurationSeconds,
		)
		return errors.WithStack(err)
	})
}

// ListBuckets returns the usage buckets of one resource group dated on or
// after since. Implements the recalculation job's usage source.
func (r *PostgresUsageRepository) ListBuckets(
	ctx context.Context,
	resourceGroup string,
	since time.Time,
) ([]fairshare.UsageBucket, error) {
	query, args, err := psql.
		From("usage_buckets").
		Select("scope_level", "domain_name", "project_id", "user_uuid",
			"bucket_date", "usage", "duration_seconds").
		Where(goqu.Ex{"resource_group": resourceGroup},
			goqu.C("bucket_date").Gte(since)).
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

	var buckets []fairshare.UsageBucket
	for rows.Next() {
		var (
			level           string
			domainName      string
			projectID       uuid.NullUUID
			userUUID        uuid.NullUUID
			bucketDate      time.Time
			usageJSON       []byte
			durationSeconds int64
		)
		err := rows.Scan(&level, &domainName, &projectID, &userUUID,
			&bucketDate, &usageJSON, &durationSeconds)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		scope, err := scopeKeyOf(fairshare.ScopeLevel(level), domainName, projectID, userUUID)
		if err != nil {
			return nil, err
		}
		usage, err := unmarshalSlot(usageJSON)
		if err != nil {
			return nil, err
		}
		buckets = append(buckets, fairshare.UsageBucket{
			ResourceGroup:   resourceGroup,
			Scope:           scope,
			BucketDate:      bucketDate.UTC(),
			Usage:           usage,
			DurationSeconds: durationSeconds,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WithStack(err)
	}
	return buckets, nil
}

// PruneBuckets deletes buckets dated before the cutoff. Run periodically so
// the table only holds what the lookback window can ever read.
func (r *PostgresUsageRepository) PruneBuckets(
	ctx context.Context,
	resourceGroup string,
	before time.Time,
) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM usage_buckets WHERE resource_group = $1 AND bucket_date < $2`,
		resourceGroup, before)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return tag.RowsAffected(), nil
}
