package database

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/lablup/sokovan/internal/sokovan/configuration"
	"github.com/lablup/sokovan/internal/sokovan/fairshare"
	"github.com/lablup/sokovan/internal/sokovan/schedulerobjects"
)

var psql = goqu.Dialect("postgres")

// PostgresFairShareRepository persists fair-share rows, one per
// (resource group, scope level, scope id). It serves the recalculation job
// as both its SpecSource and SnapshotStore, and feeds factors to the
// fair-share sequencer through FactorView.
type PostgresFairShareRepository struct {
	db     *pgxpool.Pool
	config configuration.FairShareConfig
}

func NewPostgresFairShareRepository(
	db *pgxpool.Pool,
	config configuration.FairShareConfig,
) *PostgresFairShareRepository {
	return &PostgresFairShareRepository{db: db, config: config}
}

// GetGroupConfig returns the fair-share defaults for a resource group.
// Defaults currently come from static configuration and are shared by all
// resource groups.
func (r *PostgresFairShareRepository) GetGroupConfig(
	ctx context.Context,
	resourceGroup string,
) (fairshare.GroupConfig, error) {
	config := fairshare.GroupConfig{
		DefaultWeight: decimal.NewFromFloat(r.config.DefaultWeight),
		HalfLifeDays:  r.config.HalfLifeDays,
		LookbackDays:  r.config.LookbackDays,
		DecayUnitDays: r.config.DecayUnitDays,
	}
	if len(r.config.ResourceWeights) > 0 {
		weights := make(schedulerobjects.ResourceSlot, len(r.config.ResourceWeights))
		for resource, weight := range r.config.ResourceWeights {
			weights[resource] = decimal.NewFromFloat(weight)
		}
		config.ResourceWeights = weights
	}
	return config.Normalized(), nil
}

func (r *PostgresFairShareRepository) ListSpecs(
	ctx context.Context,
	resourceGroup string,
) (map[fairshare.ScopeKey]fairshare.FairShareSpec, error) {
	query, args, err := psql.
		From("fair_shares").
		Select("scope_level", "domain_name", "project_id", "user_uuid",
			goqu.L("weight::text"), "resource_weights",
			"half_life_days", "lookback_days", "decay_unit_days").
		Where(goqu.Ex{"resource_group": resourceGroup}).
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

	specs := make(map[fairshare.ScopeKey]fairshare.FairShareSpec)
	for rows.Next() {
		var (
			level          string
			domainName     string
			projectID      uuid.NullUUID
			userUUID       uuid.NullUUID
			weightText     sql.NullString
			weightsJSON    []byte
			halfLifeDays   int
			lookbackDays   int
			decayUnitDays  int
		)
		err := rows.Scan(&level, &domainName, &projectID, &userUUID,
			&weightText, &weightsJSON, &halfLifeDays, &lookbackDays, &decayUnitDays)
		if err != nil {
			return nil, errors.WithStack(err)
		}

		scope, err := scopeKeyOf(fairshare.ScopeLevel(level), domainName, projectID, userUUID)
		if err != nil {
			return nil, err
		}
		spec := fairshare.FairShareSpec{
			HalfLifeDays:  halfLifeDays,
			LookbackDays:  lookbackDays,
			DecayUnitDays: decayUnitDays,
		}
		if weightText.Valid {
			weight, err := decimal.NewFromString(weightText.String)
			if err != nil {
				return nil, errors.WithStack(err)
			}
			spec.Weight = &weight
		}
		spec.ResourceWeights, err = unmarshalSlot(weightsJSON)
		if err != nil {
			return nil, err
		}
		specs[scope] = spec
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WithStack(err)
	}
	return specs, nil
}

func (r *PostgresFairShareRepository) UpsertSnapshot(
	ctx context.Context,
	snapshot *fairshare.FairShareSnapshot,
) error {
	usageJSON, err := marshalSlot(snapshot.TotalDecayedUsage)
	if err != nil {
		return err
	}
	weightsJSON, err := marshalSlot(snapshot.ResourceWeights)
	if err != nil {
		return err
	}
	defaultResources := snapshot.DefaultWeightResources
	if defaultResources == nil {
		defaultResources = []string{}
	}
	defaultResourcesJSON, err := json.Marshal(defaultResources)
	if err != nil {
		return errors.WithStack(err)
	}

	var weight *string
	if snapshot.Spec.Weight != nil {
		s := snapshot.Spec.Weight.String()
		weight = &s
	}
	scope := snapshot.Scope

	_, err = r.db.Exec(ctx, `
INSERT INTO fair_shares (
	resource_group, scope_level, scope_id, domain_name, project_id, user_uuid,
	weight, fair_share_factor, total_decayed_usage, resource_weights,
	normalized_usage, used_default_weight, default_weight_resources,
	half_life_days, lookback_days, decay_unit_days,
	lookback_start, lookback_end, last_calculated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
ON CONFLICT (resource_group, scope_level, scope_id) DO UPDATE SET
	fair_share_factor = excluded.fair_share_factor,
	total_decayed_usage = excluded.total_decayed_usage,
	resource_weights = excluded.resource_weights,
	normalized_usage = excluded.normalized_usage,
	used_default_weight = excluded.used_default_weight,
	default_weight_resources = excluded.default_weight_resources,
	half_life_days = excluded.half_life_days,
	lookback_days = excluded.lookback_days,
	decay_unit_days = excluded.decay_unit_days,
	lookback_start = excluded.lookback_start,
	lookback_end = excluded.lookback_end,
	last_calculated_at = excluded.last_calculated_at`,
		snapshot.ResourceGroup, string(scope.Level), scope.ID(),
		scope.DomainName, nullableUUID(scope.ProjectID), nullableUUID(scope.UserUUID),
		weight, snapshot.FairShareFactor.String(), usageJSON, weightsJSON,
		snapshot.NormalizedUsage.String(), snapshot.UsedDefaultWeight, defaultResourcesJSON,
		snapshot.Spec.HalfLifeDays, snapshot.Spec.LookbackDays, snapshot.Spec.DecayUnitDays,
		snapshot.LookbackStart, snapshot.LookbackEnd, snapshot.LastCalculatedAt,
	)
	return errors.WithStack(err)
}

// FactorView is an in-memory snapshot of the calculated factors of one
// resource group, loaded once per scheduling tick. Implements the fair-share
// sequencer's factor source; scopes without a row report factor 1.
type FactorView struct {
	domains  map[string]decimal.Decimal
	projects map[uuid.UUID]decimal.Decimal
	users    map[uuid.UUID]map[uuid.UUID]decimal.Decimal
}

func (v *FactorView) DomainFactor(domainName string) decimal.Decimal {
	if factor, ok := v.domains[domainName]; ok {
		return factor
	}
	return decimal.NewFromInt(1)
}

func (v *FactorView) ProjectFactor(projectID uuid.UUID) decimal.Decimal {
	if factor, ok := v.projects[projectID]; ok {
		return factor
	}
	return decimal.NewFromInt(1)
}

func (v *FactorView) UserFactor(userUUID, projectID uuid.UUID) decimal.Decimal {
	if factor, ok := v.users[userUUID][projectID]; ok {
		return factor
	}
	return decimal.NewFromInt(1)
}

// LoadFactors reads the calculated factors of one resource group.
func (r *PostgresFairShareRepository) LoadFactors(
	ctx context.Context,
	resourceGroup string,
) (*FactorView, error) {
	query, args, err := psql.
		From("fair_shares").
		Select("scope_level", "domain_name", "project_id", "user_uuid",
			goqu.L("fair_share_factor::text")).
		Where(goqu.Ex{"resource_group": resourceGroup}).
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

	view := &FactorView{
		domains:  make(map[string]decimal.Decimal),
		projects: make(map[uuid.UUID]decimal.Decimal),
		users:    make(map[uuid.UUID]map[uuid.UUID]decimal.Decimal),
	}
	for rows.Next() {
		var (
			level      string
			domainName string
			projectID  uuid.NullUUID
			userUUID   uuid.NullUUID
			factorText string
		)
		if err := rows.Scan(&level, &domainName, &projectID, &userUUID, &factorText); err != nil {
			return nil, errors.WithStack(err)
		}
		factor, err := decimal.NewFromString(factorText)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		switch fairshare.ScopeLevel(level) {
		case fairshare.ScopeLevelDomain:
			view.domains[domainName] = factor
		case fairshare.ScopeLevelProject:
			view.projects[projectID.UUID] = factor
		case fairshare.ScopeLevelUser:
			if view.users[userUUID.UUID] == nil {
				view.users[userUUID.UUID] = make(map[uuid.UUID]decimal.Decimal)
			}
			view.users[userUUID.UUID][projectID.UUID] = factor
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WithStack(err)
	}
	return view, nil
}

// DeleteScope removes a scope's fair-share row, e.g. on tenant teardown.
func (r *PostgresFairShareRepository) DeleteScope(
	ctx context.Context,
	resourceGroup string,
	scope fairshare.ScopeKey,
) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM fair_shares WHERE resource_group = $1 AND scope_level = $2 AND scope_id = $3`,
		resourceGroup, string(scope.Level), scope.ID())
	return errors.WithStack(err)
}

func scopeKeyOf(
	level fairshare.ScopeLevel,
	domainName string,
	projectID, userUUID uuid.NullUUID,
) (fairshare.ScopeKey, error) {
	switch level {
	case fairshare.ScopeLevelDomain:
		return fairshare.DomainScope(domainName), nil
	case fairshare.ScopeLevelProject:
		return fairshare.ProjectScope(domainName, projectID.UUID), nil
	case fairshare.ScopeLevelUser:
		return fairshare.UserScope(domainName, projectID.UUID, userUUID.UUID), nil
	default:
		return fairshare.ScopeKey{}, errors.Errorf("unknown scope level %q", level)
	}
}

func nullableUUID(id uuid.UUID) uuid.NullUUID {
	return uuid.NullUUID{UUID: id, Valid: id != uuid.Nil}
}

func marshalSlot(slot schedulerobjects.ResourceSlot) ([]byte, error) {
	if slot == nil {
		slot = schedulerobjects.ResourceSlot{}
	}
	data, err := json.Marshal(slot)
	return data, errors.WithStack(err)
}

func unmarshalSlot(data []byte) (schedulerobjects.ResourceSlot, error) {
	if len(data) == 0 {
		return schedulerobjects.ResourceSlot{}, nil
	}
	var slot schedulerobjects.ResourceSlot
	if err := json.Unmarshal(data, &slot); err != nil {
		return nil, errors.WithStack(err)
	}
	return slot, nil
}
