package fairshare

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
	"k8s.io/utils/clock"

	"github.com/lablup/sokovan/internal/sokovan/schedulerobjects"
)

// SpecSource provides the configured fair-share state of a resource group.
type SpecSource interface {
	GetGroupConfig(ctx context.Context, resourceGroup string) (GroupConfig, error)
	ListSpecs(ctx context.Context, resourceGroup string) (map[ScopeKey]FairShareSpec, error)
}

// UsageSource provides aggregated daily usage buckets.
type UsageSource interface {
	ListBuckets(ctx context.Context, resourceGroup string, since time.Time) ([]UsageBucket, error)
}

// SnapshotStore persists recalculated fair-share rows.
type SnapshotStore interface {
	UpsertSnapshot(ctx context.Context, snapshot *FairShareSnapshot) error
}

// RecalculationJob recomputes the fair-share factor of every scope with
// recent usage in a resource group and upserts one row per scope.
//
// Each scope's upsert is independent, so the job may be interrupted between
// scopes without corrupting already-written rows, and concurrent runs on
// disjoint resource groups need no coordination. A malformed scope is
// logged and skipped so one bad tenant cannot block the whole run.
type RecalculationJob struct {
	specs      SpecSource
	usage      UsageSource
	store      SnapshotStore
	calculator *Calculator
	clock      clock.PassiveClock
}

func NewRecalculationJob(
	specs SpecSource,
	usage UsageSource,
	store SnapshotStore,
	calculator *Calculator,
	clk clock.PassiveClock,
) *RecalculationJob {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &RecalculationJob{
		specs:      specs,
		usage:      usage,
		store:      store,
		calculator: calculator,
		clock:      clk,
	}
}

// RunForResourceGroup recalculates all scopes of one resource group.
// Returns the number of scopes successfully upserted.
func (j *RecalculationJob) RunForResourceGroup(ctx context.Context, resourceGroup string) (int, error) {
	config, err := j.specs.GetGroupConfig(ctx, resourceGroup)
	if err != nil {
		return 0, errors.WithMessagef(err, "loading fair-share config for resource group %s", resourceGroup)
	}
	config = config.Normalized()

	now := j.clock.Now().UTC()
	lookbackEnd := dayOf(now)
	lookbackStart := lookbackEnd.AddDate(0, 0, -config.LookbackDays)

	buckets, err := j.usage.ListBuckets(ctx, resourceGroup, lookbackStart)
	if err != nil {
		return 0, errors.WithMessagef(err, "loading usage buckets for resource group %s", resourceGroup)
	}
	specs, err := j.specs.ListSpecs(ctx, resourceGroup)
	if err != nil {
		return 0, errors.WithMessagef(err, "loading fair-share specs for resource group %s", resourceGroup)
	}

	bucketsByScope := make(map[ScopeKey][]UsageBucket)
	for _, bucket := range buckets {
		bucketsByScope[bucket.Scope] = append(bucketsByScope[bucket.Scope], bucket)
	}
	// Scopes with a configured spec but no recent usage still get a row, so
	// an idle tenant's factor recovers toward 1.
	for scope := range specs {
		if _, ok := bucketsByScope[scope]; !ok {
			bucketsByScope[scope] = nil
		}
	}

	scopes := make([]ScopeKey, 0, len(bucketsByScope))
	for scope := range bucketsByScope {
		scopes = append(scopes, scope)
	}
	slices.SortFunc(scopes, func(a, b ScopeKey) bool {
		if a.Level != b.Level {
			return a.Level < b.Level
		}
		return a.ID() < b.ID()
	})

	upserted := 0
	for _, scope := range scopes {
		if err := ctx.Err(); err != nil {
			return upserted, err
		}
		snapshot, err := j.recalculateScope(scope, specs[scope], bucketsByScope[scope], config, resourceGroup, now)
		if err != nil {
			log.WithError(err).
				WithField("resourceGroup", resourceGroup).
				WithField("scopeLevel", scope.Level).
				WithField("scopeId", scope.ID()).
				Warn("Skipping fair-share recalculation for malformed scope")
			continue
		}
		snapshot.LookbackStart = lookbackStart
		snapshot.LookbackEnd = lookbackEnd
		if err := j.store.UpsertSnapshot(ctx, snapshot); err != nil {
			return upserted, errors.WithMessagef(err, "upserting fair share for scope %s", scope.ID())
		}
		upserted++
	}
	log.WithField("resourceGroup", resourceGroup).
		WithField("scopes", upserted).
		Info("Recalculated fair-share factors")
	return upserted, nil
}

func (j *RecalculationJob) recalculateScope(
	scope ScopeKey,
	spec FairShareSpec,
	buckets []UsageBucket,
	config GroupConfig,
	resourceGroup string,
	now time.Time,
) (*FairShareSnapshot, error) {
	halfLifeDays := spec.HalfLifeDays
	if halfLifeDays <= 0 {
		halfLifeDays = config.HalfLifeDays
	}
	lookbackDays := spec.LookbackDays
	if lookbackDays <= 0 {
		lookbackDays = config.LookbackDays
	}

	weight := config.DefaultWeight
	usedDefaultWeight := true
	if spec.Weight != nil {
		weight = *spec.Weight
		usedDefaultWeight = false
	}
	if !weight.IsPositive() {
		return nil, errors.Errorf("non-positive weight %s", weight)
	}

	decayed := j.calculator.DecayedUsage(buckets, now, halfLifeDays, lookbackDays)

	groupWeights := config.ResourceWeights
	if len(groupWeights) == 0 {
		groupWeights = DefaultResourceWeights()
	}
	resourceWeights, defaultResources := j.effectiveResourceWeights(spec, weight, groupWeights, decayed)

	normalized, factor := j.calculator.CalculateFactor(
		decayed, weight, resourceWeights, TimeCapacity(halfLifeDays))

	return &FairShareSnapshot{
		ResourceGroup: resourceGroup,
		Scope:         scope,
		Spec: FairShareSpec{
			Weight:          spec.Weight,
			ResourceWeights: spec.ResourceWeights,
			HalfLifeDays:    halfLifeDays,
			LookbackDays:    lookbackDays,
			DecayUnitDays:   config.DecayUnitDays,
		},
		FairShareFactor:        factor,
		TotalDecayedUsage:      decayed,
		NormalizedUsage:        normalized,
		ResourceWeights:        resourceWeights,
		UsedDefaultWeight:      usedDefaultWeight,
		DefaultWeightResources: defaultResources,
		LastCalculatedAt:       now,
	}, nil
}

// effectiveResourceWeights resolves the weight of each used resource type:
// the scope's per-resource override first, then the scope's scalar weight,
// then the group's per-resource table.
func (j *RecalculationJob) effectiveResourceWeights(
	spec FairShareSpec,
	scalarWeight decimal.Decimal,
	groupWeights schedulerobjects.ResourceSlot,
	usage schedulerobjects.ResourceSlot,
) (schedulerobjects.ResourceSlot, []string) {
	available := usage.Keys()
	for _, resource := range groupWeights.Keys() {
		if !slices.Contains(available, resource) {
			available = append(available, resource)
		}
	}
	slices.Sort(available)

	merged := make(schedulerobjects.ResourceSlot, len(available))
	var usedDefault []string
	for _, resource := range available {
		if w, ok := spec.ResourceWeights[resource]; ok {
			merged[resource] = w
			continue
		}
		if spec.Weight != nil {
			merged[resource] = scalarWeight
			continue
		}
		if w, ok := groupWeights[resource]; ok {
			merged[resource] = w
		} else {
			merged[resource] = scalarWeight
		}
		usedDefault = append(usedDefault, resource)
	}
	return merged, usedDefault
}
