package fairshare

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/lablup/sokovan/internal/sokovan/schedulerobjects"
)

type fakeSpecSource struct {
	config GroupConfig
	specs  map[ScopeKey]FairShareSpec
}

func (s *fakeSpecSource) GetGroupConfig(ctx context.Context, resourceGroup string) (GroupConfig, error) {
	return s.config, nil
}

func (s *fakeSpecSource) ListSpecs(ctx context.Context, resourceGroup string) (map[ScopeKey]FairShareSpec, error) {
	return s.specs, nil
}

type fakeUsageSource struct {
	buckets []UsageBucket
}

func (s *fakeUsageSource) ListBuckets(ctx context.Context, resourceGroup string, since time.Time) ([]UsageBucket, error) {
	return s.buckets, nil
}

type fakeSnapshotStore struct {
	snapshots map[string]*FairShareSnapshot
	upserts   int
}

func (s *fakeSnapshotStore) UpsertSnapshot(ctx context.Context, snapshot *FairShareSnapshot) error {
	if s.snapshots == nil {
		s.snapshots = make(map[string]*FairShareSnapshot)
	}
	key := fmt.Sprintf("%s/%s/%s", snapshot.ResourceGroup, snapshot.Scope.Level, snapshot.Scope.ID())
	s.snapshots[key] = snapshot
	s.upserts++
	return nil
}

func (s *fakeSnapshotStore) get(scope ScopeKey) *FairShareSnapshot {
	return s.snapshots[fmt.Sprintf("default/%s/%s", scope.Level, scope.ID())]
}

func newTestJob(
	specs map[ScopeKey]FairShareSpec,
	buckets []UsageBucket,
	now time.Time,
) (*RecalculationJob, *fakeSnapshotStore) {
	store := &fakeSnapshotStore{}
	job := NewRecalculationJob(
		&fakeSpecSource{config: GroupConfig{}, specs: specs},
		&fakeUsageSource{buckets: buckets},
		store,
		NewCalculator(nil),
		clocktesting.NewFakePassiveClock(now),
	)
	return job, store
}

func dailyBuckets(scope ScopeKey, today time.Time, cpuSecondsPerDay string, days int) []UsageBucket {
	buckets := make([]UsageBucket, 0, days)
	for age := 0; age < days; age++ {
		buckets = append(buckets, UsageBucket{
			ResourceGroup: "default",
			Scope:         scope,
			BucketDate:    today.AddDate(0, 0, -age),
			Usage:         schedulerobjects.MustResourceSlot(map[string]string{"cpu": cpuSecondsPerDay}),
		})
	}
	return buckets
}

func TestJobUpsertsOneRowPerScope(t *testing.T) {
	now := at(2024, time.January, 15, 12, 0)
	userUUID := uuid.New()
	projectID := uuid.New()
	scopes := []ScopeKey{
		UserScope("default", projectID, userUUID),
		ProjectScope("default", projectID),
		DomainScope("default"),
	}
	var buckets []UsageBucket
	for _, scope := range scopes {
		buckets = append(buckets, dailyBuckets(scope, dayOf(now), "43200", 7)...)
	}

	job, store := newTestJob(nil, buckets, now)
	upserted, err := job.RunForResourceGroup(context.Background(), "default")
	require.NoError(t, err)
	assert.Equal(t, 3, upserted)

	for _, scope := range scopes {
		snapshot := store.get(scope)
		require.NotNil(t, snapshot, "missing row for %s", scope.Level)
		assert.True(t, snapshot.FairShareFactor.IsPositive())
		assert.True(t, snapshot.FairShareFactor.LessThan(decimal.NewFromInt(1)))
		assert.True(t, snapshot.UsedDefaultWeight)
		assert.Contains(t, snapshot.DefaultWeightResources, "cpu")
		assert.Equal(t, now, snapshot.LastCalculatedAt)
		assert.Equal(t, dayOf(now).AddDate(0, 0, -DefaultLookbackDays), snapshot.LookbackStart)
		assert.Equal(t, dayOf(now), snapshot.LookbackEnd)
	}
}

func TestJobIsIdempotent(t *testing.T) {
	now := at(2024, time.January, 15, 12, 0)
	scope := DomainScope("default")
	buckets := dailyBuckets(scope, dayOf(now), "43200", 7)

	job, store := newTestJob(nil, buckets, now)
	_, err := job.RunForResourceGroup(context.Background(), "default")
	require.NoError(t, err)
	first := store.get(scope)

	_, err = job.RunForResourceGroup(context.Background(), "default")
	require.NoError(t, err)
	second := store.get(scope)

	assert.Equal(t, 2, store.upserts)
	require.Len(t, store.snapshots, 1)
	assert.True(t, first.FairShareFactor.Equal(second.FairShareFactor))
	assert.True(t, first.NormalizedUsage.Equal(second.NormalizedUsage))
	assert.True(t, first.TotalDecayedUsage.Equal(second.TotalDecayedUsage))
}

func TestJobSkipsMalformedScope(t *testing.T) {
	now := at(2024, time.January, 15, 12, 0)
	badScope := DomainScope("bad-domain")
	goodScope := DomainScope("good-domain")
	badWeight := decimal.NewFromInt(-1)
	specs := map[ScopeKey]FairShareSpec{
		badScope: {Weight: &badWeight},
	}
	buckets := append(
		dailyBuckets(badScope, dayOf(now), "43200", 3),
		dailyBuckets(goodScope, dayOf(now), "43200", 3)...,
	)

	job, store := newTestJob(specs, buckets, now)
	upserted, err := job.RunForResourceGroup(context.Background(), "default")
	require.NoError(t, err)
	assert.Equal(t, 1, upserted)
	assert.Nil(t, store.get(badScope))
	assert.NotNil(t, store.get(goodScope))
}

func TestJobRecalculatesIdleConfiguredScopes(t *testing.T) {
	now := at(2024, time.January, 15, 12, 0)
	scope := UserScope("default", uuid.New(), uuid.New())
	weight := decimal.NewFromInt(2)
	specs := map[ScopeKey]FairShareSpec{
		scope: {Weight: &weight},
	}

	job, store := newTestJob(specs, nil, now)
	upserted, err := job.RunForResourceGroup(context.Background(), "default")
	require.NoError(t, err)
	assert.Equal(t, 1, upserted)

	snapshot := store.get(scope)
	require.NotNil(t, snapshot)
	assert.True(t, snapshot.TotalDecayedUsage.IsZero())
	assert.True(t, snapshot.FairShareFactor.Equal(decimal.NewFromInt(1)))
	assert.False(t, snapshot.UsedDefaultWeight)
}

func TestJobConfiguredWeightSoftensPenalty(t *testing.T) {
	now := at(2024, time.January, 15, 12, 0)
	heavy := DomainScope("weighted-domain")
	light := DomainScope("plain-domain")
	weight := decimal.NewFromInt(4)
	specs := map[ScopeKey]FairShareSpec{
		heavy: {Weight: &weight},
	}
	buckets := append(
		dailyBuckets(heavy, dayOf(now), "43200", 7),
		dailyBuckets(light, dayOf(now), "43200", 7)...,
	)

	job, store := newTestJob(specs, buckets, now)
	_, err := job.RunForResourceGroup(context.Background(), "default")
	require.NoError(t, err)

	heavySnapshot := store.get(heavy)
	lightSnapshot := store.get(light)
	require.NotNil(t, heavySnapshot)
	require.NotNil(t, lightSnapshot)
	assert.False(t, heavySnapshot.UsedDefaultWeight)
	assert.True(t, heavySnapshot.FairShareFactor.GreaterThan(lightSnapshot.FairShareFactor))
	// Same usage, so the normalized value only depends on the resource weights.
	assert.True(t, heavySnapshot.NormalizedUsage.Equal(lightSnapshot.NormalizedUsage))
}

func TestJobPerResourceWeightOverride(t *testing.T) {
	now := at(2024, time.January, 15, 12, 0)
	scope := DomainScope("default")
	specs := map[ScopeKey]FairShareSpec{
		scope: {
			ResourceWeights: schedulerobjects.MustResourceSlot(map[string]string{"cpu": "0.5"}),
		},
	}
	buckets := dailyBuckets(scope, dayOf(now), "43200", 3)

	job, store := newTestJob(specs, buckets, now)
	_, err := job.RunForResourceGroup(context.Background(), "default")
	require.NoError(t, err)

	snapshot := store.get(scope)
	require.NotNil(t, snapshot)
	assert.True(t, snapshot.ResourceWeights.Get("cpu").Equal(decimal.RequireFromString("0.5")))
	assert.NotContains(t, snapshot.DefaultWeightResources, "cpu")
	// Resources not overridden still fall back to the group table.
	assert.Contains(t, snapshot.DefaultWeightResources, "mem")
}

func TestJobStopsBetweenScopesOnCancellation(t *testing.T) {
	now := at(2024, time.January, 15, 12, 0)
	buckets := append(
		dailyBuckets(DomainScope("domain-a"), dayOf(now), "43200", 1),
		dailyBuckets(DomainScope("domain-b"), dayOf(now), "43200", 1)...,
	)
	job, _ := newTestJob(nil, buckets, now)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	upserted, err := job.RunForResourceGroup(ctx, "default")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, upserted)
}
