package fairshare

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lablup/sokovan/internal/sokovan/schedulerobjects"
)

// Defaults for the decay parameters when a resource group does not
// configure its own.
const (
	DefaultHalfLifeDays  = 7
	DefaultLookbackDays  = 28
	DefaultDecayUnitDays = 1
)

// ScopeLevel is the granularity a fair-share factor is tracked at.
type ScopeLevel string

const (
	ScopeLevelDomain  ScopeLevel = "domain"
	ScopeLevelProject ScopeLevel = "project"
	ScopeLevelUser    ScopeLevel = "user"
)

// ScopeKey identifies one fair-share accounting scope. User scopes are
// tracked per project, so the same user in two projects accrues two
// independent factors.
type ScopeKey struct {
	Level      ScopeLevel
	DomainName string
	ProjectID  uuid.UUID
	UserUUID   uuid.UUID
}

func DomainScope(domainName string) ScopeKey {
	return ScopeKey{Level: ScopeLevelDomain, DomainName: domainName}
}

func ProjectScope(domainName string, projectID uuid.UUID) ScopeKey {
	return ScopeKey{Level: ScopeLevelProject, DomainName: domainName, ProjectID: projectID}
}

func UserScope(domainName string, projectID, userUUID uuid.UUID) ScopeKey {
	return ScopeKey{
		Level:      ScopeLevelUser,
		DomainName: domainName,
		ProjectID:  projectID,
		UserUUID:   userUUID,
	}
}

// ID returns the persisted scope identifier. Rows are unique per
// (resource group, scope level, scope id).
func (k ScopeKey) ID() string {
	switch k.Level {
	case ScopeLevelDomain:
		return k.DomainName
	case ScopeLevelProject:
		return k.ProjectID.String()
	case ScopeLevelUser:
		return fmt.Sprintf("%s/%s", k.UserUUID, k.ProjectID)
	default:
		return ""
	}
}

// FairShareSpec is the configured portion of a fair-share row. Nil or
// missing values fall back to the resource group defaults.
type FairShareSpec struct {
	// Priority weight multiplier; higher weight means less penalty for the
	// same usage. Nil means the resource group's default weight applies.
	Weight *decimal.Decimal
	// Per-resource weight overrides; resources absent here use the scalar
	// weight, or the group default when that is also unset.
	ResourceWeights schedulerobjects.ResourceSlot
	HalfLifeDays    int
	LookbackDays    int
	DecayUnitDays   int
}

// FairShareSnapshot is one persisted fair-share row: the configured spec
// plus the values of the most recent recalculation.
type FairShareSnapshot struct {
	ResourceGroup string
	Scope         ScopeKey
	Spec          FairShareSpec

	FairShareFactor   decimal.Decimal
	TotalDecayedUsage schedulerobjects.ResourceSlot
	NormalizedUsage   decimal.Decimal
	// Effective per-resource weights used in the last calculation,
	// after default merging.
	ResourceWeights schedulerobjects.ResourceSlot
	// Whether the group default weight stood in for the scope's scalar weight
	UsedDefaultWeight bool
	// Resource types whose per-resource weight fell back to the default
	DefaultWeightResources []string

	LookbackStart    time.Time
	LookbackEnd      time.Time
	LastCalculatedAt time.Time
}

// UsageBucket is one day of aggregated resource usage for one scope.
// Usage holds resource-seconds accumulated over the bucket's day.
type UsageBucket struct {
	ResourceGroup   string
	Scope           ScopeKey
	BucketDate      time.Time // UTC midnight of the bucket's day
	Usage           schedulerobjects.ResourceSlot
	DurationSeconds int64
}

// GroupConfig carries a resource group's fair-share defaults.
type GroupConfig struct {
	DefaultWeight decimal.Decimal
	// Default per-resource weights; nil means the built-in table applies.
	ResourceWeights schedulerobjects.ResourceSlot
	HalfLifeDays    int
	LookbackDays    int
	DecayUnitDays   int
}

// Normalized returns the config with zero-valued fields replaced by the
// built-in defaults.
func (c GroupConfig) Normalized() GroupConfig {
	if c.DefaultWeight.IsZero() {
		c.DefaultWeight = decimal.NewFromInt(1)
	}
	if c.HalfLifeDays <= 0 {
		c.HalfLifeDays = DefaultHalfLifeDays
	}
	if c.LookbackDays <= 0 {
		c.LookbackDays = DefaultLookbackDays
	}
	if c.DecayUnitDays <= 0 {
		c.DecayUnitDays = DefaultDecayUnitDays
	}
	return c
}

// KernelUsageRecord is one observed usage period of one kernel, as reported
// by the usage observer. Periods may span day boundaries; the aggregator
// splits them.
type KernelUsageRecord struct {
	KernelID      uuid.UUID
	SessionID     uuid.UUID
	UserUUID      uuid.UUID
	ProjectID     uuid.UUID
	DomainName    string
	ResourceGroup string
	PeriodStart   time.Time
	PeriodEnd     time.Time
	// Slots the kernel occupied for the whole period
	OccupiedSlots schedulerobjects.ResourceSlot
}
