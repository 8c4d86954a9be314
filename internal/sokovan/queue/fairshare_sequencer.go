package queue

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/exp/slices"

	"github.com/lablup/sokovan/internal/sokovan/schedulerobjects"
)

// FactorSource resolves the most recently calculated fair-share factors.
// A missing scope returns factor 1 (no recorded usage, full priority).
type FactorSource interface {
	DomainFactor(domainName string) decimal.Decimal
	ProjectFactor(projectID uuid.UUID) decimal.Decimal
	UserFactor(userUUID, projectID uuid.UUID) decimal.Decimal
}

// FairShareSequencer orders workloads by hierarchical fair-share factors:
// domain factor first, then project, then user, all descending, so tenants
// with less recent usage go first. Remaining ties fall back to priority and
// then submission age.
type FairShareSequencer struct {
	factors FactorSource
}

func NewFairShareSequencer(factors FactorSource) *FairShareSequencer {
	return &FairShareSequencer{factors: factors}
}

func (s *FairShareSequencer) Name() string {
	return "fairshare"
}

func (s *FairShareSequencer) Sequence(
	workloads []*schedulerobjects.SessionWorkload,
) []*schedulerobjects.SessionWorkload {
	type ranked struct {
		workload      *schedulerobjects.SessionWorkload
		domainFactor  decimal.Decimal
		projectFactor decimal.Decimal
		userFactor    decimal.Decimal
	}
	// Factors are resolved once per workload, not once per comparison.
	one := decimal.NewFromInt(1)
	entries := make([]ranked, len(workloads))
	for i, workload := range workloads {
		if workload.IsPrivate() {
			// System sessions are exempt from tenant accounting and rank
			// with neutral factors instead of their tenant's.
			entries[i] = ranked{
				workload:      workload,
				domainFactor:  one,
				projectFactor: one,
				userFactor:    one,
			}
			continue
		}
		entries[i] = ranked{
			workload:      workload,
			domainFactor:  s.factors.DomainFactor(workload.DomainName),
			projectFactor: s.factors.ProjectFactor(workload.ProjectID),
			userFactor:    s.factors.UserFactor(workload.UserUUID, workload.ProjectID),
		}
	}
	slices.SortStableFunc(entries, func(a, b ranked) bool {
		if c := a.domainFactor.Cmp(b.domainFactor); c != 0 {
			return c > 0
		}
		if c := a.projectFactor.Cmp(b.projectFactor); c != 0 {
			return c > 0
		}
		if c := a.userFactor.Cmp(b.userFactor); c != 0 {
			return c > 0
		}
		if a.workload.Priority != b.workload.Priority {
			return a.workload.Priority > b.workload.Priority
		}
		return a.workload.CreatedAt.Before(b.workload.CreatedAt)
	})
	ordered := make([]*schedulerobjects.SessionWorkload, len(entries))
	for i, entry := range entries {
		ordered[i] = entry.workload
	}
	return ordered
}
