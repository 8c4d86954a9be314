package selector

// LegacyStrategy reproduces the tie-break chain of the original scheduler:
// fewest unutilized capability types, then most leftover capacity in the
// configured resource priority order. Kept for scaling groups migrated
// from deployments that relied on its exact ordering; new groups should use
// ConcentratedStrategy or DispersedStrategy.
type LegacyStrategy struct {
	resourcePriority []string
}

func NewLegacyStrategy(resourcePriority []string) *LegacyStrategy {
	return &LegacyStrategy{resourcePriority: resourcePriority}
}

func (s *LegacyStrategy) Name() string {
	return "legacy"
}

func (s *LegacyStrategy) SelectTracker(
	trackers []*AgentStateTracker,
	req *ResourceRequirements,
	criteria *AgentSelectionCriteria,
	config *AgentSelectionConfig,
) *AgentStateTracker {
	resourceOrder := orderedResourceKeys(s.resourcePriority, req)
	return selectBest(trackers, func(a, b *AgentStateTracker) int {
		if c := unutilizedCapabilityCount(a, req) - unutilizedCapabilityCount(b, req); c != 0 {
			return c
		}
		return -compareRemaining(a, b, resourceOrder)
	})
}
