package selector

// DispersedStrategy spreads kernels across agents by preferring the
// compatible agent with the most leftover capacity.
type DispersedStrategy struct {
	resourcePriority []string
}

func NewDispersedStrategy(resourcePriority []string) *DispersedStrategy {
	return &DispersedStrategy{resourcePriority: resourcePriority}
}

func (s *DispersedStrategy) Name() string {
	return "dispersed"
}

func (s *DispersedStrategy) SelectTracker(
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
		// More leftover first.
		return -compareRemaining(a, b, resourceOrder)
	})
}
