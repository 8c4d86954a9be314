package selector

import (
	"github.com/lablup/sokovan/internal/sokovan/schedulerobjects"
)

// ConcentratedStrategy packs kernels onto as few agents as possible by
// preferring the compatible agent with the least leftover capacity. For
// inference sessions with replica spreading enforced, agents hosting fewer
// kernels of the same serving endpoint win first, so replicas of one
// endpoint still land on distinct agents.
type ConcentratedStrategy struct {
	resourcePriority []string
}

func NewConcentratedStrategy(resourcePriority []string) *ConcentratedStrategy {
	return &ConcentratedStrategy{resourcePriority: resourcePriority}
}

func (s *ConcentratedStrategy) Name() string {
	return "concentrated"
}

func (s *ConcentratedStrategy) SelectTracker(
	trackers []*AgentStateTracker,
	req *ResourceRequirements,
	criteria *AgentSelectionCriteria,
	config *AgentSelectionConfig,
) *AgentStateTracker {
	resourceOrder := orderedResourceKeys(s.resourcePriority, req)
	spreadReplicas := config.EnforceSpreadingEndpointReplica &&
		criteria.SessionType == schedulerobjects.SessionTypeInference

	return selectBest(trackers, func(a, b *AgentStateTracker) int {
		if c := unutilizedCapabilityCount(a, req) - unutilizedCapabilityCount(b, req); c != 0 {
			return c
		}
		if spreadReplicas {
			if c := criteria.KernelCountsAtEndpoint[a.Agent.ID] - criteria.KernelCountsAtEndpoint[b.Agent.ID]; c != 0 {
				return c
			}
		}
		// Less leftover first: bin-packing.
		return compareRemaining(a, b, resourceOrder)
	})
}
