package selector

import (
	"golang.org/x/exp/slices"
)

// unutilizedCapabilityCount counts the resource types an agent still has
// leftover capacity for that the requirement does not ask for. Strategies
// prefer agents with fewer such types so that scarce capabilities (GPUs,
// TPUs) are kept free for workloads that need them. A resource type absent
// from the request map counts as requested-zero.
func unutilizedCapabilityCount(tracker *AgentStateTracker, req *ResourceRequirements) int {
	remaining := tracker.EffectiveRemainingSlots()
	count := 0
	for _, resource := range tracker.Agent.AvailableSlots.Keys() {
		if remaining.Get(resource).IsPositive() && req.RequestedSlots.Get(resource).IsZero() {
			count++
		}
	}
	return count
}

// orderedResourceKeys returns the requested resource types in comparison
// order: types named in the configured priority list first, in that order,
// followed by the remaining requested types alphabetically.
func orderedResourceKeys(resourcePriority []string, req *ResourceRequirements) []string {
	requested := req.RequestedSlots.Keys()
	ordered := make([]string, 0, len(requested))
	for _, resource := range resourcePriority {
		if slices.Contains(requested, resource) {
			ordered = append(ordered, resource)
		}
	}
	for _, resource := range requested {
		if !slices.Contains(ordered, resource) {
			ordered = append(ordered, resource)
		}
	}
	return ordered
}

// compareRemaining compares two trackers' leftover capacity over the given
// resource order. Returns -1 if a has less leftover than b at the first
// differing resource, +1 if more, 0 if equal throughout.
func compareRemaining(a, b *AgentStateTracker, resourceOrder []string) int {
	remainingA := a.EffectiveRemainingSlots()
	remainingB := b.EffectiveRemainingSlots()
	for _, resource := range resourceOrder {
		if c := remainingA.Get(resource).Cmp(remainingB.Get(resource)); c != 0 {
			return c
		}
	}
	return 0
}

// selectBest returns the minimum tracker under less, breaking any remaining
// ties by agent ID so selection is deterministic.
func selectBest(trackers []*AgentStateTracker, less func(a, b *AgentStateTracker) int) *AgentStateTracker {
	best := trackers[0]
	for _, tracker := range trackers[1:] {
		c := less(tracker, best)
		if c < 0 || (c == 0 && tracker.Agent.ID < best.Agent.ID) {
			best = tracker
		}
	}
	return best
}
