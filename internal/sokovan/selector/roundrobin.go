package selector

import (
	"golang.org/x/exp/slices"
)

// RoundRobinState is the persistent cursor of a round-robin rotation,
// stored per (scaling group, architecture). It is owned by the caller:
// the scheduler loads it before a batch, hands it to the strategy, and
// persists the advanced state only after the batch commits, so a failed
// batch never skips an agent's turn.
type RoundRobinState struct {
	NextIndex int
}

// RoundRobinStrategy rotates selections over the compatible agents, sorted
// by agent ID for determinism. It ignores relative resource occupancy; the
// orchestrator's shared compatibility filter is the only resource check.
//
// A new strategy value must be created per batch from the persisted state.
type RoundRobinStrategy struct {
	state RoundRobinState
}

func NewRoundRobinStrategy(state RoundRobinState) *RoundRobinStrategy {
	return &RoundRobinStrategy{state: state}
}

func (s *RoundRobinStrategy) Name() string {
	return "roundrobin"
}

// AdvancedState returns the cursor after the selections made so far.
// Callers persist it only once the whole batch has succeeded.
func (s *RoundRobinStrategy) AdvancedState() RoundRobinState {
	return s.state
}

func (s *RoundRobinStrategy) SelectTracker(
	trackers []*AgentStateTracker,
	req *ResourceRequirements,
	criteria *AgentSelectionCriteria,
	config *AgentSelectionConfig,
) *AgentStateTracker {
	sorted := slices.Clone(trackers)
	slices.SortFunc(sorted, func(a, b *AgentStateTracker) bool {
		return a.Agent.ID < b.Agent.ID
	})
	selected := sorted[s.state.NextIndex%len(sorted)]
	s.state.NextIndex = (s.state.NextIndex + 1) % len(sorted)
	return selected
}
