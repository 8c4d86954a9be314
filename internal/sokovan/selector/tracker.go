package selector

import (
	"github.com/lablup/sokovan/internal/sokovan/schedulerobjects"
)

// AgentStateTracker overlays uncommitted in-batch allocations on top of an
// immutable AgentInfo snapshot. Compatibility checks partway through a batch
// must see prior same-batch allocations without mutating the shared snapshot,
// so the wrapped AgentInfo is only written at batch commit.
type AgentStateTracker struct {
	Agent *schedulerobjects.AgentInfo
	// Slots allocated by this batch so far
	additionalSlots schedulerobjects.ResourceSlot
	// Containers allocated by this batch so far
	additionalContainers int
}

func NewAgentStateTracker(agent *schedulerobjects.AgentInfo) *AgentStateTracker {
	return &AgentStateTracker{
		Agent:           agent,
		additionalSlots: schedulerobjects.ResourceSlot{},
	}
}

// EffectiveOccupiedSlots returns the snapshot's occupied slots plus the
// batch diff.
func (t *AgentStateTracker) EffectiveOccupiedSlots() schedulerobjects.ResourceSlot {
	return t.Agent.OccupiedSlots.Add(t.additionalSlots)
}

// EffectiveContainerCount returns the snapshot's container count plus the
// batch diff.
func (t *AgentStateTracker) EffectiveContainerCount() int {
	return t.Agent.ContainerCount + t.additionalContainers
}

// EffectiveRemainingSlots returns the slots still allocatable on the agent
// after accounting for prior same-batch allocations.
func (t *AgentStateTracker) EffectiveRemainingSlots() schedulerobjects.ResourceSlot {
	return t.Agent.RemainingSlots().Sub(t.additionalSlots)
}

// ApplyDiff records an allocation of slots and containers in the tracker.
// The wrapped AgentInfo is not touched.
func (t *AgentStateTracker) ApplyDiff(slots schedulerobjects.ResourceSlot, containers int) {
	t.additionalSlots = t.additionalSlots.Add(slots)
	t.additionalContainers += containers
}

// commit folds the accumulated diff into the wrapped AgentInfo in place.
func (t *AgentStateTracker) commit() {
	if t.additionalSlots.IsZero() && t.additionalContainers == 0 {
		return
	}
	t.Agent.OccupiedSlots = t.Agent.OccupiedSlots.Add(t.additionalSlots)
	t.Agent.ContainerCount += t.additionalContainers
}
