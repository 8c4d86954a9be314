package selector

import (
	"github.com/google/uuid"

	"github.com/lablup/sokovan/internal/sokovan/schedulerobjects"
)

func testAgent(
	id string,
	available map[string]string,
	occupied map[string]string,
) *schedulerobjects.AgentInfo {
	agent := &schedulerobjects.AgentInfo{
		ID:           schedulerobjects.AgentID(id),
		Addr:         id + ":6001",
		Architecture: "x86_64",
		ScalingGroup: "default",
	}
	if available == nil {
		available = map[string]string{"cpu": "8", "mem": "16384"}
	}
	if occupied == nil {
		occupied = map[string]string{"cpu": "0", "mem": "0"}
	}
	agent.AvailableSlots = schedulerobjects.MustResourceSlot(available)
	agent.OccupiedSlots = schedulerobjects.MustResourceSlot(occupied)
	return agent
}

func singleKernelCriteria(slots map[string]string) *AgentSelectionCriteria {
	return &AgentSelectionCriteria{
		SessionID:   uuid.New(),
		SessionType: schedulerobjects.SessionTypeInteractive,
		ClusterMode: schedulerobjects.ClusterModeSingleNode,
		KernelRequirements: map[uuid.UUID]KernelResourceSpec{
			uuid.New(): {
				RequestedSlots:       schedulerobjects.MustResourceSlot(slots),
				RequiredArchitecture: "x86_64",
			},
		},
	}
}

func requirementFor(slots map[string]string) *ResourceRequirements {
	return &ResourceRequirements{
		RequestedSlots:       schedulerobjects.MustResourceSlot(slots),
		RequiredArchitecture: "x86_64",
		KernelIDs:            []uuid.UUID{uuid.New()},
	}
}

func intPtr(i int) *int {
	return &i
}
