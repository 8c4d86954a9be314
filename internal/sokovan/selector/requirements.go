package selector

import (
	"github.com/google/uuid"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/lablup/sokovan/internal/sokovan/schedulerobjects"
)

// KernelResourceSpec is the demand of a single kernel.
type KernelResourceSpec struct {
	RequestedSlots       schedulerobjects.ResourceSlot
	RequiredArchitecture string
}

// ResourceRequirements is a unit of demand the selector places onto exactly
// one agent. For single-node sessions it covers all kernels of the session;
// for multi-node sessions it covers one kernel.
type ResourceRequirements struct {
	RequestedSlots       schedulerobjects.ResourceSlot
	RequiredArchitecture string
	KernelIDs            []uuid.UUID
}

// KernelCount returns the number of containers this requirement creates on
// its selected agent.
func (r *ResourceRequirements) KernelCount() int {
	return len(r.KernelIDs)
}

// AgentSelectionCriteria describes the session being placed.
type AgentSelectionCriteria struct {
	SessionID    uuid.UUID
	SessionType  schedulerobjects.SessionType
	ScalingGroup string
	ClusterMode  schedulerobjects.ClusterMode
	// Demand per kernel
	KernelRequirements map[uuid.UUID]KernelResourceSpec
	// For inference sessions with replica spreading: kernels of the same
	// serving endpoint already hosted per agent
	KernelCountsAtEndpoint map[schedulerobjects.AgentID]int
}

// CriteriaFromWorkload converts a pending session into selection criteria.
func CriteriaFromWorkload(w *schedulerobjects.SessionWorkload) *AgentSelectionCriteria {
	kernelRequirements := make(map[uuid.UUID]KernelResourceSpec, len(w.Kernels))
	for _, kernel := range w.Kernels {
		kernelRequirements[kernel.KernelID] = KernelResourceSpec{
			RequestedSlots:       kernel.RequestedSlots,
			RequiredArchitecture: kernel.Architecture,
		}
	}
	return &AgentSelectionCriteria{
		SessionID:              w.SessionID,
		SessionType:            w.SessionType,
		ScalingGroup:           w.ScalingGroup,
		ClusterMode:            w.ClusterMode,
		KernelRequirements:     kernelRequirements,
		KernelCountsAtEndpoint: w.KernelCountsAtEndpoint,
	}
}

// ResourceRequirements derives the ordered demand units for the session.
//
// Single-node sessions produce one aggregate requirement summing all kernel
// slots; all kernels must share one architecture, otherwise an
// ErrArchitectureMismatch is returned. Multi-node sessions produce one
// requirement per kernel. Sessions without kernels produce none.
func (c *AgentSelectionCriteria) ResourceRequirements() ([]ResourceRequirements, error) {
	if len(c.KernelRequirements) == 0 {
		return nil, nil
	}

	// Sort kernel IDs so requirement order is stable across ticks.
	kernelIDs := maps.Keys(c.KernelRequirements)
	slices.SortFunc(kernelIDs, func(a, b uuid.UUID) bool {
		return a.String() < b.String()
	})

	if c.ClusterMode == schedulerobjects.ClusterModeSingleNode {
		architectures := make(map[string]bool)
		totalSlots := schedulerobjects.ResourceSlot{}
		for _, kernelID := range kernelIDs {
			spec := c.KernelRequirements[kernelID]
			architectures[spec.RequiredArchitecture] = true
			totalSlots = totalSlots.Add(spec.RequestedSlots)
		}
		if len(architectures) > 1 {
			archs := maps.Keys(architectures)
			slices.Sort(archs)
			return nil, &ErrArchitectureMismatch{Architectures: archs}
		}
		return []ResourceRequirements{
			{
				RequestedSlots:       totalSlots,
				RequiredArchitecture: c.KernelRequirements[kernelIDs[0]].RequiredArchitecture,
				KernelIDs:            kernelIDs,
			},
		}, nil
	}

	requirements := make([]ResourceRequirements, 0, len(kernelIDs))
	for _, kernelID := range kernelIDs {
		spec := c.KernelRequirements[kernelID]
		requirements = append(requirements, ResourceRequirements{
			RequestedSlots:       spec.RequestedSlots,
			RequiredArchitecture: spec.RequiredArchitecture,
			KernelIDs:            []uuid.UUID{kernelID},
		})
	}
	return requirements, nil
}
