package schedulerobjects

// AgentID uniquely identifies a worker machine within the cluster.
type AgentID string

// AgentInfo is a snapshot of an agent's state used for scheduling decisions.
// Instances are read fresh from the agent registry at the start of each
// scheduling tick and mutated only through the selector's batch commit.
type AgentInfo struct {
	// Unique identifier of the agent
	ID AgentID
	// Network address of the agent
	Addr string
	// CPU architecture the agent runs kernels for (e.g., "x86_64", "aarch64")
	Architecture string
	// Total resource slots the agent exposes
	AvailableSlots ResourceSlot
	// Resource slots currently occupied by running kernels
	OccupiedSlots ResourceSlot
	// Scaling group the agent belongs to
	ScalingGroup string
	// Number of containers currently running on the agent
	ContainerCount int
}

// RemainingSlots returns the slots still allocatable on the agent,
// ignoring any uncommitted in-batch allocations.
func (a *AgentInfo) RemainingSlots() ResourceSlot {
	return a.AvailableSlots.Sub(a.OccupiedSlots)
}
