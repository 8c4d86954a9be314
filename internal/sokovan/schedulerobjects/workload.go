package schedulerobjects

import (
	"time"

	"github.com/google/uuid"
)

type SessionType string

const (
	SessionTypeInteractive SessionType = "interactive"
	SessionTypeBatch       SessionType = "batch"
	SessionTypeInference   SessionType = "inference"
	SessionTypeSystem      SessionType = "system"
)

type ClusterMode string

const (
	// ClusterModeSingleNode co-locates all kernels of a session on one agent.
	ClusterModeSingleNode ClusterMode = "single-node"
	// ClusterModeMultiNode places each kernel of a session independently.
	ClusterModeMultiNode ClusterMode = "multi-node"
)

// KernelWorkload is one container-level unit of a session's workload.
type KernelWorkload struct {
	KernelID uuid.UUID
	// Image reference the kernel runs
	Image string
	// Architecture required by the image
	Architecture string
	// Resource slots requested for this kernel
	RequestedSlots ResourceSlot
}

// SessionWorkload is a pending session waiting to be scheduled.
type SessionWorkload struct {
	SessionID uuid.UUID
	// Access key of the submitting keypair
	AccessKey string
	// Aggregate requested slots across all kernels
	RequestedSlots ResourceSlot
	UserUUID       uuid.UUID
	ProjectID      uuid.UUID
	DomainName     string
	// Scaling group the session is scheduled against
	ScalingGroup string
	// Larger values are scheduled first within a tick
	Priority    int
	SessionType SessionType
	ClusterMode ClusterMode
	// Serving endpoint this session is a replica of. Set for inference
	// sessions only; uuid.Nil otherwise.
	EndpointID uuid.UUID
	// If set, the session must not start before this time
	StartsAt  *time.Time
	CreatedAt time.Time
	Kernels   []KernelWorkload
	// Agents the session is pinned to, if any
	DesignatedAgentIDs []AgentID
	// For inference sessions: number of kernels of the same serving endpoint
	// already hosted per agent. Consumed by replica spreading.
	KernelCountsAtEndpoint map[AgentID]int
}

// IsPrivate reports whether the session is excluded from tenant-level
// resource accounting.
func (w *SessionWorkload) IsPrivate() bool {
	return w.SessionType == SessionTypeSystem
}
