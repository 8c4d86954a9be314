package selector

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/lablup/sokovan/internal/sokovan/schedulerobjects"
)

// ErrNoAvailableAgent indicates that the scaling group currently has no
// agents at all. The session stays pending and is retried next tick.
type ErrNoAvailableAgent struct {
	ScalingGroup string
}

func (err *ErrNoAvailableAgent) Error() string {
	return fmt.Sprintf("no agents available in scaling group %q", err.ScalingGroup)
}

// ErrNoCompatibleAgent indicates that no agent satisfies the constraints of
// one resource requirement. The session stays pending and is retried next tick.
type ErrNoCompatibleAgent struct {
	// Kernels the failing requirement was for
	KernelIDs []uuid.UUID
	// Architecture the requirement demands
	RequiredArchitecture string
	// Why each candidate agent was rejected, keyed by agent ID.
	// Empty if no agent even matched the architecture.
	RejectionReasons map[schedulerobjects.AgentID]string
	// Architectures present in the pool, for the no-architecture-match case
	AvailableArchitectures []string
}

func (err *ErrNoCompatibleAgent) Error() string {
	if len(err.RejectionReasons) == 0 {
		return fmt.Sprintf(
			"no agents with architecture %q for kernels %v (available architectures: %s)",
			err.RequiredArchitecture, err.KernelIDs, strings.Join(err.AvailableArchitectures, ", "),
		)
	}
	// Reasons are listed in agent-ID order so the message is stable.
	agentIDs := maps.Keys(err.RejectionReasons)
	slices.Sort(agentIDs)
	reasons := make([]string, 0, len(agentIDs))
	for _, agentID := range agentIDs {
		reasons = append(reasons, fmt.Sprintf("%s: %s", agentID, err.RejectionReasons[agentID]))
	}
	return fmt.Sprintf(
		"no compatible agents for kernels %v: %s",
		err.KernelIDs, strings.Join(reasons, "; "),
	)
}

// ErrDesignatedAgentNotFound indicates that an agent the session is pinned to
// is not present in the scaling group's pool at all.
type ErrDesignatedAgentNotFound struct {
	AgentIDs []schedulerobjects.AgentID
}

func (err *ErrDesignatedAgentNotFound) Error() string {
	return fmt.Sprintf("designated agents %v not found in the agent pool", err.AgentIDs)
}

// ErrDesignatedAgentIncompatible indicates that a pinned agent exists in the
// pool but failed the compatibility checks for a requirement.
type ErrDesignatedAgentIncompatible struct {
	AgentID schedulerobjects.AgentID
	Reason  string
}

func (err *ErrDesignatedAgentIncompatible) Error() string {
	return fmt.Sprintf("designated agent %q is not compatible: %s", err.AgentID, err.Reason)
}

// ErrInsufficientResources indicates that one agent cannot host a requirement
// because at least one requested resource exceeds what the agent has left.
type ErrInsufficientResources struct {
	AgentID   schedulerobjects.AgentID
	Resource  string
	Requested string
	Available string
}

func (err *ErrInsufficientResources) Error() string {
	return fmt.Sprintf(
		"requirement needs %s %s, but agent %s only has %s left",
		err.Requested, err.Resource, err.AgentID, err.Available,
	)
}

// ErrContainerLimitExceeded indicates that one agent has reached the
// configured per-agent container ceiling.
type ErrContainerLimitExceeded struct {
	AgentID      schedulerobjects.AgentID
	CurrentCount int
	MaxCount     int
}

func (err *ErrContainerLimitExceeded) Error() string {
	return fmt.Sprintf(
		"agent %s is already running %d containers (limit %d)",
		err.AgentID, err.CurrentCount, err.MaxCount,
	)
}

// ErrArchitectureMismatch indicates a single-node session whose kernels
// request different architectures. This is a submission error: retrying
// cannot succeed until the session is fixed.
type ErrArchitectureMismatch struct {
	Architectures []string
}

func (err *ErrArchitectureMismatch) Error() string {
	return fmt.Sprintf(
		"single-node session has kernels with different architectures: %s",
		strings.Join(err.Architectures, ", "),
	)
}

// IsRetryableSelectionError reports whether the error is expected to resolve
// on its own as cluster state changes, so the session can stay pending.
// Submission errors (architecture mismatch) and pinning errors are surfaced
// instead of retried.
func IsRetryableSelectionError(err error) bool {
	switch err.(type) {
	case *ErrNoAvailableAgent, *ErrNoCompatibleAgent:
		return true
	default:
		return false
	}
}
