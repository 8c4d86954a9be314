package selector

import (
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/lablup/sokovan/internal/sokovan/schedulerobjects"
)

// AgentSelectionConfig carries the scaling-group level knobs for selection.
type AgentSelectionConfig struct {
	// Maximum number of containers allowed per agent. Nil means unlimited.
	MaxContainerCount *int
	// Whether inference sessions should spread endpoint replicas across agents
	EnforceSpreadingEndpointReplica bool
}

// Strategy selects one tracker from a pre-filtered, non-empty set of
// compatible candidates. Implementations must not mutate the trackers.
type Strategy interface {
	// Name of the strategy, for logs and scheduling records
	Name() string
	// SelectTracker picks the tracker to host the given requirement.
	SelectTracker(
		trackers []*AgentStateTracker,
		req *ResourceRequirements,
		criteria *AgentSelectionCriteria,
		config *AgentSelectionConfig,
	) *AgentStateTracker
}

// AgentSelection pairs one resource requirement with the agent chosen for it.
type AgentSelection struct {
	Requirement ResourceRequirements
	Agent       *schedulerobjects.AgentInfo
}

// AgentSelector places a session's resource requirements onto agents using a
// pluggable strategy. It owns the common concerns: architecture filtering,
// capacity and container-ceiling checks, designated-agent pinning, and the
// all-or-nothing batch commit.
//
// The selector performs no I/O and holds no locks; the caller must ensure
// exclusive access to the agent list for the duration of one batch.
type AgentSelector struct {
	strategy Strategy
}

func NewAgentSelector(strategy Strategy) *AgentSelector {
	return &AgentSelector{strategy: strategy}
}

func (s *AgentSelector) StrategyName() string {
	return s.strategy.Name()
}

// SelectAgentsForBatch resolves all of the session's resource requirements
// against the given agents, in order. On success the accumulated slot and
// container diffs are written back into the AgentInfo objects in place and
// the ordered (requirement, agent) pairs are returned. On any failure no
// agent state is modified.
func (s *AgentSelector) SelectAgentsForBatch(
	agents []*schedulerobjects.AgentInfo,
	criteria *AgentSelectionCriteria,
	config *AgentSelectionConfig,
	designatedAgentIDs []schedulerobjects.AgentID,
) ([]AgentSelection, error) {
	requirements, err := criteria.ResourceRequirements()
	if err != nil {
		return nil, err
	}
	if len(requirements) == 0 {
		return nil, nil
	}
	if len(agents) == 0 {
		return nil, &ErrNoAvailableAgent{ScalingGroup: criteria.ScalingGroup}
	}

	trackers := make([]*AgentStateTracker, len(agents))
	for i, agent := range agents {
		trackers[i] = NewAgentStateTracker(agent)
	}

	selections := make([]AgentSelection, 0, len(requirements))
	for i := range requirements {
		req := &requirements[i]
		selected, err := s.selectTrackerForRequirement(trackers, req, criteria, config, designatedAgentIDs)
		if err != nil {
			return nil, err
		}
		selected.ApplyDiff(req.RequestedSlots, req.KernelCount())
		selections = append(selections, AgentSelection{
			Requirement: *req,
			Agent:       selected.Agent,
		})
	}

	for _, tracker := range trackers {
		tracker.commit()
	}
	return selections, nil
}

func (s *AgentSelector) selectTrackerForRequirement(
	trackers []*AgentStateTracker,
	req *ResourceRequirements,
	criteria *AgentSelectionCriteria,
	config *AgentSelectionConfig,
	designatedAgentIDs []schedulerobjects.AgentID,
) (*AgentStateTracker, error) {
	archCompatible := make([]*AgentStateTracker, 0, len(trackers))
	for _, tracker := range trackers {
		if tracker.Agent.Architecture == req.RequiredArchitecture {
			archCompatible = append(archCompatible, tracker)
		}
	}
	if len(archCompatible) == 0 {
		seen := make(map[string]bool)
		for _, tracker := range trackers {
			seen[tracker.Agent.Architecture] = true
		}
		archs := maps.Keys(seen)
		slices.Sort(archs)
		return nil, &ErrNoCompatibleAgent{
			KernelIDs:              req.KernelIDs,
			RequiredArchitecture:   req.RequiredArchitecture,
			AvailableArchitectures: archs,
		}
	}

	compatible := make([]*AgentStateTracker, 0, len(archCompatible))
	rejections := make(map[schedulerobjects.AgentID]string)
	for _, tracker := range archCompatible {
		if err := checkTrackerCompatibility(tracker, req, config); err != nil {
			rejections[tracker.Agent.ID] = err.Error()
			continue
		}
		compatible = append(compatible, tracker)
	}
	if len(compatible) == 0 {
		return nil, &ErrNoCompatibleAgent{
			KernelIDs:            req.KernelIDs,
			RequiredArchitecture: req.RequiredArchitecture,
			RejectionReasons:     rejections,
		}
	}

	if len(designatedAgentIDs) > 0 {
		return selectDesignatedTracker(trackers, compatible, designatedAgentIDs, rejections)
	}

	return s.strategy.SelectTracker(compatible, req, criteria, config), nil
}

// selectDesignatedTracker resolves an explicit agent pin. The pinned agent
// must be both present in the pool and in the compatible set; the error
// distinguishes the two cases so callers can tell a misconfigured pin from a
// transiently full agent.
func selectDesignatedTracker(
	all []*AgentStateTracker,
	compatible []*AgentStateTracker,
	designatedAgentIDs []schedulerobjects.AgentID,
	rejections map[schedulerobjects.AgentID]string,
) (*AgentStateTracker, error) {
	for _, tracker := range compatible {
		for _, designated := range designatedAgentIDs {
			if tracker.Agent.ID == designated {
				return tracker, nil
			}
		}
	}
	for _, tracker := range all {
		for _, designated := range designatedAgentIDs {
			if tracker.Agent.ID == designated {
				reason, ok := rejections[designated]
				if !ok {
					reason = "architecture mismatch"
				}
				return nil, &ErrDesignatedAgentIncompatible{
					AgentID: designated,
					Reason:  reason,
				}
			}
		}
	}
	return nil, &ErrDesignatedAgentNotFound{AgentIDs: designatedAgentIDs}
}

func checkTrackerCompatibility(
	tracker *AgentStateTracker,
	req *ResourceRequirements,
	config *AgentSelectionConfig,
) error {
	remaining := tracker.EffectiveRemainingSlots()
	if !remaining.GEQ(req.RequestedSlots) {
		for _, resource := range req.RequestedSlots.Keys() {
			requested := req.RequestedSlots.Get(resource)
			available := remaining.Get(resource)
			if requested.GreaterThan(available) {
				return &ErrInsufficientResources{
					AgentID:   tracker.Agent.ID,
					Resource:  resource,
					Requested: requested.String(),
					Available: available.String(),
				}
			}
		}
	}
	if config.MaxContainerCount != nil {
		if count := tracker.EffectiveContainerCount(); count >= *config.MaxContainerCount {
			return &ErrContainerLimitExceeded{
				AgentID:      tracker.Agent.ID,
				CurrentCount: count,
				MaxCount:     *config.MaxContainerCount,
			}
		}
	}
	return nil
}
