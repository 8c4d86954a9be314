package sokovan

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/lablup/sokovan/internal/sokovan/configuration"
	"github.com/lablup/sokovan/internal/sokovan/queue"
	"github.com/lablup/sokovan/internal/sokovan/schedulerobjects"
	"github.com/lablup/sokovan/internal/sokovan/selector"
)

// AgentRegistry provides the live agents of a scaling group.
type AgentRegistry interface {
	ListAgents(ctx context.Context, scalingGroup string) ([]*schedulerobjects.AgentInfo, error)
}

// WorkloadRepository provides the pending sessions of a scaling group.
type WorkloadRepository interface {
	ListPendingWorkloads(ctx context.Context, scalingGroup string) ([]*schedulerobjects.SessionWorkload, error)
}

// RoundRobinStateStore persists the rotation cursor per
// (scaling group, architecture).
type RoundRobinStateStore interface {
	GetState(ctx context.Context, scalingGroup, architecture string) (selector.RoundRobinState, error)
	SetState(ctx context.Context, scalingGroup, architecture string, state selector.RoundRobinState) error
}

// EndpointKernelCounter reports how many running kernels of one serving
// endpoint each agent currently hosts. Consumed by replica spreading when
// placing inference sessions.
type EndpointKernelCounter interface {
	CountKernelsByAgent(ctx context.Context, endpointID uuid.UUID) (map[schedulerobjects.AgentID]int, error)
}

// SessionAllocation is the outcome of scheduling one session: an ordered
// (requirement, agent) pair list the downstream provisioner launches
// containers from.
type SessionAllocation struct {
	SessionID  uuid.UUID
	Strategy   string
	Selections []selector.AgentSelection
}

// SchedulingFailure records why one session could not be placed this tick.
// Retryable failures keep the session pending; the rest need user action.
type SchedulingFailure struct {
	SessionID uuid.UUID
	Reason    error
	Retryable bool
}

// TickResult is the outcome of scheduling one scaling group once.
type TickResult struct {
	Allocations []SessionAllocation
	Failures    []SchedulingFailure
	// Sessions whose start time lies in the future
	Deferred int
}

// Scheduler runs the per-scaling-group scheduling tick: sequence pending
// workloads, place each one through the agent selector, and record
// allocations and failures. One failed session does not block the sessions
// after it.
//
// The scheduler assumes a single writer per scaling group; the agent list
// returned by the registry is mutated in place by batch commits.
type Scheduler struct {
	registry       AgentRegistry
	workloads      WorkloadRepository
	rrStates       RoundRobinStateStore
	endpointCounts EndpointKernelCounter
	sequencer      queue.Sequencer
	config         configuration.SchedulingConfig
	clock          clock.PassiveClock
}

func NewScheduler(
	registry AgentRegistry,
	workloads WorkloadRepository,
	rrStates RoundRobinStateStore,
	endpointCounts EndpointKernelCounter,
	sequencer queue.Sequencer,
	config configuration.SchedulingConfig,
	clk clock.PassiveClock,
) *Scheduler {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Scheduler{
		registry:       registry,
		workloads:      workloads,
		rrStates:       rrStates,
		endpointCounts: endpointCounts,
		sequencer:      sequencer,
		config:         config,
		clock:          clk,
	}
}

// ScheduleScalingGroup schedules all pending sessions of one scaling group.
func (s *Scheduler) ScheduleScalingGroup(ctx context.Context, scalingGroup string) (*TickResult, error) {
	start := s.clock.Now()
	defer func() {
		tickDurationHist.WithLabelValues(scalingGroup).Observe(s.clock.Since(start).Seconds())
	}()

	agents, err := s.registry.ListAgents(ctx, scalingGroup)
	if err != nil {
		return nil, errors.WithMessagef(err, "listing agents of scaling group %s", scalingGroup)
	}
	pending, err := s.workloads.ListPendingWorkloads(ctx, scalingGroup)
	if err != nil {
		return nil, errors.WithMessagef(err, "listing pending workloads of scaling group %s", scalingGroup)
	}

	ordered := s.sequencer.Sequence(pending)
	now := s.clock.Now()
	result := &TickResult{}

	for _, workload := range ordered {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if workload.StartsAt != nil && now.Before(*workload.StartsAt) {
			result.Deferred++
			deferredSessionsCounter.WithLabelValues(scalingGroup).Inc()
			continue
		}
		allocation, failure := s.scheduleSession(ctx, scalingGroup, agents, workload)
		if failure != nil {
			result.Failures = append(result.Failures, *failure)
			schedulingFailuresCounter.
				WithLabelValues(scalingGroup, strconv.FormatBool(failure.Retryable)).Inc()
			log.WithError(failure.Reason).
				WithField("scalingGroup", scalingGroup).
				WithField("sessionId", workload.SessionID).
				WithField("retryable", failure.Retryable).
				Info("Failed to schedule session")
			continue
		}
		result.Allocations = append(result.Allocations, *allocation)
		scheduledSessionsCounter.WithLabelValues(scalingGroup, allocation.Strategy).Inc()
	}

	log.WithField("scalingGroup", scalingGroup).
		WithField("scheduled", len(result.Allocations)).
		WithField("failed", len(result.Failures)).
		WithField("deferred", result.Deferred).
		Info("Scheduling tick complete")
	return result, nil
}

func (s *Scheduler) scheduleSession(
	ctx context.Context,
	scalingGroup string,
	agents []*schedulerobjects.AgentInfo,
	workload *schedulerobjects.SessionWorkload,
) (*SessionAllocation, *SchedulingFailure) {
	if err := s.loadEndpointKernelCounts(ctx, workload); err != nil {
		return nil, &SchedulingFailure{SessionID: workload.SessionID, Reason: err, Retryable: true}
	}
	criteria := selector.CriteriaFromWorkload(workload)

	strategy, persistState, err := s.strategyFor(ctx, scalingGroup, workload)
	if err != nil {
		return nil, &SchedulingFailure{SessionID: workload.SessionID, Reason: err, Retryable: true}
	}

	agentSelector := selector.NewAgentSelector(strategy)
	selections, err := agentSelector.SelectAgentsForBatch(
		agents, criteria, s.selectionConfig(), workload.DesignatedAgentIDs)
	if err != nil {
		return nil, &SchedulingFailure{
			SessionID: workload.SessionID,
			Reason:    err,
			Retryable: selector.IsRetryableSelectionError(err),
		}
	}

	// The round-robin cursor only advances when the batch committed, so a
	// failed session does not cost an agent its turn.
	if persistState != nil {
		if err := persistState(ctx); err != nil {
			log.WithError(err).
				WithField("scalingGroup", scalingGroup).
				Warn("Failed to persist round-robin state")
		}
	}

	return &SessionAllocation{
		SessionID:  workload.SessionID,
		Strategy:   strategy.Name(),
		Selections: selections,
	}, nil
}

// loadEndpointKernelCounts fills in how many kernels of the session's
// serving endpoint each agent already hosts, so the concentrated strategy
// can spread inference replicas. Counts already present on the workload are
// kept.
func (s *Scheduler) loadEndpointKernelCounts(
	ctx context.Context,
	workload *schedulerobjects.SessionWorkload,
) error {
	if !s.config.EnforceSpreadingEndpointReplica ||
		workload.SessionType != schedulerobjects.SessionTypeInference ||
		workload.EndpointID == uuid.Nil ||
		workload.KernelCountsAtEndpoint != nil ||
		s.endpointCounts == nil {
		return nil
	}
	counts, err := s.endpointCounts.CountKernelsByAgent(ctx, workload.EndpointID)
	if err != nil {
		return errors.WithMessagef(err, "counting kernels of endpoint %s", workload.EndpointID)
	}
	workload.KernelCountsAtEndpoint = counts
	return nil
}

// strategyFor builds the selection strategy for one session. Round-robin
// strategies are stateful, so a fresh instance is loaded per session and a
// persist callback is returned alongside.
func (s *Scheduler) strategyFor(
	ctx context.Context,
	scalingGroup string,
	workload *schedulerobjects.SessionWorkload,
) (selector.Strategy, func(context.Context) error, error) {
	priority := s.config.AgentSelectionResourcePriority
	switch s.config.DefaultAgentSelectionStrategy {
	case "roundrobin":
		architecture := sessionArchitecture(workload)
		state, err := s.rrStates.GetState(ctx, scalingGroup, architecture)
		if err != nil {
			return nil, nil, errors.WithMessage(err, "loading round-robin state")
		}
		strategy := selector.NewRoundRobinStrategy(state)
		persist := func(ctx context.Context) error {
			return s.rrStates.SetState(ctx, scalingGroup, architecture, strategy.AdvancedState())
		}
		return strategy, persist, nil
	case "dispersed":
		return selector.NewDispersedStrategy(priority), nil, nil
	case "legacy":
		return selector.NewLegacyStrategy(priority), nil, nil
	default:
		return selector.NewConcentratedStrategy(priority), nil, nil
	}
}

func (s *Scheduler) selectionConfig() *selector.AgentSelectionConfig {
	config := &selector.AgentSelectionConfig{
		EnforceSpreadingEndpointReplica: s.config.EnforceSpreadingEndpointReplica,
	}
	if s.config.MaxContainerCount > 0 {
		maxCount := s.config.MaxContainerCount
		config.MaxContainerCount = &maxCount
	}
	return config
}

// sessionArchitecture returns the architecture of the session's kernels,
// used to key round-robin rotations. Mixed-architecture multi-node sessions
// rotate on the first kernel's architecture.
func sessionArchitecture(workload *schedulerobjects.SessionWorkload) string {
	if len(workload.Kernels) == 0 {
		return ""
	}
	return workload.Kernels[0].Architecture
}
