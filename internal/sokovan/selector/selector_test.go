package selector

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lablup/sokovan/internal/sokovan/schedulerobjects"
)

func multiKernelCriteria(kernelSlots []map[string]string) *AgentSelectionCriteria {
	kernels := make(map[uuid.UUID]KernelResourceSpec, len(kernelSlots))
	for _, slots := range kernelSlots {
		kernels[uuid.New()] = KernelResourceSpec{
			RequestedSlots:       schedulerobjects.MustResourceSlot(slots),
			RequiredArchitecture: "x86_64",
		}
	}
	return &AgentSelectionCriteria{
		SessionID:          uuid.New(),
		SessionType:        schedulerobjects.SessionTypeBatch,
		ClusterMode:        schedulerobjects.ClusterModeMultiNode,
		KernelRequirements: kernels,
	}
}

func TestBatchCommitUpdatesAgentState(t *testing.T) {
	agent := testAgent("agent-1", nil, nil)
	selector := NewAgentSelector(NewDispersedStrategy([]string{"cpu", "mem"}))

	criteria := singleKernelCriteria(map[string]string{"cpu": "2", "mem": "2048"})
	selections, err := selector.SelectAgentsForBatch(
		[]*schedulerobjects.AgentInfo{agent}, criteria, &AgentSelectionConfig{}, nil)
	require.NoError(t, err)
	require.Len(t, selections, 1)

	assert.Equal(t, schedulerobjects.AgentID("agent-1"), selections[0].Agent.ID)
	assert.True(t, agent.OccupiedSlots.Equal(
		schedulerobjects.MustResourceSlot(map[string]string{"cpu": "2", "mem": "2048"})))
	assert.Equal(t, 1, agent.ContainerCount)
}

func TestBatchSeesPriorAllocationsOfSameBatch(t *testing.T) {
	// 6 CPU total; two 4-CPU kernels cannot share one agent.
	agents := []*schedulerobjects.AgentInfo{
		testAgent("agent-1", map[string]string{"cpu": "6", "mem": "16384"}, nil),
		testAgent("agent-2", map[string]string{"cpu": "6", "mem": "16384"}, nil),
	}
	criteria := multiKernelCriteria([]map[string]string{
		{"cpu": "4", "mem": "1024"},
		{"cpu": "4", "mem": "1024"},
	})
	selector := NewAgentSelector(NewDispersedStrategy([]string{"cpu", "mem"}))

	selections, err := selector.SelectAgentsForBatch(agents, criteria, &AgentSelectionConfig{}, nil)
	require.NoError(t, err)
	require.Len(t, selections, 2)
	assert.NotEqual(t, selections[0].Agent.ID, selections[1].Agent.ID)
}

func TestFailedBatchLeavesAgentsUntouched(t *testing.T) {
	// The first kernel fits, the second cannot fit anywhere.
	agent := testAgent("agent-1", map[string]string{"cpu": "6", "mem": "16384"}, nil)
	criteria := multiKernelCriteria([]map[string]string{
		{"cpu": "4", "mem": "1024"},
		{"cpu": "4", "mem": "1024"},
	})
	selector := NewAgentSelector(NewDispersedStrategy([]string{"cpu", "mem"}))

	selections, err := selector.SelectAgentsForBatch(
		[]*schedulerobjects.AgentInfo{agent}, criteria, &AgentSelectionConfig{}, nil)
	require.Error(t, err)
	assert.Nil(t, selections)

	var noCompatible *ErrNoCompatibleAgent
	require.ErrorAs(t, err, &noCompatible)
	assert.True(t, IsRetryableSelectionError(err))

	assert.True(t, agent.OccupiedSlots.IsZero())
	assert.Equal(t, 0, agent.ContainerCount)
}

func TestEmptyAgentPool(t *testing.T) {
	criteria := singleKernelCriteria(map[string]string{"cpu": "1"})
	criteria.ScalingGroup = "gpu-pool"
	selector := NewAgentSelector(NewDispersedStrategy(nil))

	_, err := selector.SelectAgentsForBatch(nil, criteria, &AgentSelectionConfig{}, nil)
	var noAvailable *ErrNoAvailableAgent
	require.ErrorAs(t, err, &noAvailable)
	assert.Equal(t, "gpu-pool", noAvailable.ScalingGroup)
	assert.True(t, IsRetryableSelectionError(err))
}

func TestNoRequirementsSelectsNothing(t *testing.T) {
	criteria := &AgentSelectionCriteria{
		SessionID:   uuid.New(),
		ClusterMode: schedulerobjects.ClusterModeSingleNode,
	}
	selector := NewAgentSelector(NewDispersedStrategy(nil))

	selections, err := selector.SelectAgentsForBatch(
		[]*schedulerobjects.AgentInfo{testAgent("agent-1", nil, nil)},
		criteria, &AgentSelectionConfig{}, nil)
	require.NoError(t, err)
	assert.Empty(t, selections)
}

func TestArchitectureFilterExcludesAgents(t *testing.T) {
	armAgent := testAgent("agent-arm", nil, nil)
	armAgent.Architecture = "aarch64"
	criteria := singleKernelCriteria(map[string]string{"cpu": "1"})
	selector := NewAgentSelector(NewDispersedStrategy(nil))

	_, err := selector.SelectAgentsForBatch(
		[]*schedulerobjects.AgentInfo{armAgent}, criteria, &AgentSelectionConfig{}, nil)
	var noCompatible *ErrNoCompatibleAgent
	require.ErrorAs(t, err, &noCompatible)
	assert.Equal(t, "x86_64", noCompatible.RequiredArchitecture)
	assert.Equal(t, []string{"aarch64"}, noCompatible.AvailableArchitectures)
	assert.Empty(t, noCompatible.RejectionReasons)
}

func TestCapacityRejectionsAreReported(t *testing.T) {
	agents := []*schedulerobjects.AgentInfo{
		testAgent("agent-1", map[string]string{"cpu": "2", "mem": "2048"}, nil),
		testAgent("agent-2", map[string]string{"cpu": "2", "mem": "2048"}, nil),
	}
	criteria := singleKernelCriteria(map[string]string{"cpu": "4", "mem": "1024"})
	selector := NewAgentSelector(NewDispersedStrategy(nil))

	_, err := selector.SelectAgentsForBatch(agents, criteria, &AgentSelectionConfig{}, nil)
	var noCompatible *ErrNoCompatibleAgent
	require.ErrorAs(t, err, &noCompatible)
	require.Len(t, noCompatible.RejectionReasons, 2)
	assert.Contains(t, noCompatible.RejectionReasons[schedulerobjects.AgentID("agent-1")], "cpu")
}

func TestContainerCeiling(t *testing.T) {
	agent := testAgent("agent-1", map[string]string{"cpu": "64", "mem": "65536"}, nil)
	criteria := multiKernelCriteria([]map[string]string{
		{"cpu": "1", "mem": "1024"},
		{"cpu": "1", "mem": "1024"},
		{"cpu": "1", "mem": "1024"},
	})
	selector := NewAgentSelector(NewDispersedStrategy(nil))

	// The ceiling also counts allocations made earlier in the same batch.
	config := &AgentSelectionConfig{MaxContainerCount: intPtr(2)}
	_, err := selector.SelectAgentsForBatch(
		[]*schedulerobjects.AgentInfo{agent}, criteria, config, nil)
	var noCompatible *ErrNoCompatibleAgent
	require.ErrorAs(t, err, &noCompatible)
	assert.Contains(t, noCompatible.RejectionReasons[schedulerobjects.AgentID("agent-1")], "containers")
	assert.Equal(t, 0, agent.ContainerCount)

	config = &AgentSelectionConfig{MaxContainerCount: intPtr(3)}
	selections, err := selector.SelectAgentsForBatch(
		[]*schedulerobjects.AgentInfo{agent}, criteria, config, nil)
	require.NoError(t, err)
	assert.Len(t, selections, 3)
	assert.Equal(t, 3, agent.ContainerCount)
}

func TestDesignatedAgentIsPicked(t *testing.T) {
	agents := []*schedulerobjects.AgentInfo{
		testAgent("agent-1", nil, nil),
		testAgent("agent-2", nil, nil),
		testAgent("agent-3", nil, nil),
	}
	criteria := singleKernelCriteria(map[string]string{"cpu": "1", "mem": "1024"})
	// Dispersed would pick agent-1 here; the pin overrides the strategy.
	selector := NewAgentSelector(NewDispersedStrategy([]string{"cpu", "mem"}))

	selections, err := selector.SelectAgentsForBatch(
		agents, criteria, &AgentSelectionConfig{},
		[]schedulerobjects.AgentID{"agent-3"})
	require.NoError(t, err)
	require.Len(t, selections, 1)
	assert.Equal(t, schedulerobjects.AgentID("agent-3"), selections[0].Agent.ID)
}

func TestDesignatedAgentNotFound(t *testing.T) {
	criteria := singleKernelCriteria(map[string]string{"cpu": "1"})
	selector := NewAgentSelector(NewDispersedStrategy(nil))

	_, err := selector.SelectAgentsForBatch(
		[]*schedulerobjects.AgentInfo{testAgent("agent-1", nil, nil)},
		criteria, &AgentSelectionConfig{},
		[]schedulerobjects.AgentID{"agent-missing"})
	var notFound *ErrDesignatedAgentNotFound
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, []schedulerobjects.AgentID{"agent-missing"}, notFound.AgentIDs)
	assert.False(t, IsRetryableSelectionError(err))
}

func TestDesignatedAgentFull(t *testing.T) {
	agents := []*schedulerobjects.AgentInfo{
		testAgent("agent-1", nil, nil),
		testAgent("agent-2", map[string]string{"cpu": "2", "mem": "2048"}, map[string]string{"cpu": "2", "mem": "2048"}),
	}
	criteria := singleKernelCriteria(map[string]string{"cpu": "1", "mem": "512"})
	selector := NewAgentSelector(NewDispersedStrategy(nil))

	_, err := selector.SelectAgentsForBatch(
		agents, criteria, &AgentSelectionConfig{},
		[]schedulerobjects.AgentID{"agent-2"})
	var incompatible *ErrDesignatedAgentIncompatible
	require.ErrorAs(t, err, &incompatible)
	assert.Equal(t, schedulerobjects.AgentID("agent-2"), incompatible.AgentID)
	assert.Contains(t, incompatible.Reason, "cpu")
	assert.False(t, IsRetryableSelectionError(err))
}

func TestDesignatedAgentWrongArchitecture(t *testing.T) {
	armAgent := testAgent("agent-arm", nil, nil)
	armAgent.Architecture = "aarch64"
	agents := []*schedulerobjects.AgentInfo{
		testAgent("agent-1", nil, nil),
		armAgent,
	}
	criteria := singleKernelCriteria(map[string]string{"cpu": "1"})
	selector := NewAgentSelector(NewDispersedStrategy(nil))

	_, err := selector.SelectAgentsForBatch(
		agents, criteria, &AgentSelectionConfig{},
		[]schedulerobjects.AgentID{"agent-arm"})
	var incompatible *ErrDesignatedAgentIncompatible
	require.ErrorAs(t, err, &incompatible)
	assert.Contains(t, incompatible.Reason, "architecture")
}
