package configuration

import (
	"time"
)

type SokovanConfig struct {
	// Port the prometheus metrics endpoint is served on
	MetricsPort uint16
	// How often pending workloads are scheduled
	SchedulePeriod time.Duration
	// How often fair-share factors are recalculated
	FairShareRecalculatePeriod time.Duration
	// Scaling groups this instance schedules
	ScalingGroups []string
	// Resource groups fair-share factors are maintained for; defaults to
	// the scaling groups when empty
	ResourceGroups []string

	Postgres   PostgresConfig
	Scheduling SchedulingConfig
	FairShare  FairShareConfig
}

type PostgresConfig struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	Connection      map[string]string
}

type SchedulingConfig struct {
	// Resource types compared first when strategies break capacity ties,
	// most significant first (e.g., ["cuda.device", "cpu", "mem"])
	AgentSelectionResourcePriority []string
	// Default selection strategy for scaling groups that do not set one:
	// "concentrated", "dispersed", "roundrobin" or "legacy"
	DefaultAgentSelectionStrategy string
	// Default sequencer for scaling groups that do not set one:
	// "fifo", "lifo" or "fairshare"
	DefaultSequencer string
	// Per-agent container ceiling; zero means unlimited
	MaxContainerCount int
	// Whether inference endpoint replicas are spread across agents
	EnforceSpreadingEndpointReplica bool
}

type FairShareConfig struct {
	// Weight applied to scopes without a configured weight
	DefaultWeight float64
	// Per-resource weight overrides applied group-wide
	ResourceWeights map[string]float64
	HalfLifeDays    int
	LookbackDays    int
	DecayUnitDays   int
}
