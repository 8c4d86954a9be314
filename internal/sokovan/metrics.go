package sokovan

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsPrefix = "sokovan_"

var scheduledSessionsCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: metricsPrefix + "scheduled_sessions",
		Help: "Number of sessions successfully assigned to agents",
	},
	[]string{"scaling_group", "strategy"},
)

var schedulingFailuresCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: metricsPrefix + "scheduling_failures",
		Help: "Number of sessions that could not be assigned in a tick",
	},
	[]string{"scaling_group", "retryable"},
)

var deferredSessionsCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: metricsPrefix + "deferred_sessions",
		Help: "Number of sessions skipped because their start time has not been reached",
	},
	[]string{"scaling_group"},
)

var tickDurationHist = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    metricsPrefix + "tick_duration_seconds",
		Help:    "Time taken to schedule one scaling group",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	},
	[]string{"scaling_group"},
)

var fairShareRecalculationsCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: metricsPrefix + "fair_share_recalculations",
		Help: "Number of fair-share scopes recalculated and upserted",
	},
	[]string{"resource_group"},
)
