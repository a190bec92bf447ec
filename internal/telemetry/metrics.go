package telemetry

import "github.com/prometheus/client_golang/prometheus"

var PlacementsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "smo",
		Subsystem: "placement",
		Name:      "decisions_total",
		Help:      "Total number of placement solver invocations by outcome.",
	},
	[]string{"graph", "outcome"}, // outcome: solved, infeasible
)

var PlacementSolverDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "smo",
		Subsystem: "placement",
		Name:      "solver_duration_seconds",
		Help:      "Placement solver wall-clock duration in seconds.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	},
	[]string{"graph"},
)

var ScalingTicksTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "smo",
		Subsystem: "scaling",
		Name:      "ticks_total",
		Help:      "Total number of scaling loop ticks by outcome.",
	},
	[]string{"graph", "cluster", "outcome"}, // outcome: scaled, unchanged, escalated, skipped
)

var ScalingSolverDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "smo",
		Subsystem: "scaling",
		Name:      "solver_duration_seconds",
		Help:      "Scaling solver wall-clock duration in seconds.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	},
	[]string{"graph", "cluster"},
)

var ScaleActionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "smo",
		Subsystem: "scaling",
		Name:      "scale_actions_total",
		Help:      "Total number of deployment scale actions issued, by service.",
	},
	[]string{"cluster", "service"},
)

var EscalationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "smo",
		Subsystem: "scaling",
		Name:      "escalations_total",
		Help:      "Total number of scaling escalations to re-placement, by graph.",
	},
	[]string{"graph"},
)

var ArtifactOperationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "smo",
		Subsystem: "artifact",
		Name:      "operations_total",
		Help:      "Total number of artifact driver operations by kind and result.",
	},
	[]string{"operation", "result"}, // operation: install, upgrade, uninstall; result: ok, error
)

var ClusterClientErrorsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "smo",
		Subsystem: "cluster_client",
		Name:      "errors_total",
		Help:      "Total number of cluster client call failures by cluster and operation.",
	},
	[]string{"cluster", "operation"},
)

// All returns all SMO-specific metrics for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		PlacementsTotal,
		PlacementSolverDuration,
		ScalingTicksTotal,
		ScalingSolverDuration,
		ScaleActionsTotal,
		EscalationsTotal,
		ArtifactOperationsTotal,
		ClusterClientErrorsTotal,
	}
}
