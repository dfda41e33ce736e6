package graph

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are registered once at package init as package-level vars,
// labeled by graph name, rather than per-Controller instance — a
// Controller constructed per test or per graph in the same process must
// not panic on duplicate registration the way a per-instance
// promauto.New* call would.
var (
	materializeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "warp",
		Subsystem: "graph",
		Name:      "materialize_duration_seconds",
		Help:      "Time spent folding newly committed patches into cached state.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"graph"})

	patchesFolded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "warp",
		Subsystem: "graph",
		Name:      "patches_folded_total",
		Help:      "Total patches folded into cached state across all Materialize calls.",
	}, []string{"graph"})

	gcRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "warp",
		Subsystem: "graph",
		Name:      "gc_runs_total",
		Help:      "Total garbage-collection passes, labeled by outcome.",
	}, []string{"graph", "outcome"})

	gcTombstonesCompacted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "warp",
		Subsystem: "graph",
		Name:      "gc_tombstones_compacted_total",
		Help:      "Total tombstone entries removed by garbage collection.",
	}, []string{"graph"})

	indexBuildDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "warp",
		Subsystem: "graph",
		Name:      "index_build_duration_seconds",
		Help:      "Time spent building or incrementally updating the bitmap/property index.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"graph"})

	indexDegraded = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "warp",
		Subsystem: "graph",
		Name:      "index_degraded",
		Help:      "1 if the controller is currently serving queries via degraded linear scan, else 0.",
	}, []string{"graph"})

	ceilingCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "warp",
		Subsystem: "graph",
		Name:      "ceiling_cache_hits_total",
		Help:      "Ceiling-materialize cache hits and misses.",
	}, []string{"graph", "outcome"})
)
