// Package metrics holds the prometheus collectors exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Fetch outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Fallback steps, in the order they are tried.
const (
	FallbackCached   = "cached"
	FallbackArtifact = "artifact"
	FallbackEmpty    = "empty"
)

var (
	// ForestFetchTotal counts adapter fetches by outcome.
	ForestFetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arbor_forest_fetch_total",
		Help: "Forest fetches by outcome",
	}, []string{"outcome"})

	// ForestFetchDuration measures adapter fetch latency.
	ForestFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "arbor_forest_fetch_duration_seconds",
		Help:    "Time spent fetching the forest from forester",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	// ForestFallbackTotal counts which fallback served a failed fetch.
	ForestFallbackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arbor_forest_fallback_total",
		Help: "Failed fetches by the fallback step that served them",
	}, []string{"step"})

	// GraphRebuildDuration measures full transclusion graph rebuilds.
	GraphRebuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "arbor_graph_rebuild_duration_seconds",
		Help:    "Time to rebuild the transclusion graph",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	// GraphNodes is the node count of the current graph.
	GraphNodes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arbor_graph_nodes",
		Help: "Nodes in the current transclusion graph",
	})
)
