package graph

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics exposes Prometheus-compatible counters/gauges/histograms
// for the scheduler's own observability (spec.md §5's concurrency model and
// §4.7's event bus are what these metrics describe, not a spec-named
// component in their own right). All metrics are namespaced "agentorch_".
//
// Wired from Engine.Run, runNode and enqueueWithBackpressure (engine.go) and,
// for merge determinism, from detectMergeConflicts (engine.go).
type PrometheusMetrics struct {
	inflightNodes prometheus.Gauge
	queueDepth    prometheus.Gauge

	stepLatency *prometheus.HistogramVec

	retries        *prometheus.CounterVec
	mergeConflicts *prometheus.CounterVec
	backpressure   *prometheus.CounterVec
	executions     *prometheus.CounterVec

	registry prometheus.Registerer

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics registers every metric with registry (use
// prometheus.DefaultRegisterer for the global registry, or a fresh
// prometheus.NewRegistry() for test isolation).
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	pm := &PrometheusMetrics{
		registry: registry,
		enabled:  true,
	}

	pm.inflightNodes = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "agentorch",
		Name:      "inflight_nodes",
		Help:      "Current number of nodes executing concurrently in the graph",
	})

	pm.queueDepth = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "agentorch",
		Name:      "queue_depth",
		Help:      "Number of frontier entries waiting for a scheduler super-step",
	})

	pm.stepLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "agentorch",
		Name:      "step_latency_ms",
		Help:      "Node execution duration in milliseconds, from dispatch to completion",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
	}, []string{"run_id", "node_id", "status"})

	pm.retries = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentorch",
		Name:      "retries_total",
		Help:      "Node retry attempts under a RetryPolicy (policy.go), by reason",
	}, []string{"run_id", "node_id", "reason"})

	pm.mergeConflicts = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentorch",
		Name:      "merge_conflicts_total",
		Help:      "Concurrent state deltas touching the same property in one super-step",
	}, []string{"run_id", "conflict_type"})

	pm.backpressure = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentorch",
		Name:      "backpressure_events_total",
		Help:      "Frontier enqueue attempts throttled by Options.QueueDepth",
	}, []string{"run_id", "reason"})

	pm.executions = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentorch",
		Name:      "executions_total",
		Help:      "Completed Engine.Run calls by terminal ExecutionStatus (spec.md §3)",
	}, []string{"status"})

	return pm
}

// RecordStepLatency observes one node's execution duration.
func (pm *PrometheusMetrics) RecordStepLatency(runID, nodeID string, latency time.Duration, status string) {
	if !pm.enabled {
		return
	}
	pm.stepLatency.WithLabelValues(runID, nodeID, status).Observe(float64(latency.Milliseconds()))
}

// IncrementRetries counts one retry attempt for nodeID.
func (pm *PrometheusMetrics) IncrementRetries(runID, nodeID, reason string) {
	if !pm.enabled {
		return
	}
	pm.retries.WithLabelValues(runID, nodeID, reason).Inc()
}

// UpdateQueueDepth sets the current frontier length.
func (pm *PrometheusMetrics) UpdateQueueDepth(depth int) {
	if !pm.enabled {
		return
	}
	pm.queueDepth.Set(float64(depth))
}

// UpdateInflightNodes sets the current super-step's concurrency.
func (pm *PrometheusMetrics) UpdateInflightNodes(count int) {
	if !pm.enabled {
		return
	}
	pm.inflightNodes.Set(float64(count))
}

// IncrementMergeConflicts counts one detected concurrent-write conflict
// (see detectMergeConflicts, engine.go's merge-determinism guard).
func (pm *PrometheusMetrics) IncrementMergeConflicts(runID, conflictType string) {
	if !pm.enabled {
		return
	}
	pm.mergeConflicts.WithLabelValues(runID, conflictType).Inc()
}

// IncrementBackpressure counts one throttled enqueue.
func (pm *PrometheusMetrics) IncrementBackpressure(runID, reason string) {
	if !pm.enabled {
		return
	}
	pm.backpressure.WithLabelValues(runID, reason).Inc()
}

// IncrementExecutions counts one Run call reaching the given terminal
// status (spec.md §3's ExecutionRecord.status values).
func (pm *PrometheusMetrics) IncrementExecutions(status string) {
	if !pm.enabled {
		return
	}
	pm.executions.WithLabelValues(status).Inc()
}

// Disable stops recording without unregistering any metric.
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable resumes recording after Disable.
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}

// Reset zeroes the gauges. Counters and histograms are cumulative by
// Prometheus design and are not reset.
func (pm *PrometheusMetrics) Reset() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.inflightNodes.Set(0)
	pm.queueDepth.Set(0)
}
