package graph

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics collects Prometheus metrics for workflow execution.
//
// Metrics exposed (all namespaced with "lexgraph_"):
//
//  1. step_latency_ms (histogram): node execution duration in milliseconds.
//     Labels: node_id, status (success/error).
//  2. node_errors_total (counter): node failures.
//     Labels: node_id, kind (failure, security, contract_violation, panic).
//  3. interrupts_total (counter): sessions parked at an interrupt point.
//     Labels: node_id.
//  4. runs_total (counter): finished Run/Resume calls.
//     Labels: mode (run/resume), outcome (completed/paused/error).
//  5. circuit_trips_total (counter): executors that reached the retry limit.
//     Labels: node_id.
//  6. sessions_inflight (gauge): calls currently holding a session lock.
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	metrics := graph.NewPrometheusMetrics(registry)
//	engine, _ := graph.New(reducer, st, emitter, graph.WithMetrics(metrics))
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
//
// A nil *PrometheusMetrics is valid and records nothing.
type PrometheusMetrics struct {
	stepLatency  *prometheus.HistogramVec
	nodeErrors   *prometheus.CounterVec
	interrupts   *prometheus.CounterVec
	runs         *prometheus.CounterVec
	circuitTrips *prometheus.CounterVec
	inflight     prometheus.Gauge

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics creates and registers all workflow metrics with
// registry. A nil registry uses prometheus.DefaultRegisterer.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &PrometheusMetrics{
		enabled: true,
		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lexgraph",
			Name:      "step_latency_ms",
			Help:      "Node execution duration in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 30000},
		}, []string{"node_id", "status"}),
		nodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lexgraph",
			Name:      "node_errors_total",
			Help:      "Node failures by kind",
		}, []string{"node_id", "kind"}),
		interrupts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lexgraph",
			Name:      "interrupts_total",
			Help:      "Sessions parked at an interrupt point",
		}, []string{"node_id"}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lexgraph",
			Name:      "runs_total",
			Help:      "Finished Run and Resume calls",
		}, []string{"mode", "outcome"}),
		circuitTrips: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lexgraph",
			Name:      "circuit_trips_total",
			Help:      "Executors that reached their retry limit",
		}, []string{"node_id"}),
		inflight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "lexgraph",
			Name:      "sessions_inflight",
			Help:      "Calls currently holding a session lock",
		}),
	}
}

func (pm *PrometheusMetrics) on() bool {
	if pm == nil {
		return false
	}
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}

// RecordStepLatency records the duration of one node execution.
func (pm *PrometheusMetrics) RecordStepLatency(nodeID string, latency time.Duration, status string) {
	if !pm.on() {
		return
	}
	pm.stepLatency.WithLabelValues(nodeID, status).Observe(float64(latency.Milliseconds()))
}

// IncrementNodeErrors counts a node failure of the given kind.
func (pm *PrometheusMetrics) IncrementNodeErrors(nodeID, kind string) {
	if !pm.on() {
		return
	}
	pm.nodeErrors.WithLabelValues(nodeID, kind).Inc()
}

// IncrementInterrupts counts a session parked before nodeID.
func (pm *PrometheusMetrics) IncrementInterrupts(nodeID string) {
	if !pm.on() {
		return
	}
	pm.interrupts.WithLabelValues(nodeID).Inc()
}

// IncrementRuns counts a finished call.
func (pm *PrometheusMetrics) IncrementRuns(mode, outcome string) {
	if !pm.on() {
		return
	}
	pm.runs.WithLabelValues(mode, outcome).Inc()
}

// IncrementCircuitTrips counts an executor reaching its retry limit.
func (pm *PrometheusMetrics) IncrementCircuitTrips(nodeID string) {
	if !pm.on() {
		return
	}
	pm.circuitTrips.WithLabelValues(nodeID).Inc()
}

// UpdateInflight adjusts the in-flight session gauge by delta.
func (pm *PrometheusMetrics) UpdateInflight(delta int) {
	if !pm.on() {
		return
	}
	pm.inflight.Add(float64(delta))
}

// Disable temporarily disables metric recording (useful for testing).
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable re-enables metric recording after Disable().
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}
