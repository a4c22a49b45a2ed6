// Package metrics is an ambient observability collaborator: it exposes
// orchestrator counters and a duration histogram through a narrow
// Recorder interface the core depends on but never binds to a concrete
// implementation, the same collaborator/narrow-interface shape used for
// the worker pool and progress reporter.
//
// Implemented with package-level prometheus.NewCounterVec/NewHistogramVec
// registered once via prometheus.MustRegister, labeled by stage name.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder is the interface the orchestrator records execution telemetry
// through. Nil-safe: a nil Recorder (the default when no metrics
// collaborator is wired) is a no-op.
type Recorder interface {
	NodeExecuted(stageName string)
	NodeStale(stageName string)
	NodeDuration(stageName string, d time.Duration)
}

var (
	nodesExecutedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pipelinerun",
			Name:      "nodes_executed_total",
			Help:      "Total stage nodes executed by the orchestrator.",
		},
		[]string{"stage"},
	)

	nodesStaleTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pipelinerun",
			Name:      "nodes_stale_total",
			Help:      "Total stage nodes marked stale by the invalidator.",
		},
		[]string{"stage"},
	)

	nodeDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pipelinerun",
			Name:      "node_duration_seconds",
			Help:      "Stage execution duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"stage"},
	)
)

func init() {
	prometheus.MustRegister(nodesExecutedTotal, nodesStaleTotal, nodeDurationSeconds)
}

// PrometheusRecorder is the default Recorder, backed by the package-level
// registered collectors.
type PrometheusRecorder struct{}

func (PrometheusRecorder) NodeExecuted(stageName string) {
	nodesExecutedTotal.WithLabelValues(stageName).Inc()
}

func (PrometheusRecorder) NodeStale(stageName string) {
	nodesStaleTotal.WithLabelValues(stageName).Inc()
}

func (PrometheusRecorder) NodeDuration(stageName string, d time.Duration) {
	nodeDurationSeconds.WithLabelValues(stageName).Observe(d.Seconds())
}

// noop discards every observation; used when no Recorder is configured.
type noop struct{}

func (noop) NodeExecuted(string)                {}
func (noop) NodeStale(string)                   {}
func (noop) NodeDuration(string, time.Duration) {}

// OrNoop returns r, or a discarding Recorder if r is nil, so callers never
// need a nil check.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return noop{}
	}
	return r
}
