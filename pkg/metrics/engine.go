package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/hermes/pkg/hg"
)

// engineMetrics is the Prometheus implementation of hg.Metrics.
type engineMetrics struct {
	forwards    prometheus.Counter
	handled     *prometheus.CounterVec
	completions *prometheus.CounterVec
	queueDepth  prometheus.Gauge
	backlog     prometheus.Gauge
}

// NewEngineMetrics creates a Prometheus-backed hg.Metrics.
//
// Returns nil if metrics are not enabled (InitRegistry not called);
// passing nil metrics to hg.Init disables instrumentation with zero
// overhead.
func NewEngineMetrics() hg.Metrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &engineMetrics{
		forwards: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "hermes_rpc_forwards_total",
			Help: "Total number of RPC requests forwarded to peers",
		}),
		handled: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "hermes_rpc_handled_total",
			Help: "Total number of incoming RPC requests dispatched, by function name",
		}, []string{"function"}),
		completions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "hermes_rpc_completions_total",
			Help: "Total number of handles reaching the completion queue, by return code",
		}, []string{"ret"}),
		queueDepth: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "hermes_completion_queue_depth",
			Help: "Completion queue depth observed at the last push",
		}),
		backlog: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "hermes_listen_backlog_occupancy",
			Help: "Pre-posted unexpected receives currently outstanding",
		}),
	}
}

func (m *engineMetrics) ForwardPosted() {
	m.forwards.Inc()
}

func (m *engineMetrics) RequestHandled(name string) {
	m.handled.WithLabelValues(name).Inc()
}

func (m *engineMetrics) HandleCompleted(rc hg.ReturnCode) {
	m.completions.WithLabelValues(rc.String()).Inc()
}

func (m *engineMetrics) CompletionQueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}

func (m *engineMetrics) BacklogOccupancy(n int) {
	m.backlog.Set(float64(n))
}
