package events

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PromMetrics exposes sink delivery counters as Prometheus collectors.
type PromMetrics struct {
	emitted    prometheus.Counter
	dropped    prometheus.Counter
	queueDepth prometheus.Gauge
}

// NewPromMetrics builds and registers the sink collectors. Registration
// errors (duplicate collectors) are ignored so multiple sinks can share one
// registry in tests.
func NewPromMetrics(reg prometheus.Registerer, sinkName string) *PromMetrics {
	labels := prometheus.Labels{"sink": sinkName}

	m := &PromMetrics{
		emitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "stageflow_events_emitted_total",
			Help:        "Events accepted by the backpressure sink queue.",
			ConstLabels: labels,
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "stageflow_events_dropped_total",
			Help:        "Events dropped because the sink queue was full.",
			ConstLabels: labels,
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "stageflow_events_queue_depth",
			Help:        "Current number of events waiting in the sink queue.",
			ConstLabels: labels,
		}),
	}

	if reg != nil {
		_ = reg.Register(m.emitted)
		_ = reg.Register(m.dropped)
		_ = reg.Register(m.queueDepth)
	}

	return m
}
