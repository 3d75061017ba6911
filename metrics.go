package txsample

import (
	"github.com/prometheus/client_golang/prometheus"
)

// samplerMetrics are updated on the sampler's hot paths, so they're limited to
// counters and gauges, which are lock-free.
type samplerMetrics struct {
	activeBuilders     prometheus.Gauge
	completed          prometheus.Counter
	protocolViolations prometheus.Counter
	abandoned          prometheus.Counter
	retained           prometheus.Counter
	evicted            prometheus.Counter
	harvests           prometheus.Counter
	slowestSeconds     prometheus.Gauge
}

func newSamplerMetrics(reg prometheus.Registerer) *samplerMetrics {
	m := &samplerMetrics{
		activeBuilders: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "txsample",
			Name:      "active_builders",
			Help:      "Number of execution contexts with a trace being built.",
		}),
		completed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "txsample",
			Name:      "traces_completed_total",
			Help:      "Number of traces finished and folded into the sampler.",
		}),
		protocolViolations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "txsample",
			Name:      "protocol_violations_total",
			Help:      "Number of unbalanced entry/exit events reported by instrumentation.",
		}),
		abandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "txsample",
			Name:      "builders_abandoned_total",
			Help:      "Number of builders detached without producing a trace.",
		}),
		retained: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "txsample",
			Name:      "traces_retained_total",
			Help:      "Number of traces added to the recent samples.",
		}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "txsample",
			Name:      "traces_evicted_total",
			Help:      "Number of traces evicted from the recent samples.",
		}),
		harvests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "txsample",
			Name:      "harvests_total",
			Help:      "Number of slowest-trace harvests.",
		}),
		slowestSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "txsample",
			Name:      "slowest_trace_seconds",
			Help:      "Duration of the slowest trace since the last harvest.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.activeBuilders,
			m.completed,
			m.protocolViolations,
			m.abandoned,
			m.retained,
			m.evicted,
			m.harvests,
			m.slowestSeconds,
		)
	}

	return m
}
