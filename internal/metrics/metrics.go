// Package metrics exposes the orchestrator's Prometheus instrumentation:
// counters and histograms registered against a shared registry.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every metric the orchestrator emits.
type Registry struct {
	QueueDepth      prometheus.Gauge
	AppendLatency   prometheus.Histogram
	AppendsDropped  prometheus.Counter
	ToolDuration    *prometheus.HistogramVec
	ToolFailures    *prometheus.CounterVec
	LongPollWait    prometheus.Histogram
	ActiveLongPolls prometheus.Gauge
	AbortsDetected  prometheus.Counter
}

// NewRegistry constructs and registers all metrics against reg. Pass
// prometheus.NewRegistry() for tests, or prometheus.DefaultRegisterer for
// the production /metrics endpoint.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "agentd",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Number of pushes accepted but not yet appended to the store.",
		}),
		AppendLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "agentd",
			Subsystem: "store",
			Name:      "append_latency_seconds",
			Help:      "Latency of a single Store.Append call.",
			Buckets:   prometheus.DefBuckets,
		}),
		AppendsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentd",
			Subsystem: "queue",
			Name:      "appends_dropped_total",
			Help:      "Appends dropped after a transient Store failure.",
		}),
		ToolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentd",
			Subsystem: "tool",
			Name:      "duration_seconds",
			Help:      "Tool invocation duration by tool name.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		ToolFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentd",
			Subsystem: "tool",
			Name:      "failures_total",
			Help:      "Tool invocations that returned is_error=true, by tool name.",
		}, []string{"tool"}),
		LongPollWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "agentd",
			Subsystem: "reader",
			Name:      "long_poll_wait_seconds",
			Help:      "Time a resumable-read call spent blocked before returning.",
			Buckets:   prometheus.DefBuckets,
		}),
		ActiveLongPolls: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "agentd",
			Subsystem: "reader",
			Name:      "active_long_polls",
			Help:      "Number of resumable-read calls currently blocked.",
		}),
		AbortsDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentd",
			Subsystem: "queue",
			Name:      "aborts_detected_total",
			Help:      "External cancellations observed by the queue's abort poll.",
		}),
	}

	if reg != nil {
		reg.MustRegister(r.QueueDepth, r.AppendLatency, r.AppendsDropped, r.ToolDuration, r.ToolFailures, r.LongPollWait, r.ActiveLongPolls, r.AbortsDetected)
	}
	return r
}
