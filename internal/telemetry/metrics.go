package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks HTTP request latency on the query surface.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "topicwatch",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

// RateLimitWaitTotal counts how many times a worker role yielded because an
// external API rate limit had not yet reset.
var RateLimitWaitTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "topicwatch",
		Subsystem: "pipeline",
		Name:      "rate_limit_wait_total",
		Help:      "Total number of WAIT outcomes per worker role.",
	},
	[]string{"role"},
)

// RecordsProcessedTotal counts records successfully advanced by a worker role.
var RecordsProcessedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "topicwatch",
		Subsystem: "pipeline",
		Name:      "records_processed_total",
		Help:      "Total number of records successfully processed per worker role.",
	},
	[]string{"role"},
)

// RecordsDeadLetteredTotal counts records moved to a dead-letter queue after
// exhausting their retry budget.
var RecordsDeadLetteredTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "topicwatch",
		Subsystem: "pipeline",
		Name:      "records_dead_lettered_total",
		Help:      "Total number of records moved to a dead-letter queue per stage.",
	},
	[]string{"stage"},
)

// QueueDepth reports the current length of a broker queue or set, sampled by
// the coordinator on each tick.
var QueueDepth = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "topicwatch",
		Subsystem: "broker",
		Name:      "queue_depth",
		Help:      "Current number of items in a broker-managed queue or set.",
	},
	[]string{"queue"},
)

// All returns the service-specific collectors to register alongside the
// default Go/process collectors.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		HTTPRequestDuration,
		RateLimitWaitTotal,
		RecordsProcessedTotal,
		RecordsDeadLetteredTotal,
		QueueDepth,
	}
}

// NewMetricsRegistry creates a Prometheus registry with Go/process collectors
// and the service-specific collectors passed as arguments.
func NewMetricsRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	for _, c := range extra {
		reg.MustRegister(c)
	}
	return reg
}
