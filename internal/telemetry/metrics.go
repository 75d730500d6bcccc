package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks HTTP request latency for the HTTP transport.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "paygress",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

// AdmissionRequestsTotal counts admission pipeline invocations by operation
// and outcome kind (ok, or an admission.Kind string on failure).
var AdmissionRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "paygress",
		Subsystem: "admission",
		Name:      "requests_total",
		Help:      "Total admission pipeline invocations by operation and outcome.",
	},
	[]string{"operation", "outcome"},
)

// AdmissionDuration tracks how long each admission operation takes end to end.
var AdmissionDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "paygress",
		Subsystem: "admission",
		Name:      "duration_seconds",
		Help:      "Admission pipeline operation duration in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	},
	[]string{"operation"},
)

// RedemptionsTotal counts ledger redemption attempts by outcome.
var RedemptionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "paygress",
		Subsystem: "ledger",
		Name:      "redemptions_total",
		Help:      "Total redemption attempts by outcome (ok, already_spent).",
	},
	[]string{"outcome"},
)

// PodsActive is a gauge of pods currently live in the registry.
var PodsActive = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "paygress",
		Subsystem: "pods",
		Name:      "active",
		Help:      "Number of pods currently tracked as live.",
	},
)

// PortsAllocated is a gauge of host ports currently leased to a pod.
var PortsAllocated = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "paygress",
		Subsystem: "ports",
		Name:      "allocated",
		Help:      "Number of host ports currently leased.",
	},
)

// ReaperSweepsTotal counts reaper ticks executed.
var ReaperSweepsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "paygress",
		Subsystem: "reaper",
		Name:      "sweeps_total",
		Help:      "Total number of reaper ticks executed.",
	},
)

// ReaperPodsReapedTotal counts pods removed by the reaper.
var ReaperPodsReapedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "paygress",
		Subsystem: "reaper",
		Name:      "pods_reaped_total",
		Help:      "Total number of pods deleted and released by the reaper.",
	},
)

// ReaperDeleteFailuresTotal counts container-delete failures observed by the reaper.
var ReaperDeleteFailuresTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "paygress",
		Subsystem: "reaper",
		Name:      "delete_failures_total",
		Help:      "Total number of container delete failures observed by the reaper.",
	},
)

// RelayEventsTotal counts relay transport events by direction and kind.
var RelayEventsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "paygress",
		Subsystem: "relay",
		Name:      "events_total",
		Help:      "Total relay events processed by direction (in, out, dropped) and kind.",
	},
	[]string{"direction", "kind"},
)

// All returns every Paygress-specific collector for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		HTTPRequestDuration,
		AdmissionRequestsTotal,
		AdmissionDuration,
		RedemptionsTotal,
		PodsActive,
		PortsAllocated,
		ReaperSweepsTotal,
		ReaperPodsReapedTotal,
		ReaperDeleteFailuresTotal,
		RelayEventsTotal,
	}
}

// NewMetricsRegistry creates a Prometheus registry with Go/process collectors
// plus every Paygress collector.
func NewMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	for _, c := range All() {
		reg.MustRegister(c)
	}
	return reg
}
