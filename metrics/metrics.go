// ABOUTME: Prometheus collectors for the upstream client and the sync engine
// ABOUTME: Owns a private registry exposed over HTTP by the web server
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gestor"

var (
	// UpstreamRequests counts completed HTTP exchanges by endpoint and status code.
	UpstreamRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "upstream",
		Name:      "requests_total",
		Help:      "Upstream HTTP requests by endpoint and status code.",
	}, []string{"endpoint", "code"})

	// UpstreamRetries counts retry decisions by reason (429, 5xx, network).
	UpstreamRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "upstream",
		Name:      "retries_total",
		Help:      "Upstream request retries by reason.",
	}, []string{"reason"})

	// LimiterWait observes how long callers were held by the rate limiter.
	LimiterWait = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "upstream",
		Name:      "limiter_wait_seconds",
		Help:      "Time spent waiting for rate limiter admission.",
		Buckets:   []float64{0, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})

	// StageRecords counts records handled per resource and outcome.
	StageRecords = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "records_total",
		Help:      "Records processed by sync stage and outcome.",
	}, []string{"resource", "outcome"})

	// RunDuration observes full orchestrator runs.
	RunDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "run_duration_seconds",
		Help:      "Duration of sync runs by final status.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
	}, []string{"status"})

	// LastSuccess records the unix time a resource cursor last advanced.
	LastSuccess = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix time of the last successful pass per resource.",
	}, []string{"resource"})

	// CoalescedTriggers counts sync triggers folded into an in-flight run.
	CoalescedTriggers = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "coalesced_triggers_total",
		Help:      "Sync triggers that joined a run already in flight.",
	})
)

// Registry holds every gestor collector plus the Go runtime collectors.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		UpstreamRequests,
		UpstreamRetries,
		LimiterWait,
		StageRecords,
		RunDuration,
		LastSuccess,
		CoalescedTriggers,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
