package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// total requests per endpoint, method and status code
	RequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coreg_requests_total",
			Help: "Total API requests received",
		},
		[]string{"endpoint", "method", "status"},
	)

	// request latency in seconds per endpoint/method
	RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coreg_request_duration_seconds",
			Help:    "Histogram of request latencies",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method"},
	)

	// answers handled by the orchestrator, labelled positive/negative/stale
	AnswerCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coreg_answers_total",
			Help: "Total coreg answer events handled",
		},
		[]string{"kind"},
	)

	// routing decision taken for positive answers
	DecisionCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coreg_decisions_total",
			Help: "Total submit/defer/buffer decisions",
		},
		[]string{"decision"},
	)

	// lead dispatch outcomes
	DispatchCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coreg_dispatch_total",
			Help: "Total lead dispatch attempts by outcome",
		},
		[]string{"outcome"},
	)

	// latency of lead delivery calls
	DispatchLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coreg_dispatch_duration_seconds",
			Help:    "Duration of lead delivery requests",
			Buckets: prometheus.DefBuckets,
		},
	)

	// catalog fetches labelled by outcome (hit, fetched, failed)
	CatalogLoads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coreg_catalog_loads_total",
			Help: "Total catalog loads by outcome",
		},
		[]string{"outcome"},
	)

	// terminal signals emitted by flows
	FlowSignals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coreg_flow_signals_total",
			Help: "Total lifecycle signals emitted by coreg flows",
		},
		[]string{"signal"},
	)

	// PIN throttle hits
	PinRateLimitHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coreg_pin_ratelimit_hits_total",
			Help: "Total PIN requests rejected by the rate limiter",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestCount,
		RequestLatency,
		AnswerCount,
		DecisionCount,
		DispatchCount,
		DispatchLatency,
		CatalogLoads,
		FlowSignals,
		PinRateLimitHits,
	)
}
