package observability

import "time"

// MetricsRegistry records application metrics. Components receive it by
// injection rather than touching the Prometheus globals.
type MetricsRegistry interface {
	IncrementRequests(endpoint, method, status string)
	RecordRequestLatency(endpoint, method string, duration time.Duration)

	IncrementAnswers(kind string)
	IncrementDecisions(decision string)

	IncrementDispatch(outcome string)
	RecordDispatchLatency(duration time.Duration)

	IncrementCatalogLoads(outcome string)
	IncrementFlowSignals(signal string)

	IncrementPinRateLimitHits()
}

// PrometheusRegistry implements MetricsRegistry using the global Prometheus metrics.
type PrometheusRegistry struct{}

// NewPrometheusRegistry creates a new PrometheusRegistry.
func NewPrometheusRegistry() *PrometheusRegistry {
	return &PrometheusRegistry{}
}

func (r *PrometheusRegistry) IncrementRequests(endpoint, method, status string) {
	RequestCount.WithLabelValues(endpoint, method, status).Inc()
}

func (r *PrometheusRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {
	RequestLatency.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

func (r *PrometheusRegistry) IncrementAnswers(kind string) {
	AnswerCount.WithLabelValues(kind).Inc()
}

func (r *PrometheusRegistry) IncrementDecisions(decision string) {
	DecisionCount.WithLabelValues(decision).Inc()
}

func (r *PrometheusRegistry) IncrementDispatch(outcome string) {
	DispatchCount.WithLabelValues(outcome).Inc()
}

func (r *PrometheusRegistry) RecordDispatchLatency(duration time.Duration) {
	DispatchLatency.Observe(duration.Seconds())
}

func (r *PrometheusRegistry) IncrementCatalogLoads(outcome string) {
	CatalogLoads.WithLabelValues(outcome).Inc()
}

func (r *PrometheusRegistry) IncrementFlowSignals(signal string) {
	FlowSignals.WithLabelValues(signal).Inc()
}

func (r *PrometheusRegistry) IncrementPinRateLimitHits() {
	PinRateLimitHits.Inc()
}

// NoOpRegistry implements MetricsRegistry with no-op methods for testing.
type NoOpRegistry struct{}

// NewNoOpRegistry creates a new NoOpRegistry.
func NewNoOpRegistry() *NoOpRegistry {
	return &NoOpRegistry{}
}

func (r *NoOpRegistry) IncrementRequests(endpoint, method, status string)                    {}
func (r *NoOpRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {}
func (r *NoOpRegistry) IncrementAnswers(kind string)                                         {}
func (r *NoOpRegistry) IncrementDecisions(decision string)                                   {}
func (r *NoOpRegistry) IncrementDispatch(outcome string)                                     {}
func (r *NoOpRegistry) RecordDispatchLatency(duration time.Duration)                         {}
func (r *NoOpRegistry) IncrementCatalogLoads(outcome string)                                 {}
func (r *NoOpRegistry) IncrementFlowSignals(signal string)                                   {}
func (r *NoOpRegistry) IncrementPinRateLimitHits()                                           {}
