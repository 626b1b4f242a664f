package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// RequestsTotal counts dispatched provider calls by outcome.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cortex_requests_total",
			Help: "Total number of provider calls dispatched by the gateway",
		},
		[]string{"provider", "status"},
	)

	// RequestLatency observes per-call wall-clock latency.
	RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cortex_request_duration_seconds",
			Help:    "Provider call latency distributions",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	// TokensPerRequest observes total token consumption per call.
	TokensPerRequest = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cortex_tokens_per_request",
			Help:    "Token usage distributions per provider call",
			Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000},
		},
		[]string{"provider"},
	)
)

// Init registers all gateway metrics with the default registry.
func Init() {
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestLatency)
	prometheus.MustRegister(TokensPerRequest)
}

// ObserveResponse records the outcome of one provider call.
func ObserveResponse(provider string, latencySeconds float64, tokens int, isError bool) {
	status := "success"
	if isError {
		status = "error"
	}
	RequestsTotal.WithLabelValues(provider, status).Inc()
	RequestLatency.WithLabelValues(provider).Observe(latencySeconds)
	if !isError {
		TokensPerRequest.WithLabelValues(provider).Observe(float64(tokens))
	}
}
