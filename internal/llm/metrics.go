package llm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_requests_total",
		Help: "Chat completion requests by operation and outcome",
	}, []string{"op", "outcome"})

	metricLatencyMS = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_request_latency_ms",
		Help:    "Chat completion latency by operation (ms)",
		Buckets: prometheus.ExponentialBuckets(50, 1.6, 12),
	}, []string{"op"})
)
