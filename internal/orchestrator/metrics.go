package orchestrator

import (
    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/promauto"
)

var (
    metricUtterances = promauto.NewCounterVec(prometheus.CounterOpts{
        Name: "orch_utterances_total",
        Help: "Utterances processed by outcome (answered, empty, failed)",
    }, []string{"outcome"})

    metricUtteranceMS = promauto.NewHistogram(prometheus.HistogramOpts{
        Name:    "orch_utterance_ms",
        Help:    "Time from utterance hand-off to last synthesized frame",
        Buckets: prometheus.ExponentialBuckets(200, 1.6, 12),
    })

    metricStageLatencyMS = promauto.NewHistogramVec(prometheus.HistogramOpts{
        Name:    "orch_stage_latency_ms",
        Help:    "Latency of each pipeline stage",
        Buckets: prometheus.ExponentialBuckets(20, 1.6, 14),
    }, []string{"stage"})

    metricStageFailures = promauto.NewCounterVec(prometheus.CounterOpts{
        Name: "orch_stage_failures_total",
        Help: "Pipeline stage failures surfaced to the client",
    }, []string{"stage"})

    metricStateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
        Name: "orch_state_transitions_total",
        Help: "Orchestrator state transitions",
    }, []string{"from", "to"})

    metricBackgroundInflight = promauto.NewGauge(prometheus.GaugeOpts{
        Name: "orch_background_inflight",
        Help: "Detached persistence and analytics tasks in flight",
    })

    metricBackgroundFailures = promauto.NewCounterVec(prometheus.CounterOpts{
        Name: "orch_background_failures_total",
        Help: "Background task failures (logged, never surfaced)",
    }, []string{"task"})
)
