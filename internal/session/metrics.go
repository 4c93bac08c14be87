package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "session_active",
		Help: "Voice sessions currently open",
	})

	metricChunks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_chunks_total",
		Help: "Audio chunks processed by VAD event",
	}, []string{"event"})

	metricTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_speech_transitions_total",
		Help: "Speech start and end transitions",
	}, []string{"transition"})

	metricAutoPauses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "session_auto_pauses_total",
		Help: "Auto-pause signals sent",
	})

	metricHeartbeatTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "session_heartbeat_timeouts_total",
		Help: "Sessions closed because a ping went unanswered",
	})

	metricUtterancesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "session_utterances_dropped_total",
		Help: "Utterances dropped because the pipeline queue was full",
	})

	metricUtteranceBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "session_utterance_bytes",
		Help:    "Size of buffered utterance audio handed to the pipeline",
		Buckets: prometheus.ExponentialBuckets(16_000, 2, 10),
	})
)
