package stt

import (
    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/promauto"
)

var (
    metricAudioBytes = promauto.NewCounter(prometheus.CounterOpts{
        Name: "stt_audio_bytes_total",
        Help: "Total utterance audio bytes submitted for transcription",
    })

    metricRequests = promauto.NewCounterVec(prometheus.CounterOpts{
        Name: "stt_requests_total",
        Help: "Transcription requests by outcome",
    }, []string{"outcome"})

    metricCircuitOpens = promauto.NewCounter(prometheus.CounterOpts{
        Name: "stt_circuit_open_total",
        Help: "Circuit breaker open events",
    })

    metricLatencyMS = promauto.NewHistogram(prometheus.HistogramOpts{
        Name:    "stt_transcribe_latency_ms",
        Help:    "Latency of a transcription request (ms)",
        Buckets: prometheus.ExponentialBuckets(100, 1.6, 10),
    })

    metricEmptyTranscripts = promauto.NewCounter(prometheus.CounterOpts{
        Name: "stt_empty_transcripts_total",
        Help: "Transcriptions that came back empty",
    })

    metricEmptyAudio = promauto.NewCounter(prometheus.CounterOpts{
        Name: "stt_empty_audio_total",
        Help: "Utterances with no audio to transcribe",
    })
)
