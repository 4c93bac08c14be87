package vad

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricClassified = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vad_chunks_classified_total",
		Help: "Audio chunks classified by the energy classifier, by event",
	}, []string{"event"})
)
