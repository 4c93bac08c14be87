package analytics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "analytics_events_total",
	Help: "Analytics events recorded by name and outcome",
}, []string{"event", "outcome"})
