package persist

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricWrites = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "persist_message_writes_total",
	Help: "Message record inserts by outcome",
}, []string{"outcome"})
