package fanout

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	deliveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_fanout_delivered_total",
		Help: "Messages queued for a connection, grouped by event.",
	}, []string{"event"})

	droppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_fanout_dropped_total",
		Help: "Messages dropped because the connection queue was full, grouped by event.",
	}, []string{"event"})
)
