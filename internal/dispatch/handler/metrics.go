package handler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var slowConsumerCloses = promauto.NewCounter(prometheus.CounterOpts{
	Name: "dispatch_ws_slow_consumer_closes_total",
	Help: "Connections closed because a state message did not fit the send queue.",
})
