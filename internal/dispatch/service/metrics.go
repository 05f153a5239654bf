package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_events_total",
		Help: "Inbound dispatch events grouped by event name and outcome.",
	}, []string{"event", "outcome"})

	channelDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_channel_decisions_total",
		Help: "Push-to-talk channel transitions grouped by decision.",
	}, []string{"decision"})

	audioFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_audio_frames_total",
		Help: "Inbound audio frames grouped by relay result.",
	}, []string{"result"})

	audioBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_audio_relayed_bytes_total",
		Help: "Audio bytes accepted for relay.",
	})

	sessionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dispatch_driver_sessions",
		Help: "Registered driver sessions.",
	})

	servicesGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dispatch_services",
		Help: "Services recorded in the ledger.",
	})

	connectionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dispatch_connections",
		Help: "Open client connections.",
	})
)
