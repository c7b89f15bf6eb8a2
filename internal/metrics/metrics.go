// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections tracks live push channels.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wayfinder_stream_connections",
		Help: "Number of live navigation stream connections",
	})

	// MessagesSent counts delivered push messages by type.
	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wayfinder_stream_messages_sent_total",
		Help: "Push messages delivered, by message type",
	}, []string{"type"})

	// SendFailures counts push messages that failed on the transport.
	SendFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wayfinder_stream_send_failures_total",
		Help: "Push messages that failed to send, by message type",
	}, []string{"type"})

	// ActiveDispatchers tracks running instruction loops.
	ActiveDispatchers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wayfinder_dispatchers_active",
		Help: "Number of running instruction dispatch loops",
	})

	// DispatcherExits counts dispatch loop exits by reason.
	DispatcherExits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wayfinder_dispatcher_exits_total",
		Help: "Instruction dispatch loop exits, by reason",
	}, []string{"reason"})

	// NavigationsStarted counts navigation sessions created, by planner source.
	NavigationsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wayfinder_navigations_started_total",
		Help: "Navigation sessions started, by route source",
	}, []string{"source"})

	// PerceptionBatches counts processed perception batches by outcome.
	PerceptionBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wayfinder_perception_batches_total",
		Help: "Perception batches processed, by outcome",
	}, []string{"outcome"})

	// SpeechRequests counts synthesis attempts by outcome.
	SpeechRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wayfinder_speech_requests_total",
		Help: "Speech synthesis requests, by outcome",
	}, []string{"outcome"})

	// PlannerLatency tracks route planning latency.
	PlannerLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wayfinder_planner_duration_seconds",
		Help:    "Route planning duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
	})
)
