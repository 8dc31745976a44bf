package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 转发与检索相关的Prometheus指标
var (
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "hira",
		Subsystem: "relay",
		Name:      "active_sessions",
		Help:      "Number of currently bridged relay sessions.",
	})

	SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hira",
		Subsystem: "relay",
		Name:      "sessions_total",
		Help:      "Relay sessions by terminal outcome.",
	}, []string{"outcome"})

	EventsRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hira",
		Subsystem: "relay",
		Name:      "events_relayed_total",
		Help:      "Events forwarded through the relay by direction.",
	}, []string{"direction"})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hira",
		Subsystem: "relay",
		Name:      "events_dropped_total",
		Help:      "Malformed events dropped by the relay.",
	})

	ToolCallsIntercepted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hira",
		Subsystem: "relay",
		Name:      "tool_calls_intercepted_total",
		Help:      "Knowledge-search tool calls intercepted from the upstream stream.",
	})

	RetrievalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hira",
		Subsystem: "knowledge",
		Name:      "retrievals_total",
		Help:      "Retrieval operations by result.",
	}, []string{"result"})

	ChunksIndexed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hira",
		Subsystem: "knowledge",
		Name:      "chunks_indexed_total",
		Help:      "Chunks added to the vector store.",
	})
)
