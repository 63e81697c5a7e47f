// Package metrics defines the prometheus instruments shared across the gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Chat session metrics
var (
	// ChatReconnectsTotal counts chat reconnect attempts by outcome
	ChatReconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_reconnects_total",
			Help: "Total chat reconnect attempts by outcome",
		},
		[]string{"outcome"},
	)

	// ChatLinesReceivedTotal counts inbound IRC lines by command
	ChatLinesReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_lines_received_total",
			Help: "Total inbound chat lines by IRC command",
		},
		[]string{"command"},
	)

	// ChatWritesTotal counts outbound chat writes by kind
	ChatWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_writes_total",
			Help: "Total outbound chat writes by kind",
		},
		[]string{"kind"},
	)

	// ChatMalformedLinesTotal counts inbound lines that failed to parse
	ChatMalformedLinesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_malformed_lines_total",
			Help: "Total inbound chat lines that failed to parse",
		},
	)
)

// Credential metrics
var (
	// TokenRefreshesTotal counts upstream token refreshes by outcome
	TokenRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_refreshes_total",
			Help: "Total upstream token refreshes by outcome",
		},
		[]string{"outcome"},
	)
)

// EventSub ingest metrics
var (
	// WebhookRequestsTotal counts webhook deliveries by result
	WebhookRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventsub_webhook_requests_total",
			Help: "Total EventSub webhook requests by result",
		},
		[]string{"result"},
	)

	// SocketFramesTotal counts websocket frames by type
	SocketFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventsub_socket_frames_total",
			Help: "Total EventSub websocket frames by message type",
		},
		[]string{"type"},
	)

	// SocketReconnectsTotal counts websocket session reconnects by reason
	SocketReconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventsub_socket_reconnects_total",
			Help: "Total EventSub websocket reconnects by reason",
		},
		[]string{"reason"},
	)
)

// Dispatcher metrics
var (
	// EventsIngestedTotal counts canonical events produced by source
	EventsIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_ingested_total",
			Help: "Total canonical events produced by ingest source",
		},
		[]string{"source"},
	)

	// EventsDedupedTotal counts events dropped as duplicates
	EventsDedupedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "events_deduped_total",
			Help: "Total events dropped because their dedup key was already seen",
		},
	)

	// BusDroppedTotal counts events dropped per topic because a subscriber queue was full
	BusDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_dropped_total",
			Help: "Total events dropped per topic due to full subscriber queues",
		},
		[]string{"topic"},
	)

	// BusSubscribers tracks current subscriber count per topic
	BusSubscribers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bus_subscribers",
			Help: "Current subscriber count per topic",
		},
		[]string{"topic"},
	)
)

// Redis metrics
var (
	// RedisOpsTotal tracks total Redis operations by operation type and status
	RedisOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_operations_total",
			Help: "Total Redis operations by operation and status",
		},
		[]string{"operation", "status"},
	)

	// RedisOpDuration tracks Redis operation latency in seconds
	RedisOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Redis operation duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	// CircuitBreakerState tracks current circuit breaker state (0=closed, 1=half-open, 2=open)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"component"},
	)
)
