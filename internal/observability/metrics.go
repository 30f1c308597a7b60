package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relaychat_active_connections",
			Help: "Number of open WebSocket connections",
		},
	)

	HandshakeRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaychat_handshake_rejections_total",
			Help: "WebSocket handshakes refused before upgrade",
		},
		[]string{"reason"},
	)

	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaychat_events_total",
			Help: "Client events handled, by event name and outcome",
		},
		[]string{"event", "outcome"},
	)

	EventDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relaychat_event_duration_seconds",
			Help:    "Time spent handling a client event",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"event"},
	)

	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaychat_deliveries_total",
			Help: "Server events queued to connections",
		},
		[]string{"event"},
	)

	DroppedDeliveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relaychat_dropped_deliveries_total",
			Help: "Server events dropped because a connection's send buffer was full",
		},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relaychat_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relaychat_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)
