package observability

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "http_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
	)

	// WebSocket metrics
	WebSocketConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections_active",
			Help: "Number of active WebSocket connections",
		},
	)

	WebSocketEventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_events_received_total",
			Help: "Total number of inbound WebSocket events",
		},
		[]string{"type"},
	)

	// Fan-out metrics
	FanoutPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botchat_fanout_published_total",
			Help: "Events published to room channels",
		},
		[]string{"backend", "outcome"},
	)

	FanoutDroppedClients = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "botchat_fanout_dropped_clients_total",
			Help: "Subscribers dropped because their send buffer was full",
		},
	)

	// Chat metrics
	MessagesPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botchat_messages_persisted_total",
			Help: "Messages written to the store",
		},
		[]string{"type", "sender_kind"},
	)

	OrchestratorEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botchat_orchestrator_events_total",
			Help: "Orchestrator pipeline outcomes by stage",
		},
		[]string{"stage", "outcome"},
	)

	// Completion provider metrics
	ProviderCallDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "botchat_provider_call_duration_seconds",
			Help:    "Completion provider call latency in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2, 4, 8, 16},
		},
	)

	ProviderCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "botchat_provider_calls_total",
			Help: "Completion provider calls by outcome",
		},
		[]string{"outcome"},
	)

	// Budget metrics
	BudgetUnitsCommitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "botchat_budget_units_committed_total",
			Help: "Budget units charged across all rooms",
		},
	)

	BudgetRoomsTracked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "botchat_budget_rooms_tracked",
			Help: "Rooms with in-memory budget state",
		},
	)

	BudgetLimitCrossed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "botchat_budget_limit_crossed_total",
			Help: "Rooms that exhausted their budget",
		},
	)

	BudgetDenied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "botchat_budget_denied_total",
			Help: "Bot turns skipped because the room budget was exhausted",
		},
	)

	// Database metrics
	DBConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_open",
			Help: "Number of open database connections",
		},
	)

	DBConnectionsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_in_use",
			Help: "Number of database connections currently in use",
		},
	)

	DBConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_idle",
			Help: "Number of idle database connections",
		},
	)
)

// RecordDBStats copies pool statistics into the db gauges
func RecordDBStats(stats sql.DBStats) {
	DBConnectionsOpen.Set(float64(stats.OpenConnections))
	DBConnectionsInUse.Set(float64(stats.InUse))
	DBConnectionsIdle.Set(float64(stats.Idle))
}
