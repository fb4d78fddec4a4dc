package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the chat daemon.
//
// Naming convention: namespace_subsystem_name
// - namespace: parlor (application-level grouping)
// - subsystem: engine, listener, ratelimit (feature-level grouping)
// - name: specific metric (users_active, ticks_total, etc.)
//
// Metric Types:
// - Gauge: Current state (users, rooms)
// - Counter: Cumulative events (messages dispatched, logouts, accepts)
// - Histogram: Latency distributions (tick duration)

var (
	// ActiveUsers tracks the current number of connected users (Gauge - current state)
	ActiveUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "parlor",
		Subsystem: "engine",
		Name:      "users_active",
		Help:      "Current number of connected users",
	})

	// ActiveRooms tracks the current number of rooms, Lobby included (Gauge - current state)
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "parlor",
		Subsystem: "engine",
		Name:      "rooms_active",
		Help:      "Current number of rooms, including the Lobby",
	})

	// Ticks counts completed engine ticks (Counter - cumulative)
	Ticks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "parlor",
		Subsystem: "engine",
		Name:      "ticks_total",
		Help:      "Total engine ticks completed",
	})

	// TickDuration tracks how long one full tick takes (Histogram - latency distribution)
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "parlor",
		Subsystem: "engine",
		Name:      "tick_duration_seconds",
		Help:      "Time spent in one engine tick",
		Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5},
	})

	// Messages counts dispatched client messages by variant (CounterVec - cumulative)
	Messages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parlor",
		Subsystem: "engine",
		Name:      "messages_total",
		Help:      "Total client messages dispatched, by variant",
	}, []string{"type"})

	// Envelopes counts envelopes delivered to rooms (Counter - cumulative)
	Envelopes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "parlor",
		Subsystem: "engine",
		Name:      "envelopes_total",
		Help:      "Total envelopes delivered",
	})

	// Logouts counts user removals by reason (CounterVec - cumulative)
	Logouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parlor",
		Subsystem: "engine",
		Name:      "logouts_total",
		Help:      "Total user logouts, by reason",
	}, []string{"reason"})

	// Accepted counts successful listener handshakes (Counter - cumulative)
	Accepted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "parlor",
		Subsystem: "listener",
		Name:      "accepted_total",
		Help:      "Total connections accepted and handed to the engine",
	})

	// HandshakeFailures counts rejected connections by reason (CounterVec - cumulative)
	HandshakeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "parlor",
		Subsystem: "listener",
		Name:      "handshake_failures_total",
		Help:      "Total connections dropped during the handshake, by reason",
	}, []string{"reason"})

	// Throttled counts connections refused by the accept-rate guard (Counter - cumulative)
	Throttled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "parlor",
		Subsystem: "listener",
		Name:      "throttled_total",
		Help:      "Total connections refused by the accept-rate guard",
	})

	// RateLimitRequests counts requests inspected by the ops rate limiter (Counter - cumulative)
	RateLimitRequests = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "parlor",
		Subsystem: "ratelimit",
		Name:      "requests_total",
		Help:      "Total ops requests inspected by the rate limiter",
	})

	// RateLimitExceeded counts ops requests rejected with 429 (Counter - cumulative)
	RateLimitExceeded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "parlor",
		Subsystem: "ratelimit",
		Name:      "exceeded_total",
		Help:      "Total ops requests rejected by the rate limiter",
	})
)

// Logout reasons used as label values.
const (
	ReasonLogout   = "logout"
	ReasonIdle     = "idle"
	ReasonError    = "error"
	ReasonShutdown = "shutdown"
)
