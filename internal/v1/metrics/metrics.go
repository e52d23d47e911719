package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the Yummy session/room engine.
//
// Naming convention: namespace_subsystem_name
// - namespace: yummy (application-level grouping)
// - subsystem: session, room, auth, cache, plugin, bus, state_store, redis,
//   circuit_breaker, rate_limit (feature-level grouping)
// - name: specific metric (active_total, events_total, etc.)

var (
	// ActiveSessions tracks the current number of live sessions.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "yummy",
		Subsystem: "session",
		Name:      "active_total",
		Help:      "Current number of active sessions",
	})

	// ActiveRooms tracks the current number of live rooms: raised when a room
	// is created, lowered when it is destroyed.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "yummy",
		Subsystem: "room",
		Name:      "active_total",
		Help:      "Current number of active rooms",
	})

	// RoomMembers tracks the number of members in each room.
	RoomMembers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "yummy",
		Subsystem: "room",
		Name:      "members_count",
		Help:      "Number of members in each room",
	}, []string{"room_id"})

	// AuthOperations tracks auth operations by kind and outcome.
	AuthOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "yummy",
		Subsystem: "auth",
		Name:      "operations_total",
		Help:      "Total auth operations processed",
	}, []string{"operation", "status"})

	// RoomOperations tracks room operations by kind and outcome.
	RoomOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "yummy",
		Subsystem: "room",
		Name:      "operations_total",
		Help:      "Total room operations processed",
	}, []string{"operation", "status"})

	// MessageProcessingDuration tracks the time spent processing envelope messages.
	MessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "yummy",
		Subsystem: "session",
		Name:      "message_processing_seconds",
		Help:      "Time spent processing incoming session messages",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"op"})

	// CacheHits/CacheMisses track CacheLayer lookups.
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "yummy",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total cache hits",
	}, []string{"resource"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "yummy",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total cache misses",
	}, []string{"resource"})

	// PluginRejections tracks the number of operations rejected by a plugin hook.
	PluginRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "yummy",
		Subsystem: "plugin",
		Name:      "rejections_total",
		Help:      "Total operations rejected by a plugin validation hook",
	}, []string{"hook"})

	// BusPublished/BusReceived track MessageBus traffic.
	BusPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "yummy",
		Subsystem: "bus",
		Name:      "published_total",
		Help:      "Total messages published to the bus",
	}, []string{"topic"})

	BusReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "yummy",
		Subsystem: "bus",
		Name:      "received_total",
		Help:      "Total messages received from the bus",
	}, []string{"topic"})

	// StateStoreOperationDuration tracks StateStore op latency, in-memory or replicated.
	StateStoreOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "yummy",
		Subsystem: "state_store",
		Name:      "operation_duration_seconds",
		Help:      "Duration of StateStore operations",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	// CircuitBreakerState tracks the current state of the circuit breaker (GaugeVec)
	// 0: Closed (Healthy), 1: Open (Failure), 2: Half-Open (Recovering)
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "yummy",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of the circuit breaker (0: Closed, 1: Open, 2: Half-Open)",
	}, []string{"service"})

	// CircuitBreakerFailures tracks the total number of requests rejected by the circuit breaker
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "yummy",
		Subsystem: "circuit_breaker",
		Name:      "failures_total",
		Help:      "Total requests rejected by the circuit breaker",
	}, []string{"service"})

	// RateLimitExceeded tracks the total number of requests that exceeded the rate limit
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "yummy",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total number of requests that exceeded the rate limit",
	}, []string{"endpoint", "reason"})

	// RateLimitRequests tracks the total number of requests checked against the rate limiter
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "yummy",
		Subsystem: "rate_limit",
		Name:      "requests_total",
		Help:      "Total number of requests checked against the rate limiter",
	}, []string{"endpoint"})

	// RedisOperationsTotal tracks the total number of Redis operations (CounterVec)
	RedisOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "yummy",
		Subsystem: "redis",
		Name:      "operations_total",
		Help:      "Total number of Redis operations",
	}, []string{"operation", "status"})

	// RedisOperationDuration tracks the duration of Redis operations (HistogramVec)
	RedisOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "yummy",
		Subsystem: "redis",
		Name:      "operation_duration_seconds",
		Help:      "Duration of Redis operations",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
)

func IncSession() {
	ActiveSessions.Inc()
}

func DecSession() {
	ActiveSessions.Dec()
}
