package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsEnqueued tracks operations accepted by a queue
	OperationsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txguard_operations_enqueued_total",
			Help: "Total number of operations enqueued",
		},
		[]string{"queue"},
	)

	// OperationAttempts tracks individual submission attempts by result
	OperationAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txguard_operation_attempts_total",
			Help: "Total number of submission attempts",
		},
		[]string{"queue", "result"},
	)

	// OperationsTerminal tracks operations reaching a terminal status
	OperationsTerminal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txguard_operations_terminal_total",
			Help: "Total number of operations that reached a terminal status",
		},
		[]string{"queue", "status"},
	)

	// QueueDepth tracks pending operations per queue
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "txguard_queue_depth",
			Help: "Number of pending operations",
		},
		[]string{"queue"},
	)

	// RetryDelay tracks scheduled backoff delays
	RetryDelay = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "txguard_retry_delay_seconds",
			Help:    "Backoff delay scheduled before a retry",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"queue", "kind"},
	)

	// BreakerState tracks the circuit state (0 closed, 1 open, 2 half-open)
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "txguard_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"breaker"},
	)

	// BreakerRejections tracks calls rejected without reaching the backend
	BreakerRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txguard_breaker_rejections_total",
			Help: "Total number of calls rejected by an open circuit",
		},
		[]string{"breaker"},
	)

	// BatchItems tracks batch item outcomes
	BatchItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txguard_batch_items_total",
			Help: "Total number of batch items by terminal status",
		},
		[]string{"status"},
	)

	// RPCLatency tracks submitter call latency
	RPCLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "txguard_rpc_latency_seconds",
			Help:    "RPC call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "method"},
	)

	// RPCErrorsTotal tracks submitter errors by kind
	RPCErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "txguard_rpc_errors_total",
			Help: "Total number of RPC errors",
		},
		[]string{"provider", "kind"},
	)

	// SnapshotsPruned tracks terminal snapshots removed by retention
	SnapshotsPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "txguard_snapshots_pruned_total",
			Help: "Total number of operation snapshots pruned",
		},
	)
)

var (
	// DBConnectionPoolUsage tracks database connection pool usage percentage
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "txguard_db_connection_pool_usage_percent",
			Help: "Database connection pool usage percentage",
		},
	)
)
