package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Task metrics
	TasksSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "koubou_tasks_submitted_total",
			Help: "Total number of tasks submitted",
		},
		[]string{"type", "priority"},
	)

	TasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "koubou_tasks_completed_total",
			Help: "Total number of tasks reaching a terminal status",
		},
		[]string{"type", "status"},
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "koubou_task_duration_seconds",
			Help:    "Task duration in seconds, from claim to completion",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 15),
		},
		[]string{"type"},
	)

	ExecutorRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "koubou_executor_retries_total",
			Help: "Total number of Executor retry attempts",
		},
		[]string{"kind"}, // local, remote
	)

	// Queue / Store metrics
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "koubou_queue_depth",
			Help: "Current number of pending tasks",
		},
		[]string{"priority"},
	)

	QueueLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "koubou_queue_latency_seconds",
			Help:    "Time a task spent pending before being claimed",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		},
		[]string{"priority"},
	)

	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "koubou_store_operation_duration_seconds",
			Help:    "bbolt-backed Store operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
		},
		[]string{"operation"},
	)

	StoreRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "koubou_store_retries_total",
			Help: "Total number of Store contention retries",
		},
		[]string{"operation"},
	)

	// Worker metrics
	ActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "koubou_active_workers",
			Help: "Current number of workers with a fresh heartbeat",
		},
	)

	WorkersByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "koubou_workers_by_status",
			Help: "Current worker count per status",
		},
		[]string{"status"},
	)

	WorkersReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "koubou_workers_reaped_total",
			Help: "Total number of workers removed by dead-worker cleanup",
		},
	)

	OrphanedTasksRecovered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "koubou_orphaned_tasks_recovered_total",
			Help: "Total number of in-progress tasks returned to pending by orphan recovery",
		},
	)

	// Router metrics
	RoutingDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "koubou_routing_decisions_total",
			Help: "Total number of Router decisions, by chosen worker class",
		},
		[]string{"class"}, // local, remote, none
	)

	// PoolManager metrics
	WorkersSpawned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "koubou_workers_spawned_total",
			Help: "Total number of worker subprocesses spawned",
		},
	)

	WorkersTerminated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "koubou_workers_terminated_total",
			Help: "Total number of worker subprocesses terminated",
		},
		[]string{"reason"}, // scale_down, shutdown_all, control_command
	)

	// Deliverable metrics
	DeliverablesExtracted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "koubou_deliverables_extracted_total",
			Help: "Total number of deliverables extracted, by inferred type",
		},
		[]string{"type"},
	)

	DeliverableQuality = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "koubou_deliverable_quality_score",
			Help:    "Bounded [0,100] heuristic quality score of extracted deliverables",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		},
		[]string{"type"},
	)

	// HTTP metrics
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "koubou_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "koubou_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// MessageBus metrics
	BusPublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "koubou_bus_publish_errors_total",
			Help: "Total number of MessageBus publish failures (logged and swallowed)",
		},
		[]string{"backend", "channel"},
	)

	// WebSocket metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "koubou_websocket_connections",
			Help: "Current number of WebSocket connections",
		},
	)

	WebSocketMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "koubou_websocket_messages_total",
			Help: "Total number of WebSocket messages sent",
		},
		[]string{"type"},
	)
)

// RecordTaskSubmission records a task submission.
func RecordTaskSubmission(taskType string, priority int) {
	TasksSubmitted.WithLabelValues(taskType, strconv.Itoa(priority)).Inc()
}

// RecordTaskCompletion records a task's terminal transition.
func RecordTaskCompletion(taskType, status string, duration float64) {
	TasksCompleted.WithLabelValues(taskType, status).Inc()
	TaskDuration.WithLabelValues(taskType).Observe(duration)
}

// RecordExecutorRetry records one Executor retry attempt.
func RecordExecutorRetry(kind string) {
	ExecutorRetries.WithLabelValues(kind).Inc()
}

// UpdateQueueDepth sets the pending-task gauge for a priority.
func UpdateQueueDepth(priority int, depth float64) {
	QueueDepth.WithLabelValues(strconv.Itoa(priority)).Set(depth)
}

// RecordQueueLatency records the time a task spent pending.
func RecordQueueLatency(priority int, latency float64) {
	QueueLatency.WithLabelValues(strconv.Itoa(priority)).Observe(latency)
}

// RecordStoreOperation records a Store operation's duration.
func RecordStoreOperation(operation string, duration float64) {
	StoreOperationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordStoreRetry records one contention retry for a Store operation.
func RecordStoreRetry(operation string) {
	StoreRetries.WithLabelValues(operation).Inc()
}

// SetActiveWorkers sets the active-worker gauge.
func SetActiveWorkers(count float64) {
	ActiveWorkers.Set(count)
}

// SetWorkersByStatus sets the worker-count gauge for a status.
func SetWorkersByStatus(status string, count float64) {
	WorkersByStatus.WithLabelValues(status).Set(count)
}

// RecordWorkersReaped adds to the dead-worker-cleanup counter.
func RecordWorkersReaped(count int) {
	WorkersReaped.Add(float64(count))
}

// RecordOrphanedTasksRecovered adds to the orphan-recovery counter.
func RecordOrphanedTasksRecovered(count int) {
	OrphanedTasksRecovered.Add(float64(count))
}

// RecordRoutingDecision records the class of worker a Route call chose.
func RecordRoutingDecision(class string) {
	RoutingDecisions.WithLabelValues(class).Inc()
}

// RecordWorkerSpawned increments the spawned-worker counter.
func RecordWorkerSpawned() {
	WorkersSpawned.Inc()
}

// RecordWorkerTerminated increments the terminated-worker counter.
func RecordWorkerTerminated(reason string) {
	WorkersTerminated.WithLabelValues(reason).Inc()
}

// RecordDeliverableExtracted records an extracted deliverable and its score.
func RecordDeliverableExtracted(typ string, quality int) {
	DeliverablesExtracted.WithLabelValues(typ).Inc()
	DeliverableQuality.WithLabelValues(typ).Observe(float64(quality))
}

// RecordHTTPRequest records an HTTP request's duration and count.
func RecordHTTPRequest(method, path, status string, duration float64) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration)
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordBusPublishError records a swallowed MessageBus publish failure.
func RecordBusPublishError(backend, channel string) {
	BusPublishErrors.WithLabelValues(backend, channel).Inc()
}

// SetWebSocketConnections sets the WebSocket connection gauge.
func SetWebSocketConnections(count float64) {
	WebSocketConnections.Set(count)
}

// RecordWebSocketMessage records one WebSocket message sent.
func RecordWebSocketMessage(msgType string) {
	WebSocketMessages.WithLabelValues(msgType).Inc()
}
