package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetricsRegistration(t *testing.T) {
	// promauto already registers these at package init; just confirm they exist.
	assert.NotNil(t, TasksSubmitted)
	assert.NotNil(t, TasksCompleted)
	assert.NotNil(t, TaskDuration)
	assert.NotNil(t, ExecutorRetries)

	assert.NotNil(t, QueueDepth)
	assert.NotNil(t, QueueLatency)
	assert.NotNil(t, StoreOperationDuration)
	assert.NotNil(t, StoreRetries)

	assert.NotNil(t, ActiveWorkers)
	assert.NotNil(t, WorkersByStatus)
	assert.NotNil(t, WorkersReaped)
	assert.NotNil(t, OrphanedTasksRecovered)

	assert.NotNil(t, RoutingDecisions)
	assert.NotNil(t, WorkersSpawned)
	assert.NotNil(t, WorkersTerminated)

	assert.NotNil(t, DeliverablesExtracted)
	assert.NotNil(t, DeliverableQuality)

	assert.NotNil(t, HTTPRequestDuration)
	assert.NotNil(t, HTTPRequestsTotal)
	assert.NotNil(t, BusPublishErrors)

	assert.NotNil(t, WebSocketConnections)
	assert.NotNil(t, WebSocketMessages)
}

func TestRecordTaskSubmission(t *testing.T) {
	TasksSubmitted.Reset()

	RecordTaskSubmission("code", 8)
	RecordTaskSubmission("code", 8)
	RecordTaskSubmission("general", 3)
}

func TestRecordTaskCompletion(t *testing.T) {
	TasksCompleted.Reset()
	TaskDuration.Reset()

	RecordTaskCompletion("code", "completed", 1.5)
	RecordTaskCompletion("code", "failed", 0.5)
}

func TestRecordExecutorRetry(t *testing.T) {
	ExecutorRetries.Reset()

	RecordExecutorRetry("local")
	RecordExecutorRetry("remote")
}

func TestUpdateQueueDepth(t *testing.T) {
	QueueDepth.Reset()

	UpdateQueueDepth(10, 3)
	UpdateQueueDepth(5, 12)
	UpdateQueueDepth(1, 1)
}

func TestRecordQueueLatency(t *testing.T) {
	QueueLatency.Reset()

	RecordQueueLatency(10, 0.001)
	RecordQueueLatency(5, 0.5)
}

func TestRecordStoreOperation(t *testing.T) {
	StoreOperationDuration.Reset()

	RecordStoreOperation("AcquireNextTask", 0.001)
	RecordStoreOperation("CompleteTaskWithStats", 0.0005)
}

func TestRecordStoreRetry(t *testing.T) {
	StoreRetries.Reset()

	RecordStoreRetry("CreateTask")
}

func TestSetActiveWorkers(t *testing.T) {
	SetActiveWorkers(5)
	SetActiveWorkers(0)
}

func TestSetWorkersByStatus(t *testing.T) {
	WorkersByStatus.Reset()

	SetWorkersByStatus("idle", 2)
	SetWorkersByStatus("busy", 3)
}

func TestRecordWorkersReaped(t *testing.T) {
	RecordWorkersReaped(2)
}

func TestRecordOrphanedTasksRecovered(t *testing.T) {
	RecordOrphanedTasksRecovered(4)
}

func TestRecordRoutingDecision(t *testing.T) {
	RoutingDecisions.Reset()

	RecordRoutingDecision("local")
	RecordRoutingDecision("remote")
	RecordRoutingDecision("none")
}

func TestRecordWorkerSpawned(t *testing.T) {
	RecordWorkerSpawned()
}

func TestRecordWorkerTerminated(t *testing.T) {
	WorkersTerminated.Reset()

	RecordWorkerTerminated("scale_down")
	RecordWorkerTerminated("shutdown_all")
}

func TestRecordDeliverableExtracted(t *testing.T) {
	DeliverablesExtracted.Reset()
	DeliverableQuality.Reset()

	RecordDeliverableExtracted("code_generation", 85)
	RecordDeliverableExtracted("text_generation", 70)
}

func TestRecordHTTPRequest(t *testing.T) {
	HTTPRequestDuration.Reset()
	HTTPRequestsTotal.Reset()

	RecordHTTPRequest("GET", "/api/v1/tasks/pending", "200", 0.05)
	RecordHTTPRequest("POST", "/api/v1/task/delegate", "201", 0.1)
}

func TestRecordBusPublishError(t *testing.T) {
	BusPublishErrors.Reset()

	RecordBusPublishError("redis", "task.status")
}

func TestSetWebSocketConnections(t *testing.T) {
	SetWebSocketConnections(0)
	SetWebSocketConnections(10)
}

func TestRecordWebSocketMessage(t *testing.T) {
	WebSocketMessages.Reset()

	RecordWebSocketMessage("task.status")
	RecordWebSocketMessage("worker.status")
}
