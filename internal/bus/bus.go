// Package bus implements the MessageBus abstraction: a best-effort,
// never-authoritative fan-out of status events to external observers
// (WebSocket clients, log shippers, whatever else wants to watch). The
// Store remains the single source of truth for task/worker state; bus
// publish failures are always logged and swallowed, never propagated into
// the Store-mutating call path.
package bus

import (
	"context"
	"encoding/json"
	"time"
)

// Message is one event carried over the bus.
type Message struct {
	Channel   string          `json:"channel"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// NewMessage builds a Message, marshaling data to JSON.
func NewMessage(channel, msgType string, data interface{}) (Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, err
	}
	return Message{Channel: channel, Type: msgType, Timestamp: time.Now().UTC(), Data: raw}, nil
}

// Bus is the interface the three backends (Memory, Redis, FileSpool)
// satisfy.
type Bus interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Publish(ctx context.Context, channel string, message Message) error
	Subscribe(ctx context.Context, channel string, handler func(Message)) (unsubscribe func(), err error)
	QueueSize(ctx context.Context, channel string) (int, error)
}

// Channel names used throughout the system.
const (
	ChannelTaskStatus   = "task.status"
	ChannelWorkerStatus = "worker.status"
	ChannelPoolStats    = "pool.stats"
)

// TaskStatusPayload is published to ChannelTaskStatus when PoolManager
// dispatches a task and when a Worker records a task's completion or
// failure. Cancellation, orphan requeue and direct AcquireNextTask claims
// publish nothing.
type TaskStatusPayload struct {
	TaskID     string `json:"task_id"`
	Status     string `json:"status"`
	AssignedTo string `json:"assigned_to,omitempty"`
}

// WorkerStatusPayload is published to ChannelWorkerStatus on registration,
// liveness changes, and reaping.
type WorkerStatusPayload struct {
	WorkerID string `json:"worker_id"`
	Status   string `json:"status"`
}
