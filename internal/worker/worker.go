// Package worker implements the single-task-at-a-time process that claims
// notifications, executes tasks against one Executor, and reports results
// back through the Store. It is the Go analogue of a GeminiLocalWorker
// process: one binary, one registration, one task in flight at a time.
package worker

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/hama-jp/koubou-go/internal/bus"
	"github.com/hama-jp/koubou-go/internal/deliverable"
	"github.com/hama-jp/koubou-go/internal/executor"
	"github.com/hama-jp/koubou-go/internal/logger"
	"github.com/hama-jp/koubou-go/internal/metrics"
	"github.com/hama-jp/koubou-go/internal/store"
	"github.com/hama-jp/koubou-go/internal/task"
)

// pollInterval is the idle-loop sleep; heartbeat is refreshed every 10th
// iteration (10s) while idle, and by a side goroutine while executing.
const pollInterval = time.Second

// executingHeartbeatInterval is the side-goroutine refresh cadence during
// Executor calls, comfortably under the dead-worker threshold.
const executingHeartbeatInterval = 10 * time.Second

// heartbeatEveryNIdleTicks controls how often the idle loop itself
// refreshes the heartbeat, so a worker that never claims a task still
// looks alive.
const heartbeatEveryNIdleTicks = 10

// Worker owns exactly one Executor and processes at most one task at a
// time. Run blocks until ctx is canceled or a fatal Store error occurs.
type Worker struct {
	ID       string
	Store    *store.Store
	Executor executor.Executor
	Extract  *deliverable.Extractor
	Security SecurityPolicy
	Meta     task.WorkerMeta

	// Bus is optional: when set, Run publishes worker status transitions
	// and handleAssignment publishes task completions to it. A nil Bus
	// disables publishing entirely (tests leave it unset).
	Bus bus.Bus

	// Now is overridable for tests.
	Now func() time.Time
}

// New builds a Worker. meta is the registration payload (location,
// capabilities, performance factor) recorded with the Store.
func New(id string, st *store.Store, exec executor.Executor, extract *deliverable.Extractor, security SecurityPolicy, meta task.WorkerMeta) *Worker {
	return &Worker{
		ID:       id,
		Store:    st,
		Executor: exec,
		Extract:  extract,
		Security: security,
		Meta:     meta,
		Now:      time.Now,
	}
}

// ErrAuthMismatch is returned by CheckAuthToken when the worker's injected
// token does not match the one PoolManager recorded for this worker id.
var ErrAuthMismatch = errors.New("worker: auth token mismatch")

// CheckAuthToken compares the WORKER_AUTH_TOKEN environment variable
// against expected, the value PoolManager injected at spawn time. A worker
// spawned outside PoolManager's supervision (expected == "") skips the
// check, matching a manually launched remote worker.
func CheckAuthToken(expected string) error {
	if expected == "" {
		return nil
	}
	if os.Getenv("WORKER_AUTH_TOKEN") != expected {
		return ErrAuthMismatch
	}
	return nil
}

// Run registers the worker, installs the offline-on-signal hook via ctx
// cancellation (the caller is expected to cancel ctx from a signal
// handler), and runs the main loop until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	log := logger.WithWorker(w.ID)

	if _, err := w.Store.RegisterWorker(w.ID, w.Meta); err != nil {
		return err
	}
	log.Info().Str("location", string(w.Meta.Location)).Msg("worker registered")
	w.publishWorkerStatus(ctx, task.WorkerIdle)

	defer func() {
		offline := task.WorkerOffline
		if _, err := w.Store.UpdateWorkerStatus(w.ID, offline, nil); err != nil {
			log.Warn().Err(err).Msg("failed to mark worker offline on shutdown")
		}
		w.publishWorkerStatus(context.Background(), offline)
	}()

	idleTicks := 0
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("worker shutting down")
			return nil
		case <-ticker.C:
		}

		notifications, err := w.Store.ClaimNotifications(w.ID)
		if err != nil {
			log.Error().Err(err).Msg("failed to claim notifications")
			continue
		}
		if len(notifications) == 0 {
			idleTicks++
			if idleTicks >= heartbeatEveryNIdleTicks {
				idleTicks = 0
				if err := w.Store.UpdateWorkerHeartbeat(w.ID); err != nil {
					log.Warn().Err(err).Msg("idle heartbeat refresh failed")
				}
			}
			continue
		}
		idleTicks = 0

		for _, n := range notifications {
			if n.Kind != task.NotificationTaskAssigned {
				continue
			}
			w.handleAssignment(ctx, n.TaskID)
		}
	}
}

// handleAssignment fetches and executes the assigned task, always
// releasing the assignment via CompleteTaskWithStats afterward.
func (w *Worker) handleAssignment(ctx context.Context, taskID string) {
	log := logger.WithWorker(w.ID).With().Str("task_id", taskID).Logger()

	t, err := w.Store.GetTask(taskID)
	if err != nil {
		log.Error().Err(err).Msg("failed to fetch assigned task")
		return
	}
	if t.Status != task.StatusInProgress || t.AssignedTo != w.ID {
		log.Warn().Msg("assignment notification for task not in_progress/assigned to this worker, skipping")
		return
	}

	start := w.now()
	result := w.execute(ctx, t)
	duration := w.now().Sub(start).Seconds()

	status := "failed"
	if result.Success {
		status = "completed"
	}
	metrics.RecordTaskCompletion(t.Content.Type, status, duration)

	if ok, err := w.Store.CompleteTaskWithStats(taskID, w.ID, result); err != nil {
		log.Error().Err(err).Msg("failed to record task completion")
	} else if !ok {
		log.Warn().Msg("task completion precondition failed (already reassigned?)")
	} else {
		w.publishTaskStatus(ctx, taskID, task.ParseStatus(status))
	}

	if result.Success && w.Extract != nil {
		extracted, err := w.Extract.Extract(taskID, t.Content.Prompt, result.Output)
		if err != nil {
			log.Warn().Err(err).Msg("deliverable extraction failed")
		} else {
			metrics.RecordDeliverableExtracted(string(extracted.Type), extracted.QualityScore)
		}
	}
}

// execute runs the task's prompt through the Executor, enforcing the
// empty-prompt short-circuit and the file allow-list before ever invoking
// it, and keeps a heartbeat fresh for the duration of the call.
func (w *Worker) execute(ctx context.Context, t *task.Task) *task.Result {
	log := logger.WithWorker(w.ID).With().Str("task_id", t.ID).Logger()

	if t.Content.Prompt == "" {
		return task.EmptyPromptResult()
	}

	if err := w.Security.validateTaskFiles(t.Content.Files, t.Content.OutputFile); err != nil {
		return &task.Result{Success: false, Error: err.Error()}
	}

	current := task.WorkerProcessing
	if _, err := w.Store.UpdateWorkerStatus(w.ID, current, &t.ID); err != nil {
		log.Warn().Err(err).Msg("failed to mark worker processing")
	}

	hbCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go w.heartbeatDuringExecution(hbCtx)

	req := executor.ExecRequest{
		TaskID:       t.ID,
		Prompt:       t.Content.Prompt,
		ContextFiles: t.Content.Files,
		OutputFile:   t.Content.OutputFile,
		Options: executor.ExecOptions{
			MaxTokens:   t.Content.Options.MaxTokens,
			Temperature: t.Content.Options.Temperature,
			NumCtx:      t.Content.Options.NumCtx,
			Timeout:     t.Content.Options.Timeout,
		},
	}

	result, err := w.Executor.Execute(ctx, req)
	if err != nil {
		log.Error().Err(err).Msg("executor infrastructure failure")
		return &task.Result{Success: false, Error: err.Error()}
	}
	return &task.Result{Success: result.Success, Output: result.Output, Error: result.Error}
}

func (w *Worker) heartbeatDuringExecution(ctx context.Context) {
	ticker := time.NewTicker(executingHeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Store.UpdateWorkerHeartbeat(w.ID); err != nil {
				logger.WithWorker(w.ID).Warn().Err(err).Msg("heartbeat refresh during execution failed")
			}
		}
	}
}

// publishWorkerStatus is a best-effort MessageBus notification; publish
// failures are logged and swallowed, never allowed to affect Store state.
func (w *Worker) publishWorkerStatus(ctx context.Context, status task.WorkerStatus) {
	if w.Bus == nil {
		return
	}
	msg, err := bus.NewMessage(bus.ChannelWorkerStatus, "worker_status", bus.WorkerStatusPayload{
		WorkerID: w.ID,
		Status:   status.String(),
	})
	if err != nil {
		return
	}
	if err := w.Bus.Publish(ctx, bus.ChannelWorkerStatus, msg); err != nil {
		metrics.RecordBusPublishError("worker", bus.ChannelWorkerStatus)
	}
}

func (w *Worker) publishTaskStatus(ctx context.Context, taskID string, status task.Status) {
	if w.Bus == nil {
		return
	}
	msg, err := bus.NewMessage(bus.ChannelTaskStatus, "task_status", bus.TaskStatusPayload{
		TaskID:     taskID,
		Status:     status.String(),
		AssignedTo: w.ID,
	})
	if err != nil {
		return
	}
	if err := w.Bus.Publish(ctx, bus.ChannelTaskStatus, msg); err != nil {
		metrics.RecordBusPublishError("worker", bus.ChannelTaskStatus)
	}
}

func (w *Worker) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}
