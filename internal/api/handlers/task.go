package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hama-jp/koubou-go/internal/logger"
	"github.com/hama-jp/koubou-go/internal/metrics"
	"github.com/hama-jp/koubou-go/internal/store"
	"github.com/hama-jp/koubou-go/internal/task"
)

// defaultSyncTimeout bounds how long Delegate blocks polling Store for a
// sync task's terminal status before falling back to a delegated response.
const defaultSyncTimeout = 120 * time.Second

// syncPollInterval is how often Delegate re-checks Store while waiting on
// a sync task.
const syncPollInterval = 200 * time.Millisecond

// TaskHandler serves the task delegate/status/listing routes directly
// against Store; PoolManager's dispatch tick is what actually assigns
// pending rows to workers.
type TaskHandler struct {
	store *store.Store
}

// NewTaskHandler creates a new task handler.
func NewTaskHandler(st *store.Store) *TaskHandler {
	return &TaskHandler{store: st}
}

// Delegate handles POST /api/v1/task/delegate
func (h *TaskHandler) Delegate(w http.ResponseWriter, r *http.Request) {
	var req task.CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Type == "" {
		h.respondError(w, http.StatusBadRequest, "task type is required")
		return
	}

	t := task.FromRequest(&req)
	created, err := h.store.CreateTask(t.ID, t.Content, t.Priority, t.CreatedBy)
	if err != nil {
		logger.Error().Err(err).Str("task_id", t.ID).Msg("failed to create task")
		h.respondError(w, http.StatusInternalServerError, "failed to delegate task")
		return
	}
	if !created {
		h.respondError(w, http.StatusConflict, "task id already exists")
		return
	}

	metrics.RecordTaskSubmission(t.Content.Type, t.Priority)

	logger.Info().
		Str("task_id", t.ID).
		Str("type", t.Content.Type).
		Int("priority", t.Priority).
		Bool("sync", req.Sync).
		Msg("task delegated")

	if !req.Sync {
		h.respondJSON(w, http.StatusCreated, map[string]interface{}{
			"task_id": t.ID,
			"status":  "delegated",
		})
		return
	}

	final, err := h.awaitTerminal(r.Context(), t.ID, defaultSyncTimeout)
	if err != nil {
		logger.Error().Err(err).Str("task_id", t.ID).Msg("failed to poll sync task")
		h.respondError(w, http.StatusInternalServerError, "failed to await task result")
		return
	}
	if final == nil {
		// Timed out waiting; caller falls back to polling /task/status.
		h.respondJSON(w, http.StatusAccepted, map[string]interface{}{
			"task_id": t.ID,
			"status":  "delegated",
		})
		return
	}

	h.respondJSON(w, http.StatusOK, final.ToResponse())
}

// awaitTerminal polls Store until taskID reaches a terminal status or the
// timeout elapses; returns (nil, nil) on timeout.
func (h *TaskHandler) awaitTerminal(ctx context.Context, taskID string, timeout time.Duration) (*task.Task, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(syncPollInterval)
	defer ticker.Stop()

	for {
		t, err := h.store.GetTask(taskID)
		if err != nil {
			return nil, err
		}
		if t.Status.IsFinal() {
			return t, nil
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Status handles GET /api/v1/task/status/{taskID}
func (h *TaskHandler) Status(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if taskID == "" {
		h.respondError(w, http.StatusBadRequest, "task ID is required")
		return
	}

	t, err := h.store.GetTask(taskID)
	if err != nil {
		if err == task.ErrTaskNotFound {
			h.respondError(w, http.StatusNotFound, "task not found")
			return
		}
		logger.Error().Err(err).Str("task_id", taskID).Msg("failed to get task")
		h.respondError(w, http.StatusInternalServerError, "failed to get task")
		return
	}

	h.respondJSON(w, http.StatusOK, t.ToResponse())
}

// ListResponse is the response shape for the pending/active/completed
// listing routes.
type ListResponse struct {
	Tasks      []*task.TaskResponse `json:"tasks"`
	TotalCount int                  `json:"total_count"`
}

// ListPending handles GET /api/v1/tasks/pending
func (h *TaskHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r.URL.Query(), 100)
	tasks, err := h.store.GetPendingTasks(limit)
	h.respondTaskList(w, tasks, err)
}

// ListActive handles GET /api/v1/tasks/active
func (h *TaskHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r.URL.Query(), 100)
	tasks, err := h.store.GetTasksByStatus(task.StatusInProgress, limit)
	h.respondTaskList(w, tasks, err)
}

// ListCompleted handles GET /api/v1/tasks/completed
func (h *TaskHandler) ListCompleted(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r.URL.Query(), 100)
	tasks, err := h.store.GetTasksByStatus(task.StatusCompleted, limit)
	h.respondTaskList(w, tasks, err)
}

func (h *TaskHandler) respondTaskList(w http.ResponseWriter, tasks []*task.Task, err error) {
	if err != nil {
		logger.Error().Err(err).Msg("failed to list tasks")
		h.respondError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}

	responses := make([]*task.TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		responses = append(responses, t.ToResponse())
	}

	h.respondJSON(w, http.StatusOK, ListResponse{Tasks: responses, TotalCount: len(responses)})
}

// WorkerStatus handles GET /api/v1/workers/status
func (h *TaskHandler) WorkerStatus(w http.ResponseWriter, r *http.Request) {
	workers, err := h.store.GetAllWorkers()
	if err != nil {
		logger.Error().Err(err).Msg("failed to get workers")
		h.respondError(w, http.StatusInternalServerError, "failed to get worker status")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"workers": workers,
		"count":   len(workers),
	})
}

// SystemInfo handles GET /api/v1/system/info
func (h *TaskHandler) SystemInfo(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetStatistics()
	if err != nil {
		logger.Error().Err(err).Msg("failed to get statistics")
		h.respondError(w, http.StatusInternalServerError, "failed to get system info")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"tasks_by_status":   stats.TasksByStatus,
		"workers_by_status": stats.WorkersByStatus,
		"pending_tasks":     h.store.PendingCount(),
		"active_tasks":      h.store.ActiveTaskCount(),
		"active_workers":    h.store.ActiveWorkerCount(),
	})
}

// Health handles GET /health
func (h *TaskHandler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"status": "healthy"})
}

func parseLimit(q url.Values, fallback int) int {
	v := q.Get("limit")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (h *TaskHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *TaskHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	})
}
