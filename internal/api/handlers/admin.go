package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hama-jp/koubou-go/internal/logger"
	"github.com/hama-jp/koubou-go/internal/pool"
	"github.com/hama-jp/koubou-go/internal/store"
	"github.com/hama-jp/koubou-go/internal/task"
)

// AdminHandler serves the operator surface: worker/task introspection
// directly against Store, and pool lifecycle actions (spawn, shutdown,
// restart, scale) proxied to PoolManager's control socket, since MasterAPI
// itself never supervises worker processes.
type AdminHandler struct {
	store   *store.Store
	control *pool.ControlClient
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(st *store.Store, control *pool.ControlClient) *AdminHandler {
	return &AdminHandler{store: st, control: control}
}

// ListWorkers handles GET /admin/workers
func (h *AdminHandler) ListWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := h.store.GetAllWorkers()
	if err != nil {
		logger.Error().Err(err).Msg("failed to list workers")
		h.respondError(w, http.StatusInternalServerError, "failed to get workers")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"workers": workers,
		"count":   len(workers),
	})
}

// GetWorker handles GET /admin/workers/{workerID}
func (h *AdminHandler) GetWorker(w http.ResponseWriter, r *http.Request) {
	workerID := chi.URLParam(r, "workerID")
	if workerID == "" {
		h.respondError(w, http.StatusBadRequest, "worker ID is required")
		return
	}

	wk, err := h.store.GetWorker(workerID)
	if err != nil {
		if err == task.ErrTaskNotFound {
			h.respondError(w, http.StatusNotFound, "worker not found")
			return
		}
		logger.Error().Err(err).Str("worker_id", workerID).Msg("failed to get worker")
		h.respondError(w, http.StatusInternalServerError, "failed to get worker")
		return
	}

	h.respondJSON(w, http.StatusOK, wk)
}

// SpawnWorkerRequest is the body for POST /admin/workers/spawn.
type SpawnWorkerRequest struct {
	WorkerID string `json:"worker_id,omitempty"`
}

// SpawnWorker handles POST /admin/workers/spawn
func (h *AdminHandler) SpawnWorker(w http.ResponseWriter, r *http.Request) {
	var req SpawnWorkerRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	resp, err := h.control.Do("spawn_worker", map[string]interface{}{"worker_id": req.WorkerID})
	h.respondControl(w, resp, err)
}

// ShutdownWorker handles POST /admin/workers/{workerID}/shutdown
func (h *AdminHandler) ShutdownWorker(w http.ResponseWriter, r *http.Request) {
	workerID := chi.URLParam(r, "workerID")
	if workerID == "" {
		h.respondError(w, http.StatusBadRequest, "worker ID is required")
		return
	}
	resp, err := h.control.Do("shutdown_worker", map[string]interface{}{"worker_id": workerID})
	h.respondControl(w, resp, err)
}

// RestartWorker handles POST /admin/workers/{workerID}/restart
func (h *AdminHandler) RestartWorker(w http.ResponseWriter, r *http.Request) {
	workerID := chi.URLParam(r, "workerID")
	if workerID == "" {
		h.respondError(w, http.StatusBadRequest, "worker ID is required")
		return
	}
	resp, err := h.control.Do("restart_worker", map[string]interface{}{"worker_id": workerID})
	h.respondControl(w, resp, err)
}

// ShutdownAllWorkers handles POST /admin/workers/shutdown_all
func (h *AdminHandler) ShutdownAllWorkers(w http.ResponseWriter, r *http.Request) {
	resp, err := h.control.Do("shutdown_all", nil)
	h.respondControl(w, resp, err)
}

// ScaleRequest is the body for POST /admin/scale.
type ScaleRequest struct {
	MinWorkers *int `json:"min_workers,omitempty"`
	MaxWorkers *int `json:"max_workers,omitempty"`
}

// Scale handles POST /admin/scale
func (h *AdminHandler) Scale(w http.ResponseWriter, r *http.Request) {
	var req ScaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	extra := map[string]interface{}{}
	if req.MinWorkers != nil {
		extra["min_workers"] = *req.MinWorkers
	}
	if req.MaxWorkers != nil {
		extra["max_workers"] = *req.MaxWorkers
	}
	resp, err := h.control.Do("scale", extra)
	h.respondControl(w, resp, err)
}

// GetQueues handles GET /admin/queues
func (h *AdminHandler) GetQueues(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetStatistics()
	if err != nil {
		logger.Error().Err(err).Msg("failed to get statistics")
		h.respondError(w, http.StatusInternalServerError, "failed to get queue statistics")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"tasks_by_status": stats.TasksByStatus,
		"pending_depth":   h.store.PendingCount(),
	})
}

// RetryTask handles POST /admin/tasks/{taskID}/retry. Only failed tasks
// can be retried; this bypasses the ordinary status state machine the way
// an operator override is expected to.
func (h *AdminHandler) RetryTask(w http.ResponseWriter, r *http.Request) {
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

	if t.Status != task.StatusFailed {
		h.respondError(w, http.StatusConflict, "only failed tasks can be retried")
		return
	}

	ok, err := h.store.UpdateTaskStatus(taskID, task.StatusPending, nil)
	if err != nil {
		logger.Error().Err(err).Str("task_id", taskID).Msg("failed to retry task")
		h.respondError(w, http.StatusInternalServerError, "failed to retry task")
		return
	}
	if !ok {
		h.respondError(w, http.StatusNotFound, "task not found")
		return
	}

	logger.Info().Str("task_id", taskID).Msg("task retried manually")
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"message": "task re-queued",
		"task_id": taskID,
	})
}

// HealthCheck handles GET /admin/health
func (h *AdminHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if _, err := h.store.GetStatistics(); err != nil {
		h.respondJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "unhealthy",
			"store":  "unreachable",
			"error":  err.Error(),
		})
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"store":  "reachable",
	})
}

// respondControl translates a control-socket round trip into an HTTP
// response: a transport error is a 502 (PoolManager unreachable), a
// well-formed {"success": false} is a 502 too (the command itself failed),
// anything else round-trips as the decoded response body.
func (h *AdminHandler) respondControl(w http.ResponseWriter, resp map[string]interface{}, err error) {
	if err != nil {
		logger.Error().Err(err).Msg("pool control request failed")
		h.respondError(w, http.StatusBadGateway, "pool manager unreachable: "+err.Error())
		return
	}
	if ok, _ := resp["success"].(bool); !ok {
		msg, _ := resp["error"].(string)
		h.respondError(w, http.StatusBadGateway, msg)
		return
	}
	h.respondJSON(w, http.StatusOK, resp)
}

func (h *AdminHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *AdminHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}
