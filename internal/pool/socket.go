package pool

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"

	"github.com/hama-jp/koubou-go/internal/logger"
)

// request is the common envelope both the monitor and control sockets
// accept: a command name, an optional auth_token (control only), and
// whatever extra fields the command needs.
type request struct {
	Command    string `json:"command"`
	AuthToken  string `json:"auth_token,omitempty"`
	WorkerID   string `json:"worker_id,omitempty"`
	MinWorkers *int   `json:"min_workers,omitempty"`
	MaxWorkers *int   `json:"max_workers,omitempty"`
}

type response map[string]interface{}

// ServeMonitor listens on path (a Unix domain socket, removed and
// recreated if stale) and answers unauthenticated read-only commands until
// ctx is canceled.
func (m *Manager) ServeMonitor(ctx context.Context, path string) error {
	return m.serve(ctx, path, m.handleMonitorCommand)
}

// ServeControl listens on path and answers token-authenticated commands
// that mutate pool state until ctx is canceled.
func (m *Manager) ServeControl(ctx context.Context, path string) error {
	return m.serve(ctx, path, m.handleControlCommand)
}

func (m *Manager) serve(ctx context.Context, path string, handle func(request) response) error {
	_ = os.Remove(path)

	ln, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	log := logger.WithComponent("pool.socket")
	log.Info().Str("path", path).Msg("socket listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				log.Warn().Err(err).Msg("accept failed")
				continue
			}
		}
		go m.handleConn(conn, handle)
	}
}

func (m *Manager) handleConn(conn net.Conn, handle func(request) response) {
	defer conn.Close()

	var req request
	if err := json.NewDecoder(bufio.NewReader(conn)).Decode(&req); err != nil {
		_ = json.NewEncoder(conn).Encode(response{"success": false, "error": err.Error()})
		return
	}

	resp := handle(req)
	_ = json.NewEncoder(conn).Encode(resp)
}

func (m *Manager) handleMonitorCommand(req request) response {
	switch req.Command {
	case "get_status":
		min, max := m.Bounds()
		return response{
			"success":        true,
			"active_workers": m.store.ActiveWorkerCount(),
			"pending_tasks":  m.store.PendingCount(),
			"workers":        m.ProcessIDs(),
			"min_workers":    min,
			"max_workers":    max,
		}
	case "get_worker_stats":
		workers, err := m.store.GetAllWorkers()
		if err != nil {
			return response{"success": false, "error": err.Error()}
		}
		return response{"success": true, "worker_stats": workers}
	case "get_idle_workers":
		return response{"success": true, "idle_workers": m.store.IdleWorkerIDs()}
	case "health_check":
		return response{"success": true, "status": "healthy"}
	default:
		return response{"success": false, "error": "unknown monitor command: " + req.Command}
	}
}

func (m *Manager) handleControlCommand(req request) response {
	if req.AuthToken != m.controlToken {
		return response{"success": false, "error": "authentication failed"}
	}

	switch req.Command {
	case "spawn_worker":
		id, err := m.SpawnWorker(req.WorkerID)
		if err != nil {
			return response{"success": false, "error": err.Error()}
		}
		return response{"success": true, "worker_id": id}

	case "shutdown_worker":
		if req.WorkerID == "" {
			return response{"success": false, "error": "worker_id required"}
		}
		if err := m.ShutdownWorker(req.WorkerID); err != nil {
			return response{"success": false, "error": err.Error()}
		}
		return response{"success": true, "message": "worker shutdown initiated"}

	case "scale":
		min, max := m.Bounds()
		if req.MinWorkers != nil {
			min = *req.MinWorkers
		}
		if req.MaxWorkers != nil {
			max = *req.MaxWorkers
		}
		if err := m.Scale(min, max); err != nil {
			return response{"success": false, "error": err.Error()}
		}
		return response{"success": true, "message": "scaling parameters updated"}

	case "force_scale":
		pending := m.store.PendingCount()
		active := m.store.ActiveTaskCount()
		activeWorkers := m.store.ActiveWorkerCount()
		_, max := m.Bounds()
		m.scaleUp(pending, active, activeWorkers, max)
		return response{"success": true, "message": "forced scaling executed"}

	case "shutdown_all":
		m.ShutdownAll()
		return response{"success": true, "message": "all workers shutdown initiated"}

	case "restart_worker":
		if req.WorkerID == "" {
			return response{"success": false, "error": "worker_id required"}
		}
		newID, err := m.RestartWorker(req.WorkerID)
		if err != nil {
			return response{"success": false, "error": err.Error()}
		}
		return response{"success": true, "old_worker": req.WorkerID, "new_worker": newID}

	default:
		return response{"success": false, "error": "unknown control command: " + req.Command}
	}
}
