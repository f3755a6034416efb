package pool

import (
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/hama-jp/koubou-go/internal/logger"
	"github.com/hama-jp/koubou-go/internal/metrics"
	"github.com/hama-jp/koubou-go/internal/task"
)

// shutdownGrace is how long shutdownWorker waits after SIGTERM before
// escalating to SIGKILL.
const shutdownGrace = 5 * time.Second

// SpawnWorker starts a local worker subprocess with an injected auth token
// and registers its process in the table. An empty id mints a fresh one.
func (m *Manager) SpawnWorker(workerID string) (string, error) {
	if workerID == "" {
		workerID = newWorkerID()
	}

	log := logger.WithComponent("pool.manager").With().Str("worker_id", workerID).Logger()

	binPath := m.cfg.WorkerBinaryPath
	if binPath == "" {
		binPath = "worker"
	}

	cmd := exec.Command(binPath)
	cmd.Env = append(os.Environ(),
		"WORKER_ID="+workerID,
		"WORKER_EXPECTED_AUTH_TOKEN="+m.controlToken,
		"WORKER_AUTH_TOKEN="+m.controlToken,
		"WORKER_LOCATION=local",
	)
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return "", err
	}

	m.mu.Lock()
	m.processes[workerID] = &process{cmd: cmd, startedAt: time.Now()}
	m.mu.Unlock()

	go m.superviseExit(workerID, cmd)

	metrics.RecordWorkerSpawned()
	log.Info().Int("pid", cmd.Process.Pid).Msg("worker spawned")
	return workerID, nil
}

// superviseExit waits for the subprocess to exit and marks the worker
// offline without respawning; the scheduling tick decides whether load
// demands a replacement.
func (m *Manager) superviseExit(workerID string, cmd *exec.Cmd) {
	err := cmd.Wait()
	log := logger.WithComponent("pool.manager").With().Str("worker_id", workerID).Logger()
	if err != nil {
		log.Warn().Err(err).Msg("worker process exited unexpectedly")
	} else {
		log.Info().Msg("worker process exited")
	}

	m.mu.Lock()
	delete(m.processes, workerID)
	m.mu.Unlock()

	offline := task.WorkerOffline
	if _, err := m.store.UpdateWorkerStatus(workerID, offline, nil); err != nil {
		log.Warn().Err(err).Msg("failed to mark exited worker offline")
	}
}

// ShutdownWorker sends SIGTERM, waits shutdownGrace, then SIGKILL if still
// alive, and marks the worker offline regardless of the process's fate.
func (m *Manager) ShutdownWorker(workerID string) error {
	m.mu.Lock()
	p, ok := m.processes[workerID]
	m.mu.Unlock()

	log := logger.WithComponent("pool.manager").With().Str("worker_id", workerID).Logger()

	if ok && p.cmd.Process != nil {
		_ = p.cmd.Process.Signal(syscall.SIGTERM)
		done := make(chan struct{})
		go func() { _ = p.cmd.Wait(); close(done) }()
		select {
		case <-done:
		case <-time.After(shutdownGrace):
			log.Warn().Msg("worker did not exit after SIGTERM grace period, sending SIGKILL")
			_ = p.cmd.Process.Kill()
		}
		m.mu.Lock()
		delete(m.processes, workerID)
		m.mu.Unlock()
	}

	metrics.RecordWorkerTerminated("control_command")
	offline := task.WorkerOffline
	_, err := m.store.UpdateWorkerStatus(workerID, offline, nil)
	return err
}

// ShutdownAll terminates every locally supervised worker process.
func (m *Manager) ShutdownAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.processes))
	for id := range m.processes {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		metrics.RecordWorkerTerminated("shutdown_all")
		if err := m.ShutdownWorker(id); err != nil {
			logger.WithComponent("pool.manager").Warn().Err(err).Str("worker_id", id).Msg("shutdown_all: worker shutdown failed")
		}
	}
}

// RestartWorker shuts down an existing worker and spawns a replacement,
// returning the new worker's id.
func (m *Manager) RestartWorker(workerID string) (string, error) {
	if err := m.ShutdownWorker(workerID); err != nil {
		return "", err
	}
	return m.SpawnWorker("")
}

// Scale updates the min/max worker bounds the scheduling tick enforces.
func (m *Manager) Scale(min, max int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if min < 0 || max < min {
		return errInvalidScale
	}
	m.minW = min
	m.maxW = max
	return nil
}

// Bounds returns the current min/max worker configuration.
func (m *Manager) Bounds() (min, max int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.minW, m.maxW
}

// ProcessCount returns the number of locally supervised worker processes.
func (m *Manager) ProcessCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.processes)
}

// ProcessIDs returns the ids of every locally supervised worker process.
func (m *Manager) ProcessIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.processes))
	for id := range m.processes {
		ids = append(ids, id)
	}
	return ids
}
