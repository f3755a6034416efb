// Package pool implements the PoolManager: it owns the set of worker
// processes, runs the periodic scheduling tick (back-pressure, scale,
// dispatch, health, stats), and serves the monitor/control Unix domain
// sockets used to observe and drive it from outside the process.
package pool

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hama-jp/koubou-go/internal/bus"
	"github.com/hama-jp/koubou-go/internal/config"
	"github.com/hama-jp/koubou-go/internal/logger"
	"github.com/hama-jp/koubou-go/internal/metrics"
	"github.com/hama-jp/koubou-go/internal/router"
	"github.com/hama-jp/koubou-go/internal/store"
	"github.com/hama-jp/koubou-go/internal/task"
)

// process tracks one spawned local worker subprocess.
type process struct {
	cmd       *exec.Cmd
	startedAt time.Time
}

// Manager owns the worker process table and the scheduling tick. It does
// not itself run tasks; it only spawns/supervises worker processes and
// dispatches assignments through the Store.
type Manager struct {
	cfg    config.PoolConfig
	store  *store.Store
	bus    bus.Bus
	router *router.Router

	mu        sync.Mutex
	processes map[string]*process
	minW      int
	maxW      int

	controlToken string
}

// New builds a Manager. rtr is typically built from cfg's routing policy;
// callers own that wiring so Manager stays agnostic of config.RouterConfig.
func New(cfg config.PoolConfig, st *store.Store, b bus.Bus, rtr *router.Router, controlToken string) *Manager {
	return &Manager{
		cfg:          cfg,
		store:        st,
		bus:          b,
		router:       rtr,
		processes:    make(map[string]*process),
		minW:         cfg.MinWorkers,
		maxW:         cfg.MaxWorkers,
		controlToken: controlToken,
	}
}

// Start spawns min_workers local workers and registers every configured
// remote worker directly (no subprocess), then runs the scheduling tick
// loop until ctx is canceled.
func (m *Manager) Start(ctx context.Context) error {
	log := logger.WithComponent("pool.manager")

	for i := 0; i < m.minW; i++ {
		if _, err := m.SpawnWorker(""); err != nil {
			log.Error().Err(err).Msg("failed to spawn initial worker")
		}
	}

	for _, rw := range m.cfg.RemoteWorkers {
		meta := task.WorkerMeta{
			Location:          task.LocationRemote,
			EndpointURL:       rw.EndpointURL,
			Capabilities:      rw.Capabilities,
			PerformanceFactor: rw.PerformanceFactor,
		}
		if _, err := m.store.RegisterWorker(rw.ID, meta); err != nil {
			log.Error().Err(err).Str("worker_id", rw.ID).Msg("failed to register remote worker")
		}
	}

	interval := m.cfg.TickInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.ShutdownAll()
			return nil
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// newWorkerID mints a worker id in the teacher-observed
// worker_<timestamp>-ish shape, adapted to a uuid suffix for uniqueness
// under concurrent spawns.
func newWorkerID() string {
	return fmt.Sprintf("worker_%s", uuid.New().String())
}
