package pool

import (
	"context"
	"time"

	"github.com/hama-jp/koubou-go/internal/bus"
	"github.com/hama-jp/koubou-go/internal/logger"
	"github.com/hama-jp/koubou-go/internal/metrics"
	"github.com/hama-jp/koubou-go/internal/task"
)

// topKDispatch bounds how many pending tasks one tick tries to dispatch,
// so a dispatch storm never blocks the tick past its own interval.
const topKDispatch = 20

// tick runs one scheduling pass: read counts, back-pressure check, scale
// up, dispatch pending work, health/cleanup, scale down, emit stats.
func (m *Manager) tick(ctx context.Context) {
	log := logger.WithComponent("pool.manager")

	pending := m.store.PendingCount()
	active := m.store.ActiveTaskCount()
	activeWorkers := m.store.ActiveWorkerCount()

	min, max := m.Bounds()

	backPressured := active >= m.cfg.MaxActiveTasks && m.cfg.MaxActiveTasks > 0
	if !backPressured {
		m.scaleUp(pending, active, activeWorkers, max)
	}

	m.dispatchPending()

	deadInterval := m.cfg.DeadInterval
	if deadInterval <= 0 {
		deadInterval = 60 * time.Second
	}
	reaped, err := m.store.CleanupDeadWorkers(deadInterval)
	if err != nil {
		log.Error().Err(err).Msg("cleanup_dead_workers failed")
	} else if reaped > 0 {
		metrics.RecordWorkersReaped(reaped)
		metrics.RecordOrphanedTasksRecovered(reaped)
		log.Info().Int("reaped", reaped).Msg("reaped dead workers and requeued their tasks")
	}

	m.scaleDown(pending, activeWorkers, min)

	m.emitStats(ctx)
}

// scaleUp implements the spec's two scale-up branches: an immediate spawn
// when no worker exists at all, else a bounded batch sized to whichever of
// pending/slack/headroom is smallest.
func (m *Manager) scaleUp(pending, active, activeWorkers, max int) {
	if pending <= 0 {
		return
	}
	if activeWorkers == 0 {
		if _, err := m.SpawnWorker(""); err != nil {
			logger.WithComponent("pool.manager").Error().Err(err).Msg("scale-up: failed to spawn worker for idle queue")
		}
		return
	}
	if active >= m.cfg.MaxActiveTasks || activeWorkers >= max {
		return
	}
	slack := m.cfg.MaxActiveTasks - active
	headroom := max - activeWorkers
	toSpawn := min3(pending, slack, headroom)
	for i := 0; i < toSpawn; i++ {
		if _, err := m.SpawnWorker(""); err != nil {
			logger.WithComponent("pool.manager").Error().Err(err).Msg("scale-up: failed to spawn worker")
			break
		}
	}
}

// scaleDown terminates idle workers down to minWorkers when nothing is
// pending.
func (m *Manager) scaleDown(pending, activeWorkers, minWorkers int) {
	if pending != 0 || activeWorkers <= minWorkers {
		return
	}
	toRemove := activeWorkers - minWorkers
	idle := m.store.IdleWorkerIDs()
	for i := 0; i < toRemove && i < len(idle); i++ {
		metrics.RecordWorkerTerminated("scale_down")
		if err := m.ShutdownWorker(idle[i]); err != nil {
			logger.WithComponent("pool.manager").Warn().Err(err).Str("worker_id", idle[i]).Msg("scale-down: shutdown failed")
		}
	}
}

// dispatchPending routes the top-K pending tasks to idle workers via
// Router, conditionally claiming each so a racing AcquireNextTask call
// cannot double-assign.
func (m *Manager) dispatchPending() {
	pending, err := m.store.GetPendingTasks(topKDispatch)
	if err != nil {
		logger.WithComponent("pool.manager").Error().Err(err).Msg("failed to read pending tasks")
		return
	}
	if len(pending) == 0 {
		return
	}

	workers, err := m.store.GetAllWorkers()
	if err != nil {
		logger.WithComponent("pool.manager").Error().Err(err).Msg("failed to read workers")
		return
	}

	for _, t := range pending {
		idle := idleOnly(workers)
		chosen := m.router.Route(t, idle)
		if chosen == nil {
			metrics.RecordRoutingDecision("none")
			continue
		}

		class := "local"
		for i, w := range workers {
			if w.ID == *chosen {
				if w.Location == task.LocationRemote {
					class = "remote"
				}
				// Locally mark the chosen worker busy so the next task in
				// this batch doesn't route to the same one before the
				// Store round-trip lands; next tick reconciles from the
				// Store regardless.
				workers[i].Status = task.WorkerBusy
				break
			}
		}

		m.assign(t, *chosen, class)
	}
}

func (m *Manager) assign(t *task.Task, workerID, class string) {
	log := logger.WithComponent("pool.manager").With().Str("task_id", t.ID).Str("worker_id", workerID).Logger()

	ok, err := m.store.AssignTaskToWorker(t.ID, workerID)
	if err != nil {
		log.Error().Err(err).Msg("assign failed")
		return
	}
	if !ok {
		log.Debug().Msg("assign precondition failed, task already claimed")
		return
	}
	if _, err := m.store.UpdateWorkerStatus(workerID, task.WorkerBusy, &t.ID); err != nil {
		log.Warn().Err(err).Msg("failed to mark worker busy after assignment")
	}
	if err := m.store.EnqueueNotification(workerID, task.NotificationTaskAssigned, t.ID); err != nil {
		log.Error().Err(err).Msg("failed to enqueue assignment notification")
		return
	}
	metrics.RecordRoutingDecision(class)
	log.Info().Msg("dispatched task to worker")

	m.publishTaskStatus(context.Background(), t.ID, task.StatusInProgress, workerID)
}

func (m *Manager) publishTaskStatus(ctx context.Context, taskID string, status task.Status, workerID string) {
	if m.bus == nil {
		return
	}
	msg, err := bus.NewMessage(bus.ChannelTaskStatus, "task_status", bus.TaskStatusPayload{
		TaskID:     taskID,
		Status:     status.String(),
		AssignedTo: workerID,
	})
	if err != nil {
		return
	}
	if err := m.bus.Publish(ctx, bus.ChannelTaskStatus, msg); err != nil {
		metrics.RecordBusPublishError("pool", bus.ChannelTaskStatus)
	}
}

func idleOnly(workers []*task.Worker) []*task.Worker {
	out := make([]*task.Worker, 0, len(workers))
	for _, w := range workers {
		if w.IsIdle() {
			out = append(out, w)
		}
	}
	return out
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	if m < 0 {
		return 0
	}
	return m
}

// emitStats publishes a periodic stats snapshot to logs, metrics, and the
// MessageBus.
func (m *Manager) emitStats(ctx context.Context) {
	stats, err := m.store.GetStatistics()
	if err != nil {
		logger.WithComponent("pool.manager").Error().Err(err).Msg("failed to read statistics")
		return
	}

	activeWorkers := 0
	for status, count := range stats.WorkersByStatus {
		if status != task.WorkerOffline.String() {
			activeWorkers += count
		}
	}
	metrics.SetActiveWorkers(float64(activeWorkers))
	for status, count := range stats.WorkersByStatus {
		metrics.SetWorkersByStatus(status, float64(count))
	}
	for priority, count := range m.store.PendingCountsByPriority() {
		metrics.UpdateQueueDepth(priority, float64(count))
	}

	logger.WithComponent("pool.manager").Info().
		Interface("tasks_by_status", stats.TasksByStatus).
		Interface("workers_by_status", stats.WorkersByStatus).
		Msg("pool stats")

	if m.bus == nil {
		return
	}
	msg, err := bus.NewMessage(bus.ChannelPoolStats, "pool_stats", stats)
	if err != nil {
		return
	}
	if err := m.bus.Publish(ctx, bus.ChannelPoolStats, msg); err != nil {
		metrics.RecordBusPublishError("pool", bus.ChannelPoolStats)
		logger.WithComponent("pool.manager").Warn().Err(err).Msg("failed to publish pool stats")
	}
}
