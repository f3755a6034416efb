package store

import (
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/hama-jp/koubou-go/internal/task"
)

// RegisterWorker upserts a worker row to idle/heartbeat-now, overwriting any
// stale row for the same id.
func (s *Store) RegisterWorker(workerID string, meta task.WorkerMeta) (bool, error) {
	now := time.Now().UTC()
	w := &task.Worker{
		ID:                workerID,
		Location:          meta.Location,
		EndpointURL:       meta.EndpointURL,
		Capabilities:      meta.Capabilities,
		PerformanceFactor: meta.PerformanceFactor,
		MaxConcurrent:     meta.MaxConcurrent,
		Status:            task.WorkerIdle,
		LastHeartbeat:     now,
		CreatedAt:         now,
	}
	if w.PerformanceFactor == 0 {
		w.PerformanceFactor = 1.0
	}

	err := s.withRetry("register_worker", func(tx *bolt.Tx) error {
		data, err := json.Marshal(w)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketWorkers).Put(workerKey(workerID), data)
	})
	if err != nil {
		return false, err
	}

	s.idxMu.Lock()
	s.indexWorkerLocked(w)
	s.idxMu.Unlock()
	return true, nil
}

// GetWorker returns a worker by id.
func (s *Store) GetWorker(workerID string) (*task.Worker, error) {
	var w *task.Worker
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketWorkers).Get(workerKey(workerID))
		if v == nil {
			return task.ErrTaskNotFound
		}
		var decoded task.Worker
		if err := json.Unmarshal(v, &decoded); err != nil {
			return err
		}
		w = &decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// UpdateWorkerStatus sets a worker's status and optionally its current
// task (pass nil to leave current_task unchanged, empty string to clear).
func (s *Store) UpdateWorkerStatus(workerID string, status task.WorkerStatus, currentTask *string) (bool, error) {
	var updated *task.Worker
	ok := false
	err := s.withRetry("update_worker_status", func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkers)
		v := b.Get(workerKey(workerID))
		if v == nil {
			return nil
		}
		var w task.Worker
		if err := json.Unmarshal(v, &w); err != nil {
			return err
		}
		w.Status = status
		if currentTask != nil {
			w.CurrentTask = *currentTask
		}
		data, err := json.Marshal(&w)
		if err != nil {
			return err
		}
		if err := b.Put(workerKey(workerID), data); err != nil {
			return err
		}
		updated = &w
		ok = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if ok {
		s.idxMu.Lock()
		s.indexWorkerLocked(updated)
		s.idxMu.Unlock()
	}
	return ok, nil
}

// UpdateWorkerHeartbeat refreshes last_heartbeat to now.
func (s *Store) UpdateWorkerHeartbeat(workerID string) error {
	return s.withRetry("update_worker_heartbeat", func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkers)
		v := b.Get(workerKey(workerID))
		if v == nil {
			return nil
		}
		var w task.Worker
		if err := json.Unmarshal(v, &w); err != nil {
			return err
		}
		w.LastHeartbeat = time.Now().UTC()
		data, err := json.Marshal(&w)
		if err != nil {
			return err
		}
		return b.Put(workerKey(workerID), data)
	})
}

// GetActiveWorkers returns workers whose heartbeat is fresher than tDead.
func (s *Store) GetActiveWorkers(tDead time.Duration) ([]*task.Worker, error) {
	var workers []*task.Worker
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWorkers).ForEach(func(k, v []byte) error {
			var w task.Worker
			if err := json.Unmarshal(v, &w); err != nil {
				return err
			}
			if w.IsAlive(tDead) {
				workers = append(workers, &w)
			}
			return nil
		})
	})
	return workers, err
}

// GetAllWorkers returns every worker row, regardless of liveness.
func (s *Store) GetAllWorkers() ([]*task.Worker, error) {
	var workers []*task.Worker
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWorkers).ForEach(func(k, v []byte) error {
			var w task.Worker
			if err := json.Unmarshal(v, &w); err != nil {
				return err
			}
			workers = append(workers, &w)
			return nil
		})
	})
	return workers, err
}

// CleanupDeadWorkers reaps workers whose heartbeat has aged past tDead:
// their in-progress task is reset to pending (orphan recovery) and the
// worker row removed, all within one transaction. It is idempotent: a
// second call over the same state finds nothing left to reap.
func (s *Store) CleanupDeadWorkers(tDead time.Duration) (int, error) {
	reaped := 0
	var touchedTasks []*task.Task
	var removedWorkerIDs []string

	err := s.withRetry("cleanup_dead_workers", func(tx *bolt.Tx) error {
		reaped = 0
		touchedTasks = nil
		removedWorkerIDs = nil

		wb := tx.Bucket(bucketWorkers)
		tb := tx.Bucket(bucketTasks)

		var deadIDs []string
		if err := wb.ForEach(func(k, v []byte) error {
			var w task.Worker
			if err := json.Unmarshal(v, &w); err != nil {
				return err
			}
			if !w.IsAlive(tDead) {
				deadIDs = append(deadIDs, w.ID)
			}
			return nil
		}); err != nil {
			return err
		}

		for _, workerID := range deadIDs {
			var orphaned []*task.Task
			if err := tb.ForEach(func(k, v []byte) error {
				var t task.Task
				if err := json.Unmarshal(v, &t); err != nil {
					return err
				}
				if t.Status != task.StatusInProgress || t.AssignedTo != workerID {
					return nil
				}
				sm := task.NewStateMachine(&t)
				if err := sm.Requeue(); err != nil {
					return nil
				}
				orphaned = append(orphaned, &t)
				return nil
			}); err != nil {
				return err
			}

			for _, t := range orphaned {
				data, err := json.Marshal(t)
				if err != nil {
					return err
				}
				if err := tb.Put(taskKey(t.ID), data); err != nil {
					return err
				}
				touchedTasks = append(touchedTasks, t)
			}

			if err := wb.Delete(workerKey(workerID)); err != nil {
				return err
			}
			removedWorkerIDs = append(removedWorkerIDs, workerID)
			reaped++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.idxMu.Lock()
	for _, t := range touchedTasks {
		s.indexTaskLocked(t)
	}
	for _, id := range removedWorkerIDs {
		for _, set := range s.workersByStat {
			delete(set, id)
		}
	}
	s.idxMu.Unlock()

	return reaped, nil
}
