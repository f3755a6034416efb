package store

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/hama-jp/koubou-go/internal/metrics"
	"github.com/hama-jp/koubou-go/internal/task"
)

// CreateTask inserts a new pending task, returning false if task_id already
// exists: no two callers may create the same id.
func (s *Store) CreateTask(taskID string, content task.Content, priority int, createdBy string) (bool, error) {
	t := task.New(taskID, content, priority, createdBy)

	created := false
	err := s.withRetry("create_task", func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		if b.Get(taskKey(t.ID)) != nil {
			return nil
		}
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("marshal task: %w", err)
		}
		if err := b.Put(taskKey(t.ID), data); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if created {
		s.idxMu.Lock()
		s.indexTaskLocked(t)
		s.idxMu.Unlock()
	}
	return created, nil
}

// GetTask returns a task by id, or task.ErrTaskNotFound.
func (s *Store) GetTask(taskID string) (*task.Task, error) {
	var t *task.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketTasks).Get(taskKey(taskID))
		if v == nil {
			return task.ErrTaskNotFound
		}
		decoded, err := task.FromJSON(v)
		if err != nil {
			return err
		}
		t = decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// GetPendingTasks returns up to limit pending tasks ordered by
// (priority desc, created_at asc).
func (s *Store) GetPendingTasks(limit int) ([]*task.Task, error) {
	s.idxMu.RLock()
	ids := make([]string, 0, limit)
	for i, p := range s.pending {
		if limit > 0 && i >= limit {
			break
		}
		ids = append(ids, p.taskID)
	}
	s.idxMu.RUnlock()

	tasks := make([]*task.Task, 0, len(ids))
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		for _, id := range ids {
			v := b.Get(taskKey(id))
			if v == nil {
				continue
			}
			t, err := task.FromJSON(v)
			if err != nil {
				return err
			}
			tasks = append(tasks, t)
		}
		return nil
	})
	return tasks, err
}

// GetTasksByStatus returns up to limit tasks with the given status, in no
// particular order beyond bucket iteration (used for active/completed
// listings where priority ordering is not load-bearing).
func (s *Store) GetTasksByStatus(status task.Status, limit int) ([]*task.Task, error) {
	s.idxMu.RLock()
	ids := make([]string, 0, len(s.byStatus[status]))
	for id := range s.byStatus[status] {
		ids = append(ids, id)
	}
	s.idxMu.RUnlock()

	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	tasks := make([]*task.Task, 0, len(ids))
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		for _, id := range ids {
			v := b.Get(taskKey(id))
			if v == nil {
				continue
			}
			t, err := task.FromJSON(v)
			if err != nil {
				return err
			}
			tasks = append(tasks, t)
		}
		return nil
	})
	return tasks, err
}

// AcquireNextTask atomically claims the top-of-queue pending task for
// workerID: sets the task in_progress/assigned_to and the worker
// busy/current_task in the same transaction, so no two workers can ever
// claim the same task.
func (s *Store) AcquireNextTask(workerID string) (*task.Task, error) {
	s.idxMu.RLock()
	candidates := make([]string, 0, len(s.pending))
	for _, p := range s.pending {
		candidates = append(candidates, p.taskID)
	}
	s.idxMu.RUnlock()
	if len(candidates) == 0 {
		return nil, nil
	}

	var claimed *task.Task
	var claimedWorker *task.Worker
	now := time.Now().UTC()

	err := s.withRetry("acquire_next_task", func(tx *bolt.Tx) error {
		claimed = nil
		tb := tx.Bucket(bucketTasks)
		// Take the first task of the queue-ordered snapshot that is still
		// pending; a concurrent transaction may already have claimed the head.
		var t *task.Task
		for _, id := range candidates {
			if v := tb.Get(taskKey(id)); v != nil {
				decoded, err := task.FromJSON(v)
				if err != nil {
					return err
				}
				if decoded.Status == task.StatusPending {
					t = decoded
					break
				}
			}
		}
		if t == nil {
			return nil // every queued task was claimed concurrently
		}
		sm := task.NewStateMachine(t)
		if err := sm.Claim(workerID); err != nil {
			return err
		}
		data, err := json.Marshal(t)
		if err != nil {
			return err
		}
		if err := tb.Put(taskKey(t.ID), data); err != nil {
			return err
		}

		wb := tx.Bucket(bucketWorkers)
		wv := wb.Get(workerKey(workerID))
		var w task.Worker
		if wv != nil {
			if err := json.Unmarshal(wv, &w); err != nil {
				return err
			}
		} else {
			w = task.Worker{ID: workerID}
		}
		w.Status = task.WorkerBusy
		w.CurrentTask = t.ID
		w.LastHeartbeat = now
		wdata, err := json.Marshal(&w)
		if err != nil {
			return err
		}
		if err := wb.Put(workerKey(workerID), wdata); err != nil {
			return err
		}

		claimed = t
		claimedWorker = &w
		return nil
	})
	if err != nil {
		return nil, err
	}
	if claimed == nil {
		return nil, nil
	}

	s.idxMu.Lock()
	s.indexTaskLocked(claimed)
	s.indexWorkerLocked(claimedWorker)
	s.idxMu.Unlock()
	metrics.RecordQueueLatency(claimed.Priority, now.Sub(claimed.CreatedAt).Seconds())
	return claimed, nil
}

// AssignTaskToWorker conditionally transitions pending -> in_progress for
// taskID, matched on the task still being pending. Used by PoolManager's
// dispatch step so it cannot double-assign against a racing
// AcquireNextTask call.
func (s *Store) AssignTaskToWorker(taskID, workerID string) (bool, error) {
	var updated *task.Task
	ok := false
	err := s.withRetry("assign_task_to_worker", func(tx *bolt.Tx) error {
		tb := tx.Bucket(bucketTasks)
		v := tb.Get(taskKey(taskID))
		if v == nil {
			return task.ErrTaskNotFound
		}
		t, err := task.FromJSON(v)
		if err != nil {
			return err
		}
		if t.Status != task.StatusPending {
			return nil
		}
		sm := task.NewStateMachine(t)
		if err := sm.Claim(workerID); err != nil {
			return err
		}
		data, err := json.Marshal(t)
		if err != nil {
			return err
		}
		if err := tb.Put(taskKey(t.ID), data); err != nil {
			return err
		}
		updated = t
		ok = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if ok {
		s.idxMu.Lock()
		s.indexTaskLocked(updated)
		s.idxMu.Unlock()
		metrics.RecordQueueLatency(updated.Priority, time.Since(updated.CreatedAt).Seconds())
	}
	return ok, nil
}

// CompleteTaskWithStats conditionally transitions an in_progress task to a
// terminal status, matched on (task_id, assigned_to=workerID); it is a
// no-op if the precondition does not hold. On success it also resets the
// worker to idle and bumps its completed/failed counter.
func (s *Store) CompleteTaskWithStats(taskID, workerID string, result *task.Result) (bool, error) {
	var updatedTask *task.Task
	var updatedWorker *task.Worker
	ok := false
	now := time.Now().UTC()

	err := s.withRetry("complete_task_with_stats", func(tx *bolt.Tx) error {
		tb := tx.Bucket(bucketTasks)
		tv := tb.Get(taskKey(taskID))
		if tv == nil {
			return task.ErrTaskNotFound
		}
		t, err := task.FromJSON(tv)
		if err != nil {
			return err
		}
		if t.Status != task.StatusInProgress || t.AssignedTo != workerID {
			return nil
		}
		sm := task.NewStateMachine(t)
		if err := sm.Complete(result); err != nil {
			return err
		}
		tdata, err := json.Marshal(t)
		if err != nil {
			return err
		}
		if err := tb.Put(taskKey(t.ID), tdata); err != nil {
			return err
		}

		wb := tx.Bucket(bucketWorkers)
		wv := wb.Get(workerKey(workerID))
		if wv == nil {
			return task.ErrTaskNotFound
		}
		var w task.Worker
		if err := json.Unmarshal(wv, &w); err != nil {
			return err
		}
		w.Status = task.WorkerIdle
		w.CurrentTask = ""
		w.LastHeartbeat = now
		if t.Status == task.StatusCompleted {
			w.TasksCompleted++
		} else {
			w.TasksFailed++
		}
		wdata, err := json.Marshal(&w)
		if err != nil {
			return err
		}
		if err := wb.Put(workerKey(workerID), wdata); err != nil {
			return err
		}

		updatedTask = t
		updatedWorker = &w
		ok = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if ok {
		s.idxMu.Lock()
		s.indexTaskLocked(updatedTask)
		s.indexWorkerLocked(updatedWorker)
		s.idxMu.Unlock()
	}
	return ok, nil
}

// UpdateTaskStatus unconditionally sets a task's status (and optionally its
// result), used by cancellation and orphan recovery.
func (s *Store) UpdateTaskStatus(taskID string, status task.Status, result *task.Result) (bool, error) {
	var updated *task.Task
	ok := false
	err := s.withRetry("update_task_status", func(tx *bolt.Tx) error {
		tb := tx.Bucket(bucketTasks)
		v := tb.Get(taskKey(taskID))
		if v == nil {
			return task.ErrTaskNotFound
		}
		t, err := task.FromJSON(v)
		if err != nil {
			return err
		}
		t.Status = status
		t.UpdatedAt = time.Now().UTC()
		if status == task.StatusPending {
			t.AssignedTo = ""
		}
		if result != nil {
			t.Result = result
		}
		data, err := json.Marshal(t)
		if err != nil {
			return err
		}
		if err := tb.Put(taskKey(t.ID), data); err != nil {
			return err
		}
		updated = t
		ok = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if ok {
		s.idxMu.Lock()
		s.indexTaskLocked(updated)
		s.idxMu.Unlock()
	}
	return ok, nil
}
