package store

import "github.com/hama-jp/koubou-go/internal/task"

// GetStatistics returns the aggregate tasks-by-status and workers-by-status
// view served by MasterAPI's /system/info and the monitor socket's
// get_status command.
func (s *Store) GetStatistics() (task.Statistics, error) {
	s.idxMu.RLock()
	defer s.idxMu.RUnlock()

	stats := task.Statistics{
		TasksByStatus:   make(map[string]int),
		WorkersByStatus: make(map[string]int),
	}
	for status, set := range s.byStatus {
		stats.TasksByStatus[status.String()] = len(set)
	}
	for status, set := range s.workersByStat {
		stats.WorkersByStatus[status.String()] = len(set)
	}
	return stats, nil
}

// PendingCount and ActiveCount back PoolManager's scheduling tick
// back-pressure checks without requiring a full GetPendingTasks/GetTasksByStatus
// scan.
func (s *Store) PendingCount() int {
	s.idxMu.RLock()
	defer s.idxMu.RUnlock()
	return len(s.pending)
}

func (s *Store) ActiveTaskCount() int {
	s.idxMu.RLock()
	defer s.idxMu.RUnlock()
	return len(s.byStatus[task.StatusInProgress])
}

func (s *Store) ActiveWorkerCount() int {
	s.idxMu.RLock()
	defer s.idxMu.RUnlock()
	count := 0
	for status, set := range s.workersByStat {
		if status != task.WorkerOffline {
			count += len(set)
		}
	}
	return count
}

// PendingCountsByPriority returns the number of pending tasks at each
// priority level, for the queue-depth gauge.
func (s *Store) PendingCountsByPriority() map[int]int {
	s.idxMu.RLock()
	defer s.idxMu.RUnlock()
	counts := make(map[int]int)
	for _, p := range s.pending {
		counts[p.priority]++
	}
	return counts
}

func (s *Store) IdleWorkerIDs() []string {
	s.idxMu.RLock()
	defer s.idxMu.RUnlock()
	ids := make([]string, 0, len(s.workersByStat[task.WorkerIdle]))
	for id := range s.workersByStat[task.WorkerIdle] {
		ids = append(ids, id)
	}
	return ids
}
