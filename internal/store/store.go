// Package store provides the durable, single-writer-friendly task and
// worker ledger the rest of the system treats as the single source of
// truth. It is backed by go.etcd.io/bbolt, an embedded write-ahead B+tree
// engine: the one place state is allowed to live across process restarts.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/hama-jp/koubou-go/internal/metrics"
	"github.com/hama-jp/koubou-go/internal/task"
)

var (
	bucketTasks         = []byte("tasks")
	bucketWorkers       = []byte("workers")
	bucketNotifications = []byte("notifications")
)

// ErrStoreBusy is returned when a bbolt transaction could not acquire the
// writer lock after the configured retry budget.
var ErrStoreBusy = errors.New("store: busy, retry")

// retryAttempts and retryBaseDelay implement the bounded exponential
// back-off on bbolt lock contention: 0.1 * 2^i seconds, up to 3 attempts.
const retryAttempts = 3

var retryBaseDelay = 100 * time.Millisecond

// Store is the bbolt-backed task/worker ledger. Safe for concurrent use:
// bbolt serializes Update transactions internally, and the secondary
// indexes are guarded by idxMu.
type Store struct {
	db   *bolt.DB
	path string

	idxMu         sync.RWMutex
	byStatus      map[task.Status]map[string]struct{}
	pending       []pendingEntry
	workersByStat map[task.WorkerStatus]map[string]struct{}
	notifSeq      uint64
}

type pendingEntry struct {
	taskID    string
	priority  int
	createdAt time.Time
}

// Options configures Store construction.
type Options struct {
	Path    string
	Timeout time.Duration // bbolt open timeout, busy-timeout analogue
}

// Open opens (creating if absent) the bbolt file at opts.Path, ensures the
// bucket layout exists, and rebuilds the in-memory secondary indexes from
// its contents.
func Open(opts Options) (*Store, error) {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	db, err := bolt.Open(opts.Path, 0o600, &bolt.Options{
		Timeout:        opts.Timeout,
		NoFreelistSync: false,
	})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", opts.Path, err)
	}
	db.NoSync = false

	s := &Store{
		db:            db,
		path:          opts.Path,
		byStatus:      make(map[task.Status]map[string]struct{}),
		workersByStat: make(map[task.WorkerStatus]map[string]struct{}),
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketTasks, bucketWorkers, bucketNotifications} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("store: create bucket %s: %w", b, err)
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: schema init: %w", err)
	}

	if err := s.rebuildIndexes(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: rebuild indexes: %w", err)
	}

	return s, nil
}

// Close releases the underlying bbolt file handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) rebuildIndexes() error {
	s.idxMu.Lock()
	defer s.idxMu.Unlock()

	return s.db.View(func(tx *bolt.Tx) error {
		tb := tx.Bucket(bucketTasks)
		if err := tb.ForEach(func(k, v []byte) error {
			var t task.Task
			if err := json.Unmarshal(v, &t); err != nil {
				return fmt.Errorf("corrupt task record %s: %w", k, err)
			}
			s.indexTaskLocked(&t)
			return nil
		}); err != nil {
			return err
		}

		wb := tx.Bucket(bucketWorkers)
		if err := wb.ForEach(func(k, v []byte) error {
			var w task.Worker
			if err := json.Unmarshal(v, &w); err != nil {
				return fmt.Errorf("corrupt worker record %s: %w", k, err)
			}
			s.indexWorkerLocked(&w)
			return nil
		}); err != nil {
			return err
		}

		nb := tx.Bucket(bucketNotifications)
		c := nb.Cursor()
		if k, _ := c.Last(); k != nil {
			var n task.Notification
			if v := nb.Get(k); v != nil {
				if err := json.Unmarshal(v, &n); err == nil {
					s.notifSeq = n.ID
				}
			}
		}
		return nil
	})
}

// indexTaskLocked must be called with idxMu held.
func (s *Store) indexTaskLocked(t *task.Task) {
	for _, set := range s.byStatus {
		delete(set, t.ID)
	}
	if s.byStatus[t.Status] == nil {
		s.byStatus[t.Status] = make(map[string]struct{})
	}
	s.byStatus[t.Status][t.ID] = struct{}{}

	s.removePendingLocked(t.ID)
	if t.Status == task.StatusPending {
		s.pending = append(s.pending, pendingEntry{t.ID, t.Priority, t.CreatedAt})
		sort.SliceStable(s.pending, func(i, j int) bool {
			if s.pending[i].priority != s.pending[j].priority {
				return s.pending[i].priority > s.pending[j].priority
			}
			return s.pending[i].createdAt.Before(s.pending[j].createdAt)
		})
	}
}

func (s *Store) removePendingLocked(taskID string) {
	for i, p := range s.pending {
		if p.taskID == taskID {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}

func (s *Store) indexWorkerLocked(w *task.Worker) {
	for _, set := range s.workersByStat {
		delete(set, w.ID)
	}
	if s.workersByStat[w.Status] == nil {
		s.workersByStat[w.Status] = make(map[string]struct{})
	}
	s.workersByStat[w.Status][w.ID] = struct{}{}
}

// withRetry runs fn inside a bbolt Update transaction, retrying with
// bounded exponential back-off on ErrTimeout. op names the calling method
// for the store_operation_duration/store_retries metrics.
func (s *Store) withRetry(op string, fn func(tx *bolt.Tx) error) error {
	start := time.Now()
	defer func() { metrics.RecordStoreOperation(op, time.Since(start).Seconds()) }()

	var lastErr error
	delay := retryBaseDelay
	for i := 0; i < retryAttempts; i++ {
		err := s.db.Update(fn)
		if err == nil {
			return nil
		}
		if !errors.Is(err, bolt.ErrTimeout) {
			return err
		}
		lastErr = err
		metrics.RecordStoreRetry(op)
		time.Sleep(delay)
		delay *= 2
	}
	return fmt.Errorf("%w: %v", ErrStoreBusy, lastErr)
}

func taskKey(id string) []byte   { return []byte(id) }
func workerKey(id string) []byte { return []byte(id) }
