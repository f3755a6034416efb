package store

import (
	"encoding/binary"
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/hama-jp/koubou-go/internal/task"
)

func notificationKey(id uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, id)
	return buf
}

// EnqueueNotification durably queues a PoolManager->Worker message. Rows
// are never deleted within a worker's lifetime, only marked processed, so
// duplicate consumers converge.
func (s *Store) EnqueueNotification(workerID string, kind task.NotificationKind, taskID string) error {
	s.idxMu.Lock()
	s.notifSeq++
	id := s.notifSeq
	s.idxMu.Unlock()

	n := &task.Notification{
		ID:        id,
		WorkerID:  workerID,
		Kind:      kind,
		TaskID:    taskID,
		CreatedAt: time.Now().UTC(),
	}
	return s.withRetry("enqueue_notification", func(tx *bolt.Tx) error {
		data, err := json.Marshal(n)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketNotifications).Put(notificationKey(n.ID), data)
	})
}

// ClaimNotifications returns every unprocessed notification for workerID
// and marks them processed in the same transaction that reads them.
func (s *Store) ClaimNotifications(workerID string) ([]*task.Notification, error) {
	var claimed []*task.Notification
	err := s.withRetry("claim_notifications", func(tx *bolt.Tx) error {
		claimed = nil
		b := tx.Bucket(bucketNotifications)

		type pending struct {
			key []byte
			n   *task.Notification
		}
		var toClaim []pending

		if err := b.ForEach(func(k, v []byte) error {
			var n task.Notification
			if err := json.Unmarshal(v, &n); err != nil {
				return err
			}
			if n.Processed || n.WorkerID != workerID {
				return nil
			}
			n.Processed = true
			// k is only valid for the life of the transaction/ForEach call;
			// copy it before using it after ForEach returns.
			key := append([]byte(nil), k...)
			toClaim = append(toClaim, pending{key: key, n: &n})
			return nil
		}); err != nil {
			return err
		}

		for _, p := range toClaim {
			data, err := json.Marshal(p.n)
			if err != nil {
				return err
			}
			if err := b.Put(p.key, data); err != nil {
				return err
			}
			claimed = append(claimed, p.n)
		}
		return nil
	})
	return claimed, err
}
