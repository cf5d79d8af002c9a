// --- File: internal/storage/bolt/history.go ---
// Package bolt stores delivery history in an embedded bbolt file.
package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/tinywideclouds/go-fanout-service/pkg/fanout"
)

var _ fanout.Recorder = (*HistoryStore)(nil)

var bucketHistory = []byte("push_histories")

// HistoryStore is a BoltDB-backed fanout.Recorder. Keys are big-endian
// sequence numbers so cursor order is insertion order.
type HistoryStore struct {
	db  *bolt.DB
	now func() time.Time
}

// New opens (or creates) the history file at path.
func New(path string) (*HistoryStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt history %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketHistory)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &HistoryStore{db: db, now: time.Now}, nil
}

// Close closes underlying Bolt DB.
func (s *HistoryStore) Close() error {
	return s.db.Close()
}

func (s *HistoryStore) Record(ctx context.Context, result *fanout.Result, ownerID, title, body string, target fanout.Target) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	rec := fanout.NewRecord(uuid.NewString(), s.now(), result, ownerID, title, body, target)
	payload, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketHistory)
		seq, err := bkt.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		return bkt.Put(key, payload)
	})
	if err != nil {
		return "", fmt.Errorf("failed to append history: %w", err)
	}
	return rec.ID, nil
}

// ListRecent walks the bucket backwards from the newest entry.
func (s *HistoryStore) ListRecent(ctx context.Context, ownerID string, limit int) ([]fanout.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	records := make([]fanout.Record, 0, max(limit, 0))
	if limit <= 0 {
		return records, nil
	}
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketHistory).Cursor()
		for k, v := c.Last(); k != nil && len(records) < limit; k, v = c.Prev() {
			var rec fanout.Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.OwnerID == ownerID {
				records = append(records, rec)
			}
		}
		return nil
	})
	return records, err
}

func (s *HistoryStore) CountSince(ctx context.Context, ownerID string, since time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHistory).ForEach(func(_, v []byte) error {
			var rec fanout.Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.OwnerID == ownerID && !rec.CreatedAt.Before(since) {
				count++
			}
			return nil
		})
	})
	return count, err
}
