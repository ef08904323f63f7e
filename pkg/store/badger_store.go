// Package store persists TrackedSourceState per video id in a local
// badger database. Records are keyed individually so concurrent writers
// never rewrite the whole collection.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"vidproxy-go/pkg/interfaces"
	"vidproxy-go/pkg/logging"
	"vidproxy-go/pkg/types"
)

const sourcePrefix = "src:"

// BadgerStore is the badger-backed SourceStore.
// Keys: "src:<videoID>" holding a JSON sourceRecord.
type BadgerStore struct {
	db         *badger.DB
	maxRecords int
	log        *logging.Logger
}

// sourceRecord is the stored value: the tracked state plus the write
// timestamp used for oldest-eviction.
type sourceRecord struct {
	State     types.TrackedSourceState `json:"state"`
	UpdatedAt time.Time                `json:"updated_at"`
}

// Open opens (or creates) the store at path. maxRecords caps the number
// of tracked videos; the oldest record is evicted once the cap is hit.
func Open(path string, maxRecords int, log *logging.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open source store: %w", err)
	}
	return &BadgerStore{
		db:         db,
		maxRecords: maxRecords,
		log:        log.WithComponent("source-store"),
	}, nil
}

// Get returns the tracked state for a video id, or (nil, nil) when the
// id has never been resolved.
func (s *BadgerStore) Get(ctx context.Context, videoID string) (*types.TrackedSourceState, error) {
	key := []byte(sourcePrefix + videoID)
	var rec sourceRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read source state: %w", err)
	}
	return &rec.State, nil
}

// Put overwrites the tracked state for a video id and enforces the
// record cap.
func (s *BadgerStore) Put(ctx context.Context, videoID string, state *types.TrackedSourceState) error {
	key := []byte(sourcePrefix + videoID)
	buf, err := json.Marshal(sourceRecord{State: *state, UpdatedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("failed to encode source state: %w", err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, buf)
	}); err != nil {
		return fmt.Errorf("failed to write source state: %w", err)
	}
	s.evictOldest()
	return nil
}

// Close shuts down the store.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// Count returns the number of tracked records.
func (s *BadgerStore) Count() (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(sourcePrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// evictOldest removes the least recently updated records while the
// store exceeds its cap. Tracked state is never explicitly deleted
// otherwise.
func (s *BadgerStore) evictOldest() {
	if s.maxRecords <= 0 {
		return
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		type aged struct {
			key []byte
			at  time.Time
		}
		var all []aged

		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		prefix := []byte(sourcePrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var rec sourceRecord
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				continue
			}
			all = append(all, aged{key: item.KeyCopy(nil), at: rec.UpdatedAt})
		}
		it.Close()

		for len(all) > s.maxRecords {
			oldest := 0
			for i := range all {
				if all[i].at.Before(all[oldest].at) {
					oldest = i
				}
			}
			if err := txn.Delete(all[oldest].key); err != nil {
				return err
			}
			all = append(all[:oldest], all[oldest+1:]...)
		}
		return nil
	})
	if err != nil {
		s.log.Warn("source store eviction failed", "error", err)
	}
}

var _ interfaces.SourceStore = (*BadgerStore)(nil)
