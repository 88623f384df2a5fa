// EN4720 - Smart Home Attack Detector
// Copyright 2026 Security-in-Cyber-Physical-Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Security-in-Cyber-Physical-Systems/EN4720

package anomalylog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/detection"
	"github.com/Security-in-Cyber-Physical-Systems/EN4720/internal/logging"
)

const (
	keyPrefix = "anomaly:"

	// keyTimeFormat sorts lexically in time order.
	keyTimeFormat = "20060102T150405.000000000Z"
)

// ErrStoreClosed is returned by operations on a closed Store.
var ErrStoreClosed = errors.New("anomaly store is closed")

// StoreConfig configures the badger-backed store.
type StoreConfig struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps everything in memory.
	InMemory bool

	// Retention expires records after this long. Zero keeps them forever.
	Retention time.Duration

	// SyncWrites fsyncs every append.
	SyncWrites bool
}

// Store appends anomaly records to a BadgerDB database keyed by time, so
// operators can page through them in order.
type Store struct {
	db        *badger.DB
	retention time.Duration

	mu     sync.RWMutex
	closed bool
}

// OpenStore opens (or creates) the store.
func OpenStore(cfg StoreConfig) (*Store, error) {
	if cfg.Path == "" && !cfg.InMemory {
		return nil, errors.New("anomaly store path is required")
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.SyncWrites = cfg.SyncWrites
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open anomaly store: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Dur("retention", cfg.Retention).
		Msg("anomaly store opened")
	return &Store{db: db, retention: cfg.Retention}, nil
}

// Append stores rec under a time-ordered key.
func (s *Store) Append(_ context.Context, rec detection.Record) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal anomaly record: %w", err)
	}
	key := recordKey(rec)

	err = s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(key, data)
		if s.retention > 0 {
			e = e.WithTTL(s.retention)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("store anomaly record: %w", err)
	}
	return nil
}

// Range calls fn for every record at or after since, oldest first. Returning
// an error from fn stops the iteration.
func (s *Store) Range(ctx context.Context, since time.Time, fn func(detection.Record) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}

	prefix := []byte(keyPrefix)
	start := []byte(keyPrefix + since.UTC().Format(keyTimeFormat))

	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			item := it.Item()
			var rec detection.Record
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				logging.Warn().Err(err).Str("key", string(item.Key())).Msg("skipping unreadable anomaly record")
				continue
			}
			if err := fn(rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	n := 0
	err := s.Range(ctx, time.Time{}, func(detection.Record) error {
		n++
		return nil
	})
	return n, err
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func recordKey(rec detection.Record) []byte {
	ts := time.Now()
	if raw, ok := rec["timestamp"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			ts = parsed
		}
	}
	id, ok := rec["id"].(string)
	if !ok || id == "" {
		id = uuid.NewString()
	}
	return []byte(keyPrefix + ts.UTC().Format(keyTimeFormat) + ":" + id)
}
