// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/taxiflow/internal/logging"
)

// Watermark is the last tick a schedule evaluated and the partition keys it
// fired for.
type Watermark struct {
	LastTick time.Time `json:"last_tick"`
	LastKeys []string  `json:"last_keys,omitempty"`
}

// WatermarkStore persists watermarks so that restarts neither repeat nor
// skip ticks.
type WatermarkStore interface {
	// Load returns the schedule's watermark and whether one was stored.
	Load(ctx context.Context, schedule string) (Watermark, bool, error)

	// Save replaces the schedule's watermark.
	Save(ctx context.Context, schedule string, w Watermark) error
}

// MemoryWatermarkStore keeps watermarks for the life of the process.
type MemoryWatermarkStore struct {
	mu    sync.RWMutex
	marks map[string]Watermark
}

// NewMemoryWatermarkStore creates an empty in-memory store.
func NewMemoryWatermarkStore() *MemoryWatermarkStore {
	return &MemoryWatermarkStore{marks: make(map[string]Watermark)}
}

// Load implements WatermarkStore.
func (s *MemoryWatermarkStore) Load(_ context.Context, schedule string) (Watermark, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.marks[schedule]
	return w, ok, nil
}

// Save implements WatermarkStore.
func (s *MemoryWatermarkStore) Save(_ context.Context, schedule string, w Watermark) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marks[schedule] = w
	return nil
}

const watermarkKeyPrefix = "watermark:"

// BadgerWatermarkStore persists watermarks in BadgerDB.
type BadgerWatermarkStore struct {
	db    *badger.DB
	owned bool
}

// NewBadgerWatermarkStore uses an already opened database. Close does not
// close db.
func NewBadgerWatermarkStore(db *badger.DB) *BadgerWatermarkStore {
	return &BadgerWatermarkStore{db: db}
}

// OpenBadgerWatermarkStore opens (or creates) a database in dir. An empty dir
// opens an in-memory database.
func OpenBadgerWatermarkStore(dir string) (*BadgerWatermarkStore, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	// Reduce logging verbosity
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open watermark store: %w", err)
	}

	logging.Info().Str("path", dir).Msg("Watermark store opened")
	return &BadgerWatermarkStore{db: db, owned: true}, nil
}

// Load implements WatermarkStore.
func (s *BadgerWatermarkStore) Load(_ context.Context, schedule string) (Watermark, bool, error) {
	var w Watermark
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(watermarkKeyPrefix + schedule))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &w)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Watermark{}, false, nil
	}
	if err != nil {
		return Watermark{}, false, fmt.Errorf("get watermark %s: %w", schedule, err)
	}
	return w, true, nil
}

// Save implements WatermarkStore.
func (s *BadgerWatermarkStore) Save(_ context.Context, schedule string, w Watermark) error {
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("marshal watermark: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(watermarkKeyPrefix+schedule), data); err != nil {
			return fmt.Errorf("set watermark %s: %w", schedule, err)
		}
		return nil
	})
}

// Close closes the database when the store opened it.
func (s *BadgerWatermarkStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}
