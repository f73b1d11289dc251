// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

package materialize

import (
	"context"
	"sync"
)

// ddlLocks serializes CREATE TABLE per table name for every Materializer
// and Ledger in the process. DuckDB rejects concurrent creates of the same
// catalog entry with a write-write conflict, even with IF NOT EXISTS.
var ddlLocks = newKeyedMutex()

// createIfAbsent runs a CREATE ... IF NOT EXISTS statement for table while
// holding the table's DDL lock.
func createIfAbsent(ctx context.Context, ex execer, table, query string) error {
	unlock := ddlLocks.Lock(table)
	defer unlock()
	_, err := timedExec(ctx, ex, "create", table, query)
	return err
}

// keyedMutex serializes work per key. Entries are dropped once no goroutine
// holds or waits for them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock blocks until key is free and returns the matching unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// size returns the number of live entries.
func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
