// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

package storage

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"github.com/tomtom215/taxiflow/internal/metrics"
)

// ErrHandleReleased is returned when a released handle is used again.
var ErrHandleReleased = errors.New("storage handle already released")

// Handle is exclusive access to one connection for one scoped use.
// A Handle is not safe for concurrent use.
type Handle struct {
	conn     *sql.Conn
	once     sync.Once
	released bool
}

func newHandle(conn *sql.Conn) *Handle {
	metrics.TrackHandle(true)
	return &Handle{conn: conn}
}

// ExecContext executes a statement on the handle's connection.
func (h *Handle) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if h.released {
		return nil, ErrHandleReleased
	}
	return h.conn.ExecContext(ctx, query, args...)
}

// QueryContext runs a query on the handle's connection.
func (h *Handle) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if h.released {
		return nil, ErrHandleReleased
	}
	return h.conn.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row query on the handle's connection.
func (h *Handle) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return h.conn.QueryRowContext(ctx, query, args...)
}

// BeginTx starts a transaction bound to the handle's connection.
func (h *Handle) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	if h.released {
		return nil, ErrHandleReleased
	}
	return h.conn.BeginTx(ctx, opts)
}

// Release returns the connection to the pool. It is safe to call more than
// once.
func (h *Handle) Release() {
	h.once.Do(func() {
		h.released = true
		closeWithLog(h.conn, "storage handle")
		metrics.TrackHandle(false)
	})
}

// Released reports whether Release has been called.
func (h *Handle) Released() bool {
	return h.released
}
