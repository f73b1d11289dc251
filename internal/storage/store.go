// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

// Package storage owns the embedded DuckDB store and hands out scoped
// connection handles.
//
// Every write in the system goes through a Handle: a dedicated *sql.Conn
// checked out of the pool for exactly one scoped use and always released.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/tomtom215/taxiflow/internal/backoff"
	"github.com/tomtom215/taxiflow/internal/config"
	"github.com/tomtom215/taxiflow/internal/logging"
)

// Store wraps the DuckDB connection pool.
type Store struct {
	db  *sql.DB
	cfg config.DatabaseConfig
}

// Open connects to the store described by cfg. Opening is retried under
// policy because another process may hold the database file lock.
func Open(ctx context.Context, cfg config.DatabaseConfig, policy backoff.Policy) (*Store, error) {
	if !cfg.InMemory() {
		// Use 0750 permissions (owner: rwx, group: rx, other: none)
		dbDir := filepath.Dir(cfg.Path)
		if dbDir != "" && dbDir != "." {
			if err := os.MkdirAll(dbDir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
			}
		}
	}

	connStr := connectionString(cfg)
	db, err := backoff.Execute(ctx, policy, func(ctx context.Context) (*sql.DB, error) {
		return openAndPing(ctx, connStr)
	}, IsTransient)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %q: %w", cfg.Path, err)
	}

	s := &Store{db: db, cfg: cfg}
	s.configureConnectionPool()

	logging.Info().
		Str("path", cfg.Path).
		Str("max_memory", cfg.MaxMemory).
		Msg("Opened DuckDB store")
	return s, nil
}

// connectionString builds the DuckDB DSN with tuning options. The path is
// used verbatim.
func connectionString(cfg config.DatabaseConfig) string {
	path := cfg.Path
	if path == ":memory:" {
		path = ""
	}
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}
	preserveOrder := "true"
	if !cfg.PreserveInsertionOrder {
		preserveOrder = "false"
	}
	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&preserve_insertion_order=%s",
		path, numThreads, preserveOrder)
	if cfg.MaxMemory != "" {
		connStr += "&max_memory=" + cfg.MaxMemory
	}
	return connStr
}

// openAndPing opens the pool and verifies the database is reachable.
func openAndPing(ctx context.Context, connStr string) (*sql.DB, error) {
	db, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		closeQuietly(db)
		return nil, err
	}
	return db, nil
}

// configureConnectionPool sets connection pool parameters
func (s *Store) configureConnectionPool() {
	s.db.SetMaxOpenConns(runtime.NumCPU() + 1)
	s.db.SetMaxIdleConns(2)
	s.db.SetConnMaxLifetime(time.Hour)
	s.db.SetConnMaxIdleTime(5 * time.Minute)
}

// Acquire checks out a dedicated connection. It makes a single attempt;
// callers that want retries wrap it in backoff.Execute with IsTransient.
func (s *Store) Acquire(ctx context.Context) (*Handle, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("failed to verify connection: %w", err)
	}
	return newHandle(conn), nil
}

// WithHandle acquires a handle, runs fn and releases the handle whatever fn
// returns.
func (s *Store) WithHandle(ctx context.Context, fn func(*Handle) error) error {
	h, err := s.Acquire(ctx)
	if err != nil {
		return err
	}
	defer h.Release()
	return fn(h)
}

// Ping verifies the store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Path returns the configured store location.
func (s *Store) Path() string {
	return s.cfg.Path
}

// Close closes the pool. Handles still checked out fail on next use.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	logging.Info().Str("path", s.cfg.Path).Msg("Closed DuckDB store")
	return nil
}
