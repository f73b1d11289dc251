// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

// Package materialize runs the per-partition state machine and the
// idempotent replace protocol.
//
// Every (asset, partition) attempt moves through
//
//	PENDING -> ACQUIRING_HANDLE -> REPLACING -> COMMITTED
//
// with FAILED reachable from ACQUIRING_HANDLE and REPLACING. A handle is
// acquired through the backoff executor, retrying only transient store
// errors. For tables the REPLACING step deletes the partition's rows, inserts
// the freshly selected rows stamped with the key and writes the ledger entry,
// all in one transaction, so readers see either the old or the new row-set.
// Attempts on the same (asset, partition) are serialized; different
// partitions proceed concurrently.
package materialize

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/taxiflow/internal/asset"
	"github.com/tomtom215/taxiflow/internal/backoff"
	"github.com/tomtom215/taxiflow/internal/logging"
	"github.com/tomtom215/taxiflow/internal/metrics"
	"github.com/tomtom215/taxiflow/internal/partition"
	"github.com/tomtom215/taxiflow/internal/storage"
)

// Acquirer hands out storage handles. *storage.Store implements it.
type Acquirer interface {
	Acquire(ctx context.Context) (*storage.Handle, error)
}

// Work produces a non-table artifact while holding a handle, for example a
// report that reads committed tables and writes a file.
type Work func(ctx context.Context, h *storage.Handle, key partition.Key) (asset.Result, error)

// Materializer executes materializations against one store.
type Materializer struct {
	src       Acquirer
	policy    backoff.Policy
	retryOpts []backoff.Option
	locks     *keyedMutex
	board     *board
	observers []Observer
	now       func() time.Time
}

// Option configures a Materializer.
type Option func(*Materializer)

// WithPolicy sets the handle acquisition retry policy.
func WithPolicy(p backoff.Policy) Option {
	return func(m *Materializer) { m.policy = p }
}

// WithBackoffOptions passes extra options to every backoff.Execute call.
func WithBackoffOptions(opts ...backoff.Option) Option {
	return func(m *Materializer) { m.retryOpts = append(m.retryOpts, opts...) }
}

// WithObserver registers a transition observer.
func WithObserver(o Observer) Option {
	return func(m *Materializer) { m.observers = append(m.observers, o) }
}

// WithClock overrides the time source used for ledger timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Materializer) { m.now = now }
}

// New creates a Materializer drawing handles from src.
func New(src Acquirer, opts ...Option) *Materializer {
	m := &Materializer{
		src:    src,
		policy: backoff.DefaultPolicy(),
		locks:  newKeyedMutex(),
		board:  newBoard(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TableOp returns the asset.Op materializing t.
func (m *Materializer) TableOp(t *Table) asset.Op {
	return asset.OpFunc(func(ctx context.Context, key partition.Key) (asset.Result, error) {
		return m.Materialize(ctx, t, key)
	})
}

// WorkOp returns an asset.Op running w under the state machine as asset name.
func (m *Materializer) WorkOp(name string, w Work) asset.Op {
	return asset.OpFunc(func(ctx context.Context, key partition.Key) (asset.Result, error) {
		return m.Run(ctx, name, key, w)
	})
}

// Materialize replaces the rows of key in t. For a non-partitioned table key
// is the zero Key and the whole table is replaced.
func (m *Materializer) Materialize(ctx context.Context, t *Table, key partition.Key) (asset.Result, error) {
	return m.attempt(ctx, t.AssetName(), key, func(ctx context.Context, h *storage.Handle, rec *Record) (asset.Result, error) {
		rows, err := m.replace(ctx, h, t, key, rec)
		if err != nil || t.Export == nil {
			return asset.Result{Rows: rows}, err
		}
		res, err := t.Export(ctx, h, key)
		res.Rows = rows
		if err != nil {
			// The replace transaction has already committed.
			return res, fmt.Errorf("export: %d rows committed, export failed: %w", rows, err)
		}
		return res, nil
	})
}

// Run executes w for (name, key) and records the outcome in the ledger.
func (m *Materializer) Run(ctx context.Context, name string, key partition.Key, w Work) (asset.Result, error) {
	return m.attempt(ctx, name, key, func(ctx context.Context, h *storage.Handle, rec *Record) (asset.Result, error) {
		res, err := w(ctx, h, key)
		if err != nil {
			return res, err
		}
		if err := ensureLedger(ctx, h); err != nil {
			return res, err
		}
		rec.Status = StateCommitted
		rec.Rows = res.Rows
		rec.FinishedAt = m.now()
		return res, writeRecord(ctx, h, rec)
	})
}

// State returns the latest known state of (asset, partition).
func (m *Materializer) State(asset, partition string) (PartitionState, bool) {
	return m.board.get(asset, partition)
}

// States returns every tracked partition state ordered by asset and
// partition.
func (m *Materializer) States() []PartitionState {
	return m.board.snapshot()
}

type replaceFunc func(ctx context.Context, h *storage.Handle, rec *Record) (asset.Result, error)

// attempt drives one pass of the state machine.
func (m *Materializer) attempt(ctx context.Context, name string, key partition.Key, replace replaceFunc) (asset.Result, error) {
	part := key.String()
	unlock := m.locks.Lock(boardKey(name, part))
	defer unlock()

	logger := logging.Ctx(ctx).With().Str("asset", name).Str("partition", part).Logger()

	if err := m.advance(name, part, StatePending, nil); err != nil {
		return asset.Result{}, err
	}
	rec := &Record{
		Asset:     name,
		Partition: part,
		RunID:     logging.RunIDFromContext(ctx),
		StartedAt: m.now(),
	}

	if err := m.advance(name, part, StateAcquiringHandle, nil); err != nil {
		return asset.Result{}, err
	}
	opts := append([]backoff.Option{backoff.WithNotify(func(err error, attempt int, delay time.Duration) {
		metrics.HandleAcquireRetries.Inc()
		logger.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("Storage handle busy, retrying")
	})}, m.retryOpts...)

	h, err := backoff.Execute(ctx, m.policy, m.src.Acquire, storage.IsTransient, opts...)
	if err != nil {
		var raf *backoff.ResourceAcquisitionFailure
		if errors.As(err, &raf) {
			metrics.HandleAcquireFailures.Inc()
		}
		return asset.Result{}, m.fail(name, part, StateAcquiringHandle, err)
	}
	defer h.Release()

	if err := m.advance(name, part, StateReplacing, nil); err != nil {
		return asset.Result{}, err
	}
	res, err := replace(ctx, h, rec)
	if err != nil {
		// Record FAILED before the handle is released, even when ctx is done.
		m.recordFailure(context.WithoutCancel(ctx), h, rec, err)
		logger.Error().Err(err).Msg("Materialization failed")
		return asset.Result{}, m.fail(name, part, StateReplacing, err)
	}

	if err := m.advance(name, part, StateCommitted, nil); err != nil {
		return res, err
	}
	logger.Info().Int64("rows", res.Rows).Dur("duration", m.now().Sub(rec.StartedAt)).Msg("Materialization committed")
	return res, nil
}

// replace runs the delete/insert/ledger sequence for one key in a single
// transaction.
func (m *Materializer) replace(ctx context.Context, h *storage.Handle, t *Table, key partition.Key, rec *Record) (rows int64, err error) {
	query, err := t.Render(key)
	if err != nil {
		return 0, err
	}
	if err := createIfAbsent(ctx, h, t.Name, t.CreateSQL()); err != nil {
		return 0, fmt.Errorf("failed to create table %s: %w", t.Name, err)
	}
	if err := ensureLedger(ctx, h); err != nil {
		return 0, err
	}

	tx, err := h.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			logging.Ctx(ctx).Error().
				Err(rbErr).
				AnErr("original_error", err).
				Str("table", t.Name).
				Msg("Failed to rollback replace transaction")
		}
	}()

	var args []any
	if t.Partitioned {
		args = []any{key.String()}
	}

	if _, err = timedExec(ctx, tx, "delete", t.Name, t.DeleteSQL(), args...); err != nil {
		return 0, fmt.Errorf("failed to clear rows of %s: %w", t.Name, err)
	}
	res, err := timedExec(ctx, tx, "insert", t.Name, t.InsertSQL(query), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to insert rows into %s: %w", t.Name, err)
	}
	rows, err = res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count inserted rows: %w", err)
	}

	rec.Status = StateCommitted
	rec.Rows = rows
	rec.FinishedAt = m.now()
	if err = writeRecord(ctx, tx, rec); err != nil {
		return 0, err
	}
	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit replace of %s: %w", t.Name, err)
	}
	return rows, nil
}

// recordFailure writes a FAILED ledger entry. Its own errors are logged and
// never replace the original failure.
func (m *Materializer) recordFailure(ctx context.Context, h *storage.Handle, rec *Record, cause error) {
	rec.Status = StateFailed
	rec.Rows = 0
	rec.FinishedAt = m.now()
	rec.Error = cause.Error()

	err := ensureLedger(ctx, h)
	if err == nil {
		err = writeRecord(ctx, h, rec)
	}
	if err != nil {
		logging.Ctx(ctx).Warn().
			Err(err).
			AnErr("original_error", cause).
			Str("asset", rec.Asset).
			Str("partition", rec.Partition).
			Msg("Failed to record failed materialization")
	}
}

func (m *Materializer) fail(name, part string, during State, cause error) error {
	if err := m.advance(name, part, StateFailed, cause); err != nil {
		logging.Error().Err(err).Msg("State board rejected failure transition")
	}
	return &MaterializationError{Asset: name, Partition: part, State: during, Cause: cause}
}

// advance moves (name, part) to state and notifies observers.
func (m *Materializer) advance(name, part string, to State, cause error) error {
	at := m.now()
	from, err := m.board.move(name, part, to, at, cause)
	if err != nil {
		return err
	}
	for _, o := range m.observers {
		o(Transition{Asset: name, Partition: part, From: from, To: to, At: at, Err: cause})
	}
	return nil
}

func timedExec(ctx context.Context, ex execer, operation, table, query string, args ...any) (sql.Result, error) {
	start := time.Now()
	res, err := ex.ExecContext(ctx, query, args...)
	metrics.RecordDBQuery(operation, table, time.Since(start), err)
	return res, err
}
