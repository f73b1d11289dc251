// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

package materialize

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tomtom215/taxiflow/internal/storage"
)

// LedgerTable holds one row per (asset, partition) describing the latest
// attempt.
const LedgerTable = "asset_materializations"

const createLedgerSQL = `CREATE TABLE IF NOT EXISTS asset_materializations (
	asset VARCHAR NOT NULL,
	partition_key VARCHAR NOT NULL,
	status VARCHAR NOT NULL,
	row_count BIGINT NOT NULL DEFAULT 0,
	run_id VARCHAR,
	started_at TIMESTAMP NOT NULL,
	finished_at TIMESTAMP NOT NULL,
	error VARCHAR
)`

// Record is the ledger entry of the latest attempt for an (asset, partition).
type Record struct {
	Asset      string    `json:"asset"`
	Partition  string    `json:"partition"`
	Status     State     `json:"status"`
	Rows       int64     `json:"rows"`
	RunID      string    `json:"run_id,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Error      string    `json:"error,omitempty"`
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func ensureLedger(ctx context.Context, ex execer) error {
	if err := createIfAbsent(ctx, ex, LedgerTable, createLedgerSQL); err != nil {
		return fmt.Errorf("failed to create %s: %w", LedgerTable, err)
	}
	return nil
}

// writeRecord replaces the ledger row for rec's (asset, partition). Callers
// run it inside the replace transaction so the ledger and the data commit
// together.
func writeRecord(ctx context.Context, ex execer, rec *Record) error {
	if _, err := ex.ExecContext(ctx,
		"DELETE FROM asset_materializations WHERE asset = ? AND partition_key = ?",
		rec.Asset, rec.Partition); err != nil {
		return fmt.Errorf("failed to clear ledger entry: %w", err)
	}

	errText := sql.NullString{String: rec.Error, Valid: rec.Error != ""}
	runID := sql.NullString{String: rec.RunID, Valid: rec.RunID != ""}
	if _, err := ex.ExecContext(ctx, `INSERT INTO asset_materializations
		(asset, partition_key, status, row_count, run_id, started_at, finished_at, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Asset, rec.Partition, string(rec.Status), rec.Rows, runID,
		rec.StartedAt.UTC(), rec.FinishedAt.UTC(), errText); err != nil {
		return fmt.Errorf("failed to write ledger entry: %w", err)
	}
	return nil
}

// Ledger reads materialization history.
type Ledger struct {
	src Acquirer
}

// NewLedger returns a reader over the ledger table.
func NewLedger(src Acquirer) *Ledger {
	return &Ledger{src: src}
}

// List returns ledger entries ordered by asset then partition. An empty asset
// lists every entry.
func (l *Ledger) List(ctx context.Context, asset string) ([]Record, error) {
	h, err := l.src.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer h.Release()

	if err := ensureLedger(ctx, h); err != nil {
		return nil, err
	}

	query := `SELECT asset, partition_key, status, row_count, run_id, started_at, finished_at, error
		FROM asset_materializations`
	var args []any
	if asset != "" {
		query += " WHERE asset = ?"
		args = append(args, asset)
	}
	query += " ORDER BY asset, partition_key"

	return queryRecords(ctx, h, query, args...)
}

// Latest returns the ledger entry for one (asset, partition), if any.
func (l *Ledger) Latest(ctx context.Context, asset, partition string) (Record, bool, error) {
	h, err := l.src.Acquire(ctx)
	if err != nil {
		return Record{}, false, err
	}
	defer h.Release()

	if err := ensureLedger(ctx, h); err != nil {
		return Record{}, false, err
	}

	recs, err := queryRecords(ctx, h, `SELECT asset, partition_key, status, row_count, run_id, started_at, finished_at, error
		FROM asset_materializations WHERE asset = ? AND partition_key = ?`, asset, partition)
	if err != nil || len(recs) == 0 {
		return Record{}, false, err
	}
	return recs[0], true, nil
}

func queryRecords(ctx context.Context, h *storage.Handle, query string, args ...any) ([]Record, error) {
	rows, err := h.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", LedgerTable, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec     Record
			status  string
			runID   sql.NullString
			errText sql.NullString
		)
		if err := rows.Scan(&rec.Asset, &rec.Partition, &status, &rec.Rows, &runID,
			&rec.StartedAt, &rec.FinishedAt, &errText); err != nil {
			return nil, fmt.Errorf("failed to scan ledger row: %w", err)
		}
		rec.Status = State(status)
		rec.RunID = runID.String
		rec.Error = errText.String
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ledger rows: %w", err)
	}
	return out, nil
}
