// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"io/fs"
	"strings"

	"github.com/tomtom215/taxiflow/internal/logging"
)

// transientMarkers are DuckDB and database/sql messages for failures that go
// away on their own: another process holding the file lock, a conflicting
// writer, or a dropped connection.
var transientMarkers = []string{
	"could not set lock on file",
	"conflicting lock is held",
	"database is locked",
	"io error",
	"transaction conflict",
	"conflict on update",
	"cannot update a table that has been altered",
	"connection refused",
	"connection reset",
	"broken pipe",
	"bad connection",
}

// IsTransient reports whether err is worth retrying: lock contention, IO
// errors and lost connections. Query errors such as a syntax error or a
// missing source file are not transient. Context cancellation and a closed
// store or connection never are.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, sql.ErrConnDone) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "no files found") || strings.Contains(msg, "no such file") {
		return false
	}
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// closeWithLog closes a resource and logs any error.
// Use this for cleanup where errors should be acknowledged but not fail the operation.
func closeWithLog(closer io.Closer, resourceType string) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		logging.Warn().Str("type", resourceType).Err(err).Msg("Failed to close resource")
	}
}

// closeQuietly closes a resource and explicitly ignores any error.
// Use this in error paths where Close() errors are not actionable.
func closeQuietly(closer io.Closer) {
	if closer != nil {
		_ = closer.Close() // Explicitly ignore error - cleanup is best-effort
	}
}
