// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

package report

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/tomtom215/taxiflow/internal/geo"
	"github.com/tomtom215/taxiflow/internal/source"
)

// WritePNG encodes img and writes it atomically to path.
func WritePNG(path string, img image.Image) (int64, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return 0, fmt.Errorf("failed to encode png: %w", err)
	}
	if err := source.WriteFileAtomic(path, buf.Bytes()); err != nil {
		return 0, err
	}
	return int64(buf.Len()), nil
}

// WriteGeoJSON encodes fc and writes it atomically to path.
func WriteGeoJSON(path string, fc geo.FeatureCollection) (int64, error) {
	data, err := fc.Encode()
	if err != nil {
		return 0, fmt.Errorf("failed to encode geojson: %w", err)
	}
	if err := source.WriteFileAtomic(path, data); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

// Execer runs a statement. *storage.Handle implements it.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ExportCSV writes the result of query to path with a header row using the
// store's COPY statement. The file is written next to path and renamed into
// place.
func ExportCSV(ctx context.Context, ex Execer, query, path string) (int64, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return 0, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	tmp := filepath.Join(dir, "."+filepath.Base(path)+".tmp")

	stmt := fmt.Sprintf("COPY (%s) TO %s (HEADER, DELIMITER ',')",
		strings.TrimRight(strings.TrimSpace(query), ";"), quoteLiteral(tmp))
	if _, err := ex.ExecContext(ctx, stmt); err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("failed to export %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("failed to move export into place: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
