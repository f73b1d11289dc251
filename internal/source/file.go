// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tomtom215/taxiflow/internal/asset"
	"github.com/tomtom215/taxiflow/internal/logging"
	"github.com/tomtom215/taxiflow/internal/partition"
)

// File downloads one upstream file per partition to a local path.
// URL and Path are templates rendered with {{.Key}}.
type File struct {
	Provider Provider
	URL      string
	Path     string
}

// Materialize fetches the key's file and writes it atomically.
func (f *File) Materialize(ctx context.Context, key partition.Key) (asset.Result, error) {
	path, err := Render(f.Path, key)
	if err != nil {
		return asset.Result{}, err
	}
	body, err := f.Provider.Fetch(ctx, key, f.URL)
	if err != nil {
		return asset.Result{}, err
	}
	if err := WriteFileAtomic(path, body); err != nil {
		return asset.Result{}, err
	}

	logging.Ctx(ctx).Debug().Str("path", path).Int("bytes", len(body)).Msg("Source file written")
	return asset.Result{Path: path, Bytes: int64(len(body))}, nil
}

// WriteFileAtomic writes data to a temporary file next to path and renames
// it into place, so readers never observe a partial file.
func WriteFileAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp.Name(), err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", tmp.Name(), err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmp.Name(), err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move file into place: %w", err)
	}
	return nil
}
