// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

package materialize

import "fmt"

// MaterializationError reports a failed (asset, partition) materialization.
// The partition is left FAILED and must be re-run.
type MaterializationError struct {
	Asset     string
	Partition string
	State     State // state the attempt failed in
	Cause     error
}

func (e *MaterializationError) Error() string {
	if e.Partition == "" {
		return fmt.Sprintf("materialize %s failed during %s: %v", e.Asset, e.State, e.Cause)
	}
	return fmt.Sprintf("materialize %s[%s] failed during %s: %v", e.Asset, e.Partition, e.State, e.Cause)
}

func (e *MaterializationError) Unwrap() error {
	return e.Cause
}
