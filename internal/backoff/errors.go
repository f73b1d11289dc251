// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

package backoff

import "fmt"

// ResourceAcquisitionFailure is returned when a retryable operation kept
// failing until the retry budget ran out. Cause is the last error observed.
type ResourceAcquisitionFailure struct {
	Attempts int
	Cause    error
}

func (e *ResourceAcquisitionFailure) Error() string {
	return fmt.Sprintf("resource acquisition failed after %d attempts: %v", e.Attempts, e.Cause)
}

func (e *ResourceAcquisitionFailure) Unwrap() error {
	return e.Cause
}
