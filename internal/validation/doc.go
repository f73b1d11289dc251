// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

// Package validation provides struct validation using go-playground/validator v10.
//
// A thread-safe singleton validator is shared by configuration loading, the
// ad hoc report request and the run-trigger API. Besides the built-in tags it
// registers:
//
//   - isodate: "2006-01-02" calendar dates
//   - partitionkey: monthly ("2023-03") or weekly ("2023-03-05") keys
//   - identifier: lower-case SQL identifiers, also used as output file names
//
// Usage:
//
//	type RunRequest struct {
//	    Partition string `validate:"omitempty,partitionkey"`
//	}
//
//	if err := validation.ValidateStruct(&req); err != nil {
//	    apiErr := err.ToAPIError()
//	    ...
//	}
package validation
