// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

/*
Package metrics provides Prometheus metrics collection and export.

Collectors are registered with the default registry through promauto and
exposed at /metrics by the serve command:

	curl http://localhost:3857/metrics

Materialization Metrics:
  - materializations_total: terminal outcomes (counter)
    Labels: asset, status (committed, failed, skipped)
  - materialization_duration_seconds: committed replace duration (histogram)
  - materialized_rows_total: rows written (counter)
  - job_runs_total, job_runs_in_flight

Storage Metrics:
  - duckdb_query_duration_seconds, duckdb_query_errors_total
  - storage_handles_in_use
  - storage_handle_acquire_retries_total, storage_handle_acquire_failures_total

Source Metrics:
  - source_fetch_duration_seconds, source_fetch_bytes_total, source_fetch_errors_total
  - circuit_breaker_state, circuit_breaker_requests_total,
    circuit_breaker_state_transitions_total

Scheduler Metrics:
  - scheduler_ticks_total, scheduler_last_tick_timestamp_seconds

Helper functions (RecordMaterialization, RecordDBQuery, ...) keep label usage
consistent across packages.
*/
package metrics
