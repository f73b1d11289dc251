// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

/*
Package config provides centralized configuration management for Taxiflow.

Configuration is layered with Koanf v2: struct defaults, then an optional
YAML file (config.yaml, /etc/taxiflow/config.yaml or CONFIG_PATH), then
environment variables.

# Environment Variables

Database:
  - DUCKDB_DATABASE: store location, used verbatim (default: data/staging/data.duckdb)
  - DUCKDB_MAX_MEMORY, DUCKDB_THREADS

Pipeline:
  - START_DATE, END_DATE: partition calendar bounds (default: 2023-01-01, 2023-04-01)
  - PIPELINE_PARALLELISM: concurrent partitions per asset (default: 1)
  - RAW_DATA_DIR: downloaded source files (default: data/raw)

Backoff:
  - BACKOFF_MAX_RETRIES (default: 10), BACKOFF_BASE_DELAY, BACKOFF_MAX_DELAY

Source:
  - TRIPS_URL_TEMPLATE: must contain {{.Key}}
  - ZONES_URL
  - SOURCE_RATE_LIMIT, SOURCE_BREAKER_MAX_FAILURES, SOURCE_BREAKER_TIMEOUT

Scheduler:
  - SCHEDULER_ENABLED, SCHEDULER_CHECK_INTERVAL
  - SCHEDULER_WATERMARK_DIR: BadgerDB directory, empty for in-memory
  - SCHEDULER_DISABLED: comma-separated schedule names

Server and logging:
  - HTTP_HOST, HTTP_PORT (default: 3000), HTTP_TIMEOUT
  - LOG_LEVEL, LOG_FORMAT, LOG_CALLER

# Usage

	cfg, err := config.Load()
	if err != nil {
	    return err
	}
	monthly, err := cfg.Pipeline.Calendar(partition.Monthly)
*/
package config
