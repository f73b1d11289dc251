// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

// Package main is the taxiflow command.
//
// Taxiflow downloads monthly NYC taxi trip files and the taxi zone lookup,
// ingests them into DuckDB one partition at a time and derives reports from
// the committed tables: Manhattan trip counts as GeoJSON and a choropleth
// PNG, weekly trip totals as CSV, and ad hoc charts of trips by hour and
// weekday for a borough and date range.
//
// # Commands
//
//	taxiflow serve                       # scheduler + HTTP API
//	taxiflow materialize --job NAME      # run one job and print the report
//	taxiflow jobs                        # list jobs and their assets
//	taxiflow partitions --asset NAME     # partition states from the ledger
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest priority wins):
//   - Environment variables (DUCKDB_DATABASE, START_DATE, END_DATE, HTTP_PORT, ...)
//   - Config file (--config, CONFIG_PATH or config.yaml)
//   - Built-in defaults
//
// # Example Usage
//
// Backfill the first quarter of 2023, then write the weekly CSV:
//
//	taxiflow materialize --job trip_update_job --from 2023-01-01 --to 2023-03-01
//	taxiflow materialize --job weekly_update_job
//
// Chart Brooklyn trips for January:
//
//	taxiflow materialize --job adhoc_request_job \
//	  --filename brooklyn_jan --borough Brooklyn \
//	  --start-date 2023-01-01 --end-date 2023-02-01
//
// # Signal Handling
//
// SIGINT and SIGTERM cancel the running job or stop the supervisor tree. An
// in-flight partition replace finishes or rolls back before the store closes.
package main

import (
	"os"
)

func main() {
	if err := NewRootCommand(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}
