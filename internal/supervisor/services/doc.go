// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

/*
Package services adapts taxiflow components to suture's Serve(ctx) pattern.

	HTTPServerService     ListenAndServe/Shutdown  (*http.Server)
	SchedulerService      Start/Stop               (*schedule.Scheduler)
	EventConsumerService  Consume(ctx, subscriber) (*engine.EventLog)

Each wrapper returns ctx.Err() on a clean shutdown and an error otherwise, so
suture restarts it with backoff. String() names the service in supervisor
logs.
*/
package services
