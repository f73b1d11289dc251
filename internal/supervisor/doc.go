// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

/*
Package supervisor runs the long-lived services of `taxiflow serve` under a
suture v4 supervisor tree.

The tree has two layers so a failure in one does not take down the other:

	RootSupervisor ("taxiflow")
	├── PipelineSupervisor ("pipeline-layer")
	│   ├── SchedulerService
	│   └── EventConsumerService
	└── APISupervisor ("api-layer")
	    └── HTTPServerService

Crashed services are restarted with suture's backoff. Supervisor events are
logged through sutureslog into the zerolog-backed slog handler.
*/
package supervisor
