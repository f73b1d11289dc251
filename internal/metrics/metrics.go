// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for:
// - DuckDB statements issued by the materializer
// - per-partition materialization outcomes
// - storage handle acquisition retries
// - upstream fetches and their circuit breaker
// - scheduler ticks and API requests

var (
	// Database Metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duckdb_query_duration_seconds",
			Help:    "Duration of DuckDB statements in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckdb_query_errors_total",
			Help: "Total number of DuckDB statement errors",
		},
		[]string{"operation", "table"},
	)

	HandlesInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "storage_handles_in_use",
			Help: "Current number of checked-out storage handles",
		},
	)

	HandleAcquireRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "storage_handle_acquire_retries_total",
			Help: "Total number of delayed retries while acquiring a storage handle",
		},
	)

	HandleAcquireFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "storage_handle_acquire_failures_total",
			Help: "Total number of handle acquisitions that exhausted their retry budget",
		},
	)

	// Materialization Metrics
	MaterializationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "materialization_duration_seconds",
			Help:    "Duration of one (asset, partition) materialization",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"asset"},
	)

	MaterializationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "materializations_total",
			Help: "Total number of materializations by terminal status",
		},
		[]string{"asset", "status"}, // status: committed, failed, skipped
	)

	MaterializedRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "materialized_rows_total",
			Help: "Total number of rows written by committed materializations",
		},
		[]string{"asset"},
	)

	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_runs_total",
			Help: "Total number of job runs by outcome",
		},
		[]string{"job", "outcome"}, // outcome: success, partial, failed
	)

	RunsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "job_runs_in_flight",
			Help: "Current number of running jobs",
		},
	)

	// Upstream Source Metrics
	SourceFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "source_fetch_duration_seconds",
			Help:    "Duration of upstream file fetches",
			Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 120},
		},
		[]string{"source"},
	)

	SourceFetchBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "source_fetch_bytes_total",
			Help: "Total bytes downloaded from upstream sources",
		},
		[]string{"source"},
	)

	SourceFetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "source_fetch_errors_total",
			Help: "Total number of failed upstream fetches",
		},
		[]string{"source"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Scheduler Metrics
	SchedulerTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_ticks_total",
			Help: "Total number of schedule evaluations that fired a run",
		},
		[]string{"schedule"},
	)

	SchedulerLastTick = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scheduler_last_tick_timestamp_seconds",
			Help: "Unix timestamp of the last fired tick",
		},
		[]string{"schedule"},
	)

	// API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request latency in seconds",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "api_active_requests",
			Help: "Current number of in-flight API requests",
		},
	)
)

// RecordDBQuery records a DuckDB statement metric
func RecordDBQuery(operation, table string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation, table).Inc()
	}
}

// RecordMaterialization records the terminal outcome of one (asset, partition)
func RecordMaterialization(asset, status string, duration time.Duration, rows int64) {
	MaterializationsTotal.WithLabelValues(asset, status).Inc()
	if status == "committed" {
		MaterializationDuration.WithLabelValues(asset).Observe(duration.Seconds())
		MaterializedRows.WithLabelValues(asset).Add(float64(rows))
	}
}

// RecordRun records the outcome of a job run
func RecordRun(job, outcome string) {
	RunsTotal.WithLabelValues(job, outcome).Inc()
}

// TrackRun tracks running jobs
func TrackRun(inc bool) {
	if inc {
		RunsInFlight.Inc()
	} else {
		RunsInFlight.Dec()
	}
}

// TrackHandle tracks checked-out storage handles
func TrackHandle(inc bool) {
	if inc {
		HandlesInUse.Inc()
	} else {
		HandlesInUse.Dec()
	}
}

// RecordSourceFetch records an upstream fetch
func RecordSourceFetch(source string, duration time.Duration, bytes int, err error) {
	SourceFetchDuration.WithLabelValues(source).Observe(duration.Seconds())
	if err != nil {
		SourceFetchErrors.WithLabelValues(source).Inc()
		return
	}
	SourceFetchBytes.WithLabelValues(source).Add(float64(bytes))
}

// RecordSchedulerTick records a fired schedule tick
func RecordSchedulerTick(schedule string, tick time.Time) {
	SchedulerTicks.WithLabelValues(schedule).Inc()
	SchedulerLastTick.WithLabelValues(schedule).Set(float64(tick.Unix()))
}

// RecordAPIRequest records an API request metric
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest tracks active API requests
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}
