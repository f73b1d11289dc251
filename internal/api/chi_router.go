// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router builds the HTTP routes.
type Router struct {
	handler      *Handler
	runRateLimit int
}

// NewRouter creates a router. runRateLimit caps run triggers per minute per
// client; zero disables the limit.
func NewRouter(handler *Handler, runRateLimit int) *Router {
	return &Router{handler: handler, runRateLimit: runRateLimit}
}

// SetupChi configures all HTTP routes.
func (router *Router) SetupChi() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(PrometheusMetrics)

	r.Get("/healthz", router.handler.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Compression)

		r.Get("/jobs", router.handler.ListJobs)
		r.Get("/jobs/{name}", router.handler.GetJob)
		r.With(RateLimitRuns(router.runRateLimit)).Post("/jobs/{name}/runs", router.handler.RunJob)

		r.Get("/assets", router.handler.ListAssets)
		r.Get("/partitions", router.handler.ListPartitions)
		r.Get("/ledger", router.handler.ListLedger)
		r.Get("/schedules", router.handler.ListSchedules)
		r.Get("/events", router.handler.ListEvents)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).NotFound("no route for " + r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).Error(http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	})

	return r
}
