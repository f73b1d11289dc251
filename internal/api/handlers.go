// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

// Package api serves the HTTP interface: job listings, manual runs, partition
// state, the materialization ledger, schedules and recent events.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/tomtom215/taxiflow/internal/asset"
	"github.com/tomtom215/taxiflow/internal/engine"
	"github.com/tomtom215/taxiflow/internal/job"
	"github.com/tomtom215/taxiflow/internal/logging"
	"github.com/tomtom215/taxiflow/internal/materialize"
	"github.com/tomtom215/taxiflow/internal/schedule"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 1000
	healthPingTimeout = 2 * time.Second
)

// Pinger verifies the backing store. *storage.Store implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StateBoard lists in-process partition states. *materialize.Materializer
// implements it.
type StateBoard interface {
	States() []materialize.PartitionState
}

// LedgerReader lists persisted materialization records.
type LedgerReader interface {
	List(ctx context.Context, asset string) ([]materialize.Record, error)
}

// ScheduleLister reports schedule status. *schedule.Scheduler implements it.
type ScheduleLister interface {
	Statuses(ctx context.Context) ([]schedule.Status, error)
}

// Deps holds the collaborators of the handlers. Schedules and Events may be
// nil, in which case their endpoints return empty lists. A nil Store skips
// the health check ping.
type Deps struct {
	Jobs       *job.Set
	Runner     *engine.Runner
	States     StateBoard
	Ledger     LedgerReader
	Schedules  ScheduleLister
	Events     *engine.EventLog
	Store      Pinger
	RunTimeout time.Duration
}

// Handler implements the API endpoints.
type Handler struct {
	deps      Deps
	startTime time.Time
	now       func() time.Time
}

// NewHandler creates a handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{deps: deps, startTime: time.Now(), now: time.Now}
}

type healthResponse struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Jobs          int     `json:"jobs"`
}

// Health reports liveness. It returns 503 when the store does not answer a
// ping.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.deps.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
		defer cancel()
		if err := h.deps.Store.Ping(ctx); err != nil {
			logging.Ctx(r.Context()).Warn().Err(err).Msg("Health check store ping failed")
			rw.ServiceUnavailable("store unavailable")
			return
		}
	}
	rw.Success(healthResponse{
		Status:        "healthy",
		UptimeSeconds: time.Since(h.startTime).Seconds(),
		Jobs:          len(h.deps.Jobs.List()),
	})
}

type assetView struct {
	Name        string   `json:"name"`
	Group       string   `json:"group,omitempty"`
	Description string   `json:"description,omitempty"`
	Deps        []string `json:"deps"`
	Partitions  string   `json:"partitions,omitempty"`
}

func newAssetView(n *asset.Node) assetView {
	v := assetView{
		Name:        n.Name,
		Group:       n.Group,
		Description: n.Description,
		Deps:        n.Deps,
	}
	if v.Deps == nil {
		v.Deps = []string{}
	}
	if n.Partitions != nil {
		v.Partitions = n.Partitions.String()
	}
	return v
}

// ListAssets returns every asset of the graph in dependency order.
func (h *Handler) ListAssets(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.deps.Jobs.Graph().TopologicalOrder(nil)
	if err != nil {
		NewResponseWriter(w, r).InternalError(err.Error())
		return
	}
	views := make([]assetView, 0, len(nodes))
	for _, n := range nodes {
		views = append(views, newAssetView(n))
	}
	NewResponseWriter(w, r).List(views, len(views))
}

// ListPartitions returns the partition states seen by this process,
// optionally filtered by ?asset=.
func (h *Handler) ListPartitions(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("asset")
	states := []materialize.PartitionState{}
	for _, s := range h.deps.States.States() {
		if filter == "" || s.Asset == filter {
			states = append(states, s)
		}
	}
	NewResponseWriter(w, r).List(states, len(states))
}

// ListLedger returns persisted materialization records, optionally filtered
// by ?asset=.
func (h *Handler) ListLedger(w http.ResponseWriter, r *http.Request) {
	recs, err := h.deps.Ledger.List(r.Context(), r.URL.Query().Get("asset"))
	if err != nil {
		NewResponseWriter(w, r).DatabaseError(err)
		return
	}
	if recs == nil {
		recs = []materialize.Record{}
	}
	NewResponseWriter(w, r).List(recs, len(recs))
}

// ListSchedules returns every schedule with its last and next tick.
func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	statuses := []schedule.Status{}
	if h.deps.Schedules != nil {
		var err error
		statuses, err = h.deps.Schedules.Statuses(r.Context())
		if err != nil {
			NewResponseWriter(w, r).InternalError("failed to load schedules")
			return
		}
	}
	NewResponseWriter(w, r).List(statuses, len(statuses))
}

// ListEvents returns recent materialization events, newest first. ?limit=
// caps the count.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxEventLimit {
			NewResponseWriter(w, r).BadRequest("limit must be between 1 and " + strconv.Itoa(maxEventLimit))
			return
		}
		limit = n
	}

	events := []engine.Event{}
	if h.deps.Events != nil {
		events = append(events, h.deps.Events.Recent(limit)...)
	}
	NewResponseWriter(w, r).List(events, len(events))
}
