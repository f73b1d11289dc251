// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/taxiflow/internal/engine"
	"github.com/tomtom215/taxiflow/internal/job"
	"github.com/tomtom215/taxiflow/internal/logging"
	"github.com/tomtom215/taxiflow/internal/partition"
	"github.com/tomtom215/taxiflow/internal/pipeline"
	"github.com/tomtom215/taxiflow/internal/validation"
)

// maxRunBodyBytes bounds a run request body.
const maxRunBodyBytes = 64 << 10

type jobView struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Assets      []string `json:"assets"`
	Partitions  string   `json:"partitions,omitempty"`
	Cron        string   `json:"cron,omitempty"`
}

func newJobView(d *job.Definition) jobView {
	v := jobView{
		Name:        d.Spec.Name,
		Description: d.Spec.Description,
		Assets:      d.Assets,
		Cron:        d.Spec.Cron,
	}
	if d.Spec.Partitions != nil {
		v.Partitions = d.Spec.Partitions.String()
	}
	return v
}

// ListJobs returns every job.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	defs := h.deps.Jobs.List()
	views := make([]jobView, 0, len(defs))
	for _, d := range defs {
		views = append(views, newJobView(d))
	}
	NewResponseWriter(w, r).List(views, len(views))
}

// GetJob returns one job.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	def, err := h.deps.Jobs.Get(chi.URLParam(r, "name"))
	if err != nil {
		NewResponseWriter(w, r).NotFound(err.Error())
		return
	}
	NewResponseWriter(w, r).Success(newJobView(def))
}

// RunRequest is the body of a manual run. Partition and From/To are
// exclusive. A partitioned job run without either uses the latest complete
// partition.
type RunRequest struct {
	Partition string            `json:"partition,omitempty"`
	From      string            `json:"from,omitempty"`
	To        string            `json:"to,omitempty"`
	Request   *pipeline.Request `json:"request,omitempty"`
}

// RunJob runs a job synchronously and returns its report. Per-partition
// failures are reported in the body with status 200.
func (h *Handler) RunJob(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	def, err := h.deps.Jobs.Get(chi.URLParam(r, "name"))
	if err != nil {
		rw.NotFound(err.Error())
		return
	}

	var req RunRequest
	body := http.MaxBytesReader(w, r.Body, maxRunBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		rw.BadRequest("invalid request body: " + err.Error())
		return
	}

	keys, err := h.resolveKeys(def, &req)
	if err != nil {
		rw.BadRequest(err.Error())
		return
	}

	ctx := r.Context()
	if req.Request != nil {
		if err := req.Request.Validate(); err != nil {
			var verr *validation.RequestValidationError
			if errors.As(err, &verr) {
				apiErr := verr.ToAPIError()
				rw.ValidationError(apiErr.Message, apiErr.Details)
				return
			}
			rw.BadRequest(err.Error())
			return
		}
		ctx = pipeline.ContextWithRequest(ctx, req.Request)
	}
	if h.deps.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.deps.RunTimeout)
		defer cancel()
	}

	logging.Ctx(ctx).Info().Str("job", def.Spec.Name).Int("partitions", len(keys)).Msg("Manual run requested")
	rep, err := h.deps.Runner.Run(ctx, def, keys)
	switch {
	case errors.Is(err, engine.ErrNoPartitions),
		errors.Is(err, engine.ErrNotPartitioned),
		errors.Is(err, partition.ErrKeyOutOfRange):
		rw.BadRequest(err.Error())
		return
	case err != nil:
		logging.Ctx(ctx).Error().Err(err).Str("job", def.Spec.Name).Msg("Run failed to start")
		rw.InternalError("run failed to start")
		return
	}
	rw.Success(rep)
}

func (h *Handler) resolveKeys(def *job.Definition, req *RunRequest) ([]partition.Key, error) {
	if def.Spec.Partitioned() && req.Partition == "" && req.From == "" && req.To == "" {
		k, ok := def.Latest(h.now())
		if !ok {
			return nil, errors.New("no complete partition yet; give a partition")
		}
		return []partition.Key{k}, nil
	}
	return def.ResolveKeys(req.Partition, req.From, req.To)
}
