// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/tomtom215/taxiflow/internal/config"
	"github.com/tomtom215/taxiflow/internal/engine"
	"github.com/tomtom215/taxiflow/internal/logging"
	"github.com/tomtom215/taxiflow/internal/materialize"
	"github.com/tomtom215/taxiflow/internal/pipeline"
	"github.com/tomtom215/taxiflow/internal/source"
	"github.com/tomtom215/taxiflow/internal/storage"
)

// providerName labels the upstream provider in metrics and logs.
const providerName = "nyc-tlc"

// app holds the components shared by every subcommand.
type app struct {
	cfg          *config.Config
	store        *storage.Store
	materializer *materialize.Materializer
	ledger       *materialize.Ledger
	pipeline     *pipeline.Pipeline
}

// openApp opens the store and builds the pipeline.
func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	for _, dir := range []string{cfg.Pipeline.RawDir, cfg.Outputs.Dir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	policy := cfg.Backoff.Policy()
	store, err := storage.Open(ctx, cfg.Database, policy)
	if err != nil {
		return nil, err
	}

	m := materialize.New(store, materialize.WithPolicy(policy))
	p, err := pipeline.Build(cfg, m, source.NewHTTPProvider(providerName, cfg.Source))
	if err != nil {
		if closeErr := store.Close(); closeErr != nil {
			logging.Error().Err(closeErr).Msg("Error closing database")
		}
		return nil, fmt.Errorf("failed to build pipeline: %w", err)
	}

	logging.Info().
		Str("db_path", cfg.Database.Path).
		Int("assets", p.Graph.Len()).
		Int("jobs", len(p.Jobs.List())).
		Msg("Pipeline built")

	return &app{
		cfg:          cfg,
		store:        store,
		materializer: m,
		ledger:       materialize.NewLedger(store),
		pipeline:     p,
	}, nil
}

// runner returns an engine runner over the pipeline graph.
func (a *app) runner(opts ...engine.Option) *engine.Runner {
	opts = append([]engine.Option{engine.WithParallelism(a.cfg.Pipeline.Parallelism)}, opts...)
	return engine.NewRunner(a.pipeline.Graph, opts...)
}

// Close closes the store, logging any error.
func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		logging.Error().Err(err).Msg("Error closing database")
	}
}
