// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

// Package pipeline defines the taxi assets and jobs.
//
// Raw files are downloaded per month, loaded into DuckDB tables and
// summarized into report artifacts under the outputs directory:
//
//	taxi_trips_file -> taxi_trips -+-> manhattan_stats -> manhattan_map
//	taxi_zones_file -> taxi_zones -+-> adhoc_request
//	                   taxi_trips ---> trips_by_week
package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/tomtom215/taxiflow/internal/asset"
	"github.com/tomtom215/taxiflow/internal/config"
	"github.com/tomtom215/taxiflow/internal/job"
	"github.com/tomtom215/taxiflow/internal/materialize"
	"github.com/tomtom215/taxiflow/internal/partition"
	"github.com/tomtom215/taxiflow/internal/source"
	"github.com/tomtom215/taxiflow/internal/storage"
)

// Asset names.
const (
	TaxiTripsFile  = "taxi_trips_file"
	TaxiTrips      = "taxi_trips"
	TaxiZonesFile  = "taxi_zones_file"
	TaxiZones      = "taxi_zones"
	ManhattanStats = "manhattan_stats"
	ManhattanMap   = "manhattan_map"
	TripsByWeek    = "trips_by_week"
	AdhocRequest   = "adhoc_request"
)

// Asset groups.
const (
	GroupRawFiles = "raw_files"
	GroupIngested = "ingested"
	GroupMetrics  = "metrics"
	GroupRequests = "requests"
)

// Job names.
const (
	TripUpdateJob   = "trip_update_job"
	WeeklyUpdateJob = "weekly_update_job"
	AdhocRequestJob = "adhoc_request_job"
)

const zonesFileName = "taxi_zones.csv"

// Pipeline is the validated asset graph and job set.
type Pipeline struct {
	Graph   *asset.Graph
	Jobs    *job.Set
	Monthly *partition.Calendar
}

// Build wires every asset to m and provider and validates the jobs.
func Build(cfg *config.Config, m *materialize.Materializer, provider source.Provider) (*Pipeline, error) {
	for _, p := range []string{cfg.Pipeline.RawDir, cfg.Outputs.Dir} {
		// Paths are embedded in SQL string literals.
		if strings.Contains(p, "'") {
			return nil, fmt.Errorf("path %q must not contain a single quote", p)
		}
	}

	monthly, err := cfg.Pipeline.Calendar(partition.Monthly)
	if err != nil {
		return nil, err
	}

	trips, err := materialize.NewTable("trips", tripsColumns, true, tripsSelect,
		map[string]string{"raw_dir": cfg.Pipeline.RawDir})
	if err != nil {
		return nil, err
	}
	trips.Asset = TaxiTrips

	zones, err := materialize.NewTable("zones", zonesColumns, false, zonesSelect,
		map[string]string{"zones_file": cfg.Pipeline.RawPath(zonesFileName)})
	if err != nil {
		return nil, err
	}
	zones.Asset = TaxiZones

	r := &reports{outputs: cfg.Outputs}

	weekly, err := materialize.NewTable(TripsByWeek, tripsByWeekColumns, false, tripsByWeekSelect, nil)
	if err != nil {
		return nil, err
	}
	weekly.Export = r.exportTripsByWeek

	tripsFile := &source.File{
		Provider: provider,
		URL:      cfg.Source.TripsURLTemplate,
		Path:     cfg.Pipeline.RawPath("taxi_trips_{{.Key}}.parquet"),
	}
	zonesFile := &source.File{
		Provider: provider,
		URL:      cfg.Source.ZonesURL,
		Path:     cfg.Pipeline.RawPath(zonesFileName),
	}

	g, err := asset.NewBuilder().Add(
		&asset.Node{
			Name:        TaxiTripsFile,
			Partitions:  monthly,
			Group:       GroupRawFiles,
			Description: "The raw parquet file of yellow taxi trips for one month.",
			Op:          m.WorkOp(TaxiTripsFile, fileWork(tripsFile)),
		},
		&asset.Node{
			Name:        TaxiTrips,
			Deps:        []string{TaxiTripsFile},
			Partitions:  monthly,
			Group:       GroupIngested,
			Description: "Yellow taxi trips loaded into the trips table, one partition per month.",
			Op:          m.TableOp(trips),
		},
		&asset.Node{
			Name:        TaxiZonesFile,
			Group:       GroupRawFiles,
			Description: "The raw CSV of taxi zones with their boundaries.",
			Op:          m.WorkOp(TaxiZonesFile, fileWork(zonesFile)),
		},
		&asset.Node{
			Name:        TaxiZones,
			Deps:        []string{TaxiZonesFile},
			Group:       GroupIngested,
			Description: "Taxi zones loaded into the zones table.",
			Op:          m.TableOp(zones),
		},
		&asset.Node{
			Name:        ManhattanStats,
			Deps:        []string{TaxiTrips, TaxiZones},
			Group:       GroupMetrics,
			Description: "Pickups per Manhattan zone as GeoJSON.",
			Op:          m.WorkOp(ManhattanStats, r.manhattanStats),
		},
		&asset.Node{
			Name:        ManhattanMap,
			Deps:        []string{ManhattanStats},
			Group:       GroupMetrics,
			Description: "A choropleth of pickups per Manhattan zone.",
			Op:          m.WorkOp(ManhattanMap, r.manhattanMap),
		},
		&asset.Node{
			Name:        TripsByWeek,
			Deps:        []string{TaxiTrips},
			Group:       GroupMetrics,
			Description: "Weekly trip totals, exported as CSV.",
			Op:          m.TableOp(weekly),
		},
		&asset.Node{
			Name:        AdhocRequest,
			Deps:        []string{TaxiTrips, TaxiZones},
			Group:       GroupRequests,
			Description: "A chart of pickups by hour and weekday for a requested borough and date range.",
			Op:          m.WorkOp(AdhocRequest, r.adhocRequest),
		},
	).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build asset graph: %w", err)
	}

	jobs, err := job.NewSet(g,
		&job.Spec{
			Name:        TripUpdateJob,
			Description: "Loads one month of trips and refreshes the zone reports.",
			Selection:   asset.All().Minus(asset.Names(TripsByWeek, AdhocRequest)),
			Partitions:  monthly,
			Cron:        "0 0 5 * *",
		},
		&job.Spec{
			Name:        WeeklyUpdateJob,
			Description: "Rebuilds the weekly trip totals.",
			Selection:   asset.Names(TripsByWeek),
			Cron:        "0 0 * * 1",
		},
		&job.Spec{
			Name:        AdhocRequestJob,
			Description: "Renders a requested chart. Run manually with a request.",
			Selection:   asset.Names(AdhocRequest),
		},
	)
	if err != nil {
		return nil, err
	}

	return &Pipeline{Graph: g, Jobs: jobs, Monthly: monthly}, nil
}

// fileWork runs a download inside the materializer so downloads are
// recorded in the ledger like tables.
func fileWork(f *source.File) materialize.Work {
	return func(ctx context.Context, _ *storage.Handle, key partition.Key) (asset.Result, error) {
		return f.Materialize(ctx, key)
	}
}
