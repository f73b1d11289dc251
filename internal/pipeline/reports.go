// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"

	"github.com/tomtom215/taxiflow/internal/asset"
	"github.com/tomtom215/taxiflow/internal/config"
	"github.com/tomtom215/taxiflow/internal/geo"
	"github.com/tomtom215/taxiflow/internal/logging"
	"github.com/tomtom215/taxiflow/internal/partition"
	"github.com/tomtom215/taxiflow/internal/report"
	"github.com/tomtom215/taxiflow/internal/storage"
)

const (
	statsBorough = "Manhattan"

	mapWidth    = 1000
	mapHeight   = 1000
	chartWidth  = 1000
	chartHeight = 600
)

var weekdays = []string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}

// querier runs read queries. *storage.Handle implements it.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// reports produces the file artifacts of the pipeline.
type reports struct {
	outputs config.OutputsConfig
}

func (r *reports) manhattanStats(ctx context.Context, h *storage.Handle, _ partition.Key) (asset.Result, error) {
	fc, err := queryBoroughStats(ctx, h, statsBorough)
	if err != nil {
		return asset.Result{}, err
	}
	path := r.outputs.ManhattanStatsPath()
	n, err := report.WriteGeoJSON(path, fc)
	if err != nil {
		return asset.Result{}, err
	}
	logging.Ctx(ctx).Info().Str("path", path).Int("zones", len(fc.Features)).Msg("Saved zone statistics")
	return asset.Result{Rows: int64(len(fc.Features)), Path: path, Bytes: n}, nil
}

// queryBoroughStats returns one feature per zone of borough with its pickup
// count.
func queryBoroughStats(ctx context.Context, q querier, borough string) (fc geo.FeatureCollection, err error) {
	rows, err := q.QueryContext(ctx, boroughStatsQuery, borough)
	if err != nil {
		return fc, fmt.Errorf("failed to query zone statistics: %w", err)
	}
	defer rows.Close()

	var features []geo.Feature
	for rows.Next() {
		var zone, boro sql.NullString
		var wkt string
		var trips int64
		if err := rows.Scan(&zone, &boro, &wkt, &trips); err != nil {
			return fc, fmt.Errorf("failed to scan zone statistics: %w", err)
		}
		g, err := geo.ParseWKT(wkt)
		if err != nil {
			return fc, fmt.Errorf("zone %s: %w", zone.String, err)
		}
		features = append(features, geo.NewFeature(g, map[string]any{
			"zone":      zone.String,
			"borough":   boro.String,
			"num_trips": trips,
		}))
	}
	if err := rows.Err(); err != nil {
		return fc, err
	}
	return geo.NewFeatureCollection(features), nil
}

func (r *reports) manhattanMap(ctx context.Context, _ *storage.Handle, _ partition.Key) (asset.Result, error) {
	data, err := os.ReadFile(r.outputs.ManhattanStatsPath())
	if err != nil {
		return asset.Result{}, fmt.Errorf("failed to read zone statistics: %w", err)
	}
	fc, err := geo.DecodeFeatureCollection(data)
	if err != nil {
		return asset.Result{}, fmt.Errorf("failed to decode zone statistics: %w", err)
	}

	regions := make([]report.Region, 0, len(fc.Features))
	for _, f := range fc.Features {
		v, err := number(f.Properties["num_trips"])
		if err != nil {
			return asset.Result{}, fmt.Errorf("zone %v: %w", f.Properties["zone"], err)
		}
		regions = append(regions, report.Region{Geometry: f.Geometry, Value: v})
	}

	img, err := report.Choropleth(regions, report.ManhattanViewport, mapWidth, mapHeight, report.Plasma)
	if err != nil {
		return asset.Result{}, err
	}
	path := r.outputs.ManhattanMapPath()
	n, err := report.WritePNG(path, img)
	if err != nil {
		return asset.Result{}, err
	}
	return asset.Result{Path: path, Bytes: n}, nil
}

func (r *reports) exportTripsByWeek(ctx context.Context, h *storage.Handle, _ partition.Key) (asset.Result, error) {
	path := r.outputs.TripsByWeekPath()
	n, err := report.ExportCSV(ctx, h, tripsByWeekExport, path)
	if err != nil {
		return asset.Result{}, err
	}
	return asset.Result{Path: path, Bytes: n}, nil
}

func (r *reports) adhocRequest(ctx context.Context, h *storage.Handle, _ partition.Key) (asset.Result, error) {
	req, err := RequestFromContext(ctx)
	if err != nil {
		return asset.Result{}, err
	}
	if err := req.Validate(); err != nil {
		return asset.Result{}, err
	}

	series, total, err := queryRequest(ctx, h, req)
	if err != nil {
		return asset.Result{}, err
	}
	img, err := report.StackedBar(series, chartWidth, chartHeight, report.Viridis)
	if err != nil {
		return asset.Result{}, err
	}
	path := r.outputs.RequestPath(req.OutputName())
	n, err := report.WritePNG(path, img)
	if err != nil {
		return asset.Result{}, err
	}

	logging.Ctx(ctx).Info().
		Str("borough", req.Borough).
		Str("start_date", req.StartDate).
		Str("end_date", req.EndDate).
		Int64("trips", total).
		Str("path", path).
		Msg("Saved ad hoc request chart")
	return asset.Result{Rows: total, Path: path, Bytes: n}, nil
}

// queryRequest returns pickups by hour of day (categories) stacked by
// weekday (series, Sunday first) and the total count.
func queryRequest(ctx context.Context, q querier, req *Request) (report.StackedSeries, int64, error) {
	series := report.StackedSeries{
		Categories: make([]string, 24),
		Series:     weekdays,
		Values:     make([][]float64, len(weekdays)),
	}
	for h := range series.Categories {
		series.Categories[h] = strconv.Itoa(h)
	}
	for d := range series.Values {
		series.Values[d] = make([]float64, 24)
	}

	rows, err := q.QueryContext(ctx, requestQuery, req.StartDate, req.EndDate, req.Borough)
	if err != nil {
		return series, 0, fmt.Errorf("failed to query request: %w", err)
	}
	defer rows.Close()

	var total int64
	for rows.Next() {
		var hour, dow int
		var trips int64
		if err := rows.Scan(&hour, &dow, &trips); err != nil {
			return series, 0, fmt.Errorf("failed to scan request row: %w", err)
		}
		if hour < 0 || hour > 23 || dow < 0 || dow > 6 {
			return series, 0, fmt.Errorf("unexpected hour %d or weekday %d", hour, dow)
		}
		series.Values[dow][hour] = float64(trips)
		total += trips
	}
	return series, total, rows.Err()
}

// number converts a decoded JSON number.
func number(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	case int:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("num_trips is %T, want a number", v)
	}
}
