// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/taxiflow/internal/backoff"
	"github.com/tomtom215/taxiflow/internal/config"
	"github.com/tomtom215/taxiflow/internal/engine"
	"github.com/tomtom215/taxiflow/internal/geo"
	"github.com/tomtom215/taxiflow/internal/materialize"
	"github.com/tomtom215/taxiflow/internal/partition"
	"github.com/tomtom215/taxiflow/internal/source"
	"github.com/tomtom215/taxiflow/internal/storage"
)

const (
	testTripsURL = "https://example.test/trips/{{.Key}}.parquet"
	testZonesURL = "https://example.test/zones.csv"
)

// fakeProvider serves fixed bodies by rendered URL.
type fakeProvider struct {
	files map[string][]byte
}

func (p *fakeProvider) Fetch(_ context.Context, key partition.Key, urlTemplate string) ([]byte, error) {
	url, err := source.Render(urlTemplate, key)
	if err != nil {
		return nil, err
	}
	body, ok := p.files[url]
	if !ok {
		return nil, &source.HTTPStatusError{URL: url, StatusCode: 404, Status: "404 Not Found"}
	}
	return body, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Pipeline: config.PipelineConfig{
			StartDate:   "2023-01-01",
			EndDate:     "2023-04-01",
			Parallelism: 2,
			RawDir:      filepath.Join(dir, "raw"),
		},
		Source: config.SourceConfig{
			TripsURLTemplate: testTripsURL,
			ZonesURL:         testZonesURL,
		},
		Outputs: config.OutputsConfig{Dir: filepath.Join(dir, "outputs")},
	}
}

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	policy := backoff.Policy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
	s, err := storage.Open(context.Background(), config.DatabaseConfig{Path: ":memory:", Threads: 2}, policy)
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBuild_GraphAndJobs(t *testing.T) {
	p, err := Build(testConfig(t), materialize.New(openStore(t)), &fakeProvider{})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if p.Graph.Len() != 8 {
		t.Errorf("graph has %d assets, want 8", p.Graph.Len())
	}

	tests := []struct {
		job         string
		assets      []string
		partitioned bool
	}{
		{TripUpdateJob, []string{ManhattanMap, ManhattanStats, TaxiTrips, TaxiTripsFile, TaxiZones, TaxiZonesFile}, true},
		{WeeklyUpdateJob, []string{TripsByWeek}, false},
		{AdhocRequestJob, []string{AdhocRequest}, false},
	}
	for _, tt := range tests {
		t.Run(tt.job, func(t *testing.T) {
			def, err := p.Jobs.Get(tt.job)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if !slices.Equal(def.Assets, tt.assets) {
				t.Errorf("assets = %v, want %v", def.Assets, tt.assets)
			}
			if def.Spec.Partitioned() != tt.partitioned {
				t.Errorf("partitioned = %v, want %v", def.Spec.Partitioned(), tt.partitioned)
			}
		})
	}

	var names []string
	for _, s := range p.Jobs.Schedules() {
		names = append(names, s.Name)
	}
	want := []string{"trip_update_job_schedule", "weekly_update_job_schedule"}
	if !slices.Equal(names, want) {
		t.Errorf("schedules = %v, want %v", names, want)
	}
}

func TestBuild_RejectsQuotedPaths(t *testing.T) {
	cfg := testConfig(t)
	cfg.Pipeline.RawDir = "/tmp/o'brien"
	if _, err := Build(cfg, materialize.New(openStore(t)), &fakeProvider{}); err == nil {
		t.Fatal("expected error for path with a quote")
	}
}

func TestRequest_Validate(t *testing.T) {
	valid := Request{Filename: "rush_hour.png", Borough: "Manhattan", StartDate: "2023-01-01", EndDate: "2023-02-01"}
	tests := []struct {
		name    string
		mutate  func(r *Request)
		wantErr bool
	}{
		{"valid", func(*Request) {}, false},
		{"missing borough", func(r *Request) { r.Borough = "" }, true},
		{"bad date", func(r *Request) { r.StartDate = "2023-13-01" }, true},
		{"end before start", func(r *Request) { r.EndDate = "2022-12-31" }, true},
		{"same day", func(r *Request) { r.EndDate = r.StartDate }, true},
		{"no usable name", func(r *Request) { r.Filename = ".png" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			tt.mutate(&r)
			if err := r.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRequest_OutputName(t *testing.T) {
	tests := map[string]string{
		"rush_hour.png":         "rush_hour",
		"nested/dir/report.png": "report",
		"plain":                 "plain",
		"archive.tar.gz":        "archive",
		"  spaced_name.png  ":   "spaced_name",
		"../../escape/out.png":  "out",
	}
	for in, want := range tests {
		r := Request{Filename: in}
		if got := r.OutputName(); got != want {
			t.Errorf("OutputName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRequestFromContext(t *testing.T) {
	if _, err := RequestFromContext(context.Background()); !errors.Is(err, ErrNoRequest) {
		t.Errorf("err = %v, want ErrNoRequest", err)
	}
	req := &Request{Filename: "x"}
	got, err := RequestFromContext(ContextWithRequest(context.Background(), req))
	if err != nil || got != req {
		t.Errorf("RequestFromContext() = %v, %v", got, err)
	}
}

// tripsParquet writes a small January trips file with the upstream column
// names and returns its bytes.
func tripsParquet(t *testing.T, store *storage.Store) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trips.parquet")
	query := fmt.Sprintf(`COPY (
SELECT * FROM (VALUES
    (1, 1, 2, 1.0, 1, TIMESTAMP '2023-01-02 08:20:00', TIMESTAMP '2023-01-02 08:00:00', 1.5, 1.0, 12.5),
    (2, 1, 1, 1.0, 2, TIMESTAMP '2023-01-03 09:15:00', TIMESTAMP '2023-01-03 09:00:00', 0.8, 2.0, 8.0),
    (1, 3, 1, 1.0, 1, TIMESTAMP '2023-01-09 18:40:00', TIMESTAMP '2023-01-09 18:10:00', 4.2, 1.0, 30.0),
    (2, 2, 1, 1.0, 1, TIMESTAMP '2023-01-10 22:30:00', TIMESTAMP '2023-01-10 22:05:00', 3.1, 3.0, 21.0)
) AS t(VendorID, PULocationID, DOLocationID, RatecodeID, payment_type,
       tpep_dropoff_datetime, tpep_pickup_datetime, trip_distance, passenger_count, total_amount)
) TO '%s' (FORMAT PARQUET)`, path)

	err := store.WithHandle(context.Background(), func(h *storage.Handle) error {
		_, err := h.ExecContext(context.Background(), query)
		return err
	})
	if err != nil {
		t.Fatalf("write parquet: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

const zonesCSV = `LocationID,zone,borough,the_geom
1,Midtown,Manhattan,"MULTIPOLYGON (((-74.00 40.74, -73.96 40.74, -73.96 40.77, -74.00 40.77, -74.00 40.74)))"
2,Upper West Side,Manhattan,"MULTIPOLYGON (((-73.99 40.77, -73.95 40.77, -73.95 40.80, -73.99 40.80, -73.99 40.77)))"
3,Park Slope,Brooklyn,"MULTIPOLYGON (((-73.99 40.66, -73.97 40.66, -73.97 40.68, -73.99 40.68, -73.99 40.66)))"
`

func TestPipeline_EndToEnd(t *testing.T) {
	cfg := testConfig(t)
	store := openStore(t)
	provider := &fakeProvider{files: map[string][]byte{
		"https://example.test/trips/2023-01.parquet": tripsParquet(t, store),
		testZonesURL: []byte(zonesCSV),
	}}

	m := materialize.New(store)
	p, err := Build(cfg, m, provider)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	runner := engine.NewRunner(p.Graph, engine.WithParallelism(cfg.Pipeline.Parallelism))
	ctx := context.Background()

	jan, err := p.Monthly.ParseKey("2023-01")
	if err != nil {
		t.Fatal(err)
	}

	t.Run("trip update", func(t *testing.T) {
		def, _ := p.Jobs.Get(TripUpdateJob)
		rep, err := runner.Run(ctx, def, []partition.Key{jan})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if !rep.Succeeded() {
			t.Fatalf("run failed: %v", rep.Err())
		}
		if o, ok := rep.Outcome(TaxiTrips, "2023-01"); !ok || o.Rows != 4 {
			t.Errorf("taxi_trips outcome = %+v, want 4 rows", o)
		}

		data, err := os.ReadFile(cfg.Outputs.ManhattanStatsPath())
		if err != nil {
			t.Fatalf("read stats: %v", err)
		}
		fc, err := geo.DecodeFeatureCollection(data)
		if err != nil {
			t.Fatalf("decode stats: %v", err)
		}
		counts := make(map[string]float64)
		for _, f := range fc.Features {
			counts[f.Properties["zone"].(string)] = f.Properties["num_trips"].(float64)
		}
		if len(counts) != 2 || counts["Midtown"] != 2 || counts["Upper West Side"] != 1 {
			t.Errorf("zone counts = %v", counts)
		}

		f, err := os.Open(cfg.Outputs.ManhattanMapPath())
		if err != nil {
			t.Fatalf("open map: %v", err)
		}
		defer f.Close()
		if _, err := png.Decode(f); err != nil {
			t.Errorf("map is not a png: %v", err)
		}
	})

	t.Run("weekly update", func(t *testing.T) {
		def, _ := p.Jobs.Get(WeeklyUpdateJob)
		rep, err := runner.Run(ctx, def, nil)
		if err != nil || !rep.Succeeded() {
			t.Fatalf("Run() err=%v report=%v", err, rep.Err())
		}
		data, err := os.ReadFile(cfg.Outputs.TripsByWeekPath())
		if err != nil {
			t.Fatalf("read csv: %v", err)
		}
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		if lines[0] != "period,num_trips,passenger_count,total_amount,trip_distance" {
			t.Errorf("header = %q", lines[0])
		}
		// Two ISO weeks: Jan 2 and Jan 9.
		if len(lines) != 3 || !strings.HasPrefix(lines[1], "2023-01-02,2,") || !strings.HasPrefix(lines[2], "2023-01-09,2,") {
			t.Errorf("csv = %q", data)
		}
	})

	t.Run("adhoc request", func(t *testing.T) {
		def, _ := p.Jobs.Get(AdhocRequestJob)

		rep, err := runner.Run(ctx, def, nil)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if !errors.Is(rep.Err(), ErrNoRequest) {
			t.Errorf("run without request: %v, want ErrNoRequest", rep.Err())
		}

		req := &Request{Filename: "weekday_mornings.png", Borough: "Manhattan", StartDate: "2023-01-01", EndDate: "2023-02-01"}
		rep, err = runner.Run(ContextWithRequest(ctx, req), def, nil)
		if err != nil || !rep.Succeeded() {
			t.Fatalf("Run() err=%v report=%v", err, rep.Err())
		}
		if o, ok := rep.Outcome(AdhocRequest, ""); !ok || o.Rows != 3 {
			t.Errorf("adhoc outcome = %+v, want 3 trips", o)
		}
		if _, err := os.Stat(cfg.Outputs.RequestPath("weekday_mornings")); err != nil {
			t.Errorf("chart not written: %v", err)
		}
	})

	t.Run("missing upstream file", func(t *testing.T) {
		def, _ := p.Jobs.Get(TripUpdateJob)
		feb, _ := p.Monthly.ParseKey("2023-02")
		rep, err := runner.Run(ctx, def, []partition.Key{feb})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if o, ok := rep.Outcome(TaxiTripsFile, "2023-02"); !ok || o.Status != engine.StatusFailed {
			t.Errorf("file outcome = %+v, want FAILED", o)
		}
		if o, ok := rep.Outcome(TaxiTrips, "2023-02"); !ok || o.Status != engine.StatusSkipped {
			t.Errorf("table outcome = %+v, want SKIPPED", o)
		}
		// January's rows survive a failed February.
		st, ok := m.State(TaxiTrips, "2023-01")
		if !ok || st.State != materialize.StateCommitted {
			t.Errorf("January state = %+v", st)
		}
	})
}
