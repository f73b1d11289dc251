// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/taxiflow/internal/config"
	"github.com/tomtom215/taxiflow/internal/partition"
)

func testSourceConfig() config.SourceConfig {
	return config.SourceConfig{
		Timeout:            2 * time.Second,
		UserAgent:          "taxiflow-test",
		RateLimit:          1000,
		RateBurst:          10,
		BreakerMaxFailures: 2,
		BreakerTimeout:     time.Minute,
	}
}

func monthKey(t *testing.T, s string) partition.Key {
	t.Helper()
	k, err := partition.ParseKey(partition.Monthly, s)
	if err != nil {
		t.Fatalf("ParseKey: %v", err)
	}
	return k
}

func TestRender(t *testing.T) {
	tests := []struct {
		name    string
		tmpl    string
		key     string
		want    string
		wantErr bool
	}{
		{"monthly key", "https://example.test/yellow_tripdata_{{.Key}}.parquet", "2023-03", "https://example.test/yellow_tripdata_2023-03.parquet", false},
		{"no placeholder", "https://example.test/zones.csv", "", "https://example.test/zones.csv", false},
		{"unknown field", "{{.Month}}", "2023-03", "", true},
		{"bad syntax", "{{.Key", "2023-03", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var key partition.Key
			if tt.key != "" {
				key = monthKey(t, tt.key)
			}
			got, err := Render(tt.tmpl, key)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Render() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Render() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHTTPProvider_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "taxiflow-test" {
			t.Errorf("User-Agent = %q", r.Header.Get("User-Agent"))
		}
		_, _ = w.Write([]byte("payload " + r.URL.Path))
	}))
	defer server.Close()

	p := NewHTTPProvider("test-fetch", testSourceConfig())
	body, err := p.Fetch(context.Background(), monthKey(t, "2023-03"), server.URL+"/trips_{{.Key}}.parquet")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if string(body) != "payload /trips_2023-03.parquet" {
		t.Errorf("body = %q", body)
	}
}

func TestHTTPProvider_StatusErrorPropagates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "missing", http.StatusNotFound)
	}))
	defer server.Close()

	p := NewHTTPProvider("test-status", testSourceConfig())
	_, err := p.Fetch(context.Background(), monthKey(t, "2023-03"), server.URL+"/{{.Key}}")

	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected *HTTPStatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d", statusErr.StatusCode)
	}
}

func TestHTTPProvider_BreakerOpens(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	p := NewHTTPProvider("test-breaker", testSourceConfig())
	key := monthKey(t, "2023-03")
	for i := 0; i < 2; i++ {
		if _, err := p.Fetch(context.Background(), key, server.URL); err == nil {
			t.Fatal("expected upstream failure")
		}
	}
	if p.State() != "open" {
		t.Fatalf("State() = %s, want open", p.State())
	}

	_, err := p.Fetch(context.Background(), key, server.URL)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("expected ErrOpenState, got %v", err)
	}
	if hits.Load() != 2 {
		t.Errorf("upstream hit %d times, want 2", hits.Load())
	}
}

func TestHTTPProvider_RateLimitHonoursContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	cfg := testSourceConfig()
	cfg.RateLimit = 0.001
	cfg.RateBurst = 1
	p := NewHTTPProvider("test-rate", cfg)

	if _, err := p.Fetch(context.Background(), partition.Key{}, server.URL); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.Fetch(ctx, partition.Key{}, server.URL); err == nil {
		t.Error("expected the limiter to refuse a wait beyond the deadline")
	}
}

type staticProvider struct {
	body []byte
	err  error
}

func (s staticProvider) Fetch(context.Context, partition.Key, string) ([]byte, error) {
	return s.body, s.err
}

func TestFile_Materialize(t *testing.T) {
	dir := t.TempDir()
	f := &File{
		Provider: staticProvider{body: []byte("parquet-bytes")},
		URL:      "unused",
		Path:     filepath.Join(dir, "raw", "taxi_trips_{{.Key}}.parquet"),
	}

	res, err := f.Materialize(context.Background(), monthKey(t, "2023-03"))
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	want := filepath.Join(dir, "raw", "taxi_trips_2023-03.parquet")
	if res.Path != want || res.Bytes != int64(len("parquet-bytes")) {
		t.Errorf("Result = %+v", res)
	}
	data, err := os.ReadFile(want)
	if err != nil || string(data) != "parquet-bytes" {
		t.Errorf("file content = %q, %v", data, err)
	}

	entries, _ := os.ReadDir(filepath.Join(dir, "raw"))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestFile_FetchErrorLeavesExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "zones.csv")
	if err := os.WriteFile(path, []byte("old"), 0o600); err != nil {
		t.Fatal(err)
	}

	upstream := errors.New("connection reset")
	f := &File{Provider: staticProvider{err: upstream}, URL: "x", Path: path}
	if _, err := f.Materialize(context.Background(), partition.Key{}); !errors.Is(err, upstream) {
		t.Fatalf("expected upstream error unmodified, got %v", err)
	}
	if data, _ := os.ReadFile(path); string(data) != "old" {
		t.Errorf("existing file modified: %q", data)
	}
}
