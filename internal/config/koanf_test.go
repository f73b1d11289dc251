// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// isolateConfigPaths points the loader at a temp directory so a developer's
// config.yaml never leaks into the tests.
func isolateConfigPaths(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	orig := DefaultConfigPaths
	DefaultConfigPaths = []string{filepath.Join(dir, "config.yaml")}
	t.Cleanup(func() { DefaultConfigPaths = orig })
	t.Setenv(ConfigPathEnvVar, "")
	return dir
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Database.Path != "data/staging/data.duckdb" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.Pipeline.StartDate != "2023-01-01" || cfg.Pipeline.EndDate != "2023-04-01" {
		t.Errorf("Pipeline range = %s..%s", cfg.Pipeline.StartDate, cfg.Pipeline.EndDate)
	}
	if cfg.Pipeline.Parallelism != 1 {
		t.Errorf("Pipeline.Parallelism = %d, want 1", cfg.Pipeline.Parallelism)
	}
	if cfg.Backoff.MaxRetries != 10 {
		t.Errorf("Backoff.MaxRetries = %d, want 10", cfg.Backoff.MaxRetries)
	}
	if cfg.Scheduler.CheckInterval != time.Minute {
		t.Errorf("Scheduler.CheckInterval = %v", cfg.Scheduler.CheckInterval)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadWithKoanf_Defaults(t *testing.T) {
	isolateConfigPaths(t)

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf() error = %v", err)
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want 3000", cfg.Server.Port)
	}
	if cfg.Outputs.TripsByWeekPath() != filepath.Join("data", "outputs", "trips_by_week.csv") {
		t.Errorf("TripsByWeekPath = %q", cfg.Outputs.TripsByWeekPath())
	}
}

func TestLoadWithKoanf_EnvOverrides(t *testing.T) {
	isolateConfigPaths(t)
	t.Setenv("DUCKDB_DATABASE", ":memory:")
	t.Setenv("START_DATE", "2022-06-01")
	t.Setenv("PIPELINE_PARALLELISM", "4")
	t.Setenv("BACKOFF_BASE_DELAY", "250ms")
	t.Setenv("SCHEDULER_DISABLED", "weekly_update_job, trip_update_job")
	t.Setenv("UNRELATED_VARIABLE", "ignored")

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf() error = %v", err)
	}
	if !cfg.Database.InMemory() {
		t.Errorf("Database.Path = %q, want in-memory", cfg.Database.Path)
	}
	if cfg.Pipeline.StartDate != "2022-06-01" {
		t.Errorf("Pipeline.StartDate = %q", cfg.Pipeline.StartDate)
	}
	if cfg.Pipeline.Parallelism != 4 {
		t.Errorf("Pipeline.Parallelism = %d", cfg.Pipeline.Parallelism)
	}
	if cfg.Backoff.BaseDelay != 250*time.Millisecond {
		t.Errorf("Backoff.BaseDelay = %v", cfg.Backoff.BaseDelay)
	}
	if len(cfg.Scheduler.Disabled) != 2 || cfg.Scheduler.Disabled[1] != "trip_update_job" {
		t.Errorf("Scheduler.Disabled = %v", cfg.Scheduler.Disabled)
	}
}

func TestLoadWithKoanf_FileThenEnv(t *testing.T) {
	dir := isolateConfigPaths(t)
	path := filepath.Join(dir, "custom.yaml")
	yaml := []byte(`
pipeline:
  end_date: "2023-07-01"
  parallelism: 2
server:
  port: 9090
`)
	if err := os.WriteFile(path, yaml, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("HTTP_PORT", "9191")

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf() error = %v", err)
	}
	if cfg.Pipeline.EndDate != "2023-07-01" || cfg.Pipeline.Parallelism != 2 {
		t.Errorf("file values not applied: %+v", cfg.Pipeline)
	}
	if cfg.Server.Port != 9191 {
		t.Errorf("env should win over file, Server.Port = %d", cfg.Server.Port)
	}
}

func TestLoadWithKoanf_InvalidRange(t *testing.T) {
	isolateConfigPaths(t)
	t.Setenv("START_DATE", "2023-05-01")
	t.Setenv("END_DATE", "2023-04-01")

	if _, err := LoadWithKoanf(); err == nil {
		t.Fatal("expected validation error for end before start")
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"DUCKDB_DATABASE", "database.path"},
		{"START_DATE", "pipeline.start_date"},
		{"LOG_LEVEL", "logging.level"},
		{"HOME", ""},
	}
	for _, tt := range tests {
		if got := envTransformFunc(tt.in); got != tt.want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
