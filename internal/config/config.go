// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

package config

import (
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"time"

	"github.com/tomtom215/taxiflow/internal/backoff"
	"github.com/tomtom215/taxiflow/internal/partition"
)

// Config holds all application configuration loaded from defaults, an
// optional YAML file and environment variables.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: Built-in defaults for every setting
//  2. Config File: Optional YAML config file (config.yaml or CONFIG_PATH)
//  3. Environment Variables: Override any mapped setting
//
// Config is immutable after Load() and safe for concurrent reads.
type Config struct {
	Database  DatabaseConfig  `koanf:"database"`
	Pipeline  PipelineConfig  `koanf:"pipeline"`
	Backoff   BackoffConfig   `koanf:"backoff"`
	Source    SourceConfig    `koanf:"source"`
	Outputs   OutputsConfig   `koanf:"outputs"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// DatabaseConfig holds DuckDB settings. Path is used verbatim as the store
// location; ":memory:" or an empty path opens an in-memory database.
type DatabaseConfig struct {
	Path                   string `koanf:"path"`
	MaxMemory              string `koanf:"max_memory"`
	Threads                int    `koanf:"threads" validate:"gte=0"` // 0 = use NumCPU
	PreserveInsertionOrder bool   `koanf:"preserve_insertion_order"`
}

// InMemory reports whether the store lives only in process memory.
func (c DatabaseConfig) InMemory() bool {
	return c.Path == "" || c.Path == ":memory:"
}

// PipelineConfig bounds the partition calendars and run concurrency.
type PipelineConfig struct {
	// StartDate and EndDate bound every partition calendar, [start, end).
	StartDate string `koanf:"start_date" validate:"required,isodate"`
	EndDate   string `koanf:"end_date" validate:"required,isodate"`

	// Parallelism is the number of partition keys of one asset that may be
	// materialized concurrently. Default: 1
	Parallelism int `koanf:"parallelism" validate:"gte=1,lte=64"`

	// RawDir holds downloaded source files.
	RawDir string `koanf:"raw_dir" validate:"required"`

	// RunTimeout bounds one job run. Zero disables the timeout.
	RunTimeout time.Duration `koanf:"run_timeout" validate:"gte=0"`
}

// Calendar returns the partition calendar of the given granularity.
func (c PipelineConfig) Calendar(g partition.Granularity) (*partition.Calendar, error) {
	start, err := partition.ParseDate(c.StartDate)
	if err != nil {
		return nil, fmt.Errorf("pipeline.start_date: %w", err)
	}
	end, err := partition.ParseDate(c.EndDate)
	if err != nil {
		return nil, fmt.Errorf("pipeline.end_date: %w", err)
	}
	return partition.NewCalendar(start, end, g)
}

// RawPath returns a file path under RawDir.
func (c PipelineConfig) RawPath(name string) string {
	return filepath.Join(c.RawDir, name)
}

// BackoffConfig holds the retry policy for store handle acquisition.
type BackoffConfig struct {
	MaxRetries int           `koanf:"max_retries" validate:"gte=0,lte=100"`
	BaseDelay  time.Duration `koanf:"base_delay" validate:"gt=0"`
	MaxDelay   time.Duration `koanf:"max_delay" validate:"gtefield=BaseDelay"`
	Multiplier float64       `koanf:"multiplier" validate:"gte=1"`
	Jitter     float64       `koanf:"jitter" validate:"gte=0,lt=1"`
}

// Policy converts the configuration to a backoff.Policy.
func (c BackoffConfig) Policy() backoff.Policy {
	return backoff.Policy{
		MaxRetries: c.MaxRetries,
		BaseDelay:  c.BaseDelay,
		MaxDelay:   c.MaxDelay,
		Multiplier: c.Multiplier,
		Jitter:     c.Jitter,
	}
}

// SourceConfig holds upstream download settings.
type SourceConfig struct {
	// TripsURLTemplate is rendered with the partition key as {{.Key}}.
	TripsURLTemplate string `koanf:"trips_url_template" validate:"required"`
	ZonesURL         string `koanf:"zones_url" validate:"required,url"`

	Timeout   time.Duration `koanf:"timeout" validate:"gt=0"`
	UserAgent string        `koanf:"user_agent"`

	// RateLimit is the sustained request rate in requests per second.
	RateLimit float64 `koanf:"rate_limit" validate:"gt=0"`
	RateBurst int     `koanf:"rate_burst" validate:"gte=1"`

	// BreakerMaxFailures consecutive failures open the circuit for
	// BreakerTimeout.
	BreakerMaxFailures uint32        `koanf:"breaker_max_failures" validate:"gte=1"`
	BreakerTimeout     time.Duration `koanf:"breaker_timeout" validate:"gt=0"`
}

// OutputsConfig holds the report artifact locations.
type OutputsConfig struct {
	Dir string `koanf:"dir" validate:"required"`
}

// ManhattanStatsPath is the GeoJSON written by manhattan_stats.
func (c OutputsConfig) ManhattanStatsPath() string {
	return filepath.Join(c.Dir, "manhattan_stats.geojson")
}

// ManhattanMapPath is the PNG written by manhattan_map.
func (c OutputsConfig) ManhattanMapPath() string {
	return filepath.Join(c.Dir, "manhattan_map.png")
}

// TripsByWeekPath is the CSV exported by trips_by_week.
func (c OutputsConfig) TripsByWeekPath() string {
	return filepath.Join(c.Dir, "trips_by_week.csv")
}

// RequestPath is the PNG written for an ad hoc request.
func (c OutputsConfig) RequestPath(name string) string {
	return filepath.Join(c.Dir, name+".png")
}

// SchedulerConfig holds cron scheduler settings.
type SchedulerConfig struct {
	// Enabled controls whether serve starts the scheduler.
	Enabled bool `koanf:"enabled"`

	// CheckInterval is how often schedules are evaluated. Default: 1 minute
	CheckInterval time.Duration `koanf:"check_interval" validate:"gt=0"`

	// WatermarkDir is the BadgerDB directory for schedule watermarks.
	// Empty keeps watermarks in memory.
	WatermarkDir string `koanf:"watermark_dir"`

	// Disabled lists schedule names that never fire.
	Disabled []string `koanf:"disabled"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port    int           `koanf:"port" validate:"gte=1,lte=65535"`
	Host    string        `koanf:"host"`
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`

	// RunRateLimit caps manual run triggers per minute per client.
	RunRateLimit int `koanf:"run_rate_limit" validate:"gte=1"`
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	// Default: info
	Level string `koanf:"level"`

	// Format is the output format: json or console.
	// Default: json
	Format string `koanf:"format" validate:"oneof=json console"`

	// Caller includes caller file and line number in logs.
	// Default: false
	Caller bool `koanf:"caller"`
}

// Load reads the layered configuration and validates it.
func Load() (*Config, error) {
	return LoadWithKoanf()
}
