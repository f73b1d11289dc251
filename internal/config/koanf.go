// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/tomtom215/taxiflow/internal/backoff"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/taxiflow/config.yaml",
	"/etc/taxiflow/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

const (
	defaultTripsURLTemplate = "https://d37ci6vzurychx.cloudfront.net/trip-data/yellow_tripdata_{{.Key}}.parquet"
	defaultZonesURL         = "https://community-engineering-artifacts.s3.us-west-2.amazonaws.com/dagster-university/data/taxi_zones.csv"
)

// defaultConfig returns a Config struct with all default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	policy := backoff.DefaultPolicy()
	return &Config{
		Database: DatabaseConfig{
			Path:                   "data/staging/data.duckdb",
			MaxMemory:              "2GB",
			Threads:                0,
			PreserveInsertionOrder: true,
		},
		Pipeline: PipelineConfig{
			StartDate:   "2023-01-01",
			EndDate:     "2023-04-01",
			Parallelism: 1,
			RawDir:      "data/raw",
			RunTimeout:  time.Hour,
		},
		Backoff: BackoffConfig{
			MaxRetries: policy.MaxRetries,
			BaseDelay:  policy.BaseDelay,
			MaxDelay:   policy.MaxDelay,
			Multiplier: policy.Multiplier,
			Jitter:     policy.Jitter,
		},
		Source: SourceConfig{
			TripsURLTemplate:   defaultTripsURLTemplate,
			ZonesURL:           defaultZonesURL,
			Timeout:            5 * time.Minute,
			UserAgent:          "taxiflow",
			RateLimit:          2,
			RateBurst:          1,
			BreakerMaxFailures: 5,
			BreakerTimeout:     time.Minute,
		},
		Outputs: OutputsConfig{
			Dir: "data/outputs",
		},
		Scheduler: SchedulerConfig{
			Enabled:       true,
			CheckInterval: time.Minute,
			WatermarkDir:  "data/scheduler",
		},
		Server: ServerConfig{
			Port:         3000,
			Host:         "0.0.0.0",
			Timeout:      30 * time.Second,
			RunRateLimit: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: Built-in defaults
//  2. Config File: Optional YAML config file (if exists)
//  3. Environment Variables: Override any mapped setting
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: Load defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: Load config file (optional)
	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: Load environment variables (highest priority)
	// DUCKDB_DATABASE -> database.path
	// START_DATE -> pipeline.start_date
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first config file found, or "" if none exists.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths defines which config paths should be parsed as comma-separated slices
var sliceConfigPaths = []string{
	"scheduler.disabled",
}

// processSliceFields converts comma-separated string values to slices for known slice fields.
// Env vars arrive as strings while YAML files already produce slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}

		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps environment variable names (lower-cased) to koanf paths.
var envMappings = map[string]string{
	// Database mappings
	"duckdb_database":                 "database.path",
	"duckdb_path":                     "database.path",
	"duckdb_max_memory":               "database.max_memory",
	"duckdb_threads":                  "database.threads",
	"duckdb_preserve_insertion_order": "database.preserve_insertion_order",

	// Pipeline mappings
	"start_date":           "pipeline.start_date",
	"end_date":             "pipeline.end_date",
	"pipeline_parallelism": "pipeline.parallelism",
	"raw_data_dir":         "pipeline.raw_dir",
	"run_timeout":          "pipeline.run_timeout",

	// Backoff mappings
	"backoff_max_retries": "backoff.max_retries",
	"backoff_base_delay":  "backoff.base_delay",
	"backoff_max_delay":   "backoff.max_delay",
	"backoff_multiplier":  "backoff.multiplier",
	"backoff_jitter":      "backoff.jitter",

	// Source mappings
	"trips_url_template":          "source.trips_url_template",
	"zones_url":                   "source.zones_url",
	"source_timeout":              "source.timeout",
	"source_user_agent":           "source.user_agent",
	"source_rate_limit":           "source.rate_limit",
	"source_rate_burst":           "source.rate_burst",
	"source_breaker_max_failures": "source.breaker_max_failures",
	"source_breaker_timeout":      "source.breaker_timeout",

	// Output mappings
	"outputs_dir": "outputs.dir",

	// Scheduler mappings
	"scheduler_enabled":        "scheduler.enabled",
	"scheduler_check_interval": "scheduler.check_interval",
	"scheduler_watermark_dir":  "scheduler.watermark_dir",
	"scheduler_disabled":       "scheduler.disabled",

	// Server mappings
	"http_port":           "server.port",
	"http_host":           "server.host",
	"http_timeout":        "server.timeout",
	"http_run_rate_limit": "server.run_rate_limit",

	// Logging mappings
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc transforms environment variable names to koanf config paths.
// Unmapped variables return "" and are skipped so unrelated environment
// variables never pollute the configuration.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
