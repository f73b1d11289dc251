// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

package config

import (
	"fmt"

	"github.com/tomtom215/taxiflow/internal/logging"
	"github.com/tomtom215/taxiflow/internal/partition"
	"github.com/tomtom215/taxiflow/internal/validation"
)

// Validate checks that the configuration is complete and consistent.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return err
	}

	if err := c.validatePipeline(); err != nil {
		return err
	}

	if err := c.validateSource(); err != nil {
		return err
	}

	return c.validateLogging()
}

// validatePipeline checks that the calendar boundaries form a valid range.
func (c *Config) validatePipeline() error {
	if _, err := c.Pipeline.Calendar(partition.Monthly); err != nil {
		return fmt.Errorf("pipeline calendar: %w", err)
	}
	return nil
}

// validateSource validates download URLs
func (c *Config) validateSource() error {
	if err := validateURLTemplate(c.Source.TripsURLTemplate, "TRIPS_URL_TEMPLATE"); err != nil {
		return err
	}
	return validateHTTPURL(c.Source.ZonesURL, "ZONES_URL")
}

// validateLogging validates logging configuration
func (c *Config) validateLogging() error {
	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("LOG_LEVEL must be one of trace, debug, info, warn, error, got: %s", c.Logging.Level)
	}
	return nil
}
