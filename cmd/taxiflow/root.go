// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/tomtom215/taxiflow/internal/config"
	"github.com/tomtom215/taxiflow/internal/logging"
)

// NewRootCommand returns the taxiflow command tree writing to stdout and
// stderr.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	var configPath string
	rc := &cobra.Command{
		Use:   "taxiflow",
		Short: "Partitioned NYC taxi trip ingestion and materialization.",
		Long: `Taxiflow ingests monthly NYC taxi trip files into DuckDB one partition at a
time and materializes reports derived from the committed tables.

Jobs can be run once from the command line with "materialize" or on their
cron schedules with "serve", which also exposes the HTTP API.
`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return nil
			}
			if _, err := os.Stat(configPath); err != nil {
				return fmt.Errorf("config file: %w", err)
			}
			return os.Setenv(config.ConfigPathEnvVar, configPath)
		},
	}
	rc.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Configuration file to read from.")

	rc.AddCommand(newServeCommand())
	rc.AddCommand(newMaterializeCommand())
	rc.AddCommand(newJobsCommand())
	rc.AddCommand(newPartitionsCommand())

	rc.SetOut(stdout)
	rc.SetErr(stderr)
	return rc
}

// loadConfig reads the layered configuration and initializes logging.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})
	return cfg, nil
}
