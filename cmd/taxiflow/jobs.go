// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tomtom215/taxiflow/internal/pipeline"
)

func newJobsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "List jobs, their partitioning, schedules and assets",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := openApp(c.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			return printJobs(c.OutOrStdout(), a.pipeline)
		},
	}
}

func printJobs(w io.Writer, p *pipeline.Pipeline) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tPARTITIONS\tCRON\tASSETS")
	for _, def := range p.Jobs.List() {
		parts, cron := "-", "-"
		if def.Spec.Partitioned() {
			parts = string(def.Spec.Partitions.Granularity)
		}
		if def.Spec.Cron != "" {
			cron = def.Spec.Cron
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", def.Spec.Name, parts, cron, strings.Join(def.Assets, ","))
	}
	return tw.Flush()
}
