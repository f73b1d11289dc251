// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/taxiflow/internal/materialize"
)

// missing marks a calendar key with no ledger entry.
const missing = "MISSING"

func newPartitionsCommand() *cobra.Command {
	var assetName string
	ccmd := &cobra.Command{
		Use:   "partitions",
		Short: "Show materialization state per partition",
		Long: `
With --asset, lists every key of the asset's partition calendar with the
ledger status of its latest attempt; keys never attempted are MISSING.
Without --asset, lists the whole ledger.
`,
		Args: cobra.NoArgs,
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
			return a.printPartitions(c.Context(), c.OutOrStdout(), assetName)
		},
	}
	ccmd.Flags().StringVarP(&assetName, "asset", "a", "", "asset to show; all ledger entries when empty")
	return ccmd
}

func (a *app) printPartitions(ctx context.Context, w io.Writer, assetName string) error {
	if assetName != "" {
		if _, ok := a.pipeline.Graph.Node(assetName); !ok {
			return fmt.Errorf("unknown asset %s", assetName)
		}
	}
	recs, err := a.ledger.List(ctx, assetName)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "ASSET\tPARTITION\tSTATUS\tROWS\tFINISHED\tERROR")
	if assetName == "" {
		for _, rec := range recs {
			writeRecord(tw, rec)
		}
		return tw.Flush()
	}

	byKey := make(map[string]materialize.Record, len(recs))
	for _, rec := range recs {
		byKey[rec.Partition] = rec
	}
	node, _ := a.pipeline.Graph.Node(assetName)
	for _, k := range node.Keys() {
		rec, ok := byKey[k.String()]
		if !ok {
			fmt.Fprintf(tw, "%s\t%s\t%s\t-\t-\t\n", assetName, orDash(k.String()), missing)
			continue
		}
		writeRecord(tw, rec)
	}
	return tw.Flush()
}

func writeRecord(w io.Writer, rec materialize.Record) {
	finished := "-"
	if !rec.FinishedAt.IsZero() {
		finished = rec.FinishedAt.UTC().Format(time.RFC3339)
	}
	fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
		rec.Asset, orDash(rec.Partition), rec.Status, rec.Rows, finished, rec.Error)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
