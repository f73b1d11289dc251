// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/tomtom215/taxiflow/internal/engine"
	"github.com/tomtom215/taxiflow/internal/job"
	"github.com/tomtom215/taxiflow/internal/logging"
	"github.com/tomtom215/taxiflow/internal/partition"
	"github.com/tomtom215/taxiflow/internal/pipeline"
)

// materializeOptions are the flags of the materialize command.
type materializeOptions struct {
	Job       string
	Partition string
	From      string
	To        string

	// Ad hoc request
	Filename  string
	Borough   string
	StartDate string
	EndDate   string
}

// request returns the ad hoc request given by flags, or nil when none of
// its flags is set.
func (o *materializeOptions) request() *pipeline.Request {
	if o.Filename == "" && o.Borough == "" && o.StartDate == "" && o.EndDate == "" {
		return nil
	}
	return &pipeline.Request{
		Filename:  o.Filename,
		Borough:   o.Borough,
		StartDate: o.StartDate,
		EndDate:   o.EndDate,
	}
}

// keys resolves the partition flags. A partitioned job given no partition
// runs the latest complete partition at now.
func (o *materializeOptions) keys(def *job.Definition, now time.Time) ([]partition.Key, error) {
	if def.Spec.Partitioned() && o.Partition == "" && o.From == "" && o.To == "" {
		k, ok := def.Latest(now)
		if !ok {
			return nil, fmt.Errorf("job %s has no complete partition yet", def.Spec.Name)
		}
		return []partition.Key{k}, nil
	}
	return def.ResolveKeys(o.Partition, o.From, o.To)
}

func newMaterializeCommand() *cobra.Command {
	opts := &materializeOptions{}
	ccmd := &cobra.Command{
		Use:   "materialize",
		Short: "Run one job and print its report",
		Long: `
Materializes the assets of a job for the given partitions and prints the run
report as JSON. Partitioned jobs take --partition or a --from/--to range and
default to the latest complete partition. The exit status is non-zero when
any partition failed.
`,
		RunE: func(c *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(c.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runMaterialize(ctx, opts, c.OutOrStdout())
		},
	}

	flags := ccmd.Flags()
	flags.StringVarP(&opts.Job, "job", "j", "", "job to run")
	flags.StringVarP(&opts.Partition, "partition", "p", "", "partition key, e.g. 2023-01-01")
	flags.StringVar(&opts.From, "from", "", "first partition key of a range")
	flags.StringVar(&opts.To, "to", "", "last partition key of a range, inclusive")
	flags.StringVar(&opts.Filename, "filename", "", "ad hoc request: output file name")
	flags.StringVar(&opts.Borough, "borough", "", "ad hoc request: pickup borough")
	flags.StringVar(&opts.StartDate, "start-date", "", "ad hoc request: first pickup date")
	flags.StringVar(&opts.EndDate, "end-date", "", "ad hoc request: end pickup date, exclusive")
	_ = ccmd.MarkFlagRequired("job")
	return ccmd
}

func runMaterialize(ctx context.Context, opts *materializeOptions, out io.Writer) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	def, err := a.pipeline.Jobs.Get(opts.Job)
	if err != nil {
		return err
	}
	keys, err := opts.keys(def, time.Now())
	if err != nil {
		return err
	}
	if req := opts.request(); req != nil {
		if err := req.Validate(); err != nil {
			return err
		}
		ctx = pipeline.ContextWithRequest(ctx, req)
	}
	if cfg.Pipeline.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Pipeline.RunTimeout)
		defer cancel()
	}

	ctx = logging.ContextWithNewCorrelationID(ctx)
	rep, err := a.runner().Run(ctx, def, keys)
	if err != nil {
		return err
	}
	if err := writeReport(out, rep); err != nil {
		return err
	}
	if rep.Succeeded() {
		return nil
	}
	failed, skipped := rep.Count(engine.StatusFailed), rep.Count(engine.StatusSkipped)
	if cause := rep.Err(); cause != nil {
		return fmt.Errorf("job %s: %d failed, %d skipped: %w", def.Spec.Name, failed, skipped, cause)
	}
	return fmt.Errorf("job %s: %d skipped", def.Spec.Name, skipped)
}

func writeReport(w io.Writer, rep *engine.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}
