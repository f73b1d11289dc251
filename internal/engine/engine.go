// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

// Package engine executes jobs over partition keys.
//
// A run walks the job's assets in dependency order. Partitioned assets are
// materialized once per requested key, fanning out up to the configured
// parallelism; non-partitioned assets run once. A (asset, key) pair starts
// only after every selected upstream asset committed for the same key, or
// committed at all when the upstream is not partitioned. When an upstream
// fails, its dependents are reported SKIPPED for that key while unrelated
// keys continue. Cancelling the run stops new work from starting; work that
// already started runs to COMMITTED or FAILED.
package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/taxiflow/internal/asset"
	"github.com/tomtom215/taxiflow/internal/job"
	"github.com/tomtom215/taxiflow/internal/logging"
	"github.com/tomtom215/taxiflow/internal/metrics"
	"github.com/tomtom215/taxiflow/internal/partition"
	"github.com/tomtom215/taxiflow/internal/schedule"
)

var (
	// ErrNoPartitions is returned when a partitioned job is run without keys.
	ErrNoPartitions = errors.New("partitioned job requires at least one partition key")

	// ErrNotPartitioned is returned when keys are passed to a job that has
	// no partition scheme.
	ErrNotPartitioned = errors.New("job is not partitioned")

	// ErrUpstreamNotCommitted is the cause of every SKIPPED outcome.
	ErrUpstreamNotCommitted = errors.New("upstream asset did not commit")
)

// Runner executes job definitions against one asset graph.
type Runner struct {
	graph       *asset.Graph
	parallelism int
	publisher   message.Publisher
	now         func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithParallelism bounds how many keys of one asset run concurrently.
func WithParallelism(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.parallelism = n
		}
	}
}

// WithPublisher publishes one Event per outcome on Topic.
func WithPublisher(p message.Publisher) Option {
	return func(r *Runner) { r.publisher = p }
}

// WithClock overrides the time source of reports and events.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// NewRunner creates a Runner over g.
func NewRunner(g *asset.Graph, opts ...Option) *Runner {
	r := &Runner{graph: g, parallelism: 1, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// runState tracks committed work within one run.
type runState struct {
	selected map[string]bool
	keys     []partition.Key
	status   map[string]map[string]Status
}

func (s *runState) set(o Outcome) {
	m, ok := s.status[o.Asset]
	if !ok {
		m = make(map[string]Status)
		s.status[o.Asset] = m
	}
	m[o.Partition] = o.Status
}

func (s *runState) committed(name, part string) bool {
	return s.status[name][part] == StatusCommitted
}

// Run materializes def for keys. Per-partition failures are reported in the
// returned Report, never as the error; the error is reserved for requests
// that cannot start, such as missing or out-of-range keys.
func (r *Runner) Run(ctx context.Context, def *job.Definition, keys []partition.Key) (*Report, error) {
	spec := def.Spec
	keys, err := normalizeKeys(spec, keys)
	if err != nil {
		return nil, err
	}
	nodes, err := r.graph.TopologicalOrder(def.Assets)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", spec.Name, err)
	}

	runID := logging.RunIDFromContext(ctx)
	if runID == "" {
		runID = logging.GenerateRunID()
		ctx = logging.ContextWithRunID(ctx, runID)
	}
	ctx = logging.ContextWithLogger(ctx, logging.LoggerFromContext(ctx).With().Str("job", spec.Name).Logger())
	logger := logging.Ctx(ctx)

	metrics.TrackRun(true)
	defer metrics.TrackRun(false)

	rep := &Report{RunID: runID, Job: spec.Name, StartedAt: r.now()}
	for _, k := range keys {
		rep.Keys = append(rep.Keys, k.String())
	}
	logger.Info().Strs("partitions", rep.Keys).Int("assets", len(nodes)).Msg("Job run started")

	state := &runState{
		selected: make(map[string]bool, len(def.Assets)),
		keys:     keys,
		status:   make(map[string]map[string]Status),
	}
	for _, name := range def.Assets {
		state.selected[name] = true
	}

	for _, node := range nodes {
		for _, out := range r.runNode(ctx, state, node) {
			state.set(out)
			rep.Outcomes = append(rep.Outcomes, out)
			r.publish(ctx, spec.Name, out)
		}
	}

	rep.FinishedAt = r.now()
	result := rep.result()
	metrics.RecordRun(spec.Name, result)

	event := logger.Info()
	if result != "success" {
		event = logger.Warn()
	}
	event.Str("result", result).
		Int("committed", rep.Count(StatusCommitted)).
		Int("failed", rep.Count(StatusFailed)).
		Int("skipped", rep.Count(StatusSkipped)).
		Dur("duration", rep.FinishedAt.Sub(rep.StartedAt)).
		Msg("Job run finished")

	return rep, nil
}

// Trigger adapts the runner to the scheduler. The returned error joins the
// failures of the run.
func (r *Runner) Trigger(jobs *job.Set) schedule.Trigger {
	return func(ctx context.Context, name string, keys []partition.Key) error {
		def, err := jobs.Get(name)
		if err != nil {
			return err
		}
		rep, err := r.Run(ctx, def, keys)
		if err != nil {
			return err
		}
		return rep.Err()
	}
}

// normalizeKeys validates keys against the job and returns them sorted and
// deduplicated.
func normalizeKeys(spec *job.Spec, keys []partition.Key) ([]partition.Key, error) {
	if !spec.Partitioned() {
		if len(keys) > 0 {
			return nil, fmt.Errorf("job %s: %w", spec.Name, ErrNotPartitioned)
		}
		return nil, nil
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("job %s: %w", spec.Name, ErrNoPartitions)
	}
	for _, k := range keys {
		if !spec.Partitions.Contains(k) {
			return nil, fmt.Errorf("job %s: %w: %s not in %s",
				spec.Name, partition.ErrKeyOutOfRange, k, spec.Partitions)
		}
	}
	out := slices.Clone(keys)
	slices.SortFunc(out, partition.Key.Compare)
	return slices.CompactFunc(out, func(a, b partition.Key) bool { return a.Compare(b) == 0 }), nil
}

// runNode materializes every key of node that is ready, fanning out up to
// the runner's parallelism.
func (r *Runner) runNode(ctx context.Context, state *runState, node *asset.Node) []Outcome {
	nodeKeys := []partition.Key{{}}
	if node.Partitioned() {
		nodeKeys = state.keys
	}
	deps := r.graph.SelectedDeps(node.Name, state.selected)

	outcomes := make([]Outcome, len(nodeKeys))
	var g errgroup.Group
	g.SetLimit(r.parallelism)

	for i, key := range nodeKeys {
		if err := r.blocked(state, node, deps, key); err != nil {
			outcomes[i] = skipped(node.Name, key, err)
			continue
		}
		if err := ctx.Err(); err != nil {
			outcomes[i] = skipped(node.Name, key, err)
			continue
		}
		g.Go(func() error {
			// The slot may have been granted after cancellation.
			if err := ctx.Err(); err != nil {
				outcomes[i] = skipped(node.Name, key, err)
				return nil
			}
			outcomes[i] = r.execute(ctx, node, key)
			return nil
		})
	}
	_ = g.Wait()

	for _, out := range outcomes {
		if out.Status == StatusSkipped {
			metrics.RecordMaterialization(out.Asset, string(out.Status), 0, 0)
		}
	}
	return outcomes
}

// blocked returns a non-nil error when a selected upstream of node has not
// committed the partition key needs.
func (r *Runner) blocked(state *runState, node *asset.Node, deps []string, key partition.Key) error {
	for _, dep := range deps {
		depNode, _ := r.graph.Node(dep)
		switch {
		case !depNode.Partitioned():
			if !state.committed(dep, "") {
				return fmt.Errorf("%w: %s", ErrUpstreamNotCommitted, dep)
			}
		case node.Partitioned():
			if !state.committed(dep, key.String()) {
				return fmt.Errorf("%w: %s[%s]", ErrUpstreamNotCommitted, dep, key)
			}
		default:
			// A non-partitioned asset reads every partition of the run.
			for _, k := range state.keys {
				if !state.committed(dep, k.String()) {
					return fmt.Errorf("%w: %s[%s]", ErrUpstreamNotCommitted, dep, k)
				}
			}
		}
	}
	return nil
}

// execute runs one (node, key). Work that has started is not cancelled.
func (r *Runner) execute(ctx context.Context, node *asset.Node, key partition.Key) Outcome {
	out := Outcome{Asset: node.Name, Partition: key.String()}
	if node.Op == nil {
		out.Status = StatusFailed
		out.err = fmt.Errorf("asset %s has no op", node.Name)
		out.Error = out.err.Error()
		return out
	}

	start := r.now()
	res, err := node.Op.Materialize(context.WithoutCancel(ctx), key)
	out.Duration = r.now().Sub(start)

	if err != nil {
		out.Status = StatusFailed
		out.err = err
		out.Error = err.Error()
	} else {
		out.Status = StatusCommitted
		out.Rows = res.Rows
		out.Path = res.Path
	}
	metrics.RecordMaterialization(node.Name, string(out.Status), out.Duration, res.Rows)
	return out
}

func skipped(name string, key partition.Key, cause error) Outcome {
	return Outcome{
		Asset:     name,
		Partition: key.String(),
		Status:    StatusSkipped,
		Error:     cause.Error(),
		err:       cause,
	}
}

// publish emits out on the event bus. Publishing never fails a run.
func (r *Runner) publish(ctx context.Context, jobName string, out Outcome) {
	if r.publisher == nil {
		return
	}
	msg, err := newEventMessage(Event{
		RunID:     logging.RunIDFromContext(ctx),
		Job:       jobName,
		Asset:     out.Asset,
		Partition: out.Partition,
		Status:    out.Status,
		Rows:      out.Rows,
		Path:      out.Path,
		Error:     out.Error,
		At:        r.now(),
	})
	if err == nil {
		err = r.publisher.Publish(Topic, msg)
	}
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("asset", out.Asset).Msg("Failed to publish materialization event")
	}
}
