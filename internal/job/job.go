// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

// Package job groups assets into named runnable units.
//
// A Spec is validated once against the asset graph when the process starts:
// every partitioned asset it selects must share the job's partition scheme,
// and a cron recurrence must fire at the scheme's cadence unless the Spec
// carries an explicit KeyMapping.
package job

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/tomtom215/taxiflow/internal/asset"
	"github.com/tomtom215/taxiflow/internal/partition"
	"github.com/tomtom215/taxiflow/internal/schedule"
	"github.com/tomtom215/taxiflow/internal/validation"
)

// ErrUnknownJob is returned when a job name is not defined.
var ErrUnknownJob = errors.New("unknown job")

// ErrPartitionMismatch is returned when a job selects a partitioned asset
// whose scheme differs from the job's.
var ErrPartitionMismatch = errors.New("partition scheme mismatch")

// Spec is an immutable job definition.
type Spec struct {
	Name        string `validate:"required,identifier"`
	Description string
	Selection   asset.Selection
	Partitions  *partition.Calendar
	Cron        string
	KeyMapping  schedule.KeyMapping
}

// Partitioned reports whether the job runs per partition key.
func (s *Spec) Partitioned() bool {
	return s.Partitions != nil
}

// Select evaluates a selection against the full graph, returning the member
// names in lexicographic order.
func Select(g *asset.Graph, sel asset.Selection) ([]string, error) {
	return sel.Resolve(g)
}

// InconsistentScheduleError reports a cron recurrence that does not fire at
// the cadence of the job's partition scheme.
type InconsistentScheduleError struct {
	Job     string
	Cron    string
	Scheme  partition.Granularity
	Cadence string
}

func (e *InconsistentScheduleError) Error() string {
	return fmt.Sprintf("job %s: cron %q fires %s but the job is partitioned %s; declare a key mapping",
		e.Job, e.Cron, e.Cadence, e.Scheme)
}

// Validate checks spec against g and returns the resolved asset names.
func Validate(g *asset.Graph, spec *Spec) ([]string, error) {
	if verr := validation.ValidateStruct(spec); verr != nil {
		return nil, fmt.Errorf("job %q: %w", spec.Name, verr)
	}

	names, err := Select(g, spec.Selection)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", spec.Name, err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("job %s: selection %s matches no assets", spec.Name, spec.Selection)
	}

	for _, name := range names {
		node, _ := g.Node(name)
		if !node.Partitioned() {
			continue
		}
		if spec.Partitions == nil {
			return nil, fmt.Errorf("job %s: %w: asset %s is partitioned %s but the job has no partition scheme",
				spec.Name, ErrPartitionMismatch, name, node.Partitions)
		}
		if !node.Partitions.Equal(spec.Partitions) {
			return nil, fmt.Errorf("job %s: %w: asset %s uses %s, job uses %s",
				spec.Name, ErrPartitionMismatch, name, node.Partitions, spec.Partitions)
		}
	}

	if spec.Cron != "" {
		cron, err := schedule.ParseCron(spec.Cron)
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", spec.Name, err)
		}
		if spec.Partitions != nil && spec.KeyMapping == nil {
			cadence, ok := cron.Cadence()
			if !ok || cadence != spec.Partitions.Granularity {
				desc := string(cadence)
				if !ok {
					desc = "irregularly"
				}
				return nil, &InconsistentScheduleError{
					Job:     spec.Name,
					Cron:    spec.Cron,
					Scheme:  spec.Partitions.Granularity,
					Cadence: desc,
				}
			}
		}
	}

	return names, nil
}

// Definition is a validated job.
type Definition struct {
	Spec   *Spec
	Assets []string
}

// Set holds the validated jobs of one process.
type Set struct {
	graph *asset.Graph
	jobs  map[string]*Definition
	names []string
}

// NewSet validates every spec against g. Job names must be unique.
func NewSet(g *asset.Graph, specs ...*Spec) (*Set, error) {
	s := &Set{graph: g, jobs: make(map[string]*Definition, len(specs))}
	for _, spec := range specs {
		if _, dup := s.jobs[spec.Name]; dup {
			return nil, fmt.Errorf("duplicate job %s", spec.Name)
		}
		names, err := Validate(g, spec)
		if err != nil {
			return nil, err
		}
		s.jobs[spec.Name] = &Definition{Spec: spec, Assets: names}
		s.names = append(s.names, spec.Name)
	}
	sort.Strings(s.names)
	return s, nil
}

// Graph returns the graph the jobs were validated against.
func (s *Set) Graph() *asset.Graph {
	return s.graph
}

// Get returns a job by name.
func (s *Set) Get(name string) (*Definition, error) {
	d, ok := s.jobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return d, nil
}

// List returns every job ordered by name.
func (s *Set) List() []*Definition {
	out := make([]*Definition, len(s.names))
	for i, n := range s.names {
		out[i] = s.jobs[n]
	}
	return out
}

// Schedules returns one schedule per job that has a cron recurrence, named
// "<job>_schedule".
func (s *Set) Schedules() []schedule.Schedule {
	var out []schedule.Schedule
	for _, d := range s.List() {
		if d.Spec.Cron == "" {
			continue
		}
		// Validated in NewSet.
		cron, _ := schedule.ParseCron(d.Spec.Cron)
		out = append(out, schedule.Schedule{
			Name:       d.Spec.Name + "_schedule",
			Job:        d.Spec.Name,
			Cron:       cron,
			Partitions: d.Spec.Partitions,
			Mapping:    d.Spec.KeyMapping,
		})
	}
	return out
}

// ResolveKeys turns a manual request into partition keys. For unpartitioned
// jobs no key may be given and nil is returned. For partitioned jobs exactly
// one of partition or from/to must be set.
func (d *Definition) ResolveKeys(key, from, to string) ([]partition.Key, error) {
	cal := d.Spec.Partitions
	if cal == nil {
		if key != "" || from != "" || to != "" {
			return nil, fmt.Errorf("job %s is not partitioned", d.Spec.Name)
		}
		return nil, nil
	}

	switch {
	case key != "" && (from != "" || to != ""):
		return nil, fmt.Errorf("give either a partition or a range, not both")
	case key != "":
		k, err := cal.ParseKey(key)
		if err != nil {
			return nil, err
		}
		return []partition.Key{k}, nil
	case from != "" && to != "":
		fk, err := cal.ParseKey(from)
		if err != nil {
			return nil, err
		}
		tk, err := cal.ParseKey(to)
		if err != nil {
			return nil, err
		}
		return cal.Range(fk, tk)
	default:
		return nil, fmt.Errorf("job %s is partitioned %s: a partition or a from/to range is required",
			d.Spec.Name, cal.Granularity)
	}
}

// Latest returns the most recent complete partition at t, for convenience
// when a partitioned job is run without an explicit key.
func (d *Definition) Latest(t time.Time) (partition.Key, bool) {
	if d.Spec.Partitions == nil {
		return partition.Key{}, false
	}
	return d.Spec.Partitions.LastComplete(t)
}
