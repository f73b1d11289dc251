// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

package engine

import (
	"errors"
	"fmt"
	"time"
)

// Status is the per-(asset, partition) outcome of a run.
type Status string

const (
	StatusCommitted Status = "COMMITTED"
	StatusFailed    Status = "FAILED"
	StatusSkipped   Status = "SKIPPED"
)

// Outcome is the result of one (asset, partition) within a run.
type Outcome struct {
	Asset     string        `json:"asset"`
	Partition string        `json:"partition,omitempty"`
	Status    Status        `json:"status"`
	Rows      int64         `json:"rows,omitempty"`
	Path      string        `json:"path,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
	Error     string        `json:"error,omitempty"`

	err error
}

// Err returns the underlying error of a FAILED or SKIPPED outcome.
func (o Outcome) Err() error {
	return o.err
}

// Report summarizes one job run.
type Report struct {
	RunID      string    `json:"run_id"`
	Job        string    `json:"job"`
	Keys       []string  `json:"partitions,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Outcomes   []Outcome `json:"outcomes"`
}

// Count returns the number of outcomes with status s.
func (r *Report) Count(s Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}

// Succeeded reports whether every outcome committed.
func (r *Report) Succeeded() bool {
	return r.Count(StatusCommitted) == len(r.Outcomes)
}

// Outcome returns the outcome of (asset, partition).
func (r *Report) Outcome(asset, partition string) (Outcome, bool) {
	for _, o := range r.Outcomes {
		if o.Asset == asset && o.Partition == partition {
			return o, true
		}
	}
	return Outcome{}, false
}

// Err joins the errors of every failed outcome. Skipped outcomes are a
// consequence of those failures and are not repeated.
func (r *Report) Err() error {
	var errs []error
	for _, o := range r.Outcomes {
		if o.Status == StatusFailed {
			errs = append(errs, fmt.Errorf("%s[%s]: %w", o.Asset, o.Partition, o.err))
		}
	}
	return errors.Join(errs...)
}

// result is the outcome label used in metrics and logs.
func (r *Report) result() string {
	switch {
	case r.Succeeded():
		return "success"
	case r.Count(StatusCommitted) == 0:
		return "failure"
	default:
		return "partial"
	}
}
