// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tomtom215/taxiflow/internal/validation"
)

// ErrNoRequest is returned when adhoc_request runs without a request.
var ErrNoRequest = errors.New("adhoc_request requires a request config")

// Request configures one ad hoc chart of trips by hour and weekday.
type Request struct {
	Filename  string `json:"filename" validate:"required,max=128"`
	Borough   string `json:"borough" validate:"required,max=64"`
	StartDate string `json:"start_date" validate:"required,isodate"`
	EndDate   string `json:"end_date" validate:"required,isodate"`
}

// Validate checks the request fields and that the output name is usable.
func (r *Request) Validate() error {
	if verr := validation.ValidateStruct(r); verr != nil {
		return verr
	}
	// ISO dates order lexicographically.
	if r.EndDate <= r.StartDate {
		return fmt.Errorf("end_date %s must be after start_date %s", r.EndDate, r.StartDate)
	}
	if r.OutputName() == "" {
		return fmt.Errorf("filename %q has no usable name", r.Filename)
	}
	return nil
}

// OutputName is the file name without directories or extension.
func (r *Request) OutputName() string {
	base := filepath.Base(strings.TrimSpace(r.Filename))
	name, _, _ := strings.Cut(base, ".")
	return name
}

type requestKey struct{}

// ContextWithRequest attaches req for the adhoc_request asset.
func ContextWithRequest(ctx context.Context, req *Request) context.Context {
	return context.WithValue(ctx, requestKey{}, req)
}

// RequestFromContext returns the request attached to ctx.
func RequestFromContext(ctx context.Context) (*Request, error) {
	req, ok := ctx.Value(requestKey{}).(*Request)
	if !ok || req == nil {
		return nil, ErrNoRequest
	}
	return req, nil
}
