// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

package asset

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownAsset is returned when a selection or lookup names an asset that
// is not in the graph.
var ErrUnknownAsset = errors.New("unknown asset")

// CyclicDependencyError reports a dependency cycle. Cycle lists the assets in
// dependency order and repeats the first asset at the end.
type CyclicDependencyError struct {
	Cycle []string
}

func (e *CyclicDependencyError) Error() string {
	return "cyclic dependency: " + strings.Join(e.Cycle, " -> ")
}

// UnknownDependencyError reports a dependency on an asset that does not exist.
type UnknownDependencyError struct {
	Asset      string
	Dependency string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("asset %q depends on unknown asset %q", e.Asset, e.Dependency)
}

// DuplicateAssetError reports two nodes with the same name.
type DuplicateAssetError struct {
	Name string
}

func (e *DuplicateAssetError) Error() string {
	return fmt.Sprintf("duplicate asset %q", e.Name)
}
