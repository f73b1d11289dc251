// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

// Package asset models derived data as nodes in a dependency graph.
//
// Graphs are built explicitly with a Builder and validated once: every
// dependency must name an existing node and the dependency relation must be
// acyclic. A built Graph is immutable and safe for concurrent reads.
package asset

import (
	"context"

	"github.com/tomtom215/taxiflow/internal/partition"
)

// Result describes what one materialization produced.
type Result struct {
	// Rows is the number of rows written, when the asset is a table.
	Rows int64

	// Path is the artifact location, when the asset is a file.
	Path string

	// Bytes is the artifact size, when the asset is a file.
	Bytes int64
}

// Op materializes one partition of an asset. For non-partitioned assets the
// key is the zero Key.
type Op interface {
	Materialize(ctx context.Context, key partition.Key) (Result, error)
}

// OpFunc adapts a function to Op.
type OpFunc func(ctx context.Context, key partition.Key) (Result, error)

// Materialize calls f(ctx, key).
func (f OpFunc) Materialize(ctx context.Context, key partition.Key) (Result, error) {
	return f(ctx, key)
}

// Node is one asset in the graph.
type Node struct {
	Name        string
	Deps        []string
	Partitions  *partition.Calendar // nil when not partitioned
	Group       string
	Description string
	Op          Op
}

// Partitioned reports whether the node is materialized per partition key.
func (n *Node) Partitioned() bool {
	return n.Partitions != nil
}

// Keys returns the node's partition keys, or a single zero Key for a
// non-partitioned node.
func (n *Node) Keys() []partition.Key {
	if n.Partitions == nil {
		return []partition.Key{{}}
	}
	return n.Partitions.Keys()
}
