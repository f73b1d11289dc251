// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

package asset

import (
	"container/heap"
	"errors"
	"fmt"
	"slices"
)

// Builder collects nodes and validates them into a Graph.
type Builder struct {
	nodes map[string]*Node
	errs  []error
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{nodes: make(map[string]*Node)}
}

// Add registers a node. Errors are deferred to Build.
func (b *Builder) Add(nodes ...*Node) *Builder {
	for _, n := range nodes {
		switch {
		case n == nil || n.Name == "":
			b.errs = append(b.errs, errors.New("asset name is required"))
		case b.nodes[n.Name] != nil:
			b.errs = append(b.errs, &DuplicateAssetError{Name: n.Name})
		default:
			b.nodes[n.Name] = n
		}
	}
	return b
}

// Build validates the collected nodes. It fails with *DuplicateAssetError,
// *UnknownDependencyError or *CyclicDependencyError.
func (b *Builder) Build() (*Graph, error) {
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}

	g := &Graph{
		nodes:      make(map[string]*Node, len(b.nodes)),
		dependents: make(map[string][]string, len(b.nodes)),
	}
	for name, n := range b.nodes {
		g.nodes[name] = n
		g.names = append(g.names, name)
	}
	slices.Sort(g.names)

	for _, name := range g.names {
		n := g.nodes[name]
		for _, dep := range n.Deps {
			if _, ok := g.nodes[dep]; !ok {
				return nil, &UnknownDependencyError{Asset: name, Dependency: dep}
			}
			g.dependents[dep] = append(g.dependents[dep], name)
		}
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, &CyclicDependencyError{Cycle: cycle}
	}

	order, err := g.sortAll()
	if err != nil {
		return nil, err
	}
	g.order = order
	return g, nil
}

// Graph is a validated, immutable asset dependency graph.
type Graph struct {
	nodes      map[string]*Node
	names      []string // sorted
	dependents map[string][]string
	order      []string // full topological order
}

// Node returns the named node.
func (g *Graph) Node(name string) (*Node, bool) {
	n, ok := g.nodes[name]
	return n, ok
}

// Names returns all asset names, sorted.
func (g *Graph) Names() []string {
	return slices.Clone(g.names)
}

// Nodes returns all nodes sorted by name.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, len(g.names))
	for i, name := range g.names {
		out[i] = g.nodes[name]
	}
	return out
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Dependents returns the direct dependents of name, sorted.
func (g *Graph) Dependents(name string) []string {
	out := slices.Clone(g.dependents[name])
	slices.Sort(out)
	return out
}

// Upstream returns the transitive dependencies of name, sorted. The node
// itself is not included.
func (g *Graph) Upstream(name string) ([]string, error) {
	if _, ok := g.nodes[name]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, name)
	}
	return g.walk(name, func(n string) []string { return g.nodes[n].Deps }), nil
}

// Downstream returns the transitive dependents of name, sorted.
func (g *Graph) Downstream(name string) ([]string, error) {
	if _, ok := g.nodes[name]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, name)
	}
	return g.walk(name, func(n string) []string { return g.dependents[n] }), nil
}

func (g *Graph) walk(start string, next func(string) []string) []string {
	seen := map[string]bool{start: true}
	stack := []string{start}
	var out []string
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, n := range next(cur) {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
				stack = append(stack, n)
			}
		}
	}
	slices.Sort(out)
	return out
}

// TopologicalOrder returns the nodes of subset so that every node comes after
// all of its dependencies. Dependencies outside the subset are treated as
// satisfied, but ordering that flows through them is preserved: if a depends
// on x and x depends on b, a still comes after b when only a and b are
// selected. Ties are broken by name. A nil subset selects every node.
func (g *Graph) TopologicalOrder(subset []string) ([]*Node, error) {
	if subset == nil {
		out := make([]*Node, len(g.order))
		for i, name := range g.order {
			out[i] = g.nodes[name]
		}
		return out, nil
	}

	selected := make(map[string]bool, len(subset))
	for _, name := range subset {
		if _, ok := g.nodes[name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, name)
		}
		selected[name] = true
	}

	out := make([]*Node, 0, len(selected))
	for _, name := range g.order {
		if selected[name] {
			out = append(out, g.nodes[name])
		}
	}
	return out, nil
}

// SelectedDeps returns the nearest dependencies of name that are in
// selected, looking through unselected intermediate nodes. The result is
// sorted.
func (g *Graph) SelectedDeps(name string, selected map[string]bool) []string {
	n, ok := g.nodes[name]
	if !ok {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	var visit func(deps []string)
	visit = func(deps []string) {
		for _, d := range deps {
			if seen[d] {
				continue
			}
			seen[d] = true
			if selected[d] {
				out = append(out, d)
				continue
			}
			visit(g.nodes[d].Deps)
		}
	}
	visit(n.Deps)
	slices.Sort(out)
	return out
}

// findCycle runs a depth-first search over dependency edges with
// visiting/visited colouring. It returns the first cycle found, in
// dependency order with the first node repeated at the end.
func (g *Graph) findCycle() []string {
	const (
		unvisited = iota
		visiting
		visited
	)
	color := make(map[string]int, len(g.nodes))
	var stack []string

	var visit func(name string) []string
	visit = func(name string) []string {
		color[name] = visiting
		stack = append(stack, name)

		deps := slices.Clone(g.nodes[name].Deps)
		slices.Sort(deps)
		for _, dep := range deps {
			switch color[dep] {
			case visiting:
				start := slices.Index(stack, dep)
				cycle := slices.Clone(stack[start:])
				return append(cycle, dep)
			case unvisited:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[name] = visited
		return nil
	}

	for _, name := range g.names {
		if color[name] == unvisited {
			if cycle := visit(name); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// sortAll computes the full topological order with Kahn's algorithm, always
// taking the lexicographically smallest ready node.
func (g *Graph) sortAll() ([]string, error) {
	indegree := make(map[string]int, len(g.nodes))
	for _, name := range g.names {
		indegree[name] = len(g.nodes[name].Deps)
	}

	ready := &nameHeap{}
	for _, name := range g.names {
		if indegree[name] == 0 {
			heap.Push(ready, name)
		}
	}

	order := make([]string, 0, len(g.nodes))
	for ready.Len() > 0 {
		name := heap.Pop(ready).(string)
		order = append(order, name)
		for _, dependent := range g.dependents[name] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				heap.Push(ready, dependent)
			}
		}
	}

	if len(order) != len(g.nodes) {
		return nil, errors.New("dependency graph is not acyclic")
	}
	return order, nil
}

// nameHeap is a min-heap of asset names.
type nameHeap []string

func (h nameHeap) Len() int           { return len(h) }
func (h nameHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h nameHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *nameHeap) Push(x any)        { *h = append(*h, x.(string)) }
func (h *nameHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
