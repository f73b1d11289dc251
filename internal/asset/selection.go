// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

package asset

import (
	"fmt"
	"slices"
	"strings"
)

// Selection is a set expression over the assets of a graph. Selections are
// values: combining them never mutates the operands.
type Selection struct {
	resolve func(*Graph) (map[string]bool, error)
	desc    string
}

// All selects every asset.
func All() Selection {
	return Selection{
		desc: "*",
		resolve: func(g *Graph) (map[string]bool, error) {
			set := make(map[string]bool, g.Len())
			for _, name := range g.names {
				set[name] = true
			}
			return set, nil
		},
	}
}

// Names selects the named assets. Resolving fails if one is unknown.
func Names(names ...string) Selection {
	names = slices.Clone(names)
	return Selection{
		desc: strings.Join(names, ","),
		resolve: func(g *Graph) (map[string]bool, error) {
			set := make(map[string]bool, len(names))
			for _, name := range names {
				if _, ok := g.nodes[name]; !ok {
					return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, name)
				}
				set[name] = true
			}
			return set, nil
		},
	}
}

// Groups selects every asset whose Group is one of groups.
func Groups(groups ...string) Selection {
	groups = slices.Clone(groups)
	return Selection{
		desc: "group:" + strings.Join(groups, ","),
		resolve: func(g *Graph) (map[string]bool, error) {
			set := make(map[string]bool)
			for _, name := range g.names {
				if slices.Contains(groups, g.nodes[name].Group) {
					set[name] = true
				}
			}
			return set, nil
		},
	}
}

// Upstream selects name and all of its transitive dependencies.
func Upstream(name string) Selection {
	return Selection{
		desc: "+" + name,
		resolve: func(g *Graph) (map[string]bool, error) {
			deps, err := g.Upstream(name)
			if err != nil {
				return nil, err
			}
			set := map[string]bool{name: true}
			for _, d := range deps {
				set[d] = true
			}
			return set, nil
		},
	}
}

// Downstream selects name and all of its transitive dependents.
func Downstream(name string) Selection {
	return Selection{
		desc: name + "+",
		resolve: func(g *Graph) (map[string]bool, error) {
			deps, err := g.Downstream(name)
			if err != nil {
				return nil, err
			}
			set := map[string]bool{name: true}
			for _, d := range deps {
				set[d] = true
			}
			return set, nil
		},
	}
}

// Minus selects the assets of s that are not in other.
func (s Selection) Minus(other Selection) Selection {
	return Selection{
		desc: "(" + s.String() + " - " + other.String() + ")",
		resolve: func(g *Graph) (map[string]bool, error) {
			left, err := s.resolveSet(g)
			if err != nil {
				return nil, err
			}
			right, err := other.resolveSet(g)
			if err != nil {
				return nil, err
			}
			for name := range right {
				delete(left, name)
			}
			return left, nil
		},
	}
}

// Union selects the assets in either s or other.
func (s Selection) Union(other Selection) Selection {
	return Selection{
		desc: "(" + s.String() + " | " + other.String() + ")",
		resolve: func(g *Graph) (map[string]bool, error) {
			left, err := s.resolveSet(g)
			if err != nil {
				return nil, err
			}
			right, err := other.resolveSet(g)
			if err != nil {
				return nil, err
			}
			for name := range right {
				left[name] = true
			}
			return left, nil
		},
	}
}

// Resolve evaluates the selection against g and returns sorted asset names.
func (s Selection) Resolve(g *Graph) ([]string, error) {
	set, err := s.resolveSet(g)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	slices.Sort(out)
	return out, nil
}

// ResolveSet evaluates the selection as a set.
func (s Selection) ResolveSet(g *Graph) (map[string]bool, error) {
	return s.resolveSet(g)
}

func (s Selection) resolveSet(g *Graph) (map[string]bool, error) {
	if s.resolve == nil {
		return map[string]bool{}, nil
	}
	return s.resolve(g)
}

// String describes the selection expression.
func (s Selection) String() string {
	if s.desc == "" {
		return "{}"
	}
	return s.desc
}
