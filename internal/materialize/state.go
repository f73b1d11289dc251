// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

package materialize

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// State is the lifecycle position of one (asset, partition) materialization.
type State string

const (
	StatePending         State = "PENDING"
	StateAcquiringHandle State = "ACQUIRING_HANDLE"
	StateReplacing       State = "REPLACING"
	StateCommitted       State = "COMMITTED"
	StateFailed          State = "FAILED"
)

// transitions lists the legal successor states. COMMITTED and FAILED are
// terminal for one attempt; a new attempt starts again from PENDING.
var transitions = map[State][]State{
	StatePending:         {StateAcquiringHandle},
	StateAcquiringHandle: {StateReplacing, StateFailed},
	StateReplacing:       {StateCommitted, StateFailed},
	StateCommitted:       {StatePending},
	StateFailed:          {StatePending},
}

// CanTransition reports whether s may move to next.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether s ends an attempt.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateFailed
}

// Transition is emitted every time a partition changes state.
type Transition struct {
	Asset     string
	Partition string
	From      State
	To        State
	At        time.Time
	Err       error
}

// Observer receives transitions. It is called synchronously and must not
// block.
type Observer func(Transition)

// PartitionState is a snapshot entry of the state board.
type PartitionState struct {
	Asset     string    `json:"asset"`
	Partition string    `json:"partition"`
	State     State     `json:"state"`
	UpdatedAt time.Time `json:"updated_at"`
	Error     string    `json:"error,omitempty"`
}

// board tracks the latest state of every (asset, partition) seen by this
// process.
type board struct {
	mu      sync.RWMutex
	entries map[string]PartitionState
}

func newBoard() *board {
	return &board{entries: make(map[string]PartitionState)}
}

func boardKey(asset, partition string) string {
	return asset + "/" + partition
}

// move applies a transition, rejecting illegal ones.
func (b *board) move(asset, partition string, to State, at time.Time, cause error) (State, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	k := boardKey(asset, partition)
	var from State
	if entry, ok := b.entries[k]; ok {
		from = entry.State
		if !from.CanTransition(to) {
			return from, fmt.Errorf("illegal transition %s -> %s for %s", from, to, k)
		}
	} else if to != StatePending {
		return from, fmt.Errorf("illegal initial state %s for %s", to, k)
	}

	next := PartitionState{Asset: asset, Partition: partition, State: to, UpdatedAt: at}
	if cause != nil {
		next.Error = cause.Error()
	}
	b.entries[k] = next
	return from, nil
}

func (b *board) get(asset, partition string) (PartitionState, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[boardKey(asset, partition)]
	return e, ok
}

func (b *board) snapshot() []PartitionState {
	b.mu.RLock()
	out := make([]PartitionState, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, e)
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Asset != out[j].Asset {
			return out[i].Asset < out[j].Asset
		}
		return out[i].Partition < out[j].Partition
	})
	return out
}
