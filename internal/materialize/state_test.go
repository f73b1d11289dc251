// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

package materialize

import (
	"errors"
	"testing"
	"time"
)

func TestState_CanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StatePending, StateAcquiringHandle, true},
		{StatePending, StateReplacing, false},
		{StatePending, StateFailed, false},
		{StateAcquiringHandle, StateReplacing, true},
		{StateAcquiringHandle, StateFailed, true},
		{StateAcquiringHandle, StateCommitted, false},
		{StateReplacing, StateCommitted, true},
		{StateReplacing, StateFailed, true},
		{StateCommitted, StatePending, true},
		{StateFailed, StatePending, true},
		{StateCommitted, StateFailed, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestBoard_RejectsIllegalMoves(t *testing.T) {
	b := newBoard()
	now := time.Now()

	if _, err := b.move("trips", "2023-03", StateReplacing, now, nil); err == nil {
		t.Error("expected a new entry to require PENDING")
	}
	if _, err := b.move("trips", "2023-03", StatePending, now, nil); err != nil {
		t.Fatalf("move to PENDING: %v", err)
	}
	if _, err := b.move("trips", "2023-03", StateCommitted, now, nil); err == nil {
		t.Error("expected PENDING -> COMMITTED to be rejected")
	}

	from, err := b.move("trips", "2023-03", StateAcquiringHandle, now, nil)
	if err != nil || from != StatePending {
		t.Fatalf("move = %s, %v", from, err)
	}
	if _, err := b.move("trips", "2023-03", StateFailed, now, errors.New("boom")); err != nil {
		t.Fatalf("move to FAILED: %v", err)
	}
	st, ok := b.get("trips", "2023-03")
	if !ok || st.State != StateFailed || st.Error != "boom" {
		t.Errorf("get() = %+v, %v", st, ok)
	}
}

func TestBoard_SnapshotOrdered(t *testing.T) {
	b := newBoard()
	now := time.Now()
	for _, e := range [][2]string{{"zones", ""}, {"trips", "2023-02"}, {"trips", "2023-01"}} {
		if _, err := b.move(e[0], e[1], StatePending, now, nil); err != nil {
			t.Fatal(err)
		}
	}

	snap := b.snapshot()
	want := []string{"trips/2023-01", "trips/2023-02", "zones/"}
	for i, s := range snap {
		if got := boardKey(s.Asset, s.Partition); got != want[i] {
			t.Errorf("snapshot[%d] = %s, want %s", i, got, want[i])
		}
	}
}
