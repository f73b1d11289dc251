// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/taxiflow/internal/partition"
)

type triggerCall struct {
	job  string
	keys []string
}

type recordingTrigger struct {
	mu    sync.Mutex
	calls []triggerCall
	err   error
}

func (r *recordingTrigger) trigger(_ context.Context, job string, keys []partition.Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := triggerCall{job: job}
	for _, k := range keys {
		c.keys = append(c.keys, k.String())
	}
	r.calls = append(r.calls, c)
	return r.err
}

func (r *recordingTrigger) snapshot() []triggerCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]triggerCall(nil), r.calls...)
}

func mustCron(t *testing.T, expr string) *Cron {
	t.Helper()
	c, err := ParseCron(expr)
	if err != nil {
		t.Fatalf("ParseCron(%q): %v", expr, err)
	}
	return c
}

func monthlyCalendar(t *testing.T) *partition.Calendar {
	t.Helper()
	cal, err := partition.NewCalendar(
		time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC),
		partition.Monthly)
	if err != nil {
		t.Fatalf("NewCalendar: %v", err)
	}
	return cal
}

func newTestScheduler(schedules []Schedule, trig Trigger, store WatermarkStore, now *time.Time) *Scheduler {
	cfg := DefaultConfig()
	s := NewScheduler(schedules, trig, store, cfg)
	s.now = func() time.Time { return *now }
	return s
}

func TestSchedule_DueKeys(t *testing.T) {
	sch := Schedule{Name: "trip_update_job_schedule", Job: "trip_update_job", Cron: mustCron(t, "0 0 5 * *"), Partitions: monthlyCalendar(t)}

	keys, ok := sch.DueKeys(time.Date(2023, 4, 5, 0, 0, 0, 0, time.UTC))
	if !ok || len(keys) != 1 || keys[0].String() != "2023-03" {
		t.Errorf("DueKeys(2023-04-05) = %v, %v; want [2023-03]", keys, ok)
	}

	if _, ok := sch.DueKeys(time.Date(2023, 1, 5, 0, 0, 0, 0, time.UTC)); ok {
		t.Error("expected nothing due during the first partition window")
	}

	unpartitioned := Schedule{Name: "weekly", Job: "weekly_update_job", Cron: mustCron(t, "0 0 * * 1")}
	keys, ok = unpartitioned.DueKeys(time.Now())
	if !ok || keys != nil {
		t.Errorf("unpartitioned DueKeys() = %v, %v; want nil, true", keys, ok)
	}

	mapped := Schedule{Name: "m", Job: "j", Cron: mustCron(t, "0 0 * * 1"), Partitions: monthlyCalendar(t),
		Mapping: func(time.Time) []partition.Key { return nil }}
	if _, ok := mapped.DueKeys(time.Now()); ok {
		t.Error("expected an empty mapping to report nothing due")
	}
}

func TestScheduler_FirstCheckInitializesWatermark(t *testing.T) {
	now := time.Date(2023, 4, 10, 12, 0, 0, 0, time.UTC)
	store := NewMemoryWatermarkStore()
	rec := &recordingTrigger{}
	s := newTestScheduler([]Schedule{{Name: "weekly", Job: "weekly_update_job", Cron: mustCron(t, "0 0 * * 1")}},
		rec.trigger, store, &now)

	s.CheckAndTrigger(context.Background())

	if calls := rec.snapshot(); len(calls) != 0 {
		t.Errorf("expected no backfill on first sight, got %v", calls)
	}
	wm, ok, _ := store.Load(context.Background(), "weekly")
	if !ok || !wm.LastTick.Equal(now) {
		t.Errorf("watermark = %+v, %v; want LastTick=%v", wm, ok, now)
	}
}

func TestScheduler_FiresDuePartition(t *testing.T) {
	now := time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryWatermarkStore()
	rec := &recordingTrigger{}
	sch := Schedule{Name: "trip_update_job_schedule", Job: "trip_update_job", Cron: mustCron(t, "0 0 5 * *"), Partitions: monthlyCalendar(t)}
	s := newTestScheduler([]Schedule{sch}, rec.trigger, store, &now)
	ctx := context.Background()

	s.CheckAndTrigger(ctx) // initialize
	now = time.Date(2023, 4, 4, 23, 59, 0, 0, time.UTC)
	s.CheckAndTrigger(ctx)
	if calls := rec.snapshot(); len(calls) != 0 {
		t.Fatalf("fired before the tick: %v", calls)
	}

	now = time.Date(2023, 4, 5, 0, 0, 30, 0, time.UTC)
	s.CheckAndTrigger(ctx)
	s.CheckAndTrigger(ctx) // same tick again is a no-op

	calls := rec.snapshot()
	if len(calls) != 1 {
		t.Fatalf("expected exactly one run, got %v", calls)
	}
	if calls[0].job != "trip_update_job" || len(calls[0].keys) != 1 || calls[0].keys[0] != "2023-03" {
		t.Errorf("unexpected run %+v", calls[0])
	}

	wm, _, _ := store.Load(ctx, sch.Name)
	if !wm.LastTick.Equal(time.Date(2023, 4, 5, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("LastTick = %v", wm.LastTick)
	}
}

func TestScheduler_CatchUpIsBounded(t *testing.T) {
	now := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	store := NewMemoryWatermarkStore()
	rec := &recordingTrigger{}
	s := newTestScheduler([]Schedule{{Name: "weekly", Job: "weekly_update_job", Cron: mustCron(t, "0 0 * * 1")}},
		rec.trigger, store, &now)
	ctx := context.Background()

	s.CheckAndTrigger(ctx)
	now = now.AddDate(0, 0, 70) // ten missed mondays
	s.CheckAndTrigger(ctx)

	if calls := rec.snapshot(); len(calls) != 3 {
		t.Errorf("expected %d catch-up runs, got %d", 3, len(calls))
	}
	wm, _, _ := store.Load(ctx, "weekly")
	if !wm.LastTick.Equal(now) {
		t.Errorf("LastTick = %v, want %v", wm.LastTick, now)
	}
}

func TestScheduler_DoesNotRepeatFinalPartition(t *testing.T) {
	now := time.Date(2023, 11, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryWatermarkStore()
	rec := &recordingTrigger{}
	sch := Schedule{Name: "monthly", Job: "trip_update_job", Cron: mustCron(t, "0 0 5 * *"), Partitions: monthlyCalendar(t)}
	s := newTestScheduler([]Schedule{sch}, rec.trigger, store, &now)
	ctx := context.Background()

	s.CheckAndTrigger(ctx)
	for _, month := range []time.Month{time.November, time.December} {
		now = time.Date(2023, month, 5, 0, 0, 0, 0, time.UTC)
		s.CheckAndTrigger(ctx)
	}
	now = time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	s.CheckAndTrigger(ctx)

	calls := rec.snapshot()
	if len(calls) != 2 {
		t.Fatalf("expected 2 runs (2023-10, 2023-11), got %v", calls)
	}
	if calls[0].keys[0] != "2023-10" || calls[1].keys[0] != "2023-11" {
		t.Errorf("unexpected keys %v", calls)
	}
}

func TestScheduler_FailedRunStillAdvances(t *testing.T) {
	now := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	store := NewMemoryWatermarkStore()
	rec := &recordingTrigger{err: errors.New("boom")}
	s := newTestScheduler([]Schedule{{Name: "weekly", Job: "weekly_update_job", Cron: mustCron(t, "0 0 * * 1")}},
		rec.trigger, store, &now)
	ctx := context.Background()

	s.CheckAndTrigger(ctx)
	now = time.Date(2023, 1, 9, 0, 1, 0, 0, time.UTC)
	s.CheckAndTrigger(ctx)
	s.CheckAndTrigger(ctx)

	if calls := rec.snapshot(); len(calls) != 1 {
		t.Errorf("expected one attempt for the tick, got %d", len(calls))
	}
}

func TestScheduler_DisabledSchedule(t *testing.T) {
	now := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	store := NewMemoryWatermarkStore()
	rec := &recordingTrigger{}
	cfg := DefaultConfig()
	cfg.Disabled = []string{"weekly"}
	s := NewScheduler([]Schedule{{Name: "weekly", Job: "weekly_update_job", Cron: mustCron(t, "0 0 * * 1")}},
		rec.trigger, store, cfg)
	s.now = func() time.Time { return now }

	s.CheckAndTrigger(context.Background())
	if _, ok, _ := store.Load(context.Background(), "weekly"); ok {
		t.Error("disabled schedule should not be evaluated")
	}

	statuses, err := s.Statuses(context.Background())
	if err != nil {
		t.Fatalf("Statuses() error = %v", err)
	}
	if len(statuses) != 1 || statuses[0].Enabled {
		t.Errorf("Statuses() = %+v", statuses)
	}
	if want := time.Date(2023, 1, 9, 0, 0, 0, 0, time.UTC); !statuses[0].NextTick.Equal(want) {
		t.Errorf("NextTick = %v, want %v", statuses[0].NextTick, want)
	}
}

func TestScheduler_StartStop(t *testing.T) {
	rec := &recordingTrigger{}
	cfg := DefaultConfig()
	cfg.CheckInterval = 10 * time.Millisecond
	s := NewScheduler(nil, rec.trigger, nil, cfg)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Start(context.Background()); err == nil {
		t.Error("expected error starting twice")
	}
	if !s.IsRunning() {
		t.Error("expected scheduler to be running")
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if s.IsRunning() {
		t.Error("expected scheduler to be stopped")
	}
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}
