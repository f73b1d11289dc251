// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/taxiflow/internal/asset"
	"github.com/tomtom215/taxiflow/internal/backoff"
	"github.com/tomtom215/taxiflow/internal/config"
	"github.com/tomtom215/taxiflow/internal/job"
	"github.com/tomtom215/taxiflow/internal/logging"
	"github.com/tomtom215/taxiflow/internal/materialize"
	"github.com/tomtom215/taxiflow/internal/partition"
	"github.com/tomtom215/taxiflow/internal/storage"
)

func monthlyCalendar(t *testing.T) *partition.Calendar {
	t.Helper()
	start, _ := partition.ParseDate("2023-01-01")
	end, _ := partition.ParseDate("2023-07-01")
	cal, err := partition.NewCalendar(start, end, partition.Monthly)
	if err != nil {
		t.Fatalf("NewCalendar: %v", err)
	}
	return cal
}

func keys(t *testing.T, cal *partition.Calendar, ss ...string) []partition.Key {
	t.Helper()
	out := make([]partition.Key, len(ss))
	for i, s := range ss {
		k, err := cal.ParseKey(s)
		if err != nil {
			t.Fatalf("ParseKey(%q): %v", s, err)
		}
		out[i] = k
	}
	return out
}

func definition(t *testing.T, g *asset.Graph, cal *partition.Calendar) *job.Definition {
	t.Helper()
	set, err := job.NewSet(g, &job.Spec{Name: "test_job", Selection: asset.All(), Partitions: cal})
	if err != nil {
		t.Fatalf("job.NewSet: %v", err)
	}
	def, _ := set.Get("test_job")
	return def
}

// recorder is an asset.Op that logs calls and fails selected keys.
type recorder struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
	hook  func(ctx context.Context, name string, key partition.Key)
}

func (r *recorder) op(name string) asset.Op {
	return asset.OpFunc(func(ctx context.Context, key partition.Key) (asset.Result, error) {
		if r.hook != nil {
			r.hook(ctx, name, key)
		}
		r.mu.Lock()
		r.calls = append(r.calls, name+"/"+key.String())
		r.mu.Unlock()
		if r.fail[name+"/"+key.String()] {
			return asset.Result{}, fmt.Errorf("boom %s", key)
		}
		return asset.Result{Rows: 1}, nil
	})
}

func (r *recorder) index(call string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, c := range r.calls {
		if c == call {
			return i
		}
	}
	return -1
}

// chainGraph builds raw -> clean (both partitioned) -> summary.
func chainGraph(t *testing.T, cal *partition.Calendar, rec *recorder) *asset.Graph {
	t.Helper()
	g, err := asset.NewBuilder().Add(
		&asset.Node{Name: "raw", Partitions: cal, Op: rec.op("raw")},
		&asset.Node{Name: "clean", Deps: []string{"raw"}, Partitions: cal, Op: rec.op("clean")},
		&asset.Node{Name: "summary", Deps: []string{"clean"}, Op: rec.op("summary")},
	).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return g
}

func TestRun_DependencyOrder(t *testing.T) {
	cal := monthlyCalendar(t)
	rec := &recorder{}
	g := chainGraph(t, cal, rec)

	rep, err := NewRunner(g, WithParallelism(3)).Run(context.Background(), definition(t, g, cal),
		keys(t, cal, "2023-01", "2023-02", "2023-03"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !rep.Succeeded() {
		t.Fatalf("expected success, got %+v", rep.Outcomes)
	}
	if len(rep.Outcomes) != 7 {
		t.Fatalf("expected 7 outcomes, got %d", len(rep.Outcomes))
	}

	summary := rec.index("summary/")
	for _, k := range []string{"2023-01", "2023-02", "2023-03"} {
		raw, clean := rec.index("raw/"+k), rec.index("clean/"+k)
		if raw < 0 || clean < 0 || raw > clean {
			t.Errorf("clean/%s ran before raw/%s: %v", k, k, rec.calls)
		}
		if clean > summary {
			t.Errorf("summary ran before clean/%s: %v", k, rec.calls)
		}
	}
}

func TestRun_FailureSkipsDependentsOfThatKeyOnly(t *testing.T) {
	cal := monthlyCalendar(t)
	rec := &recorder{fail: map[string]bool{"raw/2023-02": true}}
	g := chainGraph(t, cal, rec)

	rep, err := NewRunner(g).Run(context.Background(), definition(t, g, cal),
		keys(t, cal, "2023-01", "2023-02", "2023-03"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	tests := []struct {
		asset, partition string
		want             Status
	}{
		{"raw", "2023-01", StatusCommitted},
		{"raw", "2023-02", StatusFailed},
		{"raw", "2023-03", StatusCommitted},
		{"clean", "2023-01", StatusCommitted},
		{"clean", "2023-02", StatusSkipped},
		{"clean", "2023-03", StatusCommitted},
		{"summary", "", StatusSkipped},
	}
	for _, tt := range tests {
		out, ok := rep.Outcome(tt.asset, tt.partition)
		if !ok {
			t.Errorf("missing outcome %s[%s]", tt.asset, tt.partition)
			continue
		}
		if out.Status != tt.want {
			t.Errorf("%s[%s] = %s, want %s", tt.asset, tt.partition, out.Status, tt.want)
		}
	}

	if rec.index("clean/2023-02") >= 0 {
		t.Error("dependent of failed partition was executed")
	}
	skip, _ := rep.Outcome("clean", "2023-02")
	if !errors.Is(skip.Err(), ErrUpstreamNotCommitted) {
		t.Errorf("expected ErrUpstreamNotCommitted, got %v", skip.Err())
	}
	if rep.Err() == nil || rep.Count(StatusFailed) != 1 {
		t.Errorf("expected exactly one failure, got %d (%v)", rep.Count(StatusFailed), rep.Err())
	}
	if rep.result() != "partial" {
		t.Errorf("result = %s, want partial", rep.result())
	}
}

func TestRun_ParallelismBound(t *testing.T) {
	cal := monthlyCalendar(t)
	var inFlight, peak atomic.Int32
	rec := &recorder{hook: func(context.Context, string, partition.Key) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
	}}
	g, err := asset.NewBuilder().Add(&asset.Node{Name: "raw", Partitions: cal, Op: rec.op("raw")}).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	rep, err := NewRunner(g, WithParallelism(2)).Run(context.Background(), definition(t, g, cal),
		keys(t, cal, "2023-01", "2023-02", "2023-03", "2023-04", "2023-05", "2023-06"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !rep.Succeeded() {
		t.Fatalf("expected success")
	}
	if peak.Load() > 2 {
		t.Errorf("peak concurrency %d exceeds parallelism 2", peak.Load())
	}
}

func TestRun_CancellationStopsNewWork(t *testing.T) {
	cal := monthlyCalendar(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var innerErr error
	rec := &recorder{hook: func(opCtx context.Context, _ string, key partition.Key) {
		if key.String() == "2023-01" {
			cancel()
			innerErr = opCtx.Err()
		}
	}}
	g, err := asset.NewBuilder().Add(&asset.Node{Name: "raw", Partitions: cal, Op: rec.op("raw")}).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	rep, err := NewRunner(g).Run(ctx, definition(t, g, cal), keys(t, cal, "2023-01", "2023-02", "2023-03"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	first, _ := rep.Outcome("raw", "2023-01")
	if first.Status != StatusCommitted {
		t.Errorf("in-flight work should finish, got %s", first.Status)
	}
	if innerErr != nil {
		t.Errorf("in-flight work saw cancellation: %v", innerErr)
	}
	for _, k := range []string{"2023-02", "2023-03"} {
		out, _ := rep.Outcome("raw", k)
		if out.Status != StatusSkipped || !errors.Is(out.Err(), context.Canceled) {
			t.Errorf("raw[%s] = %s (%v), want SKIPPED by cancellation", k, out.Status, out.Err())
		}
	}
	if len(rec.calls) != 1 {
		t.Errorf("expected one call, got %v", rec.calls)
	}
}

func TestRun_InvalidRequests(t *testing.T) {
	cal := monthlyCalendar(t)
	rec := &recorder{}
	g := chainGraph(t, cal, rec)
	def := definition(t, g, cal)
	runner := NewRunner(g)

	if _, err := runner.Run(context.Background(), def, nil); !errors.Is(err, ErrNoPartitions) {
		t.Errorf("expected ErrNoPartitions, got %v", err)
	}

	outside, _ := partition.ParseKey(partition.Monthly, "2024-01")
	if _, err := runner.Run(context.Background(), def, []partition.Key{outside}); !errors.Is(err, partition.ErrKeyOutOfRange) {
		t.Errorf("expected ErrKeyOutOfRange, got %v", err)
	}

	flat, err := asset.NewBuilder().Add(&asset.Node{Name: "summary", Op: rec.op("summary")}).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	set, err := job.NewSet(flat, &job.Spec{Name: "flat", Selection: asset.All()})
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}
	flatDef, _ := set.Get("flat")
	if _, err := NewRunner(flat).Run(context.Background(), flatDef, keys(t, cal, "2023-01")); !errors.Is(err, ErrNotPartitioned) {
		t.Errorf("expected ErrNotPartitioned, got %v", err)
	}
	if len(rec.calls) != 0 {
		t.Errorf("rejected runs must not execute ops: %v", rec.calls)
	}
}

func TestRun_DeduplicatesKeys(t *testing.T) {
	cal := monthlyCalendar(t)
	rec := &recorder{}
	g, _ := asset.NewBuilder().Add(&asset.Node{Name: "raw", Partitions: cal, Op: rec.op("raw")}).Build()

	rep, err := NewRunner(g).Run(context.Background(), definition(t, g, cal),
		keys(t, cal, "2023-03", "2023-01", "2023-03"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := fmt.Sprint(rep.Keys); got != "[2023-01 2023-03]" {
		t.Errorf("Keys = %s", got)
	}
	if len(rec.calls) != 2 {
		t.Errorf("calls = %v", rec.calls)
	}
}

func TestRun_PublishesEvents(t *testing.T) {
	cal := monthlyCalendar(t)
	rec := &recorder{fail: map[string]bool{"raw/2023-02": true}}
	g := chainGraph(t, cal, rec)

	bus := NewEventBus(16)
	defer bus.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	messages, err := bus.Subscribe(ctx, Topic)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	rep, err := NewRunner(g, WithPublisher(bus)).Run(ctx, definition(t, g, cal), keys(t, cal, "2023-01", "2023-02"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	got := make(map[string]Status)
	for len(got) < len(rep.Outcomes) {
		select {
		case msg := <-messages:
			e, err := DecodeEvent(msg)
			msg.Ack()
			if err != nil {
				t.Fatalf("DecodeEvent: %v", err)
			}
			if e.RunID != rep.RunID || e.Job != "test_job" {
				t.Errorf("unexpected event envelope %+v", e)
			}
			got[e.Asset+"/"+e.Partition] = e.Status
		case <-ctx.Done():
			t.Fatalf("received %d of %d events", len(got), len(rep.Outcomes))
		}
	}
	if got["raw/2023-02"] != StatusFailed || got["clean/2023-02"] != StatusSkipped || got["clean/2023-01"] != StatusCommitted {
		t.Errorf("unexpected events %v", got)
	}
}

func TestTrigger(t *testing.T) {
	cal := monthlyCalendar(t)
	rec := &recorder{fail: map[string]bool{"raw/2023-02": true}}
	g := chainGraph(t, cal, rec)
	set, err := job.NewSet(g, &job.Spec{Name: "test_job", Selection: asset.All(), Partitions: cal})
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}
	trigger := NewRunner(g).Trigger(set)

	if err := trigger(context.Background(), "test_job", keys(t, cal, "2023-01")); err != nil {
		t.Errorf("expected success, got %v", err)
	}
	if err := trigger(context.Background(), "test_job", keys(t, cal, "2023-02")); err == nil {
		t.Error("expected failure to surface")
	}
	if err := trigger(context.Background(), "missing", nil); !errors.Is(err, job.ErrUnknownJob) {
		t.Errorf("expected ErrUnknownJob, got %v", err)
	}
}

// End to end against DuckDB: a partitioned table feeding a whole-table
// aggregate, re-running one partition must not duplicate anything.

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	policy := backoff.Policy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
	s, err := storage.Open(context.Background(), config.DatabaseConfig{Path: ":memory:", Threads: 2}, policy)
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func exec(t *testing.T, s *storage.Store, query string, args ...any) {
	t.Helper()
	err := s.WithHandle(context.Background(), func(h *storage.Handle) error {
		_, err := h.ExecContext(context.Background(), query, args...)
		return err
	})
	if err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}

func TestRun_EndToEndRerunDoesNotDuplicate(t *testing.T) {
	cal := monthlyCalendar(t)
	store := openStore(t)
	exec(t, store, "CREATE TABLE raw_trips (month VARCHAR, fare DOUBLE)")
	for month, n := range map[string]int{"2023-01": 3, "2023-02": 2, "2023-03": 4} {
		for i := 0; i < n; i++ {
			exec(t, store, "INSERT INTO raw_trips VALUES (?, ?)", month, float64(i))
		}
	}

	trips, err := materialize.NewTable("trips",
		[]materialize.Column{{Name: "fare", Type: "DOUBLE"}},
		true, "SELECT fare FROM raw_trips WHERE month = '{{.Key}}'", nil)
	if err != nil {
		t.Fatalf("NewTable trips: %v", err)
	}
	totals, err := materialize.NewTable("monthly_totals",
		[]materialize.Column{{Name: "month", Type: "VARCHAR"}, {Name: "num_trips", Type: "BIGINT"}},
		false, "SELECT partition_key AS month, count(*) AS num_trips FROM trips GROUP BY partition_key", nil)
	if err != nil {
		t.Fatalf("NewTable totals: %v", err)
	}

	m := materialize.New(store)
	g, err := asset.NewBuilder().Add(
		&asset.Node{Name: "trips", Partitions: cal, Op: m.TableOp(trips)},
		&asset.Node{Name: "monthly_totals", Deps: []string{"trips"}, Op: m.TableOp(totals)},
	).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	def := definition(t, g, cal)
	runner := NewRunner(g)

	rep, err := runner.Run(context.Background(), def, keys(t, cal, "2023-01", "2023-02", "2023-03"))
	if err != nil || !rep.Succeeded() {
		t.Fatalf("first run: err=%v report=%+v", err, rep)
	}

	// Upstream data for February changes, then February is re-run alone.
	exec(t, store, "INSERT INTO raw_trips VALUES ('2023-02', 9)")
	rep, err = runner.Run(context.Background(), def, keys(t, cal, "2023-02"))
	if err != nil || !rep.Succeeded() {
		t.Fatalf("re-run: err=%v report=%+v", err, rep)
	}

	want := map[string]int64{"2023-01": 3, "2023-02": 3, "2023-03": 4}
	got := make(map[string]int64)
	err = store.WithHandle(context.Background(), func(h *storage.Handle) error {
		rows, err := h.QueryContext(context.Background(), "SELECT month, num_trips FROM monthly_totals")
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var month string
			var n int64
			if err := rows.Scan(&month, &n); err != nil {
				return err
			}
			if _, dup := got[month]; dup {
				return fmt.Errorf("duplicate aggregate row for %s", month)
			}
			got[month] = n
		}
		return rows.Err()
	})
	if err != nil {
		t.Fatalf("query totals: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("totals = %v, want %v", got, want)
	}
	for month, n := range want {
		if got[month] != n {
			t.Errorf("totals[%s] = %d, want %d", month, got[month], n)
		}
	}

	var total int64
	err = store.WithHandle(context.Background(), func(h *storage.Handle) error {
		return h.QueryRowContext(context.Background(), "SELECT count(*) FROM trips").Scan(&total)
	})
	if err != nil {
		t.Fatalf("count trips: %v", err)
	}
	if total != 10 {
		t.Errorf("trips rows = %d, want 10", total)
	}
}

func TestRun_OpLogsCarryJobAndRunID(t *testing.T) {
	cal := monthlyCalendar(t)
	rec := &recorder{hook: func(ctx context.Context, name string, key partition.Key) {
		logging.Ctx(ctx).Info().Str("asset", name).Msg("Op ran")
	}}
	g := chainGraph(t, cal, rec)

	var buf bytes.Buffer
	ctx := logging.ContextWithLogger(context.Background(), zerolog.New(&buf))
	ctx = logging.ContextWithRunID(ctx, "run-42")

	if _, err := NewRunner(g, WithParallelism(1)).Run(ctx, definition(t, g, cal), keys(t, cal, "2023-01")); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var opLines int
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if !strings.Contains(line, `"message":"Op ran"`) {
			continue
		}
		opLines++
		if !strings.Contains(line, `"job":"test_job"`) || !strings.Contains(line, `"run_id":"run-42"`) {
			t.Errorf("op log line missing job or run id: %s", line)
		}
	}
	if opLines != 3 {
		t.Errorf("expected 3 op log lines, got %d:\n%s", opLines, buf.String())
	}
}
