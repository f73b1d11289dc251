// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

// Package schedule fires jobs on cron recurrences.
//
// The scheduler wakes up every CheckInterval, walks the cron ticks that
// elapsed since each schedule's watermark and, for each tick, resolves the
// due partition keys (the latest partition whose window has fully elapsed)
// and triggers the job. Watermarks are persisted after every tick so a
// restart resumes where the previous process stopped.
//
// The scheduler integrates with the supervisor tree for lifecycle management.
package schedule

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/taxiflow/internal/logging"
	"github.com/tomtom215/taxiflow/internal/metrics"
	"github.com/tomtom215/taxiflow/internal/partition"
)

// KeyMapping maps a tick to the partition keys it should materialize. It
// lets a schedule whose cadence differs from its job's partition scheme
// declare the mapping explicitly.
type KeyMapping func(tick time.Time) []partition.Key

// Trigger runs a job for the given keys. Unpartitioned jobs receive nil keys.
type Trigger func(ctx context.Context, job string, keys []partition.Key) error

// Schedule binds a job to a cron recurrence.
type Schedule struct {
	Name       string
	Job        string
	Cron       *Cron
	Partitions *partition.Calendar // nil when the job is not partitioned
	Mapping    KeyMapping
}

// DueKeys resolves the keys a tick should run. The second result is false
// when nothing is due yet, for example during the first partition window.
func (s *Schedule) DueKeys(tick time.Time) ([]partition.Key, bool) {
	if s.Mapping != nil {
		keys := s.Mapping(tick)
		return keys, len(keys) > 0
	}
	if s.Partitions == nil {
		return nil, true
	}
	k, ok := s.Partitions.LastComplete(tick)
	if !ok {
		return nil, false
	}
	return []partition.Key{k}, true
}

// Config holds configuration for the scheduler.
type Config struct {
	// CheckInterval is how often to look for elapsed ticks (default: 1 minute)
	CheckInterval time.Duration

	// MaxCatchUp bounds how many missed ticks are replayed per schedule after
	// downtime; older ones are skipped (default: 3)
	MaxCatchUp int

	// RunTimeout bounds a single triggered run (default: 1 hour)
	RunTimeout time.Duration

	// Location evaluates cron expressions (default: UTC)
	Location *time.Location

	// Disabled lists schedule names that never fire
	Disabled []string

	// Enabled controls whether the scheduler is active
	Enabled bool
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		CheckInterval: time.Minute,
		MaxCatchUp:    3,
		RunTimeout:    time.Hour,
		Location:      time.UTC,
		Enabled:       true,
	}
}

// Status describes a schedule for listings.
type Status struct {
	Name     string    `json:"name"`
	Job      string    `json:"job"`
	Cron     string    `json:"cron"`
	Enabled  bool      `json:"enabled"`
	LastTick time.Time `json:"last_tick,omitempty"`
	NextTick time.Time `json:"next_tick,omitempty"`
}

// Scheduler evaluates schedules and triggers their jobs.
type Scheduler struct {
	schedules []Schedule
	trigger   Trigger
	store     WatermarkStore
	logger    zerolog.Logger
	config    Config
	now       func() time.Time

	// Runtime state
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewScheduler creates a scheduler. A nil store keeps watermarks in memory.
func NewScheduler(schedules []Schedule, trigger Trigger, store WatermarkStore, config Config) *Scheduler {
	if config.CheckInterval <= 0 {
		config.CheckInterval = time.Minute
	}
	if config.MaxCatchUp <= 0 {
		config.MaxCatchUp = 3
	}
	if config.RunTimeout <= 0 {
		config.RunTimeout = time.Hour
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	if store == nil {
		store = NewMemoryWatermarkStore()
	}

	return &Scheduler{
		schedules: schedules,
		trigger:   trigger,
		store:     store,
		logger:    logging.WithComponent("scheduler"),
		config:    config,
		now:       time.Now,
	}
}

// Start begins the scheduler loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	if !s.config.Enabled {
		s.logger.Info().Msg("Scheduler disabled")
		go func() {
			defer close(s.doneCh)
			<-s.stopCh
		}()
		return nil
	}

	s.logger.Info().
		Dur("check_interval", s.config.CheckInterval).
		Int("schedules", len(s.schedules)).
		Msg("Starting scheduler")

	go s.run(ctx)
	return nil
}

// Stop stops the scheduler loop and waits for an in-flight run to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.logger.Info().Msg("Stopping scheduler...")
	close(s.stopCh)
	<-s.doneCh

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

// IsRunning returns whether the scheduler is currently running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// run is the main scheduler loop.
func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.config.CheckInterval)
	defer ticker.Stop()

	// Run immediately on start
	s.CheckAndTrigger(ctx)

	for {
		select {
		case <-ticker.C:
			s.CheckAndTrigger(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// CheckAndTrigger evaluates every enabled schedule once. Schedules are
// evaluated one after another so runs never overlap.
func (s *Scheduler) CheckAndTrigger(ctx context.Context) {
	now := s.now()
	for i := range s.schedules {
		sch := &s.schedules[i]
		if slices.Contains(s.config.Disabled, sch.Name) {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		s.evaluate(ctx, sch, now)
	}
}

// evaluate fires the ticks of one schedule that elapsed since its watermark.
func (s *Scheduler) evaluate(ctx context.Context, sch *Schedule, now time.Time) {
	logger := s.logger.With().Str("schedule", sch.Name).Str("job", sch.Job).Logger()

	wm, ok, err := s.store.Load(ctx, sch.Name)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load watermark")
		return
	}
	if !ok {
		// First sight of this schedule: start from now, no backfill.
		if err := s.store.Save(ctx, sch.Name, Watermark{LastTick: now}); err != nil {
			logger.Error().Err(err).Msg("Failed to initialize watermark")
		}
		return
	}

	var ticks []time.Time
	skipped := 0
	for tick := sch.Cron.Next(wm.LastTick, s.config.Location); !tick.IsZero() && !tick.After(now); tick = sch.Cron.Next(tick, s.config.Location) {
		ticks = append(ticks, tick)
		if len(ticks) > s.config.MaxCatchUp {
			ticks = ticks[1:]
			skipped++
		}
	}
	if skipped > 0 {
		logger.Warn().Int("skipped", skipped).Msg("Skipping missed ticks beyond catch-up limit")
	}

	for _, tick := range ticks {
		if ctx.Err() != nil {
			return
		}
		metrics.RecordSchedulerTick(sch.Name, tick)
		wm = s.fire(ctx, sch, tick, wm, logger)
		if err := s.store.Save(ctx, sch.Name, wm); err != nil {
			logger.Error().Err(err).Time("tick", tick).Msg("Failed to save watermark")
			return
		}
	}
}

// fire triggers the job for one tick and returns the advanced watermark.
// Failed runs still advance it; the failure is visible in the run report and
// the partition can be re-run manually.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func (s *Scheduler) fire(ctx context.Context, sch *Schedule, tick time.Time, wm Watermark, logger zerolog.Logger) Watermark {
	next := Watermark{LastTick: tick, LastKeys: wm.LastKeys}

	keys, due := sch.DueKeys(tick)
	if !due {
		logger.Debug().Time("tick", tick).Msg("No partition due yet")
		return next
	}
	keyStrings := make([]string, len(keys))
	for i, k := range keys {
		keyStrings[i] = k.String()
	}
	if len(keys) > 0 && slices.Equal(keyStrings, wm.LastKeys) {
		logger.Debug().Time("tick", tick).Strs("partitions", keyStrings).Msg("Partitions already scheduled")
		return next
	}

	runCtx, cancel := context.WithTimeout(logging.ContextWithRunID(ctx, logging.GenerateRunID()), s.config.RunTimeout)
	defer cancel()

	logger.Info().Time("tick", tick).Strs("partitions", keyStrings).Msg("Triggering scheduled run")
	if err := s.trigger(runCtx, sch.Job, keys); err != nil {
		logger.Error().Err(err).Time("tick", tick).Msg("Scheduled run failed")
	}
	next.LastKeys = keyStrings
	return next
}

// Statuses lists every schedule with its watermark and next tick.
func (s *Scheduler) Statuses(ctx context.Context) ([]Status, error) {
	out := make([]Status, 0, len(s.schedules))
	now := s.now()
	for i := range s.schedules {
		sch := &s.schedules[i]
		st := Status{
			Name:    sch.Name,
			Job:     sch.Job,
			Cron:    sch.Cron.String(),
			Enabled: s.config.Enabled && !slices.Contains(s.config.Disabled, sch.Name),
		}
		wm, ok, err := s.store.Load(ctx, sch.Name)
		if err != nil {
			return nil, err
		}
		from := now
		if ok {
			st.LastTick = wm.LastTick
			if wm.LastTick.After(from) {
				from = wm.LastTick
			}
		}
		st.NextTick = sch.Cron.Next(from, s.config.Location)
		out = append(out, st)
	}
	return out, nil
}
