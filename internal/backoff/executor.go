// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

// Package backoff runs fallible resource acquisitions with bounded retries.
//
// Only errors accepted by the caller's Classifier are retried. Anything else
// is returned on the first attempt without sleeping. Delays grow
// exponentially with jitter and are computed per call, so concurrent
// executions never share a delay sequence.
package backoff

import (
	"context"
	"time"

	cenkalti "github.com/cenkalti/backoff/v5"

	"github.com/tomtom215/taxiflow/internal/logging"
)

// DefaultMaxRetries matches the retry budget used for the store connect call.
const DefaultMaxRetries = 10

// Policy bounds a retry loop.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int `koanf:"max_retries" validate:"gte=0,lte=100"`

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration `koanf:"base_delay" validate:"gt=0"`

	// MaxDelay caps any single delay.
	MaxDelay time.Duration `koanf:"max_delay" validate:"gtefield=BaseDelay"`

	// Multiplier grows the delay between retries.
	Multiplier float64 `koanf:"multiplier" validate:"gte=1"`

	// Jitter is the randomization factor in [0,1).
	Jitter float64 `koanf:"jitter" validate:"gte=0,lt=1"`
}

// DefaultPolicy returns the policy used for store handle acquisition.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 2,
		Jitter:     0.5,
	}
}

// Classifier reports whether an error is transient and worth retrying.
type Classifier func(error) bool

// Option customizes a single Execute call.
type Option func(*options)

type options struct {
	sleep  func(context.Context, time.Duration) error
	notify func(err error, attempt int, delay time.Duration)
}

// WithSleep replaces the cancellable sleep between attempts. Tests use it to
// observe delays without waiting.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(o *options) { o.sleep = sleep }
}

// WithNotify registers a callback invoked before each retry delay.
func WithNotify(notify func(err error, attempt int, delay time.Duration)) Option {
	return func(o *options) { o.notify = notify }
}

// Execute invokes op until it succeeds, fails with a non-retryable error, or
// the retry budget is exhausted. Exhaustion returns a
// *ResourceAcquisitionFailure wrapping the last error. A cancelled context
// interrupts the delay and returns ctx.Err().
func Execute[T any](ctx context.Context, p Policy, op func(context.Context) (T, error), retryable Classifier, opts ...Option) (T, error) {
	o := options{sleep: sleepContext}
	for _, opt := range opts {
		opt(&o)
	}

	delays := newDelaySequence(p)
	var zero T
	var lastErr error

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if retryable == nil || !retryable(err) {
			return zero, err
		}
		if attempt == p.MaxRetries {
			break
		}

		delay := delays.NextBackOff()
		if o.notify != nil {
			o.notify(err, attempt+1, delay)
		}
		logging.Ctx(ctx).Debug().
			Err(err).
			Int("attempt", attempt+1).
			Int("max_retries", p.MaxRetries).
			Dur("delay", delay).
			Msg("Transient failure, retrying")

		if serr := o.sleep(ctx, delay); serr != nil {
			return zero, serr
		}
	}

	return zero, &ResourceAcquisitionFailure{Attempts: p.MaxRetries + 1, Cause: lastErr}
}

// newDelaySequence builds a fresh exponential sequence for one Execute call.
func newDelaySequence(p Policy) *cenkalti.ExponentialBackOff {
	b := cenkalti.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = p.MaxDelay
	b.RandomizationFactor = p.Jitter
	if p.Multiplier >= 1 {
		b.Multiplier = p.Multiplier
	}
	if b.InitialInterval <= 0 {
		b.InitialInterval = DefaultPolicy().BaseDelay
	}
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = b.InitialInterval
	}
	b.Reset()
	return b
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
