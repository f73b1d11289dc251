// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

// Package source downloads upstream data files.
//
// The HTTP provider is wrapped in a circuit breaker and a token bucket so a
// backfill over many partitions neither hammers a failing upstream nor
// exceeds its request budget. Upstream errors are returned unmodified; the
// breaker only adds gobreaker.ErrOpenState and gobreaker.ErrTooManyRequests.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/template"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/taxiflow/internal/config"
	"github.com/tomtom215/taxiflow/internal/logging"
	"github.com/tomtom215/taxiflow/internal/metrics"
	"github.com/tomtom215/taxiflow/internal/partition"
)

// Provider fetches the raw bytes of one partition.
type Provider interface {
	Fetch(ctx context.Context, key partition.Key, urlTemplate string) ([]byte, error)
}

// HTTPStatusError is returned for non-2xx responses.
type HTTPStatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %s", e.URL, e.Status)
}

// HTTPProvider fetches files over HTTP.
type HTTPProvider struct {
	name      string
	client    *http.Client
	limiter   *rate.Limiter
	cb        *gobreaker.CircuitBreaker[[]byte]
	userAgent string
}

// NewHTTPProvider creates a provider from cfg. The circuit opens after
// cfg.BreakerMaxFailures consecutive failures and probes again after
// cfg.BreakerTimeout.
func NewHTTPProvider(name string, cfg config.SourceConfig) *HTTPProvider {
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("breaker", name).Str("from", stateToString(from)).Str("to", stateToString(to)).
				Msg("[CIRCUIT BREAKER] State transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, stateToString(from), stateToString(to)).Inc()
		},
	})

	return &HTTPProvider{
		name:      name,
		client:    &http.Client{Timeout: cfg.Timeout},
		limiter:   rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		cb:        cb,
		userAgent: cfg.UserAgent,
	}
}

// Fetch renders urlTemplate with key and downloads the body.
func (p *HTTPProvider) Fetch(ctx context.Context, key partition.Key, urlTemplate string) ([]byte, error) {
	url, err := Render(urlTemplate, key)
	if err != nil {
		return nil, err
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	body, err := p.cb.Execute(func() ([]byte, error) {
		return p.get(ctx, url)
	})
	metrics.RecordSourceFetch(p.name, time.Since(start), len(body), err)

	switch {
	case err == nil:
		metrics.CircuitBreakerRequests.WithLabelValues(p.name, "success").Inc()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CircuitBreakerRequests.WithLabelValues(p.name, "rejected").Inc()
		logging.Ctx(ctx).Warn().Err(err).Str("url", url).Msg("[CIRCUIT BREAKER] Request rejected")
	default:
		metrics.CircuitBreakerRequests.WithLabelValues(p.name, "failure").Inc()
	}
	return body, err
}

// State returns the breaker state, for health reporting.
func (p *HTTPProvider) State() string {
	return stateToString(p.cb.State())
}

func (p *HTTPProvider) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, err
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &HTTPStatusError{URL: url, StatusCode: resp.StatusCode, Status: resp.Status}
	}
	return io.ReadAll(resp.Body)
}

// Render executes a text/template with {{.Key}} bound to the serialized key.
func Render(tmpl string, key partition.Key) (string, error) {
	t, err := template.New("source").Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("failed to parse template %q: %w", tmpl, err)
	}
	var sb strings.Builder
	if err := t.Execute(&sb, struct{ Key string }{Key: key.String()}); err != nil {
		return "", fmt.Errorf("failed to render template %q: %w", tmpl, err)
	}
	return sb.String(), nil
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
