// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

package partition

import (
	"fmt"
	"strings"
	"time"
)

const (
	dateLayout  = "2006-01-02"
	monthLayout = "2006-01"
)

// Granularity is the width of one partition.
type Granularity string

const (
	Monthly Granularity = "monthly"
	Weekly  Granularity = "weekly"
)

// ParseGranularity converts a config string to a Granularity.
func ParseGranularity(s string) (Granularity, error) {
	switch Granularity(strings.ToLower(strings.TrimSpace(s))) {
	case Monthly:
		return Monthly, nil
	case Weekly:
		return Weekly, nil
	default:
		return "", fmt.Errorf("unknown partition granularity %q (want monthly or weekly)", s)
	}
}

// Key identifies one time partition. Keys are ordered by their start time and
// serialize as "2006-01" (monthly) or "2006-01-02" (weekly, the week start).
// The zero Key is not a valid partition.
type Key struct {
	start time.Time
	gran  Granularity
}

// newKey normalizes t to a UTC midnight.
func newKey(t time.Time, g Granularity) Key {
	return Key{start: truncateDay(t), gran: g}
}

// String returns the serialized form used in partition_key columns and URLs.
func (k Key) String() string {
	if k.IsZero() {
		return ""
	}
	if k.gran == Monthly {
		return k.start.Format(monthLayout)
	}
	return k.start.Format(dateLayout)
}

// IsZero reports whether k is the zero Key.
func (k Key) IsZero() bool {
	return k.start.IsZero()
}

// Granularity returns the key's partition width.
func (k Key) Granularity() Granularity {
	return k.gran
}

// Start returns the inclusive start of the partition window.
func (k Key) Start() time.Time {
	return k.start
}

// End returns the exclusive end of the partition window, which is also the
// start of Next().
func (k Key) End() time.Time {
	return k.Next().start
}

// Window returns the half-open time range [Start, End) covered by the key.
func (k Key) Window() (time.Time, time.Time) {
	return k.start, k.End()
}

// Next returns the successor key.
func (k Key) Next() Key {
	if k.gran == Monthly {
		return Key{start: k.start.AddDate(0, 1, 0), gran: k.gran}
	}
	return Key{start: k.start.AddDate(0, 0, 7), gran: k.gran}
}

// Compare returns -1, 0 or +1 ordering keys by start time.
func (k Key) Compare(other Key) int {
	return k.start.Compare(other.start)
}

// Before reports whether k sorts before other.
func (k Key) Before(other Key) bool {
	return k.Compare(other) < 0
}

// ParseKey decodes a serialized key. Monthly keys accept both "2023-03" and
// "2023-03-01"; weekly keys must be a full date.
func ParseKey(g Granularity, s string) (Key, error) {
	s = strings.TrimSpace(s)
	switch g {
	case Monthly:
		t, err := time.Parse(monthLayout, s)
		if err != nil {
			t, err = time.Parse(dateLayout, s)
			if err != nil || t.Day() != 1 {
				return Key{}, fmt.Errorf("invalid monthly partition key %q", s)
			}
		}
		return newKey(t, Monthly), nil
	case Weekly:
		t, err := time.Parse(dateLayout, s)
		if err != nil {
			return Key{}, fmt.Errorf("invalid weekly partition key %q", s)
		}
		return newKey(t, Weekly), nil
	default:
		return Key{}, fmt.Errorf("unknown partition granularity %q", g)
	}
}

// ParseDate parses a calendar boundary in "2006-01-02" form as UTC midnight.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
