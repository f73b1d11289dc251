// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

// Package partition generates and parses time partition keys.
//
// A Calendar is a pure function of (start, end, granularity): it holds no
// state, so generating keys twice always yields the same ascending sequence.
package partition

import (
	"fmt"
	"time"
)

// Calendar describes the partitions of an asset.
type Calendar struct {
	Start       time.Time
	End         time.Time
	Granularity Granularity
}

// NewCalendar validates and normalizes a calendar. Boundaries are truncated
// to UTC midnight.
func NewCalendar(start, end time.Time, g Granularity) (*Calendar, error) {
	if _, err := ParseGranularity(string(g)); err != nil {
		return nil, err
	}
	c := &Calendar{Start: truncateDay(start), End: truncateDay(end), Granularity: g}
	if !c.End.After(c.Start) {
		return nil, &InvalidRangeError{Start: c.Start, End: c.End}
	}
	return c, nil
}

// Generate returns every key whose start lies in [start, end), ascending.
// It fails with *InvalidRangeError when end <= start.
func Generate(start, end time.Time, g Granularity) ([]Key, error) {
	c, err := NewCalendar(start, end, g)
	if err != nil {
		return nil, err
	}
	return c.Keys(), nil
}

// Keys returns the calendar's keys in ascending order.
func (c *Calendar) Keys() []Key {
	var keys []Key
	for k := c.first(); k.start.Before(c.End); k = k.Next() {
		keys = append(keys, k)
	}
	return keys
}

// first returns the earliest key of the calendar. Monthly calendars whose
// start is not the first of a month begin at the following month.
func (c *Calendar) first() Key {
	if c.Granularity == Monthly {
		s := c.Start
		firstOfMonth := time.Date(s.Year(), s.Month(), 1, 0, 0, 0, 0, time.UTC)
		if firstOfMonth.Before(s) {
			firstOfMonth = firstOfMonth.AddDate(0, 1, 0)
		}
		return Key{start: firstOfMonth, gran: Monthly}
	}
	return Key{start: c.Start, gran: Weekly}
}

// Contains reports whether k is one of the calendar's keys.
func (c *Calendar) Contains(k Key) bool {
	if k.gran != c.Granularity || k.start.Before(c.first().start) || !k.start.Before(c.End) {
		return false
	}
	if c.Granularity == Monthly {
		return k.start.Day() == 1
	}
	days := int(k.start.Sub(c.Start).Hours() / 24)
	return days%7 == 0
}

// ParseKey decodes s and checks that it belongs to the calendar.
func (c *Calendar) ParseKey(s string) (Key, error) {
	k, err := ParseKey(c.Granularity, s)
	if err != nil {
		return Key{}, err
	}
	if !c.Contains(k) {
		return Key{}, fmt.Errorf("%w: %s not in %s", ErrKeyOutOfRange, s, c)
	}
	return k, nil
}

// Range returns the keys from..to inclusive. Both must belong to the calendar.
func (c *Calendar) Range(from, to Key) ([]Key, error) {
	if !c.Contains(from) {
		return nil, fmt.Errorf("%w: %s", ErrKeyOutOfRange, from)
	}
	if !c.Contains(to) {
		return nil, fmt.Errorf("%w: %s", ErrKeyOutOfRange, to)
	}
	if to.Before(from) {
		return nil, &InvalidRangeError{Start: from.Start(), End: to.Start()}
	}
	var keys []Key
	for k := from; !to.Before(k); k = k.Next() {
		keys = append(keys, k)
	}
	return keys, nil
}

// LastComplete returns the latest key whose window has fully elapsed at t.
// Scheduled runs materialize this key; the partition still in progress is
// never due.
func (c *Calendar) LastComplete(t time.Time) (Key, bool) {
	var last Key
	found := false
	for _, k := range c.Keys() {
		if k.End().After(t) {
			break
		}
		last = k
		found = true
	}
	return last, found
}

// Equal reports whether two calendars describe the same partitions.
func (c *Calendar) Equal(other *Calendar) bool {
	if c == nil || other == nil {
		return c == other
	}
	return c.Granularity == other.Granularity &&
		c.Start.Equal(other.Start) && c.End.Equal(other.End)
}

func (c *Calendar) String() string {
	return fmt.Sprintf("%s[%s,%s)", c.Granularity, c.Start.Format(dateLayout), c.End.Format(dateLayout))
}
