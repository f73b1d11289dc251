// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

package schedule

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tomtom215/taxiflow/internal/partition"
)

// Cron is a parsed 5-field cron expression:
// minute hour day-of-month month day-of-week.
type Cron struct {
	Minutes     []int // 0-59
	Hours       []int // 0-23
	DaysOfMonth []int // 1-31
	Months      []int // 1-12
	DaysOfWeek  []int // 0-6 (0 = Sunday)

	expr      string
	domAny    bool
	dowAny    bool
	monthsAny bool
}

// ParseCron parses a standard 5-field cron expression.
//
// Supported syntax:
//   - * (any value)
//   - n (specific value)
//   - n-m (range)
//   - n,m,o (list)
//   - */n (step from start)
//   - n-m/s (step in range)
//
// Examples:
//   - "0 0 5 * *" - 5th of every month at midnight
//   - "0 0 * * 1" - Every Monday at midnight
//   - "*/15 * * * *" - Every 15 minutes
func ParseCron(expr string) (*Cron, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}

	minutes, err := parseField(fields[0], 0, 59)
	if err != nil {
		return nil, fmt.Errorf("invalid minute field: %w", err)
	}

	hours, err := parseField(fields[1], 0, 23)
	if err != nil {
		return nil, fmt.Errorf("invalid hour field: %w", err)
	}

	daysOfMonth, err := parseField(fields[2], 1, 31)
	if err != nil {
		return nil, fmt.Errorf("invalid day-of-month field: %w", err)
	}

	months, err := parseField(fields[3], 1, 12)
	if err != nil {
		return nil, fmt.Errorf("invalid month field: %w", err)
	}

	daysOfWeek, err := parseField(fields[4], 0, 7)
	if err != nil {
		return nil, fmt.Errorf("invalid day-of-week field: %w", err)
	}

	// Day 7 is Sunday too
	for i, d := range daysOfWeek {
		if d == 7 {
			daysOfWeek[i] = 0
		}
	}

	return &Cron{
		Minutes:     minutes,
		Hours:       hours,
		DaysOfMonth: daysOfMonth,
		Months:      months,
		DaysOfWeek:  uniqueInts(daysOfWeek),
		expr:        strings.Join(fields, " "),
		domAny:      fields[2] == "*",
		dowAny:      fields[4] == "*",
		monthsAny:   fields[3] == "*",
	}, nil
}

// String returns the normalized expression.
func (c *Cron) String() string {
	return c.expr
}

// Next returns the first matching minute strictly after the given time, or
// the zero time when nothing matches within five years. A nil loc means UTC.
func (c *Cron) Next(after time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t := after.In(loc)
	t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, loc).Add(time.Minute)

	limit := t.AddDate(5, 0, 0)
	for t.Before(limit) {
		if !containsInt(c.Months, int(t.Month())) || !c.dayMatches(t) {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, loc)
			continue
		}
		if !containsInt(c.Hours, t.Hour()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, loc)
			continue
		}
		if !containsInt(c.Minutes, t.Minute()) {
			t = t.Add(time.Minute)
			continue
		}
		return t
	}
	return time.Time{}
}

// Matches reports whether t falls on a firing minute.
func (c *Cron) Matches(t time.Time) bool {
	return containsInt(c.Minutes, t.Minute()) &&
		containsInt(c.Hours, t.Hour()) &&
		containsInt(c.Months, int(t.Month())) &&
		c.dayMatches(t)
}

// dayMatches applies the standard rule: when both day fields are
// restricted, either one matching is enough.
func (c *Cron) dayMatches(t time.Time) bool {
	domMatch := containsInt(c.DaysOfMonth, t.Day())
	dowMatch := containsInt(c.DaysOfWeek, int(t.Weekday()))

	switch {
	case c.domAny && c.dowAny:
		return true
	case c.domAny:
		return dowMatch
	case c.dowAny:
		return domMatch
	default:
		return domMatch || dowMatch
	}
}

// Cadence returns the partition granularity the expression fires at, if it
// fires exactly once per month or once per week. Other shapes (daily,
// hourly, quarterly, mixed day fields) report false.
func (c *Cron) Cadence() (partition.Granularity, bool) {
	if len(c.Minutes) != 1 || len(c.Hours) != 1 || !c.monthsAny {
		return "", false
	}
	switch {
	case !c.domAny && c.dowAny && len(c.DaysOfMonth) == 1:
		return partition.Monthly, true
	case c.domAny && !c.dowAny && len(c.DaysOfWeek) == 1:
		return partition.Weekly, true
	default:
		return "", false
	}
}

// parseField parses a single cron field.
func parseField(field string, minVal, maxVal int) ([]int, error) {
	if field == "*" {
		return rangeInts(minVal, maxVal), nil
	}

	var result []int
	for _, part := range strings.Split(field, ",") {
		values, err := parseFieldPart(part, minVal, maxVal)
		if err != nil {
			return nil, err
		}
		result = append(result, values...)
	}
	return uniqueInts(result), nil
}

// parseFieldPart parses one list element.
//
//nolint:gocyclo // Cron parsing requires handling multiple format cases
func parseFieldPart(part string, minVal, maxVal int) ([]int, error) {
	if base, stepText, ok := strings.Cut(part, "/"); ok {
		step, err := strconv.Atoi(stepText)
		if err != nil || step <= 0 {
			return nil, fmt.Errorf("invalid step value: %s", stepText)
		}

		rangeStart, rangeEnd := minVal, maxVal
		switch {
		case base == "*":
		case strings.Contains(base, "-"):
			rangeStart, rangeEnd, err = parseRange(base, minVal, maxVal)
			if err != nil {
				return nil, err
			}
		default:
			rangeStart, err = parseValue(base, minVal, maxVal)
			if err != nil {
				return nil, err
			}
		}

		var result []int
		for i := rangeStart; i <= rangeEnd; i += step {
			result = append(result, i)
		}
		return result, nil
	}

	if strings.Contains(part, "-") {
		start, end, err := parseRange(part, minVal, maxVal)
		if err != nil {
			return nil, err
		}
		return rangeInts(start, end), nil
	}

	val, err := parseValue(part, minVal, maxVal)
	if err != nil {
		return nil, err
	}
	return []int{val}, nil
}

func parseRange(s string, minVal, maxVal int) (int, int, error) {
	startText, endText, _ := strings.Cut(s, "-")
	start, err := strconv.Atoi(startText)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid range start: %s", startText)
	}
	end, err := strconv.Atoi(endText)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid range end: %s", endText)
	}
	if start > end || start < minVal || end > maxVal {
		return 0, 0, fmt.Errorf("invalid range: %d-%d (minVal=%d, maxVal=%d)", start, end, minVal, maxVal)
	}
	return start, end, nil
}

func parseValue(s string, minVal, maxVal int) (int, error) {
	val, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid value: %s", s)
	}
	if val < minVal || val > maxVal {
		return 0, fmt.Errorf("value out of range: %d (minVal=%d, maxVal=%d)", val, minVal, maxVal)
	}
	return val, nil
}

// rangeInts returns a slice of integers from start to end (inclusive).
func rangeInts(start, end int) []int {
	result := make([]int, end-start+1)
	for i := range result {
		result[i] = start + i
	}
	return result
}

func containsInt(slice []int, val int) bool {
	for _, v := range slice {
		if v == val {
			return true
		}
	}
	return false
}

// uniqueInts removes duplicates and sorts the slice.
func uniqueInts(slice []int) []int {
	seen := make(map[int]bool, len(slice))
	result := make([]int, 0, len(slice))
	for _, v := range slice {
		if !seen[v] {
			seen[v] = true
			result = append(result, v)
		}
	}
	sort.Ints(result)
	return result
}
