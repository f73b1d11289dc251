// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

package schedule

import (
	"slices"
	"testing"
	"time"

	"github.com/tomtom215/taxiflow/internal/partition"
)

func TestParseCron(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{"monthly on the 5th", "0 0 5 * *", false},
		{"weekly on monday", "0 0 * * 1", false},
		{"every 5 minutes", "*/5 * * * *", false},
		{"weekdays hourly", "0 * * * 1-5", false},
		{"sunday as 7", "0 0 * * 7", false},
		{"list of minutes", "0,15,30,45 * * * *", false},
		{"too few fields", "0 9 * *", true},
		{"too many fields", "0 9 * * * *", true},
		{"invalid minute", "60 9 * * *", true},
		{"invalid hour", "0 24 * * *", true},
		{"invalid step", "*/0 * * * *", true},
		{"invalid day of month", "0 0 32 * *", true},
		{"garbage", "a b c d e", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCron(tt.expr)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseCron() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCron_Next(t *testing.T) {
	loc := time.UTC

	tests := []struct {
		name     string
		expr     string
		after    time.Time
		expected time.Time
	}{
		{
			name:     "monthly on the 5th from the 1st",
			expr:     "0 0 5 * *",
			after:    time.Date(2023, 4, 1, 0, 0, 0, 0, loc),
			expected: time.Date(2023, 4, 5, 0, 0, 0, 0, loc),
		},
		{
			name:     "monthly on the 5th exactly at a tick",
			expr:     "0 0 5 * *",
			after:    time.Date(2023, 4, 5, 0, 0, 0, 0, loc),
			expected: time.Date(2023, 5, 5, 0, 0, 0, 0, loc),
		},
		{
			name:     "monthly across year end",
			expr:     "0 0 5 * *",
			after:    time.Date(2023, 12, 20, 13, 0, 0, 0, loc),
			expected: time.Date(2024, 1, 5, 0, 0, 0, 0, loc),
		},
		{
			name:     "monday midnight from sunday",
			expr:     "0 0 * * 1",
			after:    time.Date(2024, 1, 7, 10, 0, 0, 0, loc), // Sunday
			expected: time.Date(2024, 1, 8, 0, 0, 0, 0, loc),
		},
		{
			name:     "every 5 minutes from :01",
			expr:     "*/5 * * * *",
			after:    time.Date(2024, 1, 1, 12, 1, 30, 0, loc),
			expected: time.Date(2024, 1, 1, 12, 5, 0, 0, loc),
		},
		{
			name:     "at minute 30 from minute 35 (next hour)",
			expr:     "30 * * * *",
			after:    time.Date(2024, 1, 1, 12, 35, 0, 0, loc),
			expected: time.Date(2024, 1, 1, 13, 30, 0, 0, loc),
		},
		{
			name:     "leap day",
			expr:     "0 0 29 2 *",
			after:    time.Date(2023, 3, 1, 0, 0, 0, 0, loc),
			expected: time.Date(2024, 2, 29, 0, 0, 0, 0, loc),
		},
		{
			name:     "both day fields restricted match either",
			expr:     "0 0 15 * 1",
			after:    time.Date(2024, 1, 9, 0, 0, 0, 0, loc), // Tuesday
			expected: time.Date(2024, 1, 15, 0, 0, 0, 0, loc),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cron, err := ParseCron(tt.expr)
			if err != nil {
				t.Fatalf("ParseCron() error = %v", err)
			}
			if got := cron.Next(tt.after, loc); !got.Equal(tt.expected) {
				t.Errorf("Next() = %v, expected %v", got, tt.expected)
			}
		})
	}
}

func TestCron_Next_Timezone(t *testing.T) {
	newYork, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("America/New_York timezone not available")
	}

	cron, err := ParseCron("0 9 * * *")
	if err != nil {
		t.Fatalf("ParseCron() error = %v", err)
	}

	next := cron.Next(time.Date(2024, 1, 1, 8, 0, 0, 0, newYork), newYork)
	if expected := time.Date(2024, 1, 1, 9, 0, 0, 0, newYork); !next.Equal(expected) {
		t.Errorf("Next() = %v, expected %v", next, expected)
	}
}

func TestCron_NeverMatches(t *testing.T) {
	cron, err := ParseCron("0 0 31 2 *")
	if err != nil {
		t.Fatalf("ParseCron() error = %v", err)
	}
	if got := cron.Next(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), nil); !got.IsZero() {
		t.Errorf("expected zero time for an impossible date, got %v", got)
	}
}

func TestCron_Matches(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		time    time.Time
		matches bool
	}{
		{"exact match", "30 9 15 1 *", time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC), true},
		{"minute mismatch", "30 9 15 1 *", time.Date(2024, 1, 15, 9, 31, 0, 0, time.UTC), false},
		{"hour mismatch", "30 9 15 1 *", time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC), false},
		{"monday", "0 0 * * 1", time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC), true},
		{"tuesday", "0 0 * * 1", time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC), false},
		{"sunday as 7", "0 0 * * 7", time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cron, err := ParseCron(tt.expr)
			if err != nil {
				t.Fatalf("ParseCron() error = %v", err)
			}
			if got := cron.Matches(tt.time); got != tt.matches {
				t.Errorf("Matches() = %v, want %v", got, tt.matches)
			}
		})
	}
}

func TestCron_Cadence(t *testing.T) {
	tests := []struct {
		expr   string
		want   partition.Granularity
		wantOK bool
	}{
		{"0 0 5 * *", partition.Monthly, true},
		{"0 0 * * 1", partition.Weekly, true},
		{"0 0 * * *", "", false},
		{"0 0 1 */3 *", "", false},
		{"0 0 1,15 * *", "", false},
		{"0 0 15 * 1", "", false},
		{"*/5 * * * *", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			cron, err := ParseCron(tt.expr)
			if err != nil {
				t.Fatalf("ParseCron() error = %v", err)
			}
			got, ok := cron.Cadence()
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("Cadence() = %q, %v; want %q, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestParseField(t *testing.T) {
	tests := []struct {
		name    string
		field   string
		min     int
		max     int
		want    []int
		wantErr bool
	}{
		{"wildcard", "*", 0, 5, []int{0, 1, 2, 3, 4, 5}, false},
		{"single value", "5", 0, 59, []int{5}, false},
		{"range", "1-5", 0, 10, []int{1, 2, 3, 4, 5}, false},
		{"step from start", "*/15", 0, 59, []int{0, 15, 30, 45}, false},
		{"step in range", "0-30/10", 0, 59, []int{0, 10, 20, 30}, false},
		{"step from value", "50/5", 0, 59, []int{50, 55}, false},
		{"list with range", "1,3-4,9", 0, 10, []int{1, 3, 4, 9}, false},
		{"unsorted list", "5,1,5", 0, 10, []int{1, 5}, false},
		{"value out of range", "60", 0, 59, nil, true},
		{"invalid range", "10-5", 0, 59, nil, true},
		{"step base out of range", "70/5", 0, 59, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseField(tt.field, tt.min, tt.max)
			if (err != nil) != tt.wantErr {
				t.Errorf("parseField() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && !slices.Equal(got, tt.want) {
				t.Errorf("parseField() = %v, want %v", got, tt.want)
			}
		})
	}
}
