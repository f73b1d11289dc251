// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

package partition

import (
	"errors"
	"fmt"
	"time"
)

// ErrKeyOutOfRange is returned when a key does not belong to a calendar.
var ErrKeyOutOfRange = errors.New("partition key outside calendar range")

// InvalidRangeError reports a calendar whose end does not come after its start.
type InvalidRangeError struct {
	Start time.Time
	End   time.Time
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid partition range: end %s is not after start %s",
		e.End.Format(dateLayout), e.Start.Format(dateLayout))
}
