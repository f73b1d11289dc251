// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"

	"github.com/tomtom215/taxiflow/internal/logging"
)

// Topic carries one Event per (asset, partition) outcome.
const Topic = "asset.materializations"

// Event is the payload published for every outcome.
type Event struct {
	RunID     string    `json:"run_id"`
	Job       string    `json:"job"`
	Asset     string    `json:"asset"`
	Partition string    `json:"partition,omitempty"`
	Status    Status    `json:"status"`
	Rows      int64     `json:"rows,omitempty"`
	Path      string    `json:"path,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// NewEventBus creates the in-process pub/sub used for materialization
// events. Messages published while nobody subscribes are dropped.
func NewEventBus(bufferSize int64) *gochannel.GoChannel {
	return gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: bufferSize},
		logging.NewWatermillLogger("eventbus"),
	)
}

// newEventMessage encodes e as a watermill message.
func newEventMessage(e Event) (*message.Message, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("run_id", e.RunID)
	msg.Metadata.Set("asset", e.Asset)
	msg.Metadata.Set("status", string(e.Status))
	return msg, nil
}

// DecodeEvent decodes a message published on Topic.
func DecodeEvent(msg *message.Message) (Event, error) {
	var e Event
	if err := json.Unmarshal(msg.Payload, &e); err != nil {
		return Event{}, fmt.Errorf("failed to decode event %s: %w", msg.UUID, err)
	}
	return e, nil
}

// EventLog keeps the most recent events received from the bus.
type EventLog struct {
	mu     sync.RWMutex
	events []Event
	next   int
	full   bool
}

// NewEventLog creates a log retaining up to size events.
func NewEventLog(size int) *EventLog {
	if size < 1 {
		size = 1
	}
	return &EventLog{events: make([]Event, size)}
}

// Consume subscribes to Topic and records events until ctx is cancelled or
// the subscription closes.
func (l *EventLog) Consume(ctx context.Context, sub message.Subscriber) error {
	messages, err := sub.Subscribe(ctx, Topic)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", Topic, err)
	}
	logger := logging.WithComponent("event-log")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return errors.New("event subscription closed")
			}
			e, err := DecodeEvent(msg)
			if err != nil {
				logger.Warn().Err(err).Msg("Dropping undecodable event")
			} else {
				l.Add(e)
			}
			msg.Ack()
		}
	}
}

// Add appends e, evicting the oldest event when full.
func (l *EventLog) Add(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events[l.next] = e
	l.next = (l.next + 1) % len(l.events)
	if l.next == 0 {
		l.full = true
	}
}

// Recent returns up to n events, newest first. n <= 0 returns all.
func (l *EventLog) Recent(n int) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	count := l.next
	if l.full {
		count = len(l.events)
	}
	if n <= 0 || n > count {
		n = count
	}
	out := make([]Event, 0, n)
	for i := 1; i <= n; i++ {
		idx := (l.next - i + len(l.events)) % len(l.events)
		out = append(out, l.events[idx])
	}
	return out
}
