// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

package services

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
)

// EventConsumer drains materialization events from a subscriber.
// *engine.EventLog implements it.
type EventConsumer interface {
	Consume(ctx context.Context, sub message.Subscriber) error
}

// EventConsumerService keeps an EventConsumer subscribed. Consume returns
// when the subscription closes, and suture resubscribes.
type EventConsumerService struct {
	consumer   EventConsumer
	subscriber message.Subscriber
	name       string
}

// NewEventConsumerService wraps consumer reading from sub.
func NewEventConsumerService(consumer EventConsumer, sub message.Subscriber) *EventConsumerService {
	return &EventConsumerService{
		consumer:   consumer,
		subscriber: sub,
		name:       "event-consumer",
	}
}

// Serve implements suture.Service.
func (s *EventConsumerService) Serve(ctx context.Context) error {
	return s.consumer.Consume(ctx, s.subscriber)
}

// String implements fmt.Stringer for supervisor logs.
func (s *EventConsumerService) String() string {
	return s.name
}
