// Package events provides the in-process event bus the bounded contexts use
// to talk to each other without importing one another.
// This is part of the platform layer and contains no business logic.
package events

import (
	"context"
	"time"
)

// Event is implemented by every domain event carried on the bus.
type Event interface {
	// EventName identifies the event type; subscriptions key on it.
	EventName() string
	// OccurredAt reports when the event happened.
	OccurredAt() time.Time
}

// BaseEvent carries the timestamp shared by all events. Embed it and add
// the event's own payload fields.
type BaseEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// NewBaseEvent stamps a base event with the current time.
func NewBaseEvent() BaseEvent {
	return BaseEvent{Timestamp: time.Now()}
}

// Handler consumes events of one type.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a plain function into a Handler.
type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Bus publishes domain events to subscribed handlers.
type Bus interface {
	// Publish fans the event out to its handlers asynchronously.
	Publish(ctx context.Context, event Event)

	// PublishSync runs the handlers inline and returns the first error.
	PublishSync(ctx context.Context, event Event) error

	// Subscribe registers a handler under the name the event reports
	// from EventName.
	Subscribe(eventName string, handler Handler)
}
