package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"leadhub_backend/platform/logger"
)

// handlerTimeout bounds how long an async handler may run after the
// publishing request has already returned.
const handlerTimeout = 30 * time.Second

// InMemoryBus is a process-local Bus implementation. Async handlers run on
// their own goroutine with a detached context so a cancelled HTTP request
// does not abort side effects that were already committed.
type InMemoryBus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	log      *logger.Logger
}

// NewInMemoryBus creates a new in-memory event bus.
func NewInMemoryBus(log *logger.Logger) *InMemoryBus {
	return &InMemoryBus{
		handlers: make(map[string][]Handler),
		log:      log,
	}
}

// Subscribe registers a handler for the given event name.
func (b *InMemoryBus) Subscribe(eventName string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventName] = append(b.handlers[eventName], handler)
}

// Publish dispatches the event to all handlers asynchronously.
// Handler failures are logged, never propagated to the publisher.
func (b *InMemoryBus) Publish(_ context.Context, event Event) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[event.EventName()]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		go func(h Handler) {
			defer func() {
				if r := recover(); r != nil {
					b.log.Error("event handler panicked",
						"event", event.EventName(), "panic", fmt.Sprint(r))
				}
			}()

			ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
			defer cancel()

			if err := h.Handle(ctx, event); err != nil {
				b.log.Error("event handler failed",
					"event", event.EventName(), "error", err)
			}
		}(h)
	}
}

// PublishSync dispatches the event and waits for every handler.
// The first handler error is returned.
func (b *InMemoryBus) PublishSync(ctx context.Context, event Event) error {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[event.EventName()]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h.Handle(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

var _ Bus = (*InMemoryBus)(nil)
