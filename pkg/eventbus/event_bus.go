// Package eventbus provides event-driven communication infrastructure for
// workflow orchestration. Processes that only emit take EventPublisher;
// the worker consumes through the full EventBus.
package eventbus

import (
	"context"

	"github.com/orchid-run/orchid/pkg/events"
)

// Event is any payload that knows its type tag.
type Event interface {
	GetType() events.EventType
}

// EventPublisher emits events keyed by a routing key (the run ID).
type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

// EventSubscriber dispatches consumed events to per-type handlers. Handlers
// are registered with Handle before Subscribe starts the consume loop.
type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

// EventHandler processes one event; a non-nil error nacks the message.
type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
