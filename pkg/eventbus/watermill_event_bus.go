package eventbus

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/orchid-run/orchid/pkg/events"
)

// constructors maps event types to their concrete payloads so subscribers
// receive typed pointers rather than raw maps.
var constructors = map[events.EventType]func() any{
	events.RunTriggeredEvent: func() any { return &events.RunTriggered{} },
	events.RunStartedEvent:   func() any { return &events.RunStarted{} },
	events.RunCompletedEvent: func() any { return &events.RunCompleted{} },
	events.RunFailedEvent:    func() any { return &events.RunFailed{} },
	events.RunCancelledEvent: func() any { return &events.RunCancelled{} },
	events.RunPausedEvent:    func() any { return &events.RunPaused{} },
	events.RunResumedEvent:   func() any { return &events.RunResumed{} },
	events.NodeStartedEvent:  func() any { return &events.NodeStarted{} },
	events.NodeFinishedEvent: func() any { return &events.NodeFinished{} },
	events.NodeFailedEvent:   func() any { return &events.NodeFailed{} },
}

// WatermillEventBus carries run lifecycle events over any watermill
// publisher/subscriber pair. Events without a registered handler are acked
// and dropped; handler errors nack so the channel can redeliver.
type WatermillEventBus struct {
	publisher  message.Publisher
	subscriber message.Subscriber

	mu            sync.RWMutex
	subscriptions map[events.EventType]EventHandler
}

func NewWatermillEventBus(pub message.Publisher, sub message.Subscriber) *WatermillEventBus {
	return &WatermillEventBus{
		publisher:     pub,
		subscriber:    sub,
		subscriptions: make(map[events.EventType]EventHandler),
	}
}

func (eb *WatermillEventBus) GenerateID() string {
	return watermill.NewULID()
}

// Publish serializes the event and keys the message by the given routing
// key, usually the run ID, so partitioned transports keep one run's events
// in order.
func (eb *WatermillEventBus) Publish(ctx context.Context, key string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage("msg-"+eb.GenerateID(), payload)
	msg.Metadata.Set(events.EventMetadataKey, key)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))

	return eb.publisher.Publish(events.Topic, msg)
}

// Handle registers the handler for an event type. Registration must happen
// before Subscribe.
func (eb *WatermillEventBus) Handle(eventType events.EventType, handler EventHandler) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscriptions[eventType] = handler

	return nil
}

// Subscribe starts consuming the event topic until ctx is cancelled.
func (eb *WatermillEventBus) Subscribe(ctx context.Context) error {
	messages, err := eb.subscriber.Subscribe(ctx, events.Topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			eb.dispatch(ctx, msg)
		}
	}()

	return nil
}

func (eb *WatermillEventBus) dispatch(ctx context.Context, msg *message.Message) {
	eventType := events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey))

	eb.mu.RLock()
	handler, exists := eb.subscriptions[eventType]
	eb.mu.RUnlock()

	if !exists {
		msg.Ack()

		return
	}

	construct, known := constructors[eventType]
	if !known {
		msg.Nack()

		return
	}

	event := construct()
	if err := json.Unmarshal(msg.Payload, event); err != nil {
		msg.Nack()

		return
	}

	if err := handler(ctx, event); err != nil {
		msg.Nack()

		return
	}

	msg.Ack()
}

func (eb *WatermillEventBus) Close() error {
	err := eb.publisher.Close()
	if err != nil {
		return err
	}

	return eb.subscriber.Close()
}
