// Package eventbus bridges lifecycle events onto watermill publishers and
// subscribers.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/weftd/weft/pkg/events"
)

type EventPublisher interface {
	Publish(ctx context.Context, topic string, event events.Event) error
}

type EventSubscriber interface {
	Subscribe(ctx context.Context, topic string, handler EventHandler) error
}

type EventHandler func(ctx context.Context, event events.Event) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}

// WatermillEventBus carries JSON-encoded lifecycle events over any watermill
// publisher/subscriber pair. The concrete event type travels in message
// metadata so subscribers can decode without sniffing payloads.
type WatermillEventBus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
}

func NewWatermillEventBus(pub message.Publisher, sub message.Subscriber) *WatermillEventBus {
	return &WatermillEventBus{
		publisher:  pub,
		subscriber: sub,
	}
}

func (eb *WatermillEventBus) GenerateID() string {
	return watermill.NewULID()
}

func (eb *WatermillEventBus) Publish(_ context.Context, topic string, event events.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", event.GetType(), err)
	}

	msg := message.NewMessage("msg-"+eb.GenerateID(), payload)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))

	return eb.publisher.Publish(topic, msg)
}

func (eb *WatermillEventBus) Subscribe(ctx context.Context, topic string, handler EventHandler) error {
	messages, err := eb.subscriber.Subscribe(ctx, topic)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	go func() {
		for msg := range messages {
			event := newEvent(events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey)))
			if event == nil {
				msg.Nack()

				continue
			}

			if err := json.Unmarshal(msg.Payload, event); err != nil {
				msg.Nack()

				continue
			}

			if err := handler(ctx, event.(events.Event)); err != nil {
				msg.Nack()

				continue
			}

			msg.Ack()
		}
	}()

	return nil
}

func (eb *WatermillEventBus) Close() error {
	if err := eb.publisher.Close(); err != nil {
		return err
	}

	return eb.subscriber.Close()
}

// newEvent returns a zero value of the concrete event for an event type, or
// nil for unknown types.
func newEvent(eventType events.EventType) any {
	switch eventType {
	case events.RunTriggeredEvent:
		return &events.RunTriggered{}
	case events.RunStartedEvent:
		return &events.RunStarted{}
	case events.RunCompletedEvent:
		return &events.RunCompleted{}
	case events.RunFailedEvent:
		return &events.RunFailed{}
	case events.RunCanceledEvent:
		return &events.RunCanceled{}
	case events.ActionFinishedEvent:
		return &events.ActionFinished{}
	case events.ActionFailedEvent:
		return &events.ActionFailed{}
	default:
		return nil
	}
}
