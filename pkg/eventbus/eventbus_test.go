package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftd/weft/pkg/channels/gochannel"
	"github.com/weftd/weft/pkg/events"
)

func TestPublishSubscribeRoundTrip(t *testing.T) {
	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := NewWatermillEventBus(pub, sub)
	defer func() { _ = bus.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan events.Event, 1)

	err = bus.Subscribe(ctx, events.RunTopic, func(_ context.Context, event events.Event) error {
		received <- event

		return nil
	})
	require.NoError(t, err)

	triggered := events.RunTriggered{
		BaseEvent:   events.NewBaseEvent(events.RunTriggeredEvent, "wf-1"),
		RunID:       "run-1",
		TriggeredBy: "webhook",
		TriggerData: map[string]any{"order_id": "o-9"},
	}

	require.NoError(t, bus.Publish(ctx, events.RunTopic, triggered))

	select {
	case event := <-received:
		got, ok := event.(*events.RunTriggered)
		require.True(t, ok, "expected *events.RunTriggered, got %T", event)
		assert.Equal(t, "run-1", got.RunID)
		assert.Equal(t, "wf-1", got.WorkflowID)
		assert.Equal(t, "o-9", got.TriggerData["order_id"])
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}
}

func TestSubscribeDropsUnknownEventTypes(t *testing.T) {
	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := NewWatermillEventBus(pub, sub)
	defer func() { _ = bus.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	received := make(chan events.Event, 1)

	err = bus.Subscribe(ctx, events.LifecycleTopic, func(_ context.Context, event events.Event) error {
		received <- event

		return nil
	})
	require.NoError(t, err)

	// A well-formed event still arrives after unknown ones are nacked.
	completed := events.RunCompleted{
		BaseEvent: events.NewBaseEvent(events.RunCompletedEvent, "wf-1"),
		RunID:     "run-1",
	}
	require.NoError(t, bus.Publish(ctx, events.LifecycleTopic, completed))

	select {
	case event := <-received:
		assert.Equal(t, events.RunCompletedEvent, event.GetType())
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}
}
