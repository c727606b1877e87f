package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftd/weft/pkg/cmd"
	"github.com/weftd/weft/pkg/dsl"
	"github.com/weftd/weft/pkg/engine"
	"github.com/weftd/weft/pkg/eventbus"
	"github.com/weftd/weft/pkg/events"
	"github.com/weftd/weft/pkg/model"
	filepersistence "github.com/weftd/weft/pkg/persistence/file"
	"github.com/weftd/weft/pkg/secrets"
)

type stubEventBus struct {
	mu        sync.Mutex
	published []events.Event
}

func (b *stubEventBus) Publish(_ context.Context, _ string, event events.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.published = append(b.published, event)

	return nil
}

func (b *stubEventBus) Subscribe(_ context.Context, _ string, _ eventbus.EventHandler) error {
	return nil
}

func (b *stubEventBus) Close() error { return nil }

func (b *stubEventBus) GenerateID() string { return "test" }

func (b *stubEventBus) types() []events.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]events.EventType, 0, len(b.published))
	for _, e := range b.published {
		out = append(out, e.GetType())
	}

	return out
}

func setupWorker(t *testing.T) (*WorkerManager, *filepersistence.Persistence, *stubEventBus) {
	t.Helper()

	logger := slog.Default()
	p := filepersistence.NewPersistence(t.TempDir())
	bus := &stubEventBus{}

	w := NewWorkerManager(
		WorkerConfig{ID: "test-worker"},
		p,
		bus,
		logger,
		cmd.NewRegistry(logger),
		secrets.NewMemoryStore(),
	)

	return w, p, bus
}

func seedWorkflow(t *testing.T, w *WorkerManager, id string, status model.WorkflowStatus) {
	t.Helper()

	def, err := dsl.ParseDefinition([]byte(`{
		"nodes": [
			{"id": "1", "type": "action", "data": {"type": "core.transform", "title": "Emit", "args": {"value": 42}}},
			{"id": "2", "type": "action", "data": {"type": "core.transform", "title": "Relay", "args": {"value": "${{ ACTIONS.emit.result }}"}}}
		],
		"edges": [
			{"id": "e1", "source": "1", "target": "2"}
		]
	}`))
	require.NoError(t, err)

	require.NoError(t, w.persistence.SaveWorkflow(context.Background(), &model.Workflow{
		ID:         id,
		Name:       "Worker test workflow",
		Status:     status,
		Definition: *def,
	}))
}

func TestHandleRunTriggered_ExecutesAndPersists(t *testing.T) {
	w, p, bus := setupWorker(t)
	seedWorkflow(t, w, "wf-1", model.WorkflowStatusPublished)

	err := w.handleRunTriggered(context.Background(), &events.RunTriggered{
		BaseEvent:   events.NewBaseEvent(events.RunTriggeredEvent, "wf-1"),
		RunID:       "run-1",
		TriggeredBy: "test",
	})
	require.NoError(t, err)

	run, err := p.RunByID(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusSuccess, run.Status)
	assert.Equal(t, engine.StatusSuccess, run.Statuses["emit"])
	assert.Equal(t, engine.StatusSuccess, run.Statuses["relay"])
	require.NotNil(t, run.FinishedAt)

	// JSON round-trip through file persistence turns ints into float64.
	raw, err := json.Marshal(run.Results["relay"])
	require.NoError(t, err)
	assert.Equal(t, "42", string(raw))

	// The linear chain finishes both nodes, each reported on the lifecycle
	// topic before the terminal outcome.
	assert.Equal(t,
		[]events.EventType{
			events.RunStartedEvent,
			events.ActionFinishedEvent,
			events.ActionFinishedEvent,
			events.RunCompletedEvent,
		},
		bus.types())
}

func TestHandleRunTriggered_CanceledContextPublishesRunCanceled(t *testing.T) {
	w, p, bus := setupWorker(t)
	seedWorkflow(t, w, "wf-cancel", model.WorkflowStatusPublished)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.handleRunTriggered(ctx, &events.RunTriggered{
		BaseEvent:   events.NewBaseEvent(events.RunTriggeredEvent, "wf-cancel"),
		RunID:       "run-canceled",
		TriggeredBy: "test",
	})
	require.NoError(t, err)

	run, err := p.RunByID(context.Background(), "run-canceled")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusCanceled, run.Status)

	types := bus.types()
	require.NotEmpty(t, types)
	assert.Equal(t, events.RunStartedEvent, types[0])
	assert.Equal(t, events.RunCanceledEvent, types[len(types)-1])
	assert.NotContains(t, types, events.RunCompletedEvent)
	assert.NotContains(t, types, events.RunFailedEvent)
}

func TestHandleRunTriggered_DropsUnpublishedWorkflow(t *testing.T) {
	w, p, bus := setupWorker(t)
	seedWorkflow(t, w, "wf-draft", model.WorkflowStatusDraft)

	err := w.handleRunTriggered(context.Background(), &events.RunTriggered{
		BaseEvent: events.NewBaseEvent(events.RunTriggeredEvent, "wf-draft"),
		RunID:     "run-2",
	})
	require.NoError(t, err)

	_, err = p.RunByID(context.Background(), "run-2")
	require.Error(t, err)
	assert.Empty(t, bus.types())
}

func TestHandleRunTriggered_UnknownWorkflowIsAcked(t *testing.T) {
	w, _, bus := setupWorker(t)

	err := w.handleRunTriggered(context.Background(), &events.RunTriggered{
		BaseEvent: events.NewBaseEvent(events.RunTriggeredEvent, "wf-ghost"),
		RunID:     "run-3",
	})
	require.NoError(t, err)
	assert.Empty(t, bus.types())
}
