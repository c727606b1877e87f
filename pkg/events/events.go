// Package events defines the run lifecycle events exchanged between the API,
// the triggers and the workers.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Kafka topics.
const RunTopic = "weft.runs"         // run-triggered handoff to workers
const LifecycleTopic = "weft.events" // observability stream of run progress

const EventTypeMetadataKey = "event_type"

const (
	RunTriggeredEvent EventType = "run.triggered"

	RunStartedEvent   EventType = "run.started"
	RunCompletedEvent EventType = "run.completed"
	RunFailedEvent    EventType = "run.failed"
	RunCanceledEvent  EventType = "run.canceled"

	ActionFinishedEvent EventType = "action.finished"
	ActionFailedEvent   EventType = "action.failed"
)

// Event is implemented by every lifecycle event.
type Event interface {
	GetType() EventType
}

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id"`
	WorkerID   string         `json:"worker_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
		Metadata:   make(map[string]any),
	}
}

// RunTriggered asks a worker to start a run of a published workflow. The
// trigger payload is merged into the entrypoint's arguments.
type RunTriggered struct {
	BaseEvent

	RunID       string         `json:"run_id"`
	TriggeredBy string         `json:"triggered_by"`
	TriggerData map[string]any `json:"trigger_data,omitempty"`
}

func (e RunTriggered) GetType() EventType {
	return RunTriggeredEvent
}

type RunStarted struct {
	BaseEvent

	RunID string `json:"run_id"`
}

func (e RunStarted) GetType() EventType {
	return RunStartedEvent
}

type RunCompleted struct {
	BaseEvent

	RunID           string         `json:"run_id"`
	DurationMs      int64          `json:"duration_ms"`
	ActionsExecuted int            `json:"actions_executed"`
	Results         map[string]any `json:"results,omitempty"`
}

func (e RunCompleted) GetType() EventType {
	return RunCompletedEvent
}

type RunFailed struct {
	BaseEvent

	RunID      string            `json:"run_id"`
	DurationMs int64             `json:"duration_ms"`
	Errors     map[string]string `json:"errors"`
}

func (e RunFailed) GetType() EventType {
	return RunFailedEvent
}

type RunCanceled struct {
	BaseEvent

	RunID      string `json:"run_id"`
	DurationMs int64  `json:"duration_ms"`
	Reason     string `json:"reason,omitempty"`
}

func (e RunCanceled) GetType() EventType {
	return RunCanceledEvent
}

type ActionFinished struct {
	BaseEvent

	RunID      string `json:"run_id"`
	Ref        string `json:"ref"`
	Output     any    `json:"output,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

func (e ActionFinished) GetType() EventType {
	return ActionFinishedEvent
}

type ActionFailed struct {
	BaseEvent

	RunID      string `json:"run_id"`
	Ref        string `json:"ref"`
	Error      string `json:"error"`
	DurationMs int64  `json:"duration_ms"`
}

func (e ActionFailed) GetType() EventType {
	return ActionFailedEvent
}
