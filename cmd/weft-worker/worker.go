package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.temporal.io/sdk/client"

	"github.com/weftd/weft/pkg/dsl"
	"github.com/weftd/weft/pkg/durable"
	"github.com/weftd/weft/pkg/engine"
	"github.com/weftd/weft/pkg/eventbus"
	"github.com/weftd/weft/pkg/events"
	"github.com/weftd/weft/pkg/model"
	"github.com/weftd/weft/pkg/persistence"
	"github.com/weftd/weft/pkg/runner"
	"github.com/weftd/weft/pkg/secrets"
	"github.com/weftd/weft/pkg/tracing"
	"github.com/weftd/weft/pkg/triggers/schedule"
)

// WorkerConfig selects how this worker executes runs.
type WorkerConfig struct {
	ID              string
	Schedules       bool
	Durable         bool
	TemporalAddress string
}

// WorkerManager consumes run-triggered events and drives each run to
// completion, either with the in-process scheduler or by handing off to
// Temporal.
type WorkerManager struct {
	config      WorkerConfig
	logger      *slog.Logger
	persistence persistence.Persistence
	registry    *runner.Registry
	secrets     secrets.Getter
	eventBus    eventbus.EventBus
	tracer      trace.Tracer

	temporal client.Client
}

func NewWorkerManager(
	config WorkerConfig,
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
	logger *slog.Logger,
	registry *runner.Registry,
	secretStore secrets.Getter,
) *WorkerManager {
	return &WorkerManager{
		config:      config,
		logger:      logger.With("module", "weft-worker"),
		persistence: persistence,
		registry:    registry,
		secrets:     secretStore,
		eventBus:    eventBus,
		tracer:      otel.Tracer("github.com/weftd/weft/cmd/weft-worker"),
	}
}

func (w *WorkerManager) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker manager")

	if w.config.Durable {
		c, err := client.Dial(client.Options{HostPort: w.config.TemporalAddress})
		if err != nil {
			return fmt.Errorf("failed to connect to Temporal: %w", err)
		}
		defer c.Close()

		w.temporal = c

		activities := durable.NewActivities(w.registry, w.secrets, w.logger)

		temporalWorker := durable.RegisterWorker(c, activities)
		if err := temporalWorker.Start(); err != nil {
			return fmt.Errorf("failed to start Temporal worker: %w", err)
		}
		defer temporalWorker.Stop()
	}

	if err := w.eventBus.Subscribe(ctx, events.RunTopic, w.handleRunTriggered); err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to run topic", "error", err)

		return err
	}

	if w.config.Schedules {
		schedules := schedule.NewTrigger(w.persistence, w.eventBus, w.logger)

		count, err := schedules.Reconfigure(ctx)
		if err != nil {
			return fmt.Errorf("failed to configure schedule triggers: %w", err)
		}

		w.logger.InfoContext(ctx, "Schedule triggers configured", "count", count)

		schedules.Start(ctx)
		defer schedules.Stop(ctx)
	}

	w.logger.InfoContext(ctx, "Worker started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	w.logger.InfoContext(ctx, "Shutting down worker...")

	return nil
}

// handleRunTriggered executes one run end to end. Unprocessable events are
// acked after logging: retrying a workflow that does not compile cannot
// succeed.
func (w *WorkerManager) handleRunTriggered(ctx context.Context, event events.Event) error {
	triggered, ok := event.(*events.RunTriggered)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type on run topic", "type", event.GetType())

		return nil
	}

	ctx, span := tracing.StartSpan(ctx, w.tracer, "worker.run",
		attribute.String(tracing.WorkflowIDKey, triggered.WorkflowID),
		attribute.String(tracing.RunIDKey, triggered.RunID),
		attribute.String(tracing.WorkerIDKey, w.config.ID),
	)
	defer span.End()

	logger := w.logger.With(
		"workflow_id", triggered.WorkflowID,
		"run_id", triggered.RunID,
	)
	logger.InfoContext(ctx, "Processing run triggered event", "triggered_by", triggered.TriggeredBy)

	workflow, err := w.persistence.WorkflowByID(ctx, triggered.WorkflowID)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to load workflow", "error", err)

		return nil
	}

	if !workflow.Executable() {
		logger.WarnContext(ctx, "Workflow is not published, dropping run")

		return nil
	}

	plan, err := compilePlan(workflow)
	if err != nil {
		logger.ErrorContext(ctx, "Workflow definition does not compile", "error", err)

		return nil
	}

	run := &model.WorkflowRun{
		ID:          triggered.RunID,
		WorkflowID:  workflow.ID,
		Status:      engine.StatusRunning,
		TriggeredBy: triggered.TriggeredBy,
		Inputs:      triggered.TriggerData,
		StartedAt:   time.Now().UTC(),
	}

	if err := w.persistence.SaveRun(ctx, run); err != nil {
		logger.ErrorContext(ctx, "Failed to save run", "error", err)

		return err
	}

	w.publishLifecycle(ctx, events.RunStarted{
		BaseEvent: events.NewBaseEvent(events.RunStartedEvent, workflow.ID),
		RunID:     run.ID,
	})

	report, err := w.execute(ctx, workflow.ID, run.ID, plan, workflow.Variables, triggered.TriggerData)
	if err != nil {
		logger.ErrorContext(ctx, "Run execution failed", "error", err)

		run.Status = engine.StatusFailure
		now := time.Now().UTC()
		run.FinishedAt = &now
		run.Errors = map[string]string{"run": err.Error()}
	} else {
		run.ApplyReport(report)
	}

	if err := w.persistence.SaveRun(ctx, run); err != nil {
		logger.ErrorContext(ctx, "Failed to save finished run", "error", err)

		return err
	}

	w.publishOutcome(ctx, run)

	logger.InfoContext(ctx, "Run finished", "status", run.Status)

	return nil
}

// execute drives a compiled plan through the configured executor and
// normalizes the outcome into a scheduler report.
func (w *WorkerManager) execute(
	ctx context.Context,
	workflowID, runID string,
	plan *dsl.ActionPlan,
	inputs, trigger map[string]any,
) (*engine.Report, error) {
	if !w.config.Durable {
		scheduler := engine.NewScheduler(w.registry, w.secrets, w.logger)
		scheduler.OnAction = w.actionHook(workflowID, runID)

		return scheduler.Run(ctx, runID, plan, inputs, trigger)
	}

	handle, err := durable.StartRun(ctx, w.temporal, durable.RunInput{
		RunID:   runID,
		Plan:    plan,
		Inputs:  inputs,
		Trigger: trigger,
	})
	if err != nil {
		return nil, err
	}

	var report durable.RunReport
	if err := handle.Get(ctx, &report); err != nil {
		return nil, err
	}

	results := make(map[string]runner.Result, len(report.Results))
	for ref, output := range report.Results {
		results[ref] = runner.Result{Output: output, ShouldContinue: true}
	}

	return &engine.Report{
		RunID:    report.RunID,
		Status:   report.Status,
		Statuses: report.Statuses,
		Results:  results,
		Errors:   report.Errors,
	}, nil
}

// actionHook streams per-action outcomes onto the lifecycle topic while a
// run is in flight.
func (w *WorkerManager) actionHook(workflowID, runID string) engine.ActionHook {
	return func(ctx context.Context, ref string, res *runner.Result, duration time.Duration, err error) {
		if err != nil {
			w.publishLifecycle(ctx, events.ActionFailed{
				BaseEvent:  events.NewBaseEvent(events.ActionFailedEvent, workflowID),
				RunID:      runID,
				Ref:        ref,
				Error:      err.Error(),
				DurationMs: duration.Milliseconds(),
			})

			return
		}

		w.publishLifecycle(ctx, events.ActionFinished{
			BaseEvent:  events.NewBaseEvent(events.ActionFinishedEvent, workflowID),
			RunID:      runID,
			Ref:        ref,
			Output:     res.Output,
			DurationMs: duration.Milliseconds(),
		})
	}
}

func (w *WorkerManager) publishOutcome(ctx context.Context, run *model.WorkflowRun) {
	duration := int64(0)
	if run.FinishedAt != nil {
		duration = run.FinishedAt.Sub(run.StartedAt).Milliseconds()
	}

	switch run.Status {
	case engine.StatusCanceled:
		w.publishLifecycle(ctx, events.RunCanceled{
			BaseEvent:  events.NewBaseEvent(events.RunCanceledEvent, run.WorkflowID),
			RunID:      run.ID,
			DurationMs: duration,
			Reason:     "execution canceled",
		})

		return
	case engine.StatusFailure:
		w.publishLifecycle(ctx, events.RunFailed{
			BaseEvent:  events.NewBaseEvent(events.RunFailedEvent, run.WorkflowID),
			RunID:      run.ID,
			DurationMs: duration,
			Errors:     run.Errors,
		})

		return
	}

	w.publishLifecycle(ctx, events.RunCompleted{
		BaseEvent:       events.NewBaseEvent(events.RunCompletedEvent, run.WorkflowID),
		RunID:           run.ID,
		DurationMs:      duration,
		ActionsExecuted: len(run.Statuses),
		Results:         run.Results,
	})
}

func (w *WorkerManager) publishLifecycle(ctx context.Context, event events.Event) {
	if err := w.eventBus.Publish(ctx, events.LifecycleTopic, event); err != nil {
		w.logger.ErrorContext(ctx, "Failed to publish lifecycle event",
			"error", err, "event_type", event.GetType())
	}
}

func compilePlan(workflow *model.Workflow) (*dsl.ActionPlan, error) {
	g, err := workflow.Definition.Graph()
	if err != nil {
		return nil, err
	}

	return dsl.CompileActions(g)
}
