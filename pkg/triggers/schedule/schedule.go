// Package schedule starts runs of published workflows on cron expressions.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/weftd/weft/pkg/eventbus"
	"github.com/weftd/weft/pkg/events"
	"github.com/weftd/weft/pkg/persistence"
)

// MetadataCron is the workflow metadata key holding the cron expression.
const MetadataCron = "schedule_cron"

// Trigger owns a cron runner with one entry per scheduled published
// workflow. Reconfigure rebuilds the entries from the current definitions.
type Trigger struct {
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	logger      *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	started bool
}

func NewTrigger(p persistence.Persistence, publisher eventbus.EventPublisher, logger *slog.Logger) *Trigger {
	return &Trigger{
		persistence: p,
		publisher:   publisher,
		logger:      logger.With("module", "schedule_trigger"),
		cron:        cron.New(),
	}
}

// Reconfigure replaces the cron entries with one per published workflow that
// carries a schedule. Returns the number of scheduled workflows.
func (t *Trigger) Reconfigure(ctx context.Context) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	workflows, err := t.persistence.Workflows(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list workflows: %w", err)
	}

	wasStarted := t.started
	if wasStarted {
		t.cron.Stop()
	}

	t.cron = cron.New()
	scheduled := 0

	for _, wf := range workflows {
		if !wf.Executable() {
			continue
		}

		expr, ok := wf.Metadata[MetadataCron].(string)
		if !ok || expr == "" {
			continue
		}

		workflowID := wf.ID

		_, err := t.cron.AddFunc(expr, func() {
			t.fire(context.Background(), workflowID, expr)
		})
		if err != nil {
			t.logger.WarnContext(ctx, "Skipping workflow with invalid cron expression",
				"workflow_id", workflowID, "expression", expr, "error", err)

			continue
		}

		scheduled++
	}

	if wasStarted {
		t.cron.Start()
	}

	t.logger.InfoContext(ctx, "Schedule trigger configured", "scheduled", scheduled)

	return scheduled, nil
}

// Start begins firing scheduled runs.
func (t *Trigger) Start(_ context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started {
		return
	}

	t.cron.Start()
	t.started = true
}

// Stop halts the cron runner and waits for in-flight jobs.
func (t *Trigger) Stop(_ context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.started {
		return
	}

	<-t.cron.Stop().Done()
	t.started = false
}

func (t *Trigger) fire(ctx context.Context, workflowID, expr string) {
	runID := uuid.New().String()

	event := events.RunTriggered{
		BaseEvent:   events.NewBaseEvent(events.RunTriggeredEvent, workflowID),
		RunID:       runID,
		TriggeredBy: "schedule:" + expr,
	}

	if err := t.publisher.Publish(ctx, events.RunTopic, event); err != nil {
		t.logger.ErrorContext(ctx, "Failed to publish scheduled run",
			"workflow_id", workflowID, "error", err)

		return
	}

	t.logger.InfoContext(ctx, "Scheduled run fired", "workflow_id", workflowID, "run_id", runID)
}
