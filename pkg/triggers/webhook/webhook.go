// Package webhook resolves incoming webhook requests to published workflows
// and hands them off as run-triggered events.
package webhook

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/weftd/weft/pkg/eventbus"
	"github.com/weftd/weft/pkg/events"
	"github.com/weftd/weft/pkg/model"
	"github.com/weftd/weft/pkg/persistence"
)

// Metadata keys a workflow sets to expose a webhook endpoint.
const (
	MetadataPath   = "webhook_path"
	MetadataSecret = "webhook_secret"
)

var (
	ErrUnknownPath   = errors.New("no published workflow for webhook path")
	ErrInvalidSecret = errors.New("invalid webhook secret")
)

// Trigger matches POST /hooks/:path requests to published workflows and
// publishes run-triggered events for workers to pick up.
type Trigger struct {
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
}

func NewTrigger(p persistence.Persistence, publisher eventbus.EventPublisher, logger *slog.Logger) *Trigger {
	return &Trigger{
		persistence: p,
		publisher:   publisher,
		logger:      logger.With("module", "webhook_trigger"),
	}
}

// Resolve finds the published workflow listening on a webhook path and
// verifies the shared secret. Secret comparison is constant time.
func (t *Trigger) Resolve(ctx context.Context, path, secret string) (*model.Workflow, error) {
	workflows, err := t.persistence.Workflows(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	for _, wf := range workflows {
		if !wf.Executable() {
			continue
		}

		wfPath, ok := wf.Metadata[MetadataPath].(string)
		if !ok || wfPath != path {
			continue
		}

		wfSecret, _ := wf.Metadata[MetadataSecret].(string)
		if subtle.ConstantTimeCompare([]byte(wfSecret), []byte(secret)) != 1 {
			return nil, ErrInvalidSecret
		}

		return wf, nil
	}

	return nil, ErrUnknownPath
}

// Fire resolves the path and publishes a run-triggered event carrying the
// request payload. Returns the new run ID.
func (t *Trigger) Fire(ctx context.Context, path, secret string, payload map[string]any) (string, error) {
	workflow, err := t.Resolve(ctx, path, secret)
	if err != nil {
		return "", err
	}

	runID := uuid.New().String()

	event := events.RunTriggered{
		BaseEvent:   events.NewBaseEvent(events.RunTriggeredEvent, workflow.ID),
		RunID:       runID,
		TriggeredBy: "webhook:" + path,
		TriggerData: payload,
	}

	if err := t.publisher.Publish(ctx, events.RunTopic, event); err != nil {
		return "", fmt.Errorf("failed to publish run-triggered event: %w", err)
	}

	t.logger.InfoContext(ctx, "Webhook fired",
		"path", path, "workflow_id", workflow.ID, "run_id", runID)

	return runID, nil
}
