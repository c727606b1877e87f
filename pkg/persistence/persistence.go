// Package persistence provides the storage abstraction for workflow
// definitions and run records.
package persistence

import (
	"context"

	"github.com/weftd/weft/pkg/model"
)

type Persistence interface {
	Workflows(ctx context.Context) ([]*model.Workflow, error)
	WorkflowByID(ctx context.Context, id string) (*model.Workflow, error)
	SaveWorkflow(ctx context.Context, workflow *model.Workflow) error
	DeleteWorkflow(ctx context.Context, id string) error
	PublishWorkflow(ctx context.Context, id string) error

	Runs(ctx context.Context, workflowID string) ([]*model.WorkflowRun, error)
	RunByID(ctx context.Context, id string) (*model.WorkflowRun, error)
	SaveRun(ctx context.Context, run *model.WorkflowRun) error

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
