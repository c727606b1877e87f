// Package file provides file-based persistence for workflows and runs.
package file

import (
	"context"
	"os"
	"strings"

	"github.com/weftd/weft/pkg/model"
	"github.com/weftd/weft/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface on the file
// system. Each workflow and run is one pretty-printed JSON document.
type Persistence struct {
	root         string
	workflowRepo *WorkflowRepository
	runRepo      *RunRepository
}

// NewPersistence creates a new instance rooted at the given directory. A
// "file://" prefix is accepted and stripped.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:         cleanRoot,
		workflowRepo: NewWorkflowRepository(cleanRoot),
		runRepo:      NewRunRepository(cleanRoot),
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) Workflows(ctx context.Context) ([]*model.Workflow, error) {
	return fp.workflowRepo.GetAll(ctx)
}

func (fp *Persistence) WorkflowByID(ctx context.Context, id string) (*model.Workflow, error) {
	return fp.workflowRepo.GetByID(ctx, id)
}

func (fp *Persistence) SaveWorkflow(ctx context.Context, workflow *model.Workflow) error {
	return fp.workflowRepo.Save(ctx, workflow)
}

func (fp *Persistence) DeleteWorkflow(ctx context.Context, id string) error {
	return fp.workflowRepo.Delete(ctx, id)
}

func (fp *Persistence) PublishWorkflow(ctx context.Context, id string) error {
	return fp.workflowRepo.Publish(ctx, id)
}

func (fp *Persistence) Runs(ctx context.Context, workflowID string) ([]*model.WorkflowRun, error) {
	return fp.runRepo.GetByWorkflow(ctx, workflowID)
}

func (fp *Persistence) RunByID(ctx context.Context, id string) (*model.WorkflowRun, error) {
	return fp.runRepo.GetByID(ctx, id)
}

func (fp *Persistence) SaveRun(ctx context.Context, run *model.WorkflowRun) error {
	return fp.runRepo.Save(ctx, run)
}

var _ persistence.Persistence = (*Persistence)(nil)
