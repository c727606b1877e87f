package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/weftd/weft/pkg/model"
	"github.com/weftd/weft/pkg/persistence"
)

// WorkflowRepository handles workflow-related file operations.
type WorkflowRepository struct {
	root string
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(root string) *WorkflowRepository {
	return &WorkflowRepository{root: root}
}

// GetAll returns every stored workflow, newest first. Soft-deleted entries
// are skipped.
func (wr *WorkflowRepository) GetAll(ctx context.Context) ([]*model.Workflow, error) {
	dir := path.Join(wr.root, "workflows")

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return []*model.Workflow{}, nil
	}

	jsonFiles, err := fs.Glob(os.DirFS(dir), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow files: %w", err)
	}

	workflows := make([]*model.Workflow, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		workflowID := file[:len(file)-5] // strip .json

		workflow, err := wr.GetByID(ctx, workflowID)
		if err != nil {
			if persistence.IsWorkflowNotFound(err) {
				continue
			}

			return nil, fmt.Errorf("failed to load workflow %s: %w", workflowID, err)
		}

		if workflow.DeletedAt != nil {
			continue
		}

		workflows = append(workflows, workflow)
	}

	sort.Slice(workflows, func(i, j int) bool {
		return workflows[i].CreatedAt.After(workflows[j].CreatedAt)
	})

	return workflows, nil
}

// GetByID retrieves a workflow by its ID from the file system.
func (wr *WorkflowRepository) GetByID(_ context.Context, workflowID string) (*model.Workflow, error) {
	filePath := filepath.Clean(path.Join(wr.root, "workflows", workflowID+".json"))

	body, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewWorkflowError("GetByID", workflowID, persistence.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to fetch workflow %s: %w", workflowID, err)
	}

	var workflow model.Workflow

	err = json.Unmarshal(body, &workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow %s: %w", workflowID, err)
	}

	return &workflow, nil
}

// Save writes a workflow to the file system, stamping timestamps.
func (wr *WorkflowRepository) Save(_ context.Context, workflow *model.Workflow) error {
	err := os.MkdirAll(path.Join(wr.root, "workflows"), 0750)
	if err != nil {
		return fmt.Errorf("failed to create workflows directory: %w", err)
	}

	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	data, err := json.MarshalIndent(workflow, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal workflow %s: %w", workflow.ID, err)
	}

	filePath := path.Join(wr.root, "workflows", workflow.ID+".json")

	return os.WriteFile(filePath, data, 0600)
}

// Delete removes a workflow file by ID. Missing files are not an error.
func (wr *WorkflowRepository) Delete(_ context.Context, id string) error {
	filePath := path.Join(wr.root, "workflows", id+".json")

	err := os.Remove(filePath)

	if err != nil && os.IsNotExist(err) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to delete workflow %s: %w", id, err)
	}

	return nil
}

// Publish marks the workflow published and unpublishes any other published
// workflow sharing its name.
func (wr *WorkflowRepository) Publish(ctx context.Context, workflowID string) error {
	workflow, err := wr.GetByID(ctx, workflowID)
	if err != nil {
		return err
	}

	all, err := wr.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to list workflows: %w", err)
	}

	for _, wf := range all {
		if wf.ID != workflow.ID && wf.Name == workflow.Name && wf.Status == model.WorkflowStatusPublished {
			wf.Status = model.WorkflowStatusUnpublished

			if err := wr.Save(ctx, wf); err != nil {
				return fmt.Errorf("failed to unpublish workflow %s: %w", wf.ID, err)
			}
		}
	}

	workflow.Status = model.WorkflowStatusPublished

	if workflow.PublishedAt == nil {
		now := time.Now().UTC()
		workflow.PublishedAt = &now
	}

	return wr.Save(ctx, workflow)
}
