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

	"github.com/weftd/weft/pkg/model"
	"github.com/weftd/weft/pkg/persistence"
)

// RunRepository handles run-record file operations.
type RunRepository struct {
	root string
}

// NewRunRepository creates a new run repository.
func NewRunRepository(root string) *RunRepository {
	return &RunRepository{root: root}
}

// GetByID retrieves a run record by its ID.
func (rr *RunRepository) GetByID(_ context.Context, runID string) (*model.WorkflowRun, error) {
	filePath := filepath.Clean(path.Join(rr.root, "runs", runID+".json"))

	body, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &persistence.RunError{Op: "GetByID", RunID: runID, Err: persistence.ErrRunNotFound}
		}

		return nil, fmt.Errorf("failed to fetch run %s: %w", runID, err)
	}

	var run model.WorkflowRun

	err = json.Unmarshal(body, &run)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal run %s: %w", runID, err)
	}

	return &run, nil
}

// GetByWorkflow returns the runs of one workflow, newest first.
func (rr *RunRepository) GetByWorkflow(ctx context.Context, workflowID string) ([]*model.WorkflowRun, error) {
	dir := path.Join(rr.root, "runs")

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return []*model.WorkflowRun{}, nil
	}

	jsonFiles, err := fs.Glob(os.DirFS(dir), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list run files: %w", err)
	}

	runs := make([]*model.WorkflowRun, 0)

	for _, file := range jsonFiles {
		runID := file[:len(file)-5]

		run, err := rr.GetByID(ctx, runID)
		if err != nil {
			if persistence.IsRunNotFound(err) {
				continue
			}

			return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
		}

		if run.WorkflowID == workflowID {
			runs = append(runs, run)
		}
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})

	return runs, nil
}

// Save writes a run record to the file system.
func (rr *RunRepository) Save(_ context.Context, run *model.WorkflowRun) error {
	err := os.MkdirAll(path.Join(rr.root, "runs"), 0750)
	if err != nil {
		return fmt.Errorf("failed to create runs directory: %w", err)
	}

	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run %s: %w", run.ID, err)
	}

	filePath := path.Join(rr.root, "runs", run.ID+".json")

	return os.WriteFile(filePath, data, 0600)
}
