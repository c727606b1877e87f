package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/weftd/weft/pkg/model"
	"github.com/weftd/weft/pkg/persistence"
)

// RunRepository handles run-record database operations.
type RunRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRunRepository creates a new run repository.
func NewRunRepository(db *sql.DB, logger *slog.Logger) *RunRepository {
	return &RunRepository{db: db, logger: logger}
}

const runColumns = `
		id
	  , workflow_id
	  , status
	  , triggered_by
	  , inputs
	  , statuses
	  , results
	  , errors
	  , started_at
	  , finished_at
`

// GetByID returns a run record by its ID.
func (r *RunRepository) GetByID(ctx context.Context, id string) (*model.WorkflowRun, error) {
	query := `
		SELECT ` + runColumns + `
		FROM workflow_runs
		WHERE id = $1
	`

	run, err := scanRun(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &persistence.RunError{Op: "GetByID", RunID: id, Err: persistence.ErrRunNotFound}
		}

		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	return run, nil
}

// GetByWorkflow returns the runs of one workflow, newest first.
func (r *RunRepository) GetByWorkflow(ctx context.Context, workflowID string) ([]*model.WorkflowRun, error) {
	query := `
		SELECT ` + runColumns + `
		FROM workflow_runs
		WHERE workflow_id = $1
		ORDER BY started_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	runs := make([]*model.WorkflowRun, 0)

	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		runs = append(runs, run)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// Save upserts a run record.
func (r *RunRepository) Save(ctx context.Context, run *model.WorkflowRun) error {
	inputsJSON, err := json.Marshal(orEmpty(run.Inputs))
	if err != nil {
		return fmt.Errorf("failed to marshal inputs: %w", err)
	}

	statusesJSON, err := json.Marshal(run.Statuses)
	if err != nil {
		return fmt.Errorf("failed to marshal statuses: %w", err)
	}

	resultsJSON, err := json.Marshal(orEmpty(run.Results))
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}

	errorsJSON, err := json.Marshal(run.Errors)
	if err != nil {
		return fmt.Errorf("failed to marshal errors: %w", err)
	}

	query := `
		INSERT INTO workflow_runs (
			id, workflow_id, status, triggered_by, inputs, statuses,
			results, errors, started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			statuses = EXCLUDED.statuses,
			results = EXCLUDED.results,
			errors = EXCLUDED.errors,
			finished_at = EXCLUDED.finished_at
	`

	_, err = r.db.ExecContext(ctx, query,
		run.ID, run.WorkflowID, run.Status, run.TriggeredBy,
		inputsJSON, statusesJSON, resultsJSON, errorsJSON,
		run.StartedAt, run.FinishedAt,
	)
	if err != nil {
		return &persistence.RunError{Op: "Save", RunID: run.ID, Err: err}
	}

	return nil
}

func scanRun(row rowScanner) (*model.WorkflowRun, error) {
	var (
		run          model.WorkflowRun
		inputsJSON   []byte
		statusesJSON []byte
		resultsJSON  []byte
		errorsJSON   []byte
	)

	err := row.Scan(
		&run.ID, &run.WorkflowID, &run.Status, &run.TriggeredBy,
		&inputsJSON, &statusesJSON, &resultsJSON, &errorsJSON,
		&run.StartedAt, &run.FinishedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(inputsJSON, &run.Inputs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal inputs: %w", err)
	}

	if err := json.Unmarshal(statusesJSON, &run.Statuses); err != nil {
		return nil, fmt.Errorf("failed to unmarshal statuses: %w", err)
	}

	if err := json.Unmarshal(resultsJSON, &run.Results); err != nil {
		return nil, fmt.Errorf("failed to unmarshal results: %w", err)
	}

	if err := json.Unmarshal(errorsJSON, &run.Errors); err != nil {
		return nil, fmt.Errorf("failed to unmarshal errors: %w", err)
	}

	return &run, nil
}
