package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/weftd/weft/pkg/dsl"
	"github.com/weftd/weft/pkg/model"
	"github.com/weftd/weft/pkg/persistence"
)

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

const workflowColumns = `
		id
	  , name
	  , description
	  , status
	  , definition
	  , variables
	  , metadata
	  , owner
	  , created_at
	  , updated_at
	  , published_at
	  , deleted_at
`

// GetAll returns all live workflows, newest first.
func (r *WorkflowRepository) GetAll(ctx context.Context) ([]*model.Workflow, error) {
	query := `
		SELECT ` + workflowColumns + `
		FROM workflows
		WHERE deleted_at IS NULL
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	workflows := make([]*model.Workflow, 0)

	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return workflows, nil
}

// GetByID returns a workflow by its ID.
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*model.Workflow, error) {
	query := `
		SELECT ` + workflowColumns + `
		FROM workflows
		WHERE id = $1 AND deleted_at IS NULL
	`

	row := r.db.QueryRowContext(ctx, query, id)

	workflow, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}

	return workflow, nil
}

// Save upserts a workflow, generating an ID when absent.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *model.Workflow) error {
	now := time.Now().UTC()

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	if workflow.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate workflow ID: %w", err)
		}

		workflow.ID = id.String()
	}

	definitionJSON, err := json.Marshal(workflow.Definition)
	if err != nil {
		return fmt.Errorf("failed to marshal definition: %w", err)
	}

	variablesJSON, err := json.Marshal(orEmpty(workflow.Variables))
	if err != nil {
		return fmt.Errorf("failed to marshal variables: %w", err)
	}

	metadataJSON, err := json.Marshal(orEmpty(workflow.Metadata))
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO workflows (
			id, name, description, status, definition, variables, metadata,
			owner, created_at, updated_at, published_at, deleted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			definition = EXCLUDED.definition,
			variables = EXCLUDED.variables,
			metadata = EXCLUDED.metadata,
			owner = EXCLUDED.owner,
			updated_at = EXCLUDED.updated_at,
			published_at = EXCLUDED.published_at,
			deleted_at = EXCLUDED.deleted_at
	`

	_, err = r.db.ExecContext(ctx, query,
		workflow.ID, workflow.Name, workflow.Description, workflow.Status,
		definitionJSON, variablesJSON, metadataJSON, workflow.Owner,
		workflow.CreatedAt, workflow.UpdatedAt, workflow.PublishedAt, workflow.DeletedAt,
	)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	return nil
}

// Delete soft deletes a workflow by setting deleted_at.
func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE workflows SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL", id)
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}

	if affected == 0 {
		return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
	}

	return nil
}

// Publish marks one workflow published and unpublishes any other published
// workflow sharing its name, atomically.
func (r *WorkflowRepository) Publish(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	var name string

	err = tx.QueryRowContext(ctx,
		"SELECT name FROM workflows WHERE id = $1 AND deleted_at IS NULL", id).Scan(&name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.NewWorkflowError("Publish", id, persistence.ErrWorkflowNotFound)
		}

		return fmt.Errorf("failed to load workflow: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE workflows SET status = $1, updated_at = NOW()
		WHERE name = $2 AND id <> $3 AND status = $4 AND deleted_at IS NULL
	`, model.WorkflowStatusUnpublished, name, id, model.WorkflowStatusPublished)
	if err != nil {
		return fmt.Errorf("failed to unpublish previous versions: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE workflows
		SET status = $1, updated_at = NOW(), published_at = COALESCE(published_at, NOW())
		WHERE id = $2
	`, model.WorkflowStatusPublished, id)
	if err != nil {
		return fmt.Errorf("failed to publish workflow: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit publish: %w", err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*model.Workflow, error) {
	var (
		workflow       model.Workflow
		definitionJSON []byte
		variablesJSON  []byte
		metadataJSON   []byte
	)

	err := row.Scan(
		&workflow.ID, &workflow.Name, &workflow.Description, &workflow.Status,
		&definitionJSON, &variablesJSON, &metadataJSON, &workflow.Owner,
		&workflow.CreatedAt, &workflow.UpdatedAt, &workflow.PublishedAt, &workflow.DeletedAt,
	)
	if err != nil {
		return nil, err
	}

	var definition dsl.Definition
	if err := json.Unmarshal(definitionJSON, &definition); err != nil {
		return nil, fmt.Errorf("failed to unmarshal definition: %w", err)
	}

	workflow.Definition = definition

	if err := json.Unmarshal(variablesJSON, &workflow.Variables); err != nil {
		return nil, fmt.Errorf("failed to unmarshal variables: %w", err)
	}

	if err := json.Unmarshal(metadataJSON, &workflow.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	return &workflow, nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}

	return m
}
