// Package postgres provides PostgreSQL persistence for workflows and runs.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // postgres driver

	"github.com/weftd/weft/pkg/model"
	"github.com/weftd/weft/pkg/persistence"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db           *sql.DB
	logger       *slog.Logger
	workflowRepo *WorkflowRepository
	runRepo      *RunRepository
}

// NewPersistence connects, verifies the connection and ensures the schema.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := ensureSchema(ctx, database); err != nil {
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	return &Persistence{
		db:           database,
		logger:       logger,
		workflowRepo: NewWorkflowRepository(database, logger),
		runRepo:      NewRunRepository(database, logger),
	}, nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (p *Persistence) Workflows(ctx context.Context) ([]*model.Workflow, error) {
	return p.workflowRepo.GetAll(ctx)
}

func (p *Persistence) WorkflowByID(ctx context.Context, id string) (*model.Workflow, error) {
	return p.workflowRepo.GetByID(ctx, id)
}

func (p *Persistence) SaveWorkflow(ctx context.Context, workflow *model.Workflow) error {
	return p.workflowRepo.Save(ctx, workflow)
}

func (p *Persistence) DeleteWorkflow(ctx context.Context, id string) error {
	return p.workflowRepo.Delete(ctx, id)
}

func (p *Persistence) PublishWorkflow(ctx context.Context, id string) error {
	return p.workflowRepo.Publish(ctx, id)
}

func (p *Persistence) Runs(ctx context.Context, workflowID string) ([]*model.WorkflowRun, error) {
	return p.runRepo.GetByWorkflow(ctx, workflowID)
}

func (p *Persistence) RunByID(ctx context.Context, id string) (*model.WorkflowRun, error) {
	return p.runRepo.GetByID(ctx, id)
}

func (p *Persistence) SaveRun(ctx context.Context, run *model.WorkflowRun) error {
	return p.runRepo.Save(ctx, run)
}

var _ persistence.Persistence = (*Persistence)(nil)

// ensureSchema creates the tables if they do not exist yet. Definition,
// variables and run payloads are stored as JSONB documents.
func ensureSchema(ctx context.Context, db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS workflows (
			id           TEXT PRIMARY KEY,
			name         TEXT NOT NULL,
			description  TEXT NOT NULL DEFAULT '',
			status       TEXT NOT NULL,
			definition   JSONB NOT NULL DEFAULT '{}'::jsonb,
			variables    JSONB NOT NULL DEFAULT '{}'::jsonb,
			metadata     JSONB NOT NULL DEFAULT '{}'::jsonb,
			owner        TEXT NOT NULL DEFAULT '',
			created_at   TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			updated_at   TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			published_at TIMESTAMP WITH TIME ZONE,
			deleted_at   TIMESTAMP WITH TIME ZONE
		);

		CREATE TABLE IF NOT EXISTS workflow_runs (
			id           TEXT PRIMARY KEY,
			workflow_id  TEXT NOT NULL REFERENCES workflows(id),
			status       TEXT NOT NULL,
			triggered_by TEXT NOT NULL DEFAULT '',
			inputs       JSONB NOT NULL DEFAULT '{}'::jsonb,
			statuses     JSONB NOT NULL DEFAULT '{}'::jsonb,
			results      JSONB NOT NULL DEFAULT '{}'::jsonb,
			errors       JSONB NOT NULL DEFAULT '{}'::jsonb,
			started_at   TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			finished_at  TIMESTAMP WITH TIME ZONE
		);

		CREATE INDEX IF NOT EXISTS idx_workflow_runs_workflow_id
			ON workflow_runs(workflow_id);
	`

	_, err := db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	return nil
}
