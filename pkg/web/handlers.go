// Package web provides the REST surface for workflow management, compilation
// and run inspection.
package web

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/weftd/weft/pkg/dsl"
	"github.com/weftd/weft/pkg/eventbus"
	"github.com/weftd/weft/pkg/events"
	"github.com/weftd/weft/pkg/model"
	"github.com/weftd/weft/pkg/persistence"
)

type APIHandlers struct {
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	validator   *validator.Validate
}

func NewAPIHandlers(p persistence.Persistence, publisher eventbus.EventPublisher, validate *validator.Validate) *APIHandlers {
	return &APIHandlers{
		persistence: p,
		publisher:   publisher,
		validator:   validate,
	}
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	workflows, err := h.persistence.Workflows(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflows":   workflows,
		"total_count": len(workflows),
	})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	workflow, err := h.persistence.WorkflowByID(c.Context(), id)
	if err != nil {
		return handlePersistenceError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req CreateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	definition, err := dsl.ParseDefinition(req.Definition)
	if err != nil {
		return badRequest(c, err.Error())
	}

	workflow := &model.Workflow{
		Name:        req.Name,
		Description: req.Description,
		Status:      model.WorkflowStatusDraft,
		Definition:  *definition,
		Variables:   req.Variables,
		Metadata:    req.Metadata,
		Owner:       req.Owner,
	}

	if workflow.ID == "" {
		workflow.ID = uuid.New().String()
	}

	if err := h.persistence.SaveWorkflow(c.Context(), workflow); err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(workflow)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req UpdateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	existing, err := h.persistence.WorkflowByID(c.Context(), id)
	if err != nil {
		return handlePersistenceError(c, err)
	}

	// Published definitions are immutable; create a new draft instead.
	if existing.Status == model.WorkflowStatusPublished && req.Definition != nil {
		return conflict(c, "published workflows are immutable, create a draft")
	}

	if req.Name != nil {
		existing.Name = *req.Name
	}

	if req.Description != nil {
		existing.Description = *req.Description
	}

	if req.Definition != nil {
		definition, err := dsl.ParseDefinition(req.Definition)
		if err != nil {
			return badRequest(c, err.Error())
		}

		existing.Definition = *definition
	}

	if req.Variables != nil {
		existing.Variables = req.Variables
	}

	if req.Metadata != nil {
		existing.Metadata = req.Metadata
	}

	if err := h.persistence.SaveWorkflow(c.Context(), existing); err != nil {
		return internalError(c, err)
	}

	return c.JSON(existing)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	if err := h.persistence.DeleteWorkflow(c.Context(), id); err != nil {
		return handlePersistenceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// PublishWorkflow validates that the definition compiles before marking it
// published: a definition that cannot compile must never become executable.
func (h *APIHandlers) PublishWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	workflow, err := h.persistence.WorkflowByID(c.Context(), id)
	if err != nil {
		return handlePersistenceError(c, err)
	}

	g, err := workflow.Definition.Graph()
	if err != nil {
		return badRequest(c, err.Error())
	}

	if _, err := dsl.CompileActions(g); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.persistence.PublishWorkflow(c.Context(), id); err != nil {
		return handlePersistenceError(c, err)
	}

	published, err := h.persistence.WorkflowByID(c.Context(), id)
	if err != nil {
		return handlePersistenceError(c, err)
	}

	return c.JSON(published)
}

// CompileWorkflow returns the flat or block IR of a stored definition.
// format=actions (default) yields the dependency-annotated statement list;
// format=blocks yields the nested sequence/parallel tree.
func (h *APIHandlers) CompileWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	workflow, err := h.persistence.WorkflowByID(c.Context(), id)
	if err != nil {
		return handlePersistenceError(c, err)
	}

	g, err := workflow.Definition.Graph()
	if err != nil {
		return badRequest(c, err.Error())
	}

	switch format := c.Query("format", "actions"); format {
	case "actions":
		plan, err := dsl.CompileActions(g)
		if err != nil {
			return badRequest(c, err.Error())
		}

		return c.JSON(plan)
	case "blocks":
		plan, err := dsl.CompileBlocks(g, workflow.Variables)
		if err != nil {
			return badRequest(c, err.Error())
		}

		return c.JSON(plan)
	default:
		return badRequest(c, "unknown compile format: "+format)
	}
}

// StartRun queues a manual run of a published workflow.
func (h *APIHandlers) StartRun(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req StartRunRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	workflow, err := h.persistence.WorkflowByID(c.Context(), id)
	if err != nil {
		return handlePersistenceError(c, err)
	}

	if !workflow.Executable() {
		return conflict(c, "workflow is not published")
	}

	runID := uuid.New().String()

	event := events.RunTriggered{
		BaseEvent:   events.NewBaseEvent(events.RunTriggeredEvent, workflow.ID),
		RunID:       runID,
		TriggeredBy: "api",
		TriggerData: req.Inputs,
	}

	if err := h.publisher.Publish(c.Context(), events.RunTopic, event); err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(StartRunResponse{
		RunID:      runID,
		WorkflowID: workflow.ID,
	})
}

func (h *APIHandlers) GetRuns(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	runs, err := h.persistence.Runs(c.Context(), id)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"runs":        runs,
		"total_count": len(runs),
	})
}

func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	id := c.Params("runId")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	run, err := h.persistence.RunByID(c.Context(), id)
	if err != nil {
		return handlePersistenceError(c, err)
	}

	return c.JSON(run)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	httpStatus := http.StatusOK

	if err := h.persistence.HealthCheck(c.Context()); err != nil {
		status = "unhealthy"
		httpStatus = http.StatusInternalServerError
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"timestamp": time.Now().UTC(),
	})
}
