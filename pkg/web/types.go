package web

import "encoding/json"

// CreateWorkflowRequest is the payload for creating a workflow definition.
type CreateWorkflowRequest struct {
	Name        string          `json:"name"        validate:"required,min=3,max=100"`
	Description string          `json:"description" validate:"max=500"`
	Definition  json.RawMessage `json:"definition"  validate:"required"`
	Variables   map[string]any  `json:"variables"`
	Metadata    map[string]any  `json:"metadata"`
	Owner       string          `json:"owner"`
}

// UpdateWorkflowRequest carries partial updates; nil fields are untouched.
type UpdateWorkflowRequest struct {
	Name        *string         `json:"name,omitempty"        validate:"omitempty,min=3,max=100"`
	Description *string         `json:"description,omitempty" validate:"omitempty,max=500"`
	Definition  json.RawMessage `json:"definition,omitempty"`
	Variables   map[string]any  `json:"variables,omitempty"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
}

// StartRunRequest is the payload for manually starting a run.
type StartRunRequest struct {
	Inputs map[string]any `json:"inputs,omitempty"`
}

// StartRunResponse returns the handle of a queued run.
type StartRunResponse struct {
	RunID      string `json:"run_id"`
	WorkflowID string `json:"workflow_id"`
}
