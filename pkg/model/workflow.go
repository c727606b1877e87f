// Package model defines the stored workflow definition and its lifecycle.
package model

import (
	"time"

	"github.com/weftd/weft/pkg/dsl"
)

// WorkflowStatus represents the lifecycle state of a workflow definition.
type WorkflowStatus string

const (
	WorkflowStatusDraft       WorkflowStatus = "draft"       // Editable, not executable
	WorkflowStatusPublished   WorkflowStatus = "published"   // Active, executable
	WorkflowStatusUnpublished WorkflowStatus = "unpublished" // Historical, not executable
)

// Workflow is a stored graph definition plus the metadata around it. The
// Definition field holds the raw node/edge document; compilation to an IR
// happens on demand, never at rest.
type Workflow struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"        validate:"required,min=3"`
	Description string         `json:"description"`
	Status      WorkflowStatus `json:"status"      validate:"required,oneof=draft published unpublished"`
	Definition  dsl.Definition `json:"definition"`
	Variables   map[string]any `json:"variables,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Owner       string         `json:"owner,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	PublishedAt *time.Time     `json:"published_at,omitempty"`
	DeletedAt   *time.Time     `json:"deleted_at,omitempty"`
}

// Executable reports whether runs may be started from this definition.
func (w *Workflow) Executable() bool {
	return w.Status == WorkflowStatusPublished && w.DeletedAt == nil
}
