package model

import (
	"time"

	"github.com/weftd/weft/pkg/engine"
)

// WorkflowRun is the stored record of one execution of a published workflow.
// Statuses and Results mirror the scheduler report so a finished run can be
// inspected without the engine in memory.
type WorkflowRun struct {
	ID          string                   `json:"id"          validate:"required"`
	WorkflowID  string                   `json:"workflow_id" validate:"required"`
	Status      engine.Status            `json:"status"`
	TriggeredBy string                   `json:"triggered_by,omitempty"`
	Inputs      map[string]any           `json:"inputs,omitempty"`
	Statuses    map[string]engine.Status `json:"statuses,omitempty"`
	Results     map[string]any           `json:"results,omitempty"`
	Errors      map[string]string        `json:"errors,omitempty"`
	StartedAt   time.Time                `json:"started_at"`
	FinishedAt  *time.Time               `json:"finished_at,omitempty"`
}

// ApplyReport folds a scheduler report into the stored run.
func (r *WorkflowRun) ApplyReport(report *engine.Report) {
	r.Status = report.Status
	r.Statuses = report.Statuses
	r.Errors = report.Errors

	r.Results = make(map[string]any, len(report.Results))
	for ref, res := range report.Results {
		r.Results[ref] = res.Output
	}

	now := time.Now().UTC()
	r.FinishedAt = &now
}
