// Package durable expresses the run state machine as a Temporal workflow so
// long-lived runs survive worker restarts. Each action dispatch is an
// activity checkpointed by the orchestrator; template resolution happens
// inside the activity to keep the workflow function deterministic.
package durable

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/weftd/weft/pkg/dsl"
	"github.com/weftd/weft/pkg/engine"
)

// RunInput is the deterministic input of one durable run.
type RunInput struct {
	RunID   string          `json:"run_id"`
	Plan    *dsl.ActionPlan `json:"plan"`
	Inputs  map[string]any  `json:"inputs,omitempty"`
	Trigger map[string]any  `json:"trigger,omitempty"`
}

// RunReport mirrors the scheduler report for durable runs.
type RunReport struct {
	RunID    string                   `json:"run_id"`
	Status   engine.Status            `json:"status"`
	Statuses map[string]engine.Status `json:"statuses"`
	Results  map[string]any           `json:"results"`
	Errors   map[string]string        `json:"errors"`
}

// DefaultActivityOptions bound each action dispatch. Retries are Temporal's
// job here: the activity marks hard failures non-retryable, everything else
// backs off per this policy.
func DefaultActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    5,
		},
	}
}

// RunWorkflow drives a flat plan to completion inside Temporal. Actions whose
// dependencies are all finished run as parallel activity futures; each wave
// is collected before the next is launched. Failure of one action skips its
// descendants but leaves sibling branches running.
func RunWorkflow(ctx workflow.Context, input RunInput) (*RunReport, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting durable run", "run_id", input.RunID, "actions", len(input.Plan.Actions))

	ctx = workflow.WithActivityOptions(ctx, DefaultActivityOptions())

	report := &RunReport{
		RunID:    input.RunID,
		Status:   engine.StatusSuccess,
		Statuses: make(map[string]engine.Status, len(input.Plan.Actions)),
		Results:  make(map[string]any),
		Errors:   make(map[string]string),
	}

	done := make(map[string]bool, len(input.Plan.Actions))
	skipped := make(map[string]bool)
	outputs := make(map[string]any)

	for {
		wave := nextWave(input.Plan, done, skipped)
		if len(wave) == 0 {
			break
		}

		type pending struct {
			stmt   *dsl.ActionStatement
			future workflow.Future
		}

		futures := make([]pending, 0, len(wave))

		for _, stmt := range wave {
			report.Statuses[stmt.Ref] = engine.StatusRunning

			actInput := ActionInput{
				RunID:     input.RunID,
				Statement: stmt,
				Inputs:    input.Inputs,
				Outputs:   trailFor(input.Plan, stmt, outputs),
			}
			if stmt.Ref == input.Plan.Entrypoint {
				actInput.Trigger = input.Trigger
			}

			futures = append(futures, pending{
				stmt:   stmt,
				future: workflow.ExecuteActivity(ctx, ExecuteActionLabel, actInput),
			})
		}

		for _, p := range futures {
			var out ActionOutput

			err := p.future.Get(ctx, &out)

			done[p.stmt.Ref] = true

			if err != nil {
				report.Statuses[p.stmt.Ref] = engine.StatusFailure
				report.Errors[p.stmt.Ref] = err.Error()

				skipDescendants(input.Plan, p.stmt.Ref, skipped)
				logger.Error("Action failed", "ref", p.stmt.Ref, "error", err)

				continue
			}

			report.Statuses[p.stmt.Ref] = engine.StatusSuccess
			report.Results[p.stmt.Ref] = out.Output
			outputs[p.stmt.Ref] = out.Output

			if !out.ShouldContinue {
				skipDescendants(input.Plan, p.stmt.Ref, skipped)
			}
		}
	}

	if len(report.Errors) > 0 {
		report.Status = engine.StatusFailure
	}

	logger.Info("Durable run finished", "run_id", input.RunID, "status", report.Status)

	return report, nil
}

// nextWave returns the statements whose dependencies are all done and that
// have not run or been skipped yet. Plan order keeps the result
// deterministic across replays.
func nextWave(plan *dsl.ActionPlan, done, skipped map[string]bool) []*dsl.ActionStatement {
	var wave []*dsl.ActionStatement

	for _, stmt := range plan.Actions {
		if done[stmt.Ref] || skipped[stmt.Ref] {
			continue
		}

		ready := true

		for _, dep := range stmt.DependsOn {
			if !done[dep] || skipped[dep] {
				ready = false

				break
			}
		}

		if ready {
			wave = append(wave, stmt)
		}
	}

	return wave
}

// skipDescendants marks every transitive dependent of ref skipped.
func skipDescendants(plan *dsl.ActionPlan, ref string, skipped map[string]bool) {
	for _, dependent := range plan.Dependents(ref) {
		if skipped[dependent] {
			continue
		}

		skipped[dependent] = true

		skipDescendants(plan, dependent, skipped)
	}
}

// trailFor collects the transitive ancestor outputs visible to a statement.
func trailFor(plan *dsl.ActionPlan, stmt *dsl.ActionStatement, outputs map[string]any) map[string]any {
	trail := make(map[string]any)

	var visit func(refs []string)
	visit = func(refs []string) {
		for _, dep := range refs {
			if _, seen := trail[dep]; seen {
				continue
			}

			if out, ok := outputs[dep]; ok {
				trail[dep] = out
			}

			if depStmt, ok := plan.Statement(dep); ok {
				visit(depStmt.DependsOn)
			}
		}
	}
	visit(stmt.DependsOn)

	return trail
}
