package durable

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
)

// TaskQueue is the Temporal task queue durable runs are routed through.
const TaskQueue = "weft-runs"

// RunWorkflowName identifies the run workflow across processes.
const RunWorkflowName = "WeftRun"

// RegisterWorker wires the run workflow and its activities onto a Temporal
// worker bound to the task queue.
func RegisterWorker(c client.Client, activities *Activities) worker.Worker {
	w := worker.New(c, TaskQueue, worker.Options{})

	w.RegisterWorkflowWithOptions(RunWorkflow, workflow.RegisterOptions{Name: RunWorkflowName})
	w.RegisterActivityWithOptions(activities.ExecuteAction, activity.RegisterOptions{Name: ExecuteActionLabel})

	return w
}

// StartRun launches a durable run and returns the workflow execution handle.
func StartRun(ctx context.Context, c client.Client, input RunInput) (client.WorkflowRun, error) {
	options := client.StartWorkflowOptions{
		ID:        "weft-run-" + input.RunID,
		TaskQueue: TaskQueue,
	}

	run, err := c.ExecuteWorkflow(ctx, options, RunWorkflowName, input)
	if err != nil {
		return nil, fmt.Errorf("failed to start durable run %s: %w", input.RunID, err)
	}

	return run, nil
}
