package durable

import (
	"context"
	"log/slog"

	"go.temporal.io/sdk/temporal"

	"github.com/weftd/weft/pkg/dsl"
	"github.com/weftd/weft/pkg/expr"
	"github.com/weftd/weft/pkg/runner"
	"github.com/weftd/weft/pkg/secrets"
)

// ExecuteActionLabel names the action dispatch activity.
const ExecuteActionLabel = "ExecuteAction"

// Error types surfaced to Temporal's retry policy.
const (
	errTypeActionFailed   = "ActionFailed"
	errTypeRetryRequested = "RetryRequested"
)

// ActionInput carries everything one activity invocation needs: the
// statement, the run inputs, the trigger payload (entrypoint only) and the
// ancestor outputs to resolve templates against.
type ActionInput struct {
	RunID     string               `json:"run_id"`
	Statement *dsl.ActionStatement `json:"statement"`
	Inputs    map[string]any       `json:"inputs,omitempty"`
	Trigger   map[string]any       `json:"trigger,omitempty"`
	Outputs   map[string]any       `json:"outputs,omitempty"`
}

// ActionOutput is the checkpointed result of one activity invocation.
type ActionOutput struct {
	Output         any  `json:"output"`
	ShouldContinue bool `json:"should_continue"`
}

// Activities resolves templates and dispatches runners on behalf of the
// durable workflow.
type Activities struct {
	registry *runner.Registry
	secrets  secrets.Getter
	logger   *slog.Logger
}

func NewActivities(registry *runner.Registry, secretGetter secrets.Getter, logger *slog.Logger) *Activities {
	return &Activities{
		registry: registry,
		secrets:  secretGetter,
		logger:   logger.With("module", "durable"),
	}
}

// ExecuteAction resolves the statement's templates, applies the run_if
// guard, dispatches the runner and returns the checkpointed output. Runner
// errors asking for a retry stay retryable under the activity policy; all
// other failures are terminal.
func (a *Activities) ExecuteAction(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	stmt := input.Statement

	operand := expr.Operand{
		expr.NamespaceInputs:  input.Inputs,
		expr.NamespaceActions: actionsNamespace(input.Outputs),
		expr.NamespaceTrigger: input.Trigger,
	}

	names := expr.ExtractSecrets(stmt.Args)
	if len(names) > 0 {
		if a.secrets == nil {
			return nil, temporal.NewNonRetryableApplicationError(
				"no secret store configured", errTypeActionFailed, nil)
		}

		fetched, err := secrets.FetchAll(ctx, a.secrets, names)
		if err != nil {
			return nil, temporal.NewApplicationError(err.Error(), errTypeRetryRequested)
		}

		operand[expr.NamespaceSecrets] = fetched
	}

	if stmt.RunIf != "" {
		proceed, err := expr.EvalGuard(stmt.RunIf, operand)
		if err != nil {
			return nil, temporal.NewNonRetryableApplicationError(err.Error(), errTypeActionFailed, err)
		}

		if !proceed {
			return &ActionOutput{ShouldContinue: false}, nil
		}
	}

	args, err := expr.EvaluateArgs(stmt.Args, operand)
	if err != nil {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), errTypeActionFailed, err)
	}

	if input.Trigger != nil {
		merged := make(map[string]any, len(args)+len(input.Trigger))
		for k, v := range args {
			merged[k] = v
		}

		for k, v := range input.Trigger {
			merged[k] = v
		}

		args = merged
	}

	trail := make(map[string]runner.Result, len(input.Outputs))
	for ref, output := range input.Outputs {
		trail[ref] = runner.Result{Output: output, ShouldContinue: true}
	}

	result, err := a.registry.Dispatch(ctx, stmt.Action, runner.Input{
		Ref:   stmt.Ref,
		Title: stmt.Title,
		Args:  args,
		Trail: trail,
	})
	if err != nil {
		if runner.IsRetryRequested(err) {
			return nil, temporal.NewApplicationError(err.Error(), errTypeRetryRequested)
		}

		return nil, temporal.NewNonRetryableApplicationError(err.Error(), errTypeActionFailed, err)
	}

	a.logger.InfoContext(ctx, "Durable action finished", "run_id", input.RunID, "ref", stmt.Ref)

	return &ActionOutput{Output: result.Output, ShouldContinue: result.ShouldContinue}, nil
}

// actionsNamespace shapes ancestor outputs as the ACTIONS template
// namespace: ref -> {"result": output}.
func actionsNamespace(outputs map[string]any) map[string]any {
	ns := make(map[string]any, len(outputs))
	for ref, output := range outputs {
		ns[ref] = map[string]any{"result": output}
	}

	return ns
}
