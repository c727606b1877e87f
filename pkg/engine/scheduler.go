// Package engine executes compiled workflow plans: a concurrent scheduler
// over the flat IR and a recursive walker over the block IR, sharing the
// per-run execution context.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"dario.cat/mergo"
	"github.com/mohae/deepcopy"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/weftd/weft/pkg/dsl"
	"github.com/weftd/weft/pkg/expr"
	"github.com/weftd/weft/pkg/runner"
	"github.com/weftd/weft/pkg/secrets"
	"github.com/weftd/weft/pkg/tracing"
)

const (
	// DefaultPendingTimeout bounds how long a dequeued action waits for its
	// upstream dependencies before failing with a dependency timeout.
	DefaultPendingTimeout = 120 * time.Second

	defaultPollInterval  = 50 * time.Millisecond
	dependencyWaitBase   = 25 * time.Millisecond
	dependencyWaitJitter = 15 * time.Millisecond
)

var errDependenciesPending = errors.New("dependencies pending")

// DependencyTimeoutError is the terminal error of a node whose upstream
// never completed within the pending timeout. It fails that node only.
type DependencyTimeoutError struct {
	Ref     string
	Timeout time.Duration
}

func (e *DependencyTimeoutError) Error() string {
	return fmt.Sprintf("action %s: dependencies not satisfied within %s", e.Ref, e.Timeout)
}

// DependencyFailedError is the terminal error of a node one of whose
// dependencies terminally failed; the node can never become ready.
type DependencyFailedError struct {
	Ref string
	Dep string
}

func (e *DependencyFailedError) Error() string {
	return fmt.Sprintf("action %s: dependency %s failed", e.Ref, e.Dep)
}

// Report is the outcome of one workflow run.
type Report struct {
	RunID    string                   `json:"run_id"`
	Status   Status                   `json:"status"`
	Statuses map[string]Status        `json:"statuses"`
	Results  map[string]runner.Result `json:"results"`
	Errors   map[string]string        `json:"errors,omitempty"`
}

// ActionHook observes per-action outcomes as they happen. res is nil when
// err is non-nil. Hooks run on the action's goroutine and must not block.
type ActionHook func(ctx context.Context, ref string, res *runner.Result, duration time.Duration, err error)

// Scheduler executes flat plans with one goroutine per in-flight action.
type Scheduler struct {
	registry *runner.Registry
	secrets  secrets.Getter
	logger   *slog.Logger
	tracer   trace.Tracer

	// PendingTimeout bounds the per-node dependency wait.
	PendingTimeout time.Duration
	// PollInterval is how often the main loop re-checks the stop condition
	// while the queue is idle.
	PollInterval time.Duration
	// OnAction, when set, is invoked after every action reaches a terminal
	// state.
	OnAction ActionHook
}

func NewScheduler(registry *runner.Registry, secretGetter secrets.Getter, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		registry:       registry,
		secrets:        secretGetter,
		logger:         logger.With("module", "scheduler"),
		tracer:         otel.Tracer("github.com/weftd/weft/pkg/engine"),
		PendingTimeout: DefaultPendingTimeout,
		PollInterval:   defaultPollInterval,
	}
}

// Run executes the plan to completion. Inputs feed the INPUTS template
// namespace; the trigger payload feeds TRIGGER and is merged into the
// entrypoint's arguments.
func (s *Scheduler) Run(ctx context.Context, runID string, plan *dsl.ActionPlan, inputs, trigger map[string]any) (*Report, error) {
	entry, ok := plan.Statement(plan.Entrypoint)
	if !ok {
		return nil, fmt.Errorf("plan has no entrypoint statement %q", plan.Entrypoint)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ec := NewExecutionContext(runID)
	logger := s.logger.With("run_id", runID)

	logger.InfoContext(ctx, "Starting workflow run", "entrypoint", plan.Entrypoint, "actions", len(plan.Actions))

	ec.EnqueueReady(&ActionRun{RunID: runID, Statement: entry, Kwargs: trigger})

	var (
		inflight int64
		wg       sync.WaitGroup
	)

	canceled := false

loop:
	for {
		select {
		case <-runCtx.Done():
			canceled = true

			break loop

		case run := <-ec.Ready():
			ref := run.Statement.Ref

			if status, seen := ec.Status(ref); !seen || status != StatusQueued {
				// Idempotency guard: already dispatched or finished.
				continue
			}

			if err := ec.MarkStatus(ref, StatusPending); err != nil {
				continue
			}

			atomic.AddInt64(&inflight, 1)
			wg.Add(1)

			go func() {
				defer wg.Done()
				s.executeNode(runCtx, ec, plan, run, inputs, trigger)
				atomic.AddInt64(&inflight, -1)
			}()

		case <-time.After(s.PollInterval):
			if atomic.LoadInt64(&inflight) == 0 && len(ec.ready) == 0 {
				break loop
			}
		}
	}

	cancel()
	wg.Wait()

	if canceled {
		ec.CancelRemaining()
	}

	statuses, results, failures := ec.Snapshot()

	report := &Report{
		RunID:    runID,
		Status:   StatusSuccess,
		Statuses: statuses,
		Results:  results,
		Errors:   make(map[string]string, len(failures)),
	}

	for ref, err := range failures {
		report.Errors[ref] = err.Error()
	}

	switch {
	case canceled:
		report.Status = StatusCanceled
	case len(failures) > 0:
		report.Status = StatusFailure
	}

	logger.InfoContext(ctx, "Workflow run finished", "status", report.Status, "failed", len(failures))

	return report, nil
}

// executeNode drives one action through the state machine: dependency wait,
// argument resolution, dispatch, result recording, downstream fan-out.
// Errors are terminal for this node only; sibling branches keep running.
func (s *Scheduler) executeNode(ctx context.Context, ec *ExecutionContext, plan *dsl.ActionPlan, run *ActionRun, inputs, trigger map[string]any) {
	stmt := run.Statement
	logger := s.logger.With("run_id", run.RunID, "ref", stmt.Ref, "action", stmt.Action)

	ctx, span := tracing.StartSpan(ctx, s.tracer, "engine.action",
		attribute.String(tracing.RunIDKey, run.RunID),
		attribute.String(tracing.ActionRefKey, stmt.Ref),
		attribute.String(tracing.ActionTypeKey, stmt.Action),
	)
	defer span.End()

	started := time.Now()

	notify := func(res *runner.Result, err error) {
		if s.OnAction != nil {
			s.OnAction(ctx, stmt.Ref, res, time.Since(started), err)
		}
	}

	fail := func(err error) {
		span.RecordError(err)
		logger.ErrorContext(ctx, "Action failed", "error", err)
		ec.RecordFailure(stmt.Ref, err)
		_ = ec.MarkStatus(stmt.Ref, StatusFailure)
		notify(nil, err)
	}

	if err := s.awaitDependencies(ctx, ec, stmt); err != nil {
		fail(err)

		return
	}

	trail := ec.Trail(stmt.DependsOn)

	operand, err := s.buildOperand(ctx, stmt, trail, inputs, trigger)
	if err != nil {
		fail(err)

		return
	}

	if stmt.RunIf != "" {
		proceed, err := expr.EvalGuard(stmt.RunIf, operand)
		if err != nil {
			fail(err)

			return
		}

		if !proceed {
			logger.InfoContext(ctx, "Guard evaluated false, short-circuiting")
			ec.RecordResult(stmt.Ref, runner.Result{ShouldContinue: false}, stmt.DependsOn)
			_ = ec.MarkStatus(stmt.Ref, StatusSuccess)
			notify(&runner.Result{ShouldContinue: false}, nil)

			return
		}
	}

	if err := ec.MarkStatus(stmt.Ref, StatusRunning); err != nil {
		fail(err)

		return
	}

	result, err := s.invoke(ctx, stmt, run, trail, operand)
	if err != nil {
		fail(err)

		return
	}

	ec.RecordResult(stmt.Ref, *result, stmt.DependsOn)
	_ = ec.MarkStatus(stmt.Ref, StatusSuccess)
	notify(result, nil)

	logger.InfoContext(ctx, "Action succeeded", "should_continue", result.ShouldContinue)

	if !result.ShouldContinue {
		return
	}

	for _, dependent := range plan.Dependents(stmt.Ref) {
		next, ok := plan.Statement(dependent)
		if !ok {
			continue
		}

		ec.EnqueueReady(&ActionRun{RunID: run.RunID, Statement: next})
	}
}

// awaitDependencies polls the status store with jittered exponential backoff
// until every upstream ref is SUCCESS, a dependency terminally fails, or the
// pending timeout expires.
func (s *Scheduler) awaitDependencies(ctx context.Context, ec *ExecutionContext, stmt *dsl.ActionStatement) error {
	if len(stmt.DependsOn) == 0 {
		return nil
	}

	backoff := retry.WithMaxDuration(s.PendingTimeout,
		retry.WithJitter(dependencyWaitJitter, retry.NewExponential(dependencyWaitBase)))

	err := retry.Do(ctx, backoff, func(_ context.Context) error {
		ready, broken := ec.DependenciesReady(stmt.DependsOn)
		if broken != "" {
			return &DependencyFailedError{Ref: stmt.Ref, Dep: broken}
		}

		if !ready {
			return retry.RetryableError(errDependenciesPending)
		}

		return nil
	})

	if errors.Is(err, errDependenciesPending) {
		return &DependencyTimeoutError{Ref: stmt.Ref, Timeout: s.PendingTimeout}
	}

	return err
}

// buildOperand assembles the template namespaces for one node, including
// the batch-fetched SECRETS referenced by its arguments.
func (s *Scheduler) buildOperand(ctx context.Context, stmt *dsl.ActionStatement, trail Trail, inputs, trigger map[string]any) (expr.Operand, error) {
	operand := expr.Operand{
		expr.NamespaceInputs:  inputs,
		expr.NamespaceActions: actionsNamespace(trail),
		expr.NamespaceTrigger: trigger,
	}

	names := expr.ExtractSecrets(stmt.Args)
	if len(names) == 0 {
		return operand, nil
	}

	if s.secrets == nil {
		return nil, fmt.Errorf("action %s references secrets %v but no secret store is configured", stmt.Ref, names)
	}

	fetched, err := secrets.FetchAll(ctx, s.secrets, names)
	if err != nil {
		return nil, err
	}

	operand[expr.NamespaceSecrets] = fetched

	return operand, nil
}

// invoke resolves the node's arguments and dispatches it, handling for_each
// fan-out over a resolved collection.
func (s *Scheduler) invoke(ctx context.Context, stmt *dsl.ActionStatement, run *ActionRun, trail Trail, operand expr.Operand) (*runner.Result, error) {
	if stmt.ForEach != "" {
		return s.invokeForEach(ctx, stmt, trail, operand)
	}

	args, err := expr.EvaluateArgs(stmt.Args, operand)
	if err != nil {
		return nil, err
	}

	if len(run.Kwargs) > 0 {
		// Entrypoint only: the trigger payload overrides static args.
		merged := deepcopy.Copy(args).(map[string]any)
		if err := mergo.Merge(&merged, run.Kwargs, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merge trigger payload: %w", err)
		}

		args = merged
	}

	return s.registry.Dispatch(ctx, stmt.Action, runner.Input{
		Ref:   stmt.Ref,
		Title: stmt.Title,
		Args:  args,
		Trail: trail,
	})
}

func (s *Scheduler) invokeForEach(ctx context.Context, stmt *dsl.ActionStatement, trail Trail, operand expr.Operand) (*runner.Result, error) {
	items, err := expr.EvalCollection(stmt.ForEach, operand)
	if err != nil {
		return nil, err
	}

	outputs := make([]any, 0, len(items))
	shouldContinue := true

	for i, item := range items {
		scoped := make(expr.Operand, len(operand)+1)
		for k, v := range operand {
			scoped[k] = v
		}

		scoped[expr.NamespaceItem] = item

		args, err := expr.EvaluateArgs(stmt.Args, scoped)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}

		res, err := s.registry.Dispatch(ctx, stmt.Action, runner.Input{
			Ref:   stmt.Ref,
			Title: stmt.Title,
			Args:  args,
			Trail: trail,
		})
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}

		outputs = append(outputs, res.Output)
		shouldContinue = shouldContinue && res.ShouldContinue
	}

	return &runner.Result{Output: outputs, ShouldContinue: shouldContinue}, nil
}

// actionsNamespace shapes a trail as the ACTIONS template namespace:
// ACTIONS.<ref>.result addresses each ancestor's output.
func actionsNamespace(trail Trail) map[string]any {
	out := make(map[string]any, len(trail))
	for ref, res := range trail {
		out[ref] = map[string]any{"result": res.Output}
	}

	return out
}
