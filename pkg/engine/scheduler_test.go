package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftd/weft/pkg/dsl"
	"github.com/weftd/weft/pkg/graph"
	"github.com/weftd/weft/pkg/runner"
	"github.com/weftd/weft/pkg/secrets"
)

// recorder is a runner that records invocation order and delegates to an
// optional per-ref behavior.
type recorder struct {
	actionType string

	mu      sync.Mutex
	order   []string
	inputs  map[string]runner.Input
	outputs map[string]any
	failAt  map[string]error
	haltAt  map[string]bool
}

func newRecorder(actionType string) *recorder {
	return &recorder{
		actionType: actionType,
		inputs:     make(map[string]runner.Input),
		outputs:    make(map[string]any),
		failAt:     make(map[string]error),
		haltAt:     make(map[string]bool),
	}
}

func (r *recorder) Type() string { return r.actionType }

func (r *recorder) Run(_ context.Context, in runner.Input) (*runner.Result, error) {
	r.mu.Lock()
	r.order = append(r.order, in.Ref)
	r.inputs[in.Ref] = in
	r.mu.Unlock()

	if err := r.failAt[in.Ref]; err != nil {
		return nil, err
	}

	output := r.outputs[in.Ref]
	if output == nil {
		output = map[string]any{"ref": in.Ref}
	}

	return &runner.Result{Output: output, ShouldContinue: !r.haltAt[in.Ref]}, nil
}

func (r *recorder) callOrder() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.order...)
}

func (r *recorder) calls(ref string) (runner.Input, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	in, ok := r.inputs[ref]

	return in, ok
}

func testLogger() *slog.Logger {
	return slog.Default()
}

func buildGraph(t *testing.T, titles map[string]string, edges [][2]string) *graph.Graph {
	t.Helper()

	var nodes []graph.Node
	for id, title := range titles {
		nodes = append(nodes, graph.Node{
			ID:   id,
			Kind: graph.NodeKindAction,
			Data: graph.NodeData{Type: "test.record", Title: title},
		})
	}

	var graphEdges []graph.Edge
	for _, e := range edges {
		graphEdges = append(graphEdges, graph.Edge{ID: e[0] + "->" + e[1], Source: e[0], Target: e[1]})
	}

	g, err := graph.New(nodes, graphEdges)
	require.NoError(t, err)

	return g
}

func compilePlan(t *testing.T, titles map[string]string, edges [][2]string) *dsl.ActionPlan {
	t.Helper()

	plan, err := dsl.CompileActions(buildGraph(t, titles, edges))
	require.NoError(t, err)

	return plan
}

func newTestScheduler(rec *recorder) *Scheduler {
	registry := runner.NewRegistry(testLogger())
	registry.Register(rec)

	s := NewScheduler(registry, secrets.NewMemoryStore(), testLogger())
	s.PollInterval = 10 * time.Millisecond

	return s
}

func TestScheduler_LinearChainStrictOrder(t *testing.T) {
	rec := newRecorder("test.record")
	s := newTestScheduler(rec)

	plan := compilePlan(t,
		map[string]string{"1": "Action A", "2": "Action B", "3": "Action C"},
		[][2]string{{"1", "2"}, {"2", "3"}},
	)

	report, err := s.Run(context.Background(), "run-1", plan, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, report.Status)
	assert.Equal(t, []string{"action_a", "action_b", "action_c"}, rec.callOrder())

	for _, ref := range []string{"action_a", "action_b", "action_c"} {
		assert.Equal(t, StatusSuccess, report.Statuses[ref])
	}
}

func TestScheduler_KiteJoinWaitsForAllBranches(t *testing.T) {
	rec := newRecorder("test.record")
	s := newTestScheduler(rec)

	plan := compilePlan(t,
		map[string]string{
			"1": "A", "2": "B", "3": "C", "4": "D", "5": "E", "6": "F", "7": "G",
		},
		[][2]string{
			{"1", "2"}, {"1", "4"},
			{"2", "3"}, {"4", "5"},
			{"3", "6"}, {"5", "6"},
			{"6", "7"},
		},
	)

	report, err := s.Run(context.Background(), "run-kite", plan, nil, nil)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, report.Status)

	order := rec.callOrder()
	position := make(map[string]int, len(order))

	for i, ref := range order {
		position[ref] = i
	}

	require.Len(t, order, 7)
	assert.Less(t, position["c"], position["f"])
	assert.Less(t, position["e"], position["f"])
	assert.Less(t, position["f"], position["g"])

	// The join node ran exactly once even though two parents fanned in.
	count := 0
	for _, ref := range order {
		if ref == "f" {
			count++
		}
	}

	assert.Equal(t, 1, count)
}

func TestScheduler_FailureStopsBranchOnly(t *testing.T) {
	rec := newRecorder("test.record")
	rec.failAt["b"] = errors.New("boom")

	s := newTestScheduler(rec)

	// A -> {B -> D, C}.
	plan := compilePlan(t,
		map[string]string{"1": "A", "2": "B", "3": "C", "4": "D"},
		[][2]string{{"1", "2"}, {"1", "3"}, {"2", "4"}},
	)

	report, err := s.Run(context.Background(), "run-fail", plan, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, StatusFailure, report.Status)
	assert.Equal(t, StatusFailure, report.Statuses["b"])
	assert.Equal(t, StatusSuccess, report.Statuses["c"])
	assert.Contains(t, report.Errors, "b")

	// D is downstream of the failed branch and never ran.
	_, ran := rec.calls("d")
	assert.False(t, ran)
}

func TestScheduler_ShouldContinueFalseShortCircuits(t *testing.T) {
	rec := newRecorder("test.record")
	rec.haltAt["b"] = true

	s := newTestScheduler(rec)

	plan := compilePlan(t,
		map[string]string{"1": "A", "2": "B", "3": "C"},
		[][2]string{{"1", "2"}, {"2", "3"}},
	)

	report, err := s.Run(context.Background(), "run-halt", plan, nil, nil)
	require.NoError(t, err)

	// A cooperative stop is not a failure.
	assert.Equal(t, StatusSuccess, report.Status)
	assert.Equal(t, StatusSuccess, report.Statuses["b"])

	_, ran := rec.calls("c")
	assert.False(t, ran)
}

func TestScheduler_TrailCarriesTransitiveOutputs(t *testing.T) {
	rec := newRecorder("test.record")
	rec.outputs["a"] = map[string]any{"seed": 7}

	s := newTestScheduler(rec)

	plan := compilePlan(t,
		map[string]string{"1": "A", "2": "B", "3": "C"},
		[][2]string{{"1", "2"}, {"2", "3"}},
	)

	_, err := s.Run(context.Background(), "run-trail", plan, nil, nil)
	require.NoError(t, err)

	// C only depends on B, yet sees A through the transitive trail.
	in, ok := rec.calls("c")
	require.True(t, ok)
	assert.Contains(t, in.Trail, "a")
	assert.Contains(t, in.Trail, "b")
	assert.Equal(t, map[string]any{"seed": 7}, in.Trail["a"].Output)
}

func TestScheduler_TemplatedArgsResolvedBeforeDispatch(t *testing.T) {
	registry := runner.NewRegistry(testLogger())
	rec := newRecorder("test.record")
	rec.outputs["fetch"] = map[string]any{"count": 5}
	registry.Register(rec)

	store := secrets.NewMemoryStore()
	store.Set("api", secrets.KV{Key: "TOKEN", Value: "tok-123"})

	s := NewScheduler(registry, store, testLogger())
	s.PollInterval = 10 * time.Millisecond

	plan := compilePlan(t,
		map[string]string{"1": "Fetch", "2": "Use"},
		[][2]string{{"1", "2"}},
	)

	use, ok := plan.Statement("use")
	require.True(t, ok)
	use.Args = map[string]any{
		"n":     "${{ ACTIONS.fetch.result.count -> int }}",
		"token": "${{ SECRETS.api.TOKEN }}",
		"who":   "${{ INPUTS.name }}",
	}

	report, err := s.Run(context.Background(), "run-tmpl", plan, map[string]any{"name": "acme"}, nil)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, report.Status, "errors: %v", report.Errors)

	in, ok := rec.calls("use")
	require.True(t, ok)
	assert.Equal(t, 5, in.Args["n"])
	assert.Equal(t, "tok-123", in.Args["token"])
	assert.Equal(t, "acme", in.Args["who"])
}

func TestScheduler_TriggerPayloadMergedIntoEntrypoint(t *testing.T) {
	rec := newRecorder("test.record")
	s := newTestScheduler(rec)

	plan := compilePlan(t, map[string]string{"1": "Entry"}, nil)

	entry, _ := plan.Statement("entry")
	entry.Args = map[string]any{"static": "x", "overridden": "old"}

	report, err := s.Run(context.Background(), "run-kwargs", plan, nil,
		map[string]any{"overridden": "new", "extra": 1})
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, report.Status)

	in, _ := rec.calls("entry")
	assert.Equal(t, "x", in.Args["static"])
	assert.Equal(t, "new", in.Args["overridden"])
	assert.Equal(t, 1, in.Args["extra"])
}

func TestScheduler_RunIfFalseSkips(t *testing.T) {
	rec := newRecorder("test.record")
	s := newTestScheduler(rec)

	plan := compilePlan(t,
		map[string]string{"1": "A", "2": "B", "3": "C"},
		[][2]string{{"1", "2"}, {"2", "3"}},
	)

	b, _ := plan.Statement("b")
	b.RunIf = "${{ INPUTS.enabled }}"

	report, err := s.Run(context.Background(), "run-guard", plan, map[string]any{"enabled": false}, nil)
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, report.Status)
	assert.Equal(t, StatusSuccess, report.Statuses["b"])

	_, ranB := rec.calls("b")
	assert.False(t, ranB, "guarded action must not dispatch")

	_, ranC := rec.calls("c")
	assert.False(t, ranC, "downstream of a skipped action must not run")
}

func TestScheduler_ForEachFansOut(t *testing.T) {
	rec := newRecorder("test.record")
	rec.outputs["seed"] = map[string]any{"items": []any{"x", "y", "z"}}

	s := newTestScheduler(rec)

	plan := compilePlan(t,
		map[string]string{"1": "Seed", "2": "Each"},
		[][2]string{{"1", "2"}},
	)

	each, _ := plan.Statement("each")
	each.ForEach = "${{ ACTIONS.seed.result.items }}"
	each.Args = map[string]any{"value": "${{ ITEM }}"}

	report, err := s.Run(context.Background(), "run-each", plan, nil, nil)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, report.Status, "errors: %v", report.Errors)

	// Three invocations recorded under the same ref.
	count := 0
	for _, ref := range rec.callOrder() {
		if ref == "each" {
			count++
		}
	}

	assert.Equal(t, 3, count)
}

func TestScheduler_DependencyTimeout(t *testing.T) {
	registry := runner.NewRegistry(testLogger())
	rec := newRecorder("test.record")
	registry.Register(rec)

	s := NewScheduler(registry, nil, testLogger())
	s.PollInterval = 10 * time.Millisecond
	s.PendingTimeout = 100 * time.Millisecond

	plan := compilePlan(t,
		map[string]string{"1": "A", "2": "B"},
		[][2]string{{"1", "2"}},
	)

	ec := NewExecutionContext("run-timeout")
	b, _ := plan.Statement("b")

	// Enqueue B directly without ever running A: its dependency wait must
	// expire.
	err := s.awaitDependencies(context.Background(), ec, b)
	require.Error(t, err)

	var timeoutErr *DependencyTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, "b", timeoutErr.Ref)
}

func TestScheduler_CancelMarksRemainder(t *testing.T) {
	registry := runner.NewRegistry(testLogger())

	blocking := &blockingRunner{release: make(chan struct{}), started: make(chan struct{})}
	registry.Register(blocking)

	s := NewScheduler(registry, nil, testLogger())
	s.PollInterval = 10 * time.Millisecond

	plan := compilePlan(t,
		map[string]string{"1": "A", "2": "B"},
		[][2]string{{"1", "2"}},
	)

	ctx, cancel := context.WithCancel(context.Background())

	type outcome struct {
		report *Report
		err    error
	}

	done := make(chan outcome, 1)

	go func() {
		report, err := s.Run(ctx, "run-cancel", plan, nil, nil)
		done <- outcome{report: report, err: err}
	}()

	<-blocking.started
	cancel()
	close(blocking.release)

	got := <-done
	require.NoError(t, got.err)
	assert.Equal(t, StatusCanceled, got.report.Status)
}

type blockingRunner struct {
	release chan struct{}
	started chan struct{}
	once    sync.Once
}

func (b *blockingRunner) Type() string { return "test.record" }

func (b *blockingRunner) Run(ctx context.Context, _ runner.Input) (*runner.Result, error) {
	b.once.Do(func() {
		if b.started != nil {
			close(b.started)
		}
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.release:
		return &runner.Result{ShouldContinue: true}, nil
	}
}

func TestScheduler_OnActionObservesOutcomes(t *testing.T) {
	rec := newRecorder("test.record")
	rec.failAt["b"] = errors.New("boom")

	s := newTestScheduler(rec)

	type observed struct {
		ref string
		res *runner.Result
		err error
	}

	var (
		mu   sync.Mutex
		seen []observed
	)

	s.OnAction = func(_ context.Context, ref string, res *runner.Result, _ time.Duration, err error) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, observed{ref: ref, res: res, err: err})
	}

	plan := compilePlan(t,
		map[string]string{"1": "A", "2": "B"},
		[][2]string{{"1", "2"}},
	)

	report, err := s.Run(context.Background(), "run-hook", plan, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusFailure, report.Status)

	mu.Lock()
	defer mu.Unlock()

	require.Len(t, seen, 2)

	assert.Equal(t, "a", seen[0].ref)
	require.NotNil(t, seen[0].res)
	require.NoError(t, seen[0].err)

	assert.Equal(t, "b", seen[1].ref)
	assert.Nil(t, seen[1].res)
	require.Error(t, seen[1].err)
	assert.Contains(t, seen[1].err.Error(), "boom")
}
