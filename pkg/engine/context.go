package engine

import (
	"fmt"
	"sync"

	"github.com/weftd/weft/pkg/dsl"
	"github.com/weftd/weft/pkg/runner"
)

// Trail is the transitive union of ancestor action results visible to a
// node, keyed by ref. Storing the full union per ref trades memory for O(1)
// lookups: a descendant never re-walks the graph to find an ancestor's
// output.
type Trail map[string]runner.Result

func (t Trail) clone() Trail {
	out := make(Trail, len(t))
	for ref, res := range t {
		out[ref] = res
	}

	return out
}

// ActionRun is one ready-to-execute node of a workflow run. Kwargs carries
// the trigger payload and is only populated for the entrypoint.
type ActionRun struct {
	RunID     string
	Statement *dsl.ActionStatement
	Kwargs    map[string]any
}

// ExecutionContext is the sole mutable state shared by the in-flight tasks
// of one workflow run. It is created per run and never shared across runs.
type ExecutionContext struct {
	runID string

	mu      sync.Mutex
	status  map[string]Status
	results map[string]Trail
	failed  map[string]error
	ready   chan *ActionRun
	running map[string]struct{}
}

// queueCapacity bounds the ready queue. A workflow larger than this would
// block producers, which is safe but unexpected; definitions are far
// smaller in practice.
const queueCapacity = 1024

func NewExecutionContext(runID string) *ExecutionContext {
	return &ExecutionContext{
		runID:   runID,
		status:  make(map[string]Status),
		results: make(map[string]Trail),
		failed:  make(map[string]error),
		ready:   make(chan *ActionRun, queueCapacity),
		running: make(map[string]struct{}),
	}
}

func (ec *ExecutionContext) RunID() string { return ec.runID }

// EnqueueReady queues an action run exactly once. A second arrival for the
// same ref (two satisfied parents racing) is dropped: presence in the
// status store is the first-arrival-wins marker.
func (ec *ExecutionContext) EnqueueReady(run *ActionRun) bool {
	ec.mu.Lock()

	ref := run.Statement.Ref

	if _, seen := ec.status[ref]; seen {
		ec.mu.Unlock()

		return false
	}

	if _, inFlight := ec.running[ref]; inFlight {
		ec.mu.Unlock()

		return false
	}

	ec.status[ref] = StatusQueued
	ec.mu.Unlock()

	ec.ready <- run

	return true
}

// Ready exposes the receive side of the ready queue to the scheduler loop.
func (ec *ExecutionContext) Ready() <-chan *ActionRun {
	return ec.ready
}

// MarkStatus advances the status of a ref. Backwards transitions are
// programming errors and rejected.
func (ec *ExecutionContext) MarkStatus(ref string, next Status) error {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	current, seen := ec.status[ref]
	if seen {
		if current.Terminal() || statusRank[next] < statusRank[current] {
			return &StatusTransitionError{Ref: ref, From: current, To: next}
		}
	}

	ec.status[ref] = next

	switch next {
	case StatusRunning:
		ec.running[ref] = struct{}{}
	case StatusSuccess, StatusFailure, StatusCanceled:
		delete(ec.running, ref)
	}

	return nil
}

// Status returns the recorded status of a ref.
func (ec *ExecutionContext) Status(ref string) (Status, bool) {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	s, ok := ec.status[ref]

	return s, ok
}

// RecordResult stores the result of ref along with the transitive union of
// its dependencies' trails.
func (ec *ExecutionContext) RecordResult(ref string, res runner.Result, dependsOn []string) {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	trail := make(Trail)

	for _, dep := range dependsOn {
		for ancestor, ancestorRes := range ec.results[dep] {
			trail[ancestor] = ancestorRes
		}
	}

	trail[ref] = res
	ec.results[ref] = trail
}

// RecordFailure remembers the terminal error of a ref for the run verdict.
func (ec *ExecutionContext) RecordFailure(ref string, err error) {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	ec.failed[ref] = err
}

// Trail returns the merged trail visible to a node with the given
// dependencies.
func (ec *ExecutionContext) Trail(dependsOn []string) Trail {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	trail := make(Trail)

	for _, dep := range dependsOn {
		for ancestor, res := range ec.results[dep] {
			trail[ancestor] = res
		}
	}

	return trail
}

// DependenciesReady reports whether every dependency reached SUCCESS, and
// whether one of them terminally failed or was canceled (in which case the
// waiter will never become ready).
func (ec *ExecutionContext) DependenciesReady(dependsOn []string) (ready bool, broken string) {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	for _, dep := range dependsOn {
		switch ec.status[dep] {
		case StatusSuccess:
		case StatusFailure, StatusCanceled:
			return false, dep
		default:
			return false, ""
		}
	}

	return true, ""
}

// Result returns the recorded result of ref, if any.
func (ec *ExecutionContext) Result(ref string) (runner.Result, bool) {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	trail, ok := ec.results[ref]
	if !ok {
		return runner.Result{}, false
	}

	res, ok := trail[ref]

	return res, ok
}

// Snapshot captures the per-ref statuses, own results and errors for the
// run report.
func (ec *ExecutionContext) Snapshot() (map[string]Status, map[string]runner.Result, map[string]error) {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	statuses := make(map[string]Status, len(ec.status))
	for ref, s := range ec.status {
		statuses[ref] = s
	}

	results := make(map[string]runner.Result, len(ec.results))

	for ref, trail := range ec.results {
		if res, ok := trail[ref]; ok {
			results[ref] = res
		}
	}

	failures := make(map[string]error, len(ec.failed))
	for ref, err := range ec.failed {
		failures[ref] = err
	}

	return statuses, results, failures
}

// CancelRemaining marks every non-terminal ref CANCELED. Called on run-level
// cancellation after in-flight tasks have been stopped.
func (ec *ExecutionContext) CancelRemaining() {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	for ref, s := range ec.status {
		if !s.Terminal() {
			ec.status[ref] = StatusCanceled
			delete(ec.running, ref)
		}
	}
}

// String identifies the context in logs.
func (ec *ExecutionContext) String() string {
	return fmt.Sprintf("execution context %s", ec.runID)
}
