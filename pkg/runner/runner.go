// Package runner owns the action dispatch contract: mapping a namespaced
// action type to the function that executes it. Runners receive fully
// resolved arguments; template syntax never crosses this boundary.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Input is everything a dispatched action sees for one invocation.
type Input struct {
	Ref   string
	Title string
	Args  map[string]any
	// Trail maps every ancestor ref to its recorded result. Runners that
	// aggregate upstream outputs read it; most ignore it.
	Trail map[string]Result
}

// Result is the outcome of one action invocation. ShouldContinue false is a
// cooperative short-circuit: the scheduler records the result but does not
// enqueue downstream nodes.
type Result struct {
	Output         any  `json:"output"`
	ShouldContinue bool `json:"should_continue"`
}

// Runner executes one action type.
type Runner interface {
	Type() string
	Run(ctx context.Context, in Input) (*Result, error)
}

// RetryRequestedError is a cooperative "not fatal, try again" signal raised
// by a runner. The durable scheduler retries it with backoff instead of
// failing the node; the in-process scheduler treats it as a plain failure.
type RetryRequestedError struct {
	Reason string
}

func (e *RetryRequestedError) Error() string {
	return "retry requested: " + e.Reason
}

// RetryRequested wraps a transient condition in the retry signal.
func RetryRequested(reason string) error {
	return &RetryRequestedError{Reason: reason}
}

// IsRetryRequested reports whether err carries the retry signal.
func IsRetryRequested(err error) bool {
	var target *RetryRequestedError

	return errors.As(err, &target)
}

// UnknownActionError identifies an unresolved action type at dispatch time.
type UnknownActionError struct {
	ActionType string
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("action type %q not registered", e.ActionType)
}

// Registry is the dispatch table.
type Registry struct {
	mu      sync.RWMutex
	logger  *slog.Logger
	runners map[string]Runner
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:  logger.With("module", "runner_registry"),
		runners: make(map[string]Runner),
	}
}

// Register adds a runner, replacing any previous registration of the same
// type.
func (r *Registry) Register(runner Runner) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.runners[runner.Type()] = runner
}

// Types returns the registered action types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.runners))
	for t := range r.runners {
		out = append(out, t)
	}

	return out
}

// Dispatch invokes the runner registered for actionType.
func (r *Registry) Dispatch(ctx context.Context, actionType string, in Input) (*Result, error) {
	r.mu.RLock()
	runner, ok := r.runners[actionType]
	r.mu.RUnlock()

	if !ok {
		return nil, &UnknownActionError{ActionType: actionType}
	}

	r.logger.DebugContext(ctx, "Dispatching action", "action_type", actionType, "ref", in.Ref)

	return runner.Run(ctx, in)
}
