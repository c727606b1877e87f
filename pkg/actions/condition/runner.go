// Package condition implements the core.condition action: a cooperative
// gate. When the resolved predicate is false the action succeeds but asks
// the scheduler not to enqueue anything downstream.
package condition

import (
	"context"
	"fmt"

	"github.com/weftd/weft/pkg/runner"
)

type Runner struct{}

func New() *Runner { return &Runner{} }

func (r *Runner) Type() string { return "core.condition" }

func (r *Runner) Run(_ context.Context, in runner.Input) (*runner.Result, error) {
	predicate, ok := in.Args["predicate"].(bool)
	if !ok {
		return nil, fmt.Errorf("action %s: 'predicate' must resolve to a bool", in.Ref)
	}

	return &runner.Result{
		Output:         map[string]any{"passed": predicate},
		ShouldContinue: predicate,
	}, nil
}
