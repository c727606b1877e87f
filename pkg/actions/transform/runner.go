// Package transform implements the core.transform action: it returns its
// resolved "value" argument unchanged. Because argument templating runs
// before dispatch, this is the generic reshape/passthrough node of a
// workflow.
package transform

import (
	"context"
	"fmt"

	"github.com/weftd/weft/pkg/runner"
)

type Runner struct{}

func New() *Runner { return &Runner{} }

func (r *Runner) Type() string { return "core.transform" }

func (r *Runner) Run(_ context.Context, in runner.Input) (*runner.Result, error) {
	value, ok := in.Args["value"]
	if !ok {
		return nil, fmt.Errorf("action %s: missing 'value'", in.Ref)
	}

	return &runner.Result{Output: value, ShouldContinue: true}, nil
}
