package runner_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftd/weft/pkg/runner"
)

type echoRunner struct{}

func (echoRunner) Type() string { return "test.echo" }

func (echoRunner) Run(_ context.Context, in runner.Input) (*runner.Result, error) {
	return &runner.Result{Output: in.Args, ShouldContinue: true}, nil
}

func TestDispatch_RegisteredRunner(t *testing.T) {
	reg := runner.NewRegistry(slog.Default())
	reg.Register(echoRunner{})

	result, err := reg.Dispatch(context.Background(), "test.echo", runner.Input{
		Ref:  "echo",
		Args: map[string]any{"k": "v"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"k": "v"}, result.Output)
}

func TestDispatch_UnknownType(t *testing.T) {
	reg := runner.NewRegistry(slog.Default())

	_, err := reg.Dispatch(context.Background(), "test.ghost", runner.Input{Ref: "x"})
	require.Error(t, err)

	var unknown *runner.UnknownActionError

	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "test.ghost", unknown.ActionType)
}

func TestRetrySignal(t *testing.T) {
	err := runner.RetryRequested("upstream flapping")
	assert.True(t, runner.IsRetryRequested(err))
	assert.False(t, runner.IsRetryRequested(context.Canceled))
}
