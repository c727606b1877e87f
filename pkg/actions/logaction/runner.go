// Package logaction implements the core.log action.
package logaction

import (
	"context"
	"log/slog"

	"github.com/weftd/weft/pkg/runner"
)

type Runner struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Runner {
	return &Runner{logger: logger.With("module", "log_action")}
}

func (r *Runner) Type() string { return "core.log" }

func (r *Runner) Run(ctx context.Context, in runner.Input) (*runner.Result, error) {
	message, _ := in.Args["message"].(string)

	level, _ := in.Args["level"].(string)
	switch level {
	case "debug":
		r.logger.DebugContext(ctx, message, "ref", in.Ref)
	case "warn":
		r.logger.WarnContext(ctx, message, "ref", in.Ref)
	case "error":
		r.logger.ErrorContext(ctx, message, "ref", in.Ref)
	default:
		r.logger.InfoContext(ctx, message, "ref", in.Ref)
	}

	return &runner.Result{
		Output:         map[string]any{"message": message},
		ShouldContinue: true,
	}, nil
}
