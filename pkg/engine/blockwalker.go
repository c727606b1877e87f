package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/weftd/weft/pkg/dsl"
	"github.com/weftd/weft/pkg/expr"
	"github.com/weftd/weft/pkg/runner"
	"github.com/weftd/weft/pkg/secrets"
)

// BlockWalker executes a block plan by structural recursion: sequences run
// in order, parallel branches run concurrently and the join waits for all
// of them. Branch grouping is explicit in the IR so no dependency tracking
// is needed at run time.
type BlockWalker struct {
	registry *runner.Registry
	secrets  secrets.Getter
	logger   *slog.Logger
}

func NewBlockWalker(registry *runner.Registry, secretGetter secrets.Getter, logger *slog.Logger) *BlockWalker {
	return &BlockWalker{
		registry: registry,
		secrets:  secretGetter,
		logger:   logger.With("module", "block_walker"),
	}
}

// blockState accumulates leaf results across branches. Parallel branches
// write concurrently.
type blockState struct {
	mu      sync.Mutex
	results map[string]runner.Result
	inputs  map[string]any
	trigger map[string]any
	stopped bool
}

func (st *blockState) record(ref string, res runner.Result) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.results[ref] = res

	if !res.ShouldContinue {
		st.stopped = true
	}
}

func (st *blockState) shortCircuited() bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	return st.stopped
}

func (st *blockState) trail() map[string]runner.Result {
	st.mu.Lock()
	defer st.mu.Unlock()

	out := make(map[string]runner.Result, len(st.results))
	for ref, res := range st.results {
		out[ref] = res
	}

	return out
}

func (st *blockState) operand() expr.Operand {
	st.mu.Lock()
	defer st.mu.Unlock()

	actions := make(map[string]any, len(st.results))
	for ref, res := range st.results {
		actions[ref] = map[string]any{"result": res.Output}
	}

	return expr.Operand{
		expr.NamespaceInputs:  st.inputs,
		expr.NamespaceActions: actions,
		expr.NamespaceTrigger: st.trigger,
	}
}

// Run walks the plan to completion and returns the per-ref results.
func (w *BlockWalker) Run(ctx context.Context, runID string, plan *dsl.BlockPlan, inputs, trigger map[string]any) (map[string]runner.Result, error) {
	state := &blockState{
		results: make(map[string]runner.Result),
		inputs:  inputs,
		trigger: trigger,
	}

	w.logger.InfoContext(ctx, "Starting block run", "run_id", runID)

	err := w.walk(ctx, plan.Root, state)

	return state.results, err
}

func (w *BlockWalker) walk(ctx context.Context, block *dsl.Block, state *blockState) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if state.shortCircuited() {
		return nil
	}

	switch block.Kind {
	case dsl.BlockKindLeaf:
		return w.runLeaf(ctx, block, state)

	case dsl.BlockKindSequence:
		for _, item := range block.Items {
			if state.shortCircuited() {
				return nil
			}

			if err := w.walk(ctx, item, state); err != nil {
				return err
			}
		}

		return nil

	case dsl.BlockKindParallel:
		g, groupCtx := errgroup.WithContext(ctx)

		for _, branch := range block.Branches {
			g.Go(func() error {
				return w.walk(groupCtx, branch, state)
			})
		}

		return g.Wait()

	default:
		return fmt.Errorf("unknown block kind %q", block.Kind)
	}
}

func (w *BlockWalker) runLeaf(ctx context.Context, block *dsl.Block, state *blockState) error {
	operand := state.operand()

	names := expr.ExtractSecrets(block.Args)
	if len(names) > 0 {
		if w.secrets == nil {
			return fmt.Errorf("action %s references secrets %v but no secret store is configured", block.Ref, names)
		}

		fetched, err := secrets.FetchAll(ctx, w.secrets, names)
		if err != nil {
			return err
		}

		operand[expr.NamespaceSecrets] = fetched
	}

	args, err := expr.EvaluateArgs(block.Args, operand)
	if err != nil {
		return fmt.Errorf("action %s: %w", block.Ref, err)
	}

	res, err := w.registry.Dispatch(ctx, block.Action, runner.Input{
		Ref:   block.Ref,
		Title: block.Ref,
		Args:  args,
		Trail: state.trail(),
	})
	if err != nil {
		return fmt.Errorf("action %s: %w", block.Ref, err)
	}

	state.record(block.Ref, *res)

	w.logger.DebugContext(ctx, "Leaf finished", "ref", block.Ref, "should_continue", res.ShouldContinue)

	return nil
}
