package condition_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftd/weft/pkg/actions/condition"
	"github.com/weftd/weft/pkg/runner"
)

func TestRun_TruePredicateContinues(t *testing.T) {
	result, err := condition.New().Run(context.Background(), runner.Input{
		Ref:  "gate",
		Args: map[string]any{"predicate": true},
	})
	require.NoError(t, err)
	assert.True(t, result.ShouldContinue)
	assert.Equal(t, map[string]any{"passed": true}, result.Output)
}

func TestRun_FalsePredicateHalts(t *testing.T) {
	result, err := condition.New().Run(context.Background(), runner.Input{
		Ref:  "gate",
		Args: map[string]any{"predicate": false},
	})
	require.NoError(t, err)
	assert.False(t, result.ShouldContinue)
}

func TestRun_NonBoolPredicateFails(t *testing.T) {
	_, err := condition.New().Run(context.Background(), runner.Input{
		Ref:  "gate",
		Args: map[string]any{"predicate": "yes"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "predicate")
}
