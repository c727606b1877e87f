package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOperand() Operand {
	return Operand{
		NamespaceInputs: map[string]any{
			"name":  "acme",
			"count": 3,
		},
		NamespaceActions: map[string]any{
			"webhook": map[string]any{
				"result": 42,
				"ratio":  0.5,
				"tag":    "blue",
			},
			"fetch": map[string]any{
				"list_nested": []any{
					map[string]any{"a": "1"},
					map[string]any{"a": "3"},
				},
			},
		},
		NamespaceTrigger: map[string]any{"source": "manual"},
		NamespaceSecrets: map[string]any{
			"s": map[string]any{"K": "v"},
		},
	}
}

func TestEvaluate_WholeTokenKeepsNativeType(t *testing.T) {
	operand := testOperand()

	out, err := Evaluate("${{ ACTIONS.webhook.result -> int }}", operand)
	require.NoError(t, err)
	assert.Equal(t, 42, out)

	out, err = Evaluate("${{ ACTIONS.webhook.ratio -> float }}", operand)
	require.NoError(t, err)
	assert.Equal(t, 0.5, out)

	out, err = Evaluate("${{ ACTIONS.webhook.tag -> str }}", operand)
	require.NoError(t, err)
	assert.Equal(t, "blue", out)

	// No cast: the native type survives.
	out, err = Evaluate("${{ ACTIONS.webhook.result }}", operand)
	require.NoError(t, err)
	assert.Equal(t, 42, out)
}

func TestEvaluate_WholeTokenWithSurroundingSpace(t *testing.T) {
	out, err := Evaluate("  ${{ INPUTS.count }}  ", testOperand())
	require.NoError(t, err)
	assert.Equal(t, 3, out)
}

func TestEvaluate_InlineConcatenatesStrings(t *testing.T) {
	out, err := Evaluate("${{ ACTIONS.webhook.tag }}-${{ TRIGGER.source }}", testOperand())
	require.NoError(t, err)
	assert.Equal(t, "blue-manual", out)
}

func TestEvaluate_InlineNonStringFails(t *testing.T) {
	_, err := Evaluate("count: ${{ ACTIONS.webhook.result }}", testOperand())
	require.Error(t, err)
	assert.EqualError(t, err, "expected str instance, int found")

	var typeErr *TypeError
	assert.ErrorAs(t, err, &typeErr)
}

func TestEvaluate_InlineCastToIntStillFails(t *testing.T) {
	// An explicit non-str cast does not make a value embeddable.
	_, err := Evaluate("count: ${{ ACTIONS.webhook.result -> int }}", testOperand())
	require.Error(t, err)
	assert.EqualError(t, err, "expected str instance, int found")
}

func TestEvaluate_InlineMixedCastAndRawNonString(t *testing.T) {
	_, err := Evaluate("${{ ACTIONS.webhook.result -> str }} of ${{ INPUTS.count }}", testOperand())
	require.Error(t, err)
	assert.EqualError(t, err, "expected str instance, int found")
}

func TestEvaluate_InlineStrCastEmbeds(t *testing.T) {
	out, err := Evaluate("count: ${{ ACTIONS.webhook.result -> str }}", testOperand())
	require.NoError(t, err)
	assert.Equal(t, "count: 42", out)
}

func TestEvaluate_NestedStructures(t *testing.T) {
	args := map[string]any{
		"url": "https://${{ INPUTS.name }}.example.com",
		"payload": map[string]any{
			"n":     "${{ INPUTS.count -> int }}",
			"plain": true,
		},
		"tags": []any{"${{ ACTIONS.webhook.tag }}", "static"},
	}

	out, err := Evaluate(args, testOperand())
	require.NoError(t, err)

	resolved := out.(map[string]any)
	assert.Equal(t, "https://acme.example.com", resolved["url"])
	assert.Equal(t, 3, resolved["payload"].(map[string]any)["n"])
	assert.Equal(t, true, resolved["payload"].(map[string]any)["plain"])
	assert.Equal(t, []any{"blue", "static"}, resolved["tags"])
}

func TestEvaluate_SecretSubstitution(t *testing.T) {
	out, err := Evaluate("${{ SECRETS.s.K }}", testOperand())
	require.NoError(t, err)
	assert.Equal(t, "v", out)
}

func TestEvaluate_BareDelimiterAccepted(t *testing.T) {
	out, err := Evaluate("{{ INPUTS.name }}", testOperand())
	require.NoError(t, err)
	assert.Equal(t, "acme", out)
}

func TestEvaluate_UnknownContext(t *testing.T) {
	_, err := Evaluate("${{ BOGUS.path }}", testOperand())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown context")
}

func TestEvaluate_CastFailureNamesTarget(t *testing.T) {
	_, err := Evaluate("${{ ACTIONS.webhook.tag -> int }}", testOperand())
	require.Error(t, err)

	var castErr *CastError
	require.ErrorAs(t, err, &castErr)
	assert.Equal(t, "int", castErr.Target)
}

func TestEvalJSONPath_MultiMatch(t *testing.T) {
	operand := map[string]any{
		"list_nested": []any{
			map[string]any{"a": "1"},
			map[string]any{"a": "3"},
		},
	}

	out, err := EvalJSONPath("$.list_nested[*].a", operand)
	require.NoError(t, err)
	assert.Equal(t, []any{"1", "3"}, out)
}

func TestEvalJSONPath_SingleMatchUnwraps(t *testing.T) {
	out, err := EvalJSONPath("$.a.b", map[string]any{"a": map[string]any{"b": 7}})
	require.NoError(t, err)
	assert.Equal(t, 7, out)
}

func TestEvalJSONPath_IndexedAccess(t *testing.T) {
	out, err := EvalJSONPath("$.items[0]", map[string]any{"items": []any{"x", "y"}})
	require.NoError(t, err)
	assert.Equal(t, "x", out)
}

func TestEvalJSONPath_DigitLeadingSegment(t *testing.T) {
	// Refs slug from titles and may start with a digit ("2FA check" ->
	// "2fa_check"); such segments are not bare gojq identifiers.
	operand := map[string]any{
		"ACTIONS": map[string]any{
			"2fa_check": map[string]any{"result": true},
		},
	}

	out, err := EvalJSONPath("$.ACTIONS.2fa_check.result", operand)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestEvalJSONPath_DigitLeadingSegmentWithWildcard(t *testing.T) {
	operand := map[string]any{
		"2nd_batch": []any{
			map[string]any{"id": "a"},
			map[string]any{"id": "b"},
		},
	}

	out, err := EvalJSONPath("$.2nd_batch[*].id", operand)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, out)
}

func TestEvalJSONPath_MissingPath(t *testing.T) {
	_, err := EvalJSONPath("$.x.y.nonexistent", map[string]any{"x": map[string]any{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Operand has no path")
}

func TestExtractSecrets(t *testing.T) {
	args := map[string]any{
		"token":   "${{ SECRETS.github.API_TOKEN }}",
		"again":   "${{ SECRETS.github.OTHER }}",
		"mail":    []any{"${{ SECRETS.smtp.PASSWORD }}"},
		"regular": "${{ INPUTS.name }}",
	}

	assert.Equal(t, []string{"github", "smtp"}, ExtractSecrets(args))
	assert.Empty(t, ExtractSecrets(map[string]any{"x": "static"}))
}

func TestEvalGuard(t *testing.T) {
	operand := testOperand()

	verdict, err := EvalGuard("${{ INPUTS.count > 1 }}", operand)
	require.NoError(t, err)
	assert.True(t, verdict)

	verdict, err = EvalGuard("ACTIONS.webhook.tag == 'red'", operand)
	require.NoError(t, err)
	assert.False(t, verdict)

	_, err = EvalGuard("INPUTS.count + 1", operand)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected bool")
}

func TestEvalCollection(t *testing.T) {
	operand := testOperand()

	items, err := EvalCollection("${{ ACTIONS.fetch.list_nested }}", operand)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	_, err = EvalCollection("${{ INPUTS.count }}", operand)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected list")
}
