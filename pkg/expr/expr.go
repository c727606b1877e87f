// Package expr resolves ${{ ... }} template expressions inside nested
// argument structures against the runtime operand of a workflow run.
//
// The grammar is CONTEXT.dotted.path optionally followed by "-> type" where
// type is one of int, float and str. A string consisting of exactly one
// token keeps the native type of the resolved value; tokens embedded in
// surrounding text substitute as strings, and resolving a non-string value
// inline is an error.
package expr

import (
	"fmt"
	"regexp"
	"strings"

	exprlang "github.com/expr-lang/expr"
)

// Template tokens: "${{ expr }}" canonical, bare "{{ expr }}" accepted for
// the jsonpath-only legacy form.
var tokenPattern = regexp.MustCompile(`\$?\{\{\s*([^{}]+?)\s*\}\}`)

// Operand holds the top-level namespaces a run exposes to templates. The
// SECRETS namespace is populated by the engine after the batch secret fetch;
// the evaluator itself never talks to the secret store.
type Operand map[string]any

// Namespaces templates may address.
const (
	NamespaceInputs  = "INPUTS"
	NamespaceActions = "ACTIONS"
	NamespaceTrigger = "TRIGGER"
	NamespaceSecrets = "SECRETS"
	// NamespaceItem is only populated inside a for_each iteration and
	// addresses the current element.
	NamespaceItem = "ITEM"
)

var knownNamespaces = map[string]bool{
	NamespaceInputs:  true,
	NamespaceActions: true,
	NamespaceTrigger: true,
	NamespaceSecrets: true,
	NamespaceItem:    true,
}

// TypeError reports an inline substitution that resolved to a non-string.
type TypeError struct {
	Found string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("expected str instance, %s found", e.Found)
}

// Evaluate walks an arbitrarily nested argument structure and resolves every
// template token against the operand. Non-string leaves pass through
// unchanged.
func Evaluate(value any, operand Operand) (any, error) {
	switch val := value.(type) {
	case string:
		return evaluateString(val, operand)
	case map[string]any:
		out := make(map[string]any, len(val))

		for k, item := range val {
			resolved, err := Evaluate(item, operand)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}

			out[k] = resolved
		}

		return out, nil
	case []any:
		out := make([]any, len(val))

		for i, item := range val {
			resolved, err := Evaluate(item, operand)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}

			out[i] = resolved
		}

		return out, nil
	default:
		return value, nil
	}
}

// EvaluateArgs resolves a full argument map. Convenience wrapper used by the
// schedulers.
func EvaluateArgs(args map[string]any, operand Operand) (map[string]any, error) {
	if args == nil {
		return map[string]any{}, nil
	}

	resolved, err := Evaluate(args, operand)
	if err != nil {
		return nil, err
	}

	return resolved.(map[string]any), nil
}

func evaluateString(s string, operand Operand) (any, error) {
	if token, only := wholeToken(s); only {
		return resolveToken(token, operand)
	}

	var evalErr error

	replaced := tokenPattern.ReplaceAllStringFunc(s, func(match string) string {
		if evalErr != nil {
			return match
		}

		token := tokenPattern.FindStringSubmatch(match)[1]

		resolved, err := resolveToken(token, operand)
		if err != nil {
			evalErr = err

			return match
		}

		str, ok := resolved.(string)
		if !ok {
			evalErr = &TypeError{Found: typeName(resolved)}

			return match
		}

		return str
	})

	if evalErr != nil {
		return nil, evalErr
	}

	return replaced, nil
}

// wholeToken reports whether the trimmed string is exactly one template
// token, returning its inner expression.
func wholeToken(s string) (string, bool) {
	trimmed := strings.TrimSpace(s)

	loc := tokenPattern.FindStringIndex(trimmed)
	if loc == nil || loc[0] != 0 || loc[1] != len(trimmed) {
		return "", false
	}

	return tokenPattern.FindStringSubmatch(trimmed)[1], true
}

// resolveToken evaluates one CONTEXT.path [-> type] expression to its typed
// value.
func resolveToken(token string, operand Operand) (any, error) {
	path, target, err := splitCast(token)
	if err != nil {
		return nil, err
	}

	namespace, _, found := strings.Cut(path, ".")
	if !found || !knownNamespaces[namespace] {
		return nil, fmt.Errorf("unknown context in expression %q", token)
	}

	value, err := EvalJSONPath("$."+path, map[string]any(operand))
	if err != nil {
		return nil, err
	}

	return cast(value, target)
}

func splitCast(token string) (path, target string, err error) {
	path, target, found := strings.Cut(token, "->")
	path = strings.TrimSpace(path)
	target = strings.TrimSpace(target)

	if !found {
		return path, "", nil
	}

	switch target {
	case "int", "float", "str":
		return path, target, nil
	default:
		return "", "", fmt.Errorf("unknown cast target %q in expression %q", target, token)
	}
}

// EvalGuard evaluates a run_if guard against the operand namespaces using
// expr-lang. The surrounding template delimiters are optional; the result
// must be a boolean.
func EvalGuard(code string, operand Operand) (bool, error) {
	code = strings.TrimSpace(code)
	if token, only := wholeToken(code); only {
		code = token
	}

	env := map[string]any{
		NamespaceInputs:  operand[NamespaceInputs],
		NamespaceActions: operand[NamespaceActions],
		NamespaceTrigger: operand[NamespaceTrigger],
	}

	out, err := exprlang.Eval(code, env)
	if err != nil {
		return false, fmt.Errorf("guard %q: %w", code, err)
	}

	verdict, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("guard %q: expected bool result, %s found", code, typeName(out))
	}

	return verdict, nil
}

// EvalCollection resolves a for_each expression to the list it iterates.
func EvalCollection(code string, operand Operand) ([]any, error) {
	resolved, err := evaluateString(code, operand)
	if err != nil {
		return nil, err
	}

	switch items := resolved.(type) {
	case []any:
		return items, nil
	default:
		return nil, fmt.Errorf("for_each %q: expected list, %s found", code, typeName(resolved))
	}
}
