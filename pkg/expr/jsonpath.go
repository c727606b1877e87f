package expr

import (
	"fmt"
	"strings"

	"github.com/itchyny/gojq"
)

// EvalJSONPath resolves a JSONPath-style expression ("$.a.b", "a.b[*].c",
// "$.items[0].id") against an operand. Zero matches is an error; exactly one
// match unwraps to the scalar; multiple matches return the list of
// per-match values.
func EvalJSONPath(path string, operand any) (any, error) {
	query, err := gojq.Parse(toJQ(path))
	if err != nil {
		return nil, fmt.Errorf("invalid path %q: %w", path, err)
	}

	var matches []any

	iter := query.Run(normalize(operand))

	for {
		v, ok := iter.Next()
		if !ok {
			break
		}

		if _, isErr := v.(error); isErr {
			// Structural mismatch along the way is the same as no match.
			continue
		}

		if v == nil {
			continue
		}

		matches = append(matches, v)
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("Operand has no path %q", path)
	case 1:
		return matches[0], nil
	default:
		return matches, nil
	}
}

// toJQ rewrites the accepted JSONPath dialect into a gojq query: the leading
// "$" is dropped, "[*]" wildcards become optional iterators, and segments
// that are not gojq identifiers (refs may start with a digit) are emitted in
// quoted index syntax.
func toJQ(path string) string {
	q := strings.TrimSpace(path)
	q = strings.TrimPrefix(q, "$")
	q = strings.TrimPrefix(q, ".")

	var b strings.Builder

	for _, seg := range strings.Split(q, ".") {
		name, brackets, found := strings.Cut(seg, "[")
		if found {
			brackets = "[" + brackets
		}

		switch {
		case name == "":
		case isJQIdent(name):
			b.WriteString("." + name)
		case b.Len() == 0:
			fmt.Fprintf(&b, ".[%q]", name)
		default:
			fmt.Fprintf(&b, "[%q]", name)
		}

		if brackets != "" {
			if b.Len() == 0 {
				b.WriteString(".")
			}

			b.WriteString(strings.ReplaceAll(brackets, "[*]", "[]?"))
		}
	}

	if b.Len() == 0 {
		return "."
	}

	return b.String()
}

func isJQIdent(s string) bool {
	for i, r := range s {
		switch {
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}

	return s != ""
}

// normalize rebuilds a value out of the JSON-compatible types gojq operates
// on. Action outputs are plain Go values and may contain ints or nested
// typed maps that never went through encoding/json.
func normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalize(item)
		}

		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}

		return out
	case int:
		return val
	case int32:
		return int(val)
	case int64:
		return int(val)
	case float32:
		return float64(val)
	case string, float64, bool, nil:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}
