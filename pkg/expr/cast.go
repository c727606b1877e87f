package expr

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// CastError reports a resolved value that could not be coerced to the
// requested target type.
type CastError struct {
	Target string
	Value  any
}

func (e *CastError) Error() string {
	return fmt.Sprintf("cannot cast %s value %v to %s", typeName(e.Value), e.Value, e.Target)
}

// cast applies the "-> type" suffix of a template expression. An empty
// target defaults to the identity (the str coercion only happens for inline
// substitution, which is handled by the caller).
func cast(v any, target string) (any, error) {
	switch target {
	case "", "str":
		if target == "" {
			return v, nil
		}

		return stringify(v), nil
	case "int":
		switch val := v.(type) {
		case int:
			return val, nil
		case int64:
			return int(val), nil
		case float64:
			return int(val), nil
		case string:
			n, err := strconv.Atoi(val)
			if err != nil {
				return nil, &CastError{Target: "int", Value: v}
			}

			return n, nil
		case bool:
			if val {
				return 1, nil
			}

			return 0, nil
		default:
			return nil, &CastError{Target: "int", Value: v}
		}
	case "float":
		switch val := v.(type) {
		case float64:
			return val, nil
		case int:
			return float64(val), nil
		case int64:
			return float64(val), nil
		case string:
			f, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return nil, &CastError{Target: "float", Value: v}
			}

			return f, nil
		default:
			return nil, &CastError{Target: "float", Value: v}
		}
	default:
		return nil, fmt.Errorf("unknown cast target %q", target)
	}
}

// stringify renders a value the way it would appear inside a larger string.
func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case nil:
		return ""
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}

		return string(raw)
	}
}

// typeName names a Go value the way template authors see types.
func typeName(v any) string {
	switch v.(type) {
	case string:
		return "str"
	case int, int64:
		return "int"
	case float64:
		return "float"
	case bool:
		return "bool"
	case []any:
		return "list"
	case map[string]any:
		return "dict"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", v)
	}
}
