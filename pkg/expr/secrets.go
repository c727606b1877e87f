package expr

import (
	"sort"
	"strings"
)

// ExtractSecrets scans a nested argument structure for SECRETS.<name>.<key>
// references without evaluating anything and returns the distinct secret
// names, sorted. The engine batch-fetches this set in one pass before the
// substitution phase instead of hitting the secret store once per
// reference.
func ExtractSecrets(value any) []string {
	names := make(map[string]struct{})
	collectSecrets(value, names)

	out := make([]string, 0, len(names))
	for name := range names {
		out = append(out, name)
	}

	sort.Strings(out)

	return out
}

func collectSecrets(value any, names map[string]struct{}) {
	switch val := value.(type) {
	case string:
		for _, match := range tokenPattern.FindAllStringSubmatch(val, -1) {
			path, _, err := splitCast(match[1])
			if err != nil {
				continue
			}

			namespace, rest, _ := strings.Cut(path, ".")
			if namespace != NamespaceSecrets || rest == "" {
				continue
			}

			name, _, _ := strings.Cut(rest, ".")
			if name != "" {
				names[name] = struct{}{}
			}
		}
	case map[string]any:
		for _, item := range val {
			collectSecrets(item, names)
		}
	case []any:
		for _, item := range val {
			collectSecrets(item, names)
		}
	}
}
