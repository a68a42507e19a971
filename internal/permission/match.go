package permission

import "strings"

// targetFields are the input fields a rule pattern is matched against,
// in order of preference.
var targetFields = []string{"file_path", "path", "command"}

// Match returns the first rule that applies to toolName and input.
func Match(rules []Rule, toolName string, input map[string]any) (Rule, bool) {
	for _, r := range rules {
		if r.Tool != "*" && r.Tool != toolName {
			continue
		}
		if r.Pattern == "" {
			return r, true
		}
		target, ok := matchTarget(input)
		if !ok {
			continue
		}
		if strings.Contains(target, stripGlob(r.Pattern)) {
			return r, true
		}
	}
	return Rule{}, false
}

// matchTarget returns the first present string field among targetFields.
func matchTarget(input map[string]any) (string, bool) {
	for _, field := range targetFields {
		if v, ok := input[field].(string); ok {
			return v, true
		}
	}
	return "", false
}

func stripGlob(pattern string) string {
	return strings.ReplaceAll(pattern, "*", "")
}
