package orchestrator

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Variable references use {{name}} with optional dotted paths into nested
// maps: {{response.status_code}}.
var varPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_.]*)\s*\}\}`)

// extractRefs returns the variable names referenced in s.
func extractRefs(s string) []string {
	var refs []string
	for _, m := range varPattern.FindAllStringSubmatch(s, -1) {
		refs = append(refs, m[1])
	}
	return refs
}

// lookupVar resolves a dotted path against the variable bindings.
func lookupVar(vars map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var current any = vars
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// interpolateString substitutes {{name}} references in s. In strict mode an
// unresolved reference is an error; otherwise the reference is left as-is,
// matching how step configs tolerate values that only exist at runtime.
func interpolateString(s string, vars map[string]any, strict bool) (string, error) {
	var firstErr error
	out := varPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := varPattern.FindStringSubmatch(match)[1]
		value, ok := lookupVar(vars, name)
		if !ok {
			if strict && firstErr == nil {
				firstErr = fmt.Errorf("undefined variable %q", name)
			}
			return match
		}
		return fmt.Sprintf("%v", value)
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// interpolateValue walks maps, slices and strings substituting variable
// references. A string that is exactly one {{name}} reference resolves to
// the referenced value itself, preserving its type.
func interpolateValue(value any, vars map[string]any) any {
	switch v := value.(type) {
	case string:
		if m := varPattern.FindStringSubmatch(v); m != nil && m[0] == strings.TrimSpace(v) {
			if resolved, ok := lookupVar(vars, m[1]); ok {
				return resolved
			}
			return v
		}
		out, _ := interpolateString(v, vars, false)
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = interpolateValue(item, vars)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = interpolateValue(item, vars)
		}
		return out
	default:
		return value
	}
}

// comparison operators in match order: two-character operators first.
var operators = []string{"==", "!=", ">=", "<=", ">", "<"}

// evalCondition evaluates a step condition against the current variable
// bindings. Supported forms are a binary comparison of two operands or a
// single operand checked for truthiness. References to undefined variables
// are an error, never a silent skip.
func evalCondition(cond string, vars map[string]any) (bool, error) {
	cond = strings.TrimSpace(cond)
	if cond == "" {
		return true, nil
	}

	for _, op := range operators {
		idx := strings.Index(cond, " "+op+" ")
		if idx < 0 {
			continue
		}
		left, err := interpolateString(strings.TrimSpace(cond[:idx]), vars, true)
		if err != nil {
			return false, err
		}
		right, err := interpolateString(strings.TrimSpace(cond[idx+len(op)+2:]), vars, true)
		if err != nil {
			return false, err
		}
		return compare(left, right, op)
	}

	value, err := interpolateString(cond, vars, true)
	if err != nil {
		return false, err
	}
	return truthy(value), nil
}

func compare(left, right, op string) (bool, error) {
	lf, lok := parseNumber(left)
	rf, rok := parseNumber(right)
	if lok && rok {
		switch op {
		case "==":
			return lf == rf, nil
		case "!=":
			return lf != rf, nil
		case ">":
			return lf > rf, nil
		case ">=":
			return lf >= rf, nil
		case "<":
			return lf < rf, nil
		case "<=":
			return lf <= rf, nil
		}
	}
	switch op {
	case "==":
		return left == right, nil
	case "!=":
		return left != right, nil
	case ">", ">=", "<", "<=":
		return false, fmt.Errorf("operator %s requires numeric operands, got %q and %q", op, left, right)
	}
	return false, fmt.Errorf("unknown operator %s", op)
}

func parseNumber(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f, err == nil
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "false", "0", "nil", "null":
		return false
	default:
		return true
	}
}
