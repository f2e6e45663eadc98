package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/careflow/careflow/internal/careflow"
)

// Warning is a structured note about a condition leaf that could not be
// resolved against the context. Warnings end up in the execution snapshot so
// operators can spot misconfigured conditions without the run being aborted.
type Warning struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Evaluate runs a predicate tree against a read-only context snapshot. It is
// pure and total: a nil tree evaluates to true, unresolvable leaves evaluate
// to false (fail-closed) and are reported as warnings, and nothing panics or
// touches the context.
func Evaluate(node *careflow.ConditionNode, context map[string]any) (bool, []Warning) {
	if node == nil {
		return true, nil
	}
	ev := &evaluator{context: context}
	result := ev.eval(node)
	return result, ev.warnings
}

type evaluator struct {
	context  map[string]any
	warnings []Warning
}

func (e *evaluator) eval(n *careflow.ConditionNode) bool {
	if n.IsLeaf() {
		return e.evalLeaf(n)
	}

	switch n.Op {
	case careflow.OpAnd:
		for i := range n.Children {
			if !e.eval(&n.Children[i]) {
				return false
			}
		}
		return true
	case careflow.OpOr:
		for i := range n.Children {
			if e.eval(&n.Children[i]) {
				return true
			}
		}
		return false
	case careflow.OpNot:
		if len(n.Children) != 1 {
			e.warn("", fmt.Sprintf("NOT node has %d children", len(n.Children)))
			return false
		}
		return !e.eval(&n.Children[0])
	default:
		e.warn("", fmt.Sprintf("unknown op %q", n.Op))
		return false
	}
}

func (e *evaluator) evalLeaf(n *careflow.ConditionNode) bool {
	resolved, ok := resolvePath(e.context, n.Field)

	if n.Operator == careflow.CmpIsSet {
		return ok && resolved != nil
	}
	if !ok {
		e.warn(n.Field, "field not present in context")
		return false
	}

	switch n.Operator {
	case careflow.CmpEq:
		return equalValues(resolved, n.Value)
	case careflow.CmpNeq:
		return !equalValues(resolved, n.Value)
	case careflow.CmpGt, careflow.CmpGte, careflow.CmpLt, careflow.CmpLte:
		a, aok := toFloat(resolved)
		b, bok := toFloat(n.Value)
		if !aok || !bok {
			e.warn(n.Field, fmt.Sprintf("%s requires numeric operands", n.Operator))
			return false
		}
		switch n.Operator {
		case careflow.CmpGt:
			return a > b
		case careflow.CmpGte:
			return a >= b
		case careflow.CmpLt:
			return a < b
		default:
			return a <= b
		}
	case careflow.CmpContains:
		return contains(resolved, n.Value)
	default:
		e.warn(n.Field, fmt.Sprintf("unknown operator %q", n.Operator))
		return false
	}
}

func (e *evaluator) warn(field, message string) {
	e.warnings = append(e.warnings, Warning{Field: field, Message: message})
}

// resolvePath walks a dotted path ("patient.total_visits") through nested
// maps. The second return is false when any segment is missing or a
// non-final segment is not a map.
func resolvePath(context map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	var current any = context
	for _, seg := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// equalValues compares numerically when both sides coerce to numbers,
// otherwise as case-sensitive exact strings.
func equalValues(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// toFloat coerces numeric types and numeric strings to float64.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// contains is case-insensitive. For strings it is a substring test; for
// slices (e.g. patient.tags) it is element membership.
func contains(haystack, needle any) bool {
	want := strings.ToLower(fmt.Sprint(needle))
	switch h := haystack.(type) {
	case string:
		return strings.Contains(strings.ToLower(h), want)
	case []string:
		for _, item := range h {
			if strings.ToLower(item) == want {
				return true
			}
		}
		return false
	case []any:
		for _, item := range h {
			if strings.ToLower(fmt.Sprint(item)) == want {
				return true
			}
		}
		return false
	default:
		return strings.Contains(strings.ToLower(fmt.Sprint(haystack)), want)
	}
}
