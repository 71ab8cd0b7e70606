package condition

import (
	"fmt"
	"log/slog"
	"reflect"
	"regexp"
	"strings"
)

// Event is the flat map of fields a condition tree is evaluated against.
type Event map[string]any

// Evaluate walks the tree and returns whether it matches event. Any
// comparison failure (type mismatch, bad regex, nil value) collapses to
// false rather than propagating an error — the evaluator never panics and
// never returns an error, matching the original engine's "exceptions never
// reach the caller" behavior.
func Evaluate(n *Node, event Event) bool {
	if n == nil {
		return false
	}
	switch n.Type {
	case TypeCondition:
		return evaluateCondition(n, event)
	case TypeGroup:
		return evaluateGroup(n, event)
	default:
		return false
	}
}

func evaluateGroup(n *Node, event Event) bool {
	switch n.Connective {
	case ConnAnd:
		for _, c := range n.Children {
			if !Evaluate(c, event) {
				return false
			}
		}
		return true
	case ConnOr:
		if len(n.Children) == 0 {
			return true // empty group is vacuously true, as for AND
		}
		for _, c := range n.Children {
			if Evaluate(c, event) {
				return true
			}
		}
		return false
	case ConnNot:
		if len(n.Children) == 0 {
			return false
		}
		// Only the first child is negated; any extras are ignored, matching
		// the RETE compiler's handling of a NOT group that slipped past
		// Validate.
		return !Evaluate(n.Children[0], event)
	default:
		return false
	}
}

func evaluateCondition(n *Node, event Event) (result bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Debug("condition: evaluation panic, collapsing to false",
				"field", n.Field, "operator", n.Op, "recovered", r)
			result = false
		}
	}()

	eventValue, present := event[n.Field]

	switch n.Op {
	case OpExists:
		return present
	case OpNotExists:
		return !present
	}

	if !present || eventValue == nil {
		return false
	}

	switch n.Op {
	case OpEq:
		return looseEqual(eventValue, n.Value)
	case OpNe:
		return !looseEqual(eventValue, n.Value)
	case OpGt, OpGte, OpLt, OpLte:
		return compareNumeric(eventValue, n.Value, n.Op)
	case OpIn:
		return membership(n.Value, eventValue)
	case OpNotIn:
		if !isList(n.Value) {
			return false
		}
		return !membership(n.Value, eventValue)
	case OpContains:
		return contains(eventValue, n.Value)
	case OpStartsWith:
		return strings.HasPrefix(toString(eventValue), toString(n.Value))
	case OpEndsWith:
		return strings.HasSuffix(toString(eventValue), toString(n.Value))
	case OpRegex:
		return regexPrefixMatch(toString(eventValue), toString(n.Value))
	default:
		slog.Debug("condition: unknown operator, collapsing to false", "operator", n.Op)
		return false
	}
}

// looseEqual compares by converting both sides through numeric coercion
// when both look numeric, otherwise falls back to reflect.DeepEqual — this
// mirrors the original's dynamically-typed `==`.
func looseEqual(a, b any) bool {
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af == bf
		}
	}
	return reflect.DeepEqual(a, b)
}

func compareNumeric(eventValue, target any, op Operator) bool {
	af, aok := asFloat(eventValue)
	bf, bok := asFloat(target)
	if !aok || !bok {
		return false
	}
	switch op {
	case OpGt:
		return af > bf
	case OpGte:
		return af >= bf
	case OpLt:
		return af < bf
	case OpLte:
		return af <= bf
	}
	return false
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint64:
		return float64(x), true
	default:
		return 0, false
	}
}

// membership implements the `in`/`not_in` operators: target must be a slice
// and eventValue is tested for presence in it.
func membership(target any, eventValue any) bool {
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return false
	}
	for i := 0; i < rv.Len(); i++ {
		if looseEqual(rv.Index(i).Interface(), eventValue) {
			return true
		}
	}
	return false
}

// isList reports whether v is a slice or array, the only shapes `in`/`not_in`
// accept as a target. Kept symmetric with membership's own check so the two
// operators agree on what counts as a list rather than just negating each
// other's result.
func isList(v any) bool {
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array
}

// contains implements the overloaded `contains` operator: substring test
// when eventValue is a string, element membership when it's a slice —
// the same dispatch Python's `in` performs implicitly.
func contains(eventValue, target any) bool {
	switch v := eventValue.(type) {
	case string:
		return strings.Contains(v, toString(target))
	default:
		rv := reflect.ValueOf(eventValue)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return false
		}
		for i := 0; i < rv.Len(); i++ {
			if looseEqual(rv.Index(i).Interface(), target) {
				return true
			}
		}
		return false
	}
}

// regexPrefixMatch matches the way Python's re.match does: the pattern must
// match starting at position 0, but need not consume the whole string.
func regexPrefixMatch(value, pattern string) bool {
	re, err := regexp.Compile(pattern)
	if err != nil {
		slog.Debug("condition: invalid regex, collapsing to false", "pattern", pattern, "err", err)
		return false
	}
	loc := re.FindStringIndex(value)
	return loc != nil && loc[0] == 0
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
