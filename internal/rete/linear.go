package rete

import (
	"github.com/fluxrules/ruleengine/internal/condition"
	"golang.org/x/exp/slices"
)

// ConditionIndex is a field -> candidate-rule index used by the linear
// fallback evaluator, mirroring the reference engine's ConditionIndex: it
// narrows the rules worth evaluating for a given event without building a
// full discrimination network.
type ConditionIndex struct {
	fieldToRules map[string][]RuleInput
	all          []RuleInput
}

// BuildConditionIndex indexes rules by every field their condition tree
// references.
func BuildConditionIndex(rules []RuleInput) *ConditionIndex {
	idx := &ConditionIndex{fieldToRules: make(map[string][]RuleInput), all: rules}
	for _, r := range rules {
		for _, f := range extractFields(r.Condition) {
			idx.fieldToRules[f] = append(idx.fieldToRules[f], r)
		}
	}
	return idx
}

// Candidates returns every rule that references at least one field present
// in event, deduplicated and sorted by priority descending then id
// ascending (the same order RETE's terminal phase produces).
func (idx *ConditionIndex) Candidates(event condition.Event) []RuleInput {
	seen := make(map[string]bool)
	var out []RuleInput
	for field := range event {
		for _, r := range idx.fieldToRules[field] {
			if !seen[r.ID] {
				seen[r.ID] = true
				out = append(out, r)
			}
		}
	}
	slices.SortStableFunc(out, func(a, b RuleInput) bool {
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.ID < b.ID
	})
	return out
}

func extractFields(n *condition.Node) []string {
	if n == nil {
		return nil
	}
	switch n.Type {
	case condition.TypeCondition:
		return []string{n.Field}
	case condition.TypeGroup:
		var fields []string
		for _, c := range n.Children {
			fields = append(fields, extractFields(c)...)
		}
		return fields
	default:
		return nil
	}
}

// EvaluateLinear evaluates every rule directly against its condition tree,
// with no shared network — a conformance reference and a degrade-to-correct
// fallback if network compilation ever fails. Deliberately does not narrow
// to ConditionIndex's candidates: a rule built entirely from exists/
// not_exists checks on fields absent from the event can still match, and
// the field index (like the network's alpha index) only covers fields the
// event actually carries. Its output must always equal Network.Evaluate's
// for the same rules and event.
func EvaluateLinear(rules []RuleInput, event condition.Event) []Match {
	matches := make([]Match, 0, len(rules))
	for _, r := range rules {
		if condition.Evaluate(r.Condition, event) {
			matches = append(matches, Match{
				RuleID: r.ID, RuleName: r.Name, Group: r.Group, Priority: r.Priority,
			})
		}
	}
	slices.SortStableFunc(matches, func(a, b Match) bool {
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.RuleID < b.RuleID
	})
	return matches
}
