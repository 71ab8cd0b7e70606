// Package depgraph builds a dependency graph over enabled rules: an edge
// between two rules means they reference at least one common event field,
// so a change in that field could affect both.
package depgraph

import (
	"sort"

	"github.com/fluxrules/ruleengine/internal/condition"
)

// RuleNode is one node in the graph.
type RuleNode struct {
	ID       string
	Name     string
	Group    string
	Priority int
}

// Edge connects two rules that share at least one referenced field.
type Edge struct {
	Source       string
	Target       string
	SharedFields []string
}

// Graph is the built dependency graph.
type Graph struct {
	Nodes []RuleNode
	Edges []Edge
}

// RuleInput is what Build needs per rule; callers adapt their own records.
type RuleInput struct {
	ID        string
	Name      string
	Group     string
	Priority  int
	Condition *condition.Node
}

// Build computes the dependency graph over rules using an inverted field
// index: each rule's referenced fields are intersected only against rules
// sharing at least one index bucket, which is equivalent to the naive
// pairwise scan but avoids comparing rule pairs that share no fields at
// all — the near-linear alternative the pairwise approach trades off
// against on large corpora.
func Build(rules []RuleInput) *Graph {
	g := &Graph{Nodes: make([]RuleNode, 0, len(rules))}
	fieldSets := make(map[string]map[string]bool, len(rules))
	fieldToRules := make(map[string][]string)

	for _, r := range rules {
		g.Nodes = append(g.Nodes, RuleNode{ID: r.ID, Name: r.Name, Group: r.Group, Priority: r.Priority})
		set := make(map[string]bool)
		for _, f := range extractFields(r.Condition) {
			set[f] = true
			fieldToRules[f] = append(fieldToRules[f], r.ID)
		}
		fieldSets[r.ID] = set
	}

	seenPair := make(map[[2]string]bool)
	for field, ruleIDs := range fieldToRules {
		for i := 0; i < len(ruleIDs); i++ {
			for j := i + 1; j < len(ruleIDs); j++ {
				a, b := ruleIDs[i], ruleIDs[j]
				if a == b {
					continue
				}
				pair := pairKey(a, b)
				if seenPair[pair] {
					continue
				}
				seenPair[pair] = true

				shared := intersectSorted(fieldSets[a], fieldSets[b])
				if len(shared) == 0 {
					continue
				}
				g.Edges = append(g.Edges, Edge{Source: a, Target: b, SharedFields: shared})
			}
		}
		_ = field
	}

	sort.Slice(g.Edges, func(i, j int) bool {
		if g.Edges[i].Source != g.Edges[j].Source {
			return g.Edges[i].Source < g.Edges[j].Source
		}
		return g.Edges[i].Target < g.Edges[j].Target
	})
	return g
}

func pairKey(a, b string) [2]string {
	if a < b {
		return [2]string{a, b}
	}
	return [2]string{b, a}
}

func intersectSorted(a, b map[string]bool) []string {
	var out []string
	for f := range a {
		if b[f] {
			out = append(out, f)
		}
	}
	sort.Strings(out)
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
