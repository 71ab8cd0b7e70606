package rete

import (
	"github.com/fluxrules/ruleengine/internal/condition"
	"golang.org/x/exp/slices"
)

// Match is one rule whose terminal fired during an evaluation.
type Match struct {
	RuleID   string
	RuleName string
	Group    string
	Priority int
}

// evalContext holds per-evaluation memoization only — never shared across
// calls or stored on the network's nodes, so concurrent Evaluate calls
// against the same Network need no locking (spec's preference for
// ephemeral per-evaluation state over node-resident shared memory).
type evalContext struct {
	alphaResults map[int]bool
	betaResults  map[int]bool
	betaDone     map[int]bool
}

// Evaluate runs event through the compiled network and returns every rule
// whose terminal activated, sorted by priority descending then rule id
// ascending for a stable, deterministic firing order.
func (net *Network) Evaluate(event condition.Event) []Match {
	ctx := &evalContext{
		alphaResults: make(map[int]bool, len(net.alphaByKey)),
		betaResults:  make(map[int]bool, len(net.betas)),
		betaDone:     make(map[int]bool, len(net.betas)),
	}

	// Phase 1: alpha activation. First activate alphas indexed by fields
	// present in the event (the common case), then sweep any alpha not yet
	// activated — this second pass is what lets exists/not_exists fire
	// correctly even for fields absent from the event.
	activated := make(map[int]bool, len(net.alphaByKey))
	for field := range event {
		for _, a := range net.fieldIndex[field] {
			if !activated[a.id] {
				ctx.alphaResults[a.id] = condition.Evaluate(a.cond, event)
				activated[a.id] = true
			}
		}
	}
	for _, a := range net.alphaByKey {
		if !activated[a.id] {
			ctx.alphaResults[a.id] = condition.Evaluate(a.cond, event)
			activated[a.id] = true
		}
	}

	// Phase 2: beta evaluation, memoized per node.
	for _, b := range net.betas {
		net.evalBeta(b, ctx)
	}

	// Phase 3: terminal collection.
	matches := make([]Match, 0, len(net.terminals))
	for _, t := range net.terminals {
		if ctx.betaResults[t.beta.id] {
			matches = append(matches, Match{
				RuleID: t.ruleID, RuleName: t.ruleName,
				Group: t.group, Priority: t.priority,
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

func (net *Network) evalBeta(b *betaNode, ctx *evalContext) bool {
	if ctx.betaDone[b.id] {
		return ctx.betaResults[b.id]
	}
	ctx.betaDone[b.id] = true

	var result bool
	switch {
	case b.parentAlpha != nil:
		result = ctx.alphaResults[b.parentAlpha.id]
	case len(b.parentBetas) == 0:
		result = true // empty group, vacuously true
	default:
		switch b.join {
		case condition.ConnOr:
			result = false
			for _, p := range b.parentBetas {
				if net.evalBeta(p, ctx) {
					result = true
					break
				}
			}
		default: // AND
			result = true
			for _, p := range b.parentBetas {
				if !net.evalBeta(p, ctx) {
					result = false
					break
				}
			}
		}
	}

	if b.isNegated {
		result = !result
	}
	ctx.betaResults[b.id] = result
	return result
}
