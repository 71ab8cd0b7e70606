package rete

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fluxrules/ruleengine/internal/condition"
	"golang.org/x/sync/singleflight"
)

// EvaluationStats is the per-call summary attached to a MatchReport,
// mirroring the reference engine's evaluate() stats block.
type EvaluationStats struct {
	TotalRules       int
	RulesMatched     int
	EvaluationTimeMS float64
	Optimization     string
	AlphaNodes       int
	BetaNodes        int
	SharedConditions int
}

// MatchReport is the full result of one Evaluate call: which rules fired,
// in what order, a human-readable explanation per matched rule, and shape
// stats about the network that produced it.
type MatchReport struct {
	Matches         []Match
	ExecutionOrder  []string
	Explanations    map[string]string
	Stats           EvaluationStats
	RuleSetHash     string
	CompiledFromNew bool
}

// Engine owns a compiled Network and recompiles it only when the active
// rule set actually changes, coalescing concurrent recompiles of the same
// hash so only one goroutine pays the compile cost (spec's "one compile in
// flight" requirement).
type Engine struct {
	mu  sync.RWMutex
	net *Network
	sf  singleflight.Group

	statsMu     sync.Mutex
	evalCount   int64
	avgEvalTime float64
}

func NewEngine() *Engine {
	return &Engine{}
}

// Current returns the currently compiled network, or nil if Compile has
// never been called or the last compile failed.
func (e *Engine) Current() *Network {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.net
}

// Compile ensures a Network exists for rules, reusing the current one if
// its hash is unchanged and otherwise building + installing a new one.
func (e *Engine) Compile(rules []RuleInput) (*Network, bool, error) {
	hash, err := RuleSetHash(rules)
	if err != nil {
		return nil, false, err
	}

	e.mu.RLock()
	cur := e.net
	e.mu.RUnlock()
	if cur != nil && cur.Hash() == hash {
		return cur, false, nil
	}

	var didCompile bool
	v, err, _ := e.sf.Do(hash, func() (any, error) {
		e.mu.RLock()
		cur := e.net
		e.mu.RUnlock()
		if cur != nil && cur.Hash() == hash {
			return cur, nil
		}
		net, err := Compile(rules)
		if err != nil {
			// A failed compile clears the installed network, so no stale
			// network outlives a rule set that could not be compiled.
			e.mu.Lock()
			e.net = nil
			e.mu.Unlock()
			return nil, err
		}
		e.mu.Lock()
		e.net = net
		e.mu.Unlock()
		didCompile = true
		return net, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*Network), didCompile, nil
}

// Evaluate compiles (if necessary) and runs event through the network,
// producing a full match report with explanations and timing stats.
func (e *Engine) Evaluate(rules []RuleInput, event condition.Event) (*MatchReport, error) {
	start := time.Now()
	net, recompiled, err := e.Compile(rules)
	if err != nil {
		return nil, fmt.Errorf("rete: compile: %w", err)
	}

	matches := net.Evaluate(event)
	elapsedMS := float64(time.Since(start)) / float64(time.Millisecond)

	e.statsMu.Lock()
	e.evalCount++
	e.avgEvalTime += (elapsedMS - e.avgEvalTime) / float64(e.evalCount)
	e.statsMu.Unlock()

	order := make([]string, len(matches))
	explanations := make(map[string]string, len(matches))
	byID := make(map[string]*condition.Node, len(rules))
	for _, r := range rules {
		byID[r.ID] = r.Condition
	}
	for i, m := range matches {
		order[i] = m.RuleID
		if cond, ok := byID[m.RuleID]; ok {
			explanations[m.RuleID] = Explain(cond, event)
		}
	}

	report := &MatchReport{
		Matches:         matches,
		ExecutionOrder:  order,
		Explanations:    explanations,
		RuleSetHash:     net.Hash(),
		CompiledFromNew: recompiled,
		Stats: EvaluationStats{
			TotalRules:       len(rules),
			RulesMatched:     len(matches),
			EvaluationTimeMS: elapsedMS,
			Optimization:     "rete",
			AlphaNodes:       net.stats.AlphaNodes,
			BetaNodes:        net.stats.BetaNodes,
			SharedConditions: net.stats.SharedAlphaHits,
		},
	}
	return report, nil
}

// AverageEvaluationTimeMS returns the rolling average evaluation time
// across every Evaluate call this engine has served, for metrics export.
func (e *Engine) AverageEvaluationTimeMS() float64 {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.avgEvalTime
}

// Explain renders a human-readable string describing why (or why not) a
// condition tree matched event — e.g. "(amount=150 > 100 AND
// country=CA in [US CA])". It does not evaluate the conditions; a field
// absent from event renders as "<missing>".
func Explain(n *condition.Node, event condition.Event) string {
	if n == nil {
		return "empty group"
	}
	switch n.Type {
	case condition.TypeCondition:
		v, present := event[n.Field]
		if !present {
			v = "<missing>"
		}
		return fmt.Sprintf("%s=%v %s %v", n.Field, v, n.Op, n.Value)
	case condition.TypeGroup:
		if len(n.Children) == 0 {
			return "empty group"
		}
		if n.Connective == condition.ConnNot {
			return fmt.Sprintf("NOT (%s)", Explain(n.Children[0], event))
		}
		parts := make([]string, len(n.Children))
		for i, c := range n.Children {
			parts[i] = Explain(c, event)
		}
		return fmt.Sprintf("(%s)", strings.Join(parts, fmt.Sprintf(" %s ", n.Connective)))
	default:
		return "unknown"
	}
}
