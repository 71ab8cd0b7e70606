// Package rete implements a discrimination network (RETE) for evaluating a
// rule corpus against an event: atomic conditions are deduplicated into
// shared alpha nodes, boolean connectives become beta join nodes, and one
// terminal node per rule fires when its beta chain is fully satisfied.
package rete

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/fluxrules/ruleengine/internal/condition"
)

// RuleInput is the minimal shape the network compiles from. It deliberately
// knows nothing about persistence — callers (internal/rule, internal/
// rulecache) adapt their own rule records into this.
type RuleInput struct {
	ID        string
	Name      string
	Group     string
	Priority  int
	Condition *condition.Node
}

type alphaNode struct {
	id         int
	cond       *condition.Node // atomic condition this node tests
	field      string
	successors []*betaNode
}

type betaNode struct {
	id          int
	join        condition.Connective // AND, OR, or AND for a leaf alpha-wrapper
	isNegated   bool
	parentAlpha *alphaNode // set for leaf nodes wrapping a single alpha
	parentBetas []*betaNode
	children    []*betaNode
	terminal    *terminalNode
}

type terminalNode struct {
	ruleID   string
	ruleName string
	group    string
	priority int
	beta     *betaNode
}

// Stats summarizes the compiled network's shape, surfaced in match reports
// and Prometheus gauges.
type Stats struct {
	AlphaNodes      int
	BetaNodes       int
	TerminalNodes   int
	SharedAlphaHits int // alpha nodes reused by more than one rule
}

// Network is a compiled discrimination network for one rule-set snapshot.
// It is immutable after Compile returns; concurrent Evaluate calls never
// mutate shared state (see evalContext in eval.go), so a single Network can
// be evaluated from many goroutines without locking.
type Network struct {
	alphaByKey map[condition.AtomicKey]*alphaNode
	fieldIndex map[string][]*alphaNode
	betas      []*betaNode
	terminals  []*terminalNode
	hash       string
	stats      Stats
}

// Hash returns the digest of the rule set this network was compiled from.
func (net *Network) Hash() string { return net.hash }

// Stats returns the compiled network's shape counters.
func (net *Network) Stats() Stats { return net.stats }

// RuleSetHash computes a stable digest over the supplied rules, used to
// decide whether a recompile is needed. Two calls with an equivalent rule
// set (same content, any order) produce the same hash.
func RuleSetHash(rules []RuleInput) (string, error) {
	type canon struct {
		ID       string          `json:"id"`
		Name     string          `json:"name"`
		Group    string          `json:"group"`
		Priority int             `json:"priority"`
		Cond     json.RawMessage `json:"cond"`
	}
	canons := make([]canon, 0, len(rules))
	for _, r := range rules {
		h, err := r.Condition.Hash()
		if err != nil {
			return "", fmt.Errorf("rete: hashing rule %s: %w", r.ID, err)
		}
		canons = append(canons, canon{
			ID: r.ID, Name: r.Name, Group: r.Group, Priority: r.Priority,
			Cond: json.RawMessage(fmt.Sprintf("%q", h)),
		})
	}
	sort.Slice(canons, func(i, j int) bool { return canons[i].ID < canons[j].ID })
	b, err := json.Marshal(canons)
	if err != nil {
		return "", err
	}
	sum, err := blake2bHex(b)
	if err != nil {
		return "", err
	}
	return sum, nil
}

// Compile builds a fresh Network from rules. It never mutates a previously
// returned Network — callers swap the pointer under their own lock (see
// Engine.Compile) rather than updating a network in place, so readers
// holding an older Network keep evaluating against a consistent snapshot.
func Compile(rules []RuleInput) (*Network, error) {
	for _, r := range rules {
		if r.Condition == nil {
			return nil, fmt.Errorf("rete: rule %s has no condition", r.ID)
		}
		if err := r.Condition.Validate(); err != nil {
			return nil, fmt.Errorf("rete: rule %s: %w", r.ID, err)
		}
	}

	hash, err := RuleSetHash(rules)
	if err != nil {
		return nil, err
	}

	net := &Network{
		alphaByKey: make(map[condition.AtomicKey]*alphaNode),
		fieldIndex: make(map[string][]*alphaNode),
		hash:       hash,
	}

	for _, r := range rules {
		beta, err := net.buildConditionNetwork(r.Condition)
		if err != nil {
			return nil, fmt.Errorf("rete: compiling rule %s: %w", r.ID, err)
		}
		term := &terminalNode{
			ruleID: r.ID, ruleName: r.Name, group: r.Group,
			priority: r.Priority, beta: beta,
		}
		beta.terminal = term
		net.terminals = append(net.terminals, term)
	}

	net.stats = Stats{
		AlphaNodes:    len(net.alphaByKey),
		BetaNodes:     len(net.betas),
		TerminalNodes: len(net.terminals),
	}
	for _, a := range net.alphaByKey {
		if len(a.successors) > 1 {
			net.stats.SharedAlphaHits++
		}
	}
	return net, nil
}

// buildConditionNetwork recursively compiles a condition tree into a beta
// chain, sharing alpha nodes across rules by their atomic key.
func (net *Network) buildConditionNetwork(n *condition.Node) (*betaNode, error) {
	switch n.Type {
	case condition.TypeCondition:
		return net.buildAlphaLeaf(n)
	case condition.TypeGroup:
		return net.buildGroup(n)
	default:
		return nil, fmt.Errorf("rete: unknown node type %q", n.Type)
	}
}

func (net *Network) buildAlphaLeaf(n *condition.Node) (*betaNode, error) {
	key, err := n.Key()
	if err != nil {
		return nil, err
	}
	alpha, ok := net.alphaByKey[key]
	if !ok {
		alpha = &alphaNode{id: len(net.alphaByKey), cond: n, field: n.Field}
		net.alphaByKey[key] = alpha
		net.fieldIndex[n.Field] = append(net.fieldIndex[n.Field], alpha)
	}
	leaf := &betaNode{id: len(net.betas), join: condition.ConnAnd, parentAlpha: alpha}
	net.betas = append(net.betas, leaf)
	alpha.successors = append(alpha.successors, leaf)
	return leaf, nil
}

func (net *Network) buildGroup(n *condition.Node) (*betaNode, error) {
	if len(n.Children) == 0 {
		// Empty group is vacuously true: a pass-through AND node with no
		// parents evaluates to true (see evalBeta).
		b := &betaNode{id: len(net.betas), join: condition.ConnAnd}
		net.betas = append(net.betas, b)
		return b, nil
	}

	children := make([]*betaNode, 0, len(n.Children))
	for _, c := range n.Children {
		cb, err := net.buildConditionNetwork(c)
		if err != nil {
			return nil, err
		}
		children = append(children, cb)
	}

	if n.Connective == condition.ConnNot {
		// NOT wraps (negates) its first child in place rather than
		// allocating a new node, matching the reference compiler: only the
		// first child is ever consulted.
		children[0].isNegated = !children[0].isNegated
		return children[0], nil
	}

	b := &betaNode{id: len(net.betas), join: n.Connective, parentBetas: children}
	net.betas = append(net.betas, b)
	for _, c := range children {
		c.children = append(c.children, b)
	}
	return b, nil
}
