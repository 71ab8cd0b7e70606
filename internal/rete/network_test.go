package rete

import (
	"encoding/json"
	"testing"

	"github.com/fluxrules/ruleengine/internal/condition"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func node(t *testing.T, raw string) *condition.Node {
	t.Helper()
	var n condition.Node
	require.NoError(t, json.Unmarshal([]byte(raw), &n))
	require.NoError(t, n.Validate())
	return &n
}

func ruleSet(t *testing.T) []RuleInput {
	return []RuleInput{
		{
			ID: "r1", Name: "high amount US", Group: "fraud", Priority: 10,
			Condition: node(t, `{"type":"group","op":"AND","children":[
				{"type":"condition","field":"amount","op":">","value":1000},
				{"type":"condition","field":"country","op":"==","value":"US"}
			]}`),
		},
		{
			ID: "r2", Name: "high amount any country", Group: "fraud", Priority: 5,
			Condition: node(t, `{"type":"condition","field":"amount","op":">","value":1000}`),
		},
		{
			ID: "r3", Name: "missing field not_exists", Group: "fraud", Priority: 1,
			Condition: node(t, `{"type":"condition","field":"promo_code","op":"not_exists"}`),
		},
	}
}

func TestCompile_SharesAlphaNodes(t *testing.T) {
	rules := ruleSet(t)
	net, err := Compile(rules)
	require.NoError(t, err)
	// r1 and r2 both test amount > 1000 — must share one alpha node.
	assert.Equal(t, 1, net.stats.SharedAlphaHits)
	assert.Equal(t, 3, net.stats.TerminalNodes)
}

func TestRuleSetHash_StableForUnchangedRules(t *testing.T) {
	rules := ruleSet(t)
	h1, err := RuleSetHash(rules)
	require.NoError(t, err)
	h2, err := RuleSetHash(rules)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestNetwork_EvaluateMatchesExpected(t *testing.T) {
	rules := ruleSet(t)
	net, err := Compile(rules)
	require.NoError(t, err)

	matches := net.Evaluate(condition.Event{"amount": 5000.0, "country": "US"})
	ids := matchIDs(matches)
	assert.ElementsMatch(t, []string{"r1", "r2", "r3"}, ids)
	// priority desc: r1 (10) before r2 (5) before r3 (1)
	assert.Equal(t, []string{"r1", "r2", "r3"}, ids)
}

func TestNetwork_EvaluateNoMatch(t *testing.T) {
	rules := ruleSet(t)
	net, err := Compile(rules)
	require.NoError(t, err)

	matches := net.Evaluate(condition.Event{"amount": 50.0, "country": "US", "promo_code": "X"})
	assert.Empty(t, matches)
}

func TestNetwork_RETEMatchesLinear(t *testing.T) {
	rules := ruleSet(t)
	net, err := Compile(rules)
	require.NoError(t, err)

	events := []condition.Event{
		{"amount": 5000.0, "country": "US"},
		{"amount": 5000.0, "country": "FR"},
		{"amount": 50.0},
		{"amount": 2000.0, "country": "US", "promo_code": "X"},
		{},
	}
	for _, ev := range events {
		reteMatches := matchIDs(net.Evaluate(ev))
		linearMatches := matchIDs(EvaluateLinear(rules, ev))
		assert.Equal(t, linearMatches, reteMatches, "event %v", ev)
	}
}

func TestEngine_RecompilesOnlyWhenHashChanges(t *testing.T) {
	eng := NewEngine()
	rules := ruleSet(t)

	_, didCompile, err := eng.Compile(rules)
	require.NoError(t, err)
	assert.True(t, didCompile)

	_, didCompile, err = eng.Compile(rules)
	require.NoError(t, err)
	assert.False(t, didCompile)

	rules[0].Priority = 99
	_, didCompile, err = eng.Compile(rules)
	require.NoError(t, err)
	assert.True(t, didCompile)
}

func TestEngine_EvaluateProducesReport(t *testing.T) {
	eng := NewEngine()
	rules := ruleSet(t)

	report, err := eng.Evaluate(rules, condition.Event{"amount": 5000.0, "country": "US"})
	require.NoError(t, err)
	assert.Equal(t, 3, report.Stats.RulesMatched)
	assert.Equal(t, "rete", report.Stats.Optimization)
	assert.NotEmpty(t, report.Explanations["r1"])
	assert.Equal(t, []string{"r1", "r2", "r3"}, report.ExecutionOrder)
}

func TestNOTGroup_NegatesItsChild(t *testing.T) {
	n := node(t, `{"type":"group","op":"NOT","children":[
		{"type":"condition","field":"a","op":"==","value":1}
	]}`)
	net, err := Compile([]RuleInput{{ID: "r", Name: "r", Priority: 1, Condition: n}})
	require.NoError(t, err)

	assert.Empty(t, net.Evaluate(condition.Event{"a": 1.0}))
	assert.NotEmpty(t, net.Evaluate(condition.Event{"a": 2.0}))
}

func matchIDs(matches []Match) []string {
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.RuleID
	}
	return ids
}
