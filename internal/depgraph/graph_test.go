package depgraph

import (
	"encoding/json"
	"testing"

	"github.com/fluxrules/ruleengine/internal/condition"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cond(t *testing.T, raw string) *condition.Node {
	t.Helper()
	var n condition.Node
	require.NoError(t, json.Unmarshal([]byte(raw), &n))
	require.NoError(t, n.Validate())
	return &n
}

func TestBuild_EdgeOnSharedField(t *testing.T) {
	rules := []RuleInput{
		{ID: "r1", Name: "a", Condition: cond(t, `{"type":"group","op":"AND","children":[
			{"type":"condition","field":"amount","op":">","value":10},
			{"type":"condition","field":"country","op":"==","value":"US"}
		]}`)},
		{ID: "r2", Name: "b", Condition: cond(t, `{"type":"condition","field":"amount","op":"<","value":1000}`)},
		{ID: "r3", Name: "c", Condition: cond(t, `{"type":"condition","field":"unrelated","op":"exists"}`)},
	}

	g := Build(rules)
	require.Len(t, g.Nodes, 3)
	require.Len(t, g.Edges, 1)
	assert.Equal(t, "r1", g.Edges[0].Source)
	assert.Equal(t, "r2", g.Edges[0].Target)
	assert.Equal(t, []string{"amount"}, g.Edges[0].SharedFields)
}

func TestBuild_NoEdgesWhenNoOverlap(t *testing.T) {
	rules := []RuleInput{
		{ID: "r1", Condition: cond(t, `{"type":"condition","field":"a","op":"exists"}`)},
		{ID: "r2", Condition: cond(t, `{"type":"condition","field":"b","op":"exists"}`)},
	}
	g := Build(rules)
	assert.Empty(t, g.Edges)
}
