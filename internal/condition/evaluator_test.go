package condition

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, raw string) *Node {
	t.Helper()
	var n Node
	require.NoError(t, json.Unmarshal([]byte(raw), &n))
	require.NoError(t, n.Validate())
	return &n
}

func TestEvaluate_Operators(t *testing.T) {
	cases := []struct {
		name  string
		node  string
		event Event
		want  bool
	}{
		{"eq match", `{"type":"condition","field":"amount","op":"==","value":100}`, Event{"amount": 100.0}, true},
		{"eq mismatch", `{"type":"condition","field":"amount","op":"==","value":100}`, Event{"amount": 50.0}, false},
		{"ne", `{"type":"condition","field":"amount","op":"!=","value":100}`, Event{"amount": 50.0}, true},
		{"gt", `{"type":"condition","field":"amount","op":">","value":100}`, Event{"amount": 150.0}, true},
		{"gte equal", `{"type":"condition","field":"amount","op":">=","value":100}`, Event{"amount": 100.0}, true},
		{"lt", `{"type":"condition","field":"amount","op":"<","value":100}`, Event{"amount": 50.0}, true},
		{"lte", `{"type":"condition","field":"amount","op":"<=","value":100}`, Event{"amount": 100.0}, true},
		{"in hit", `{"type":"condition","field":"country","op":"in","value":["US","CA"]}`, Event{"country": "CA"}, true},
		{"in miss", `{"type":"condition","field":"country","op":"in","value":["US","CA"]}`, Event{"country": "FR"}, false},
		{"not_in", `{"type":"condition","field":"country","op":"not_in","value":["US","CA"]}`, Event{"country": "FR"}, true},
		{"contains string", `{"type":"condition","field":"msg","op":"contains","value":"error"}`, Event{"msg": "an error occurred"}, true},
		{"contains slice", `{"type":"condition","field":"tags","op":"contains","value":"vip"}`, Event{"tags": []any{"vip", "new"}}, true},
		{"starts_with", `{"type":"condition","field":"path","op":"starts_with","value":"/api"}`, Event{"path": "/api/v1"}, true},
		{"ends_with", `{"type":"condition","field":"path","op":"ends_with","value":".json"}`, Event{"path": "/data.json"}, true},
		{"regex prefix", `{"type":"condition","field":"code","op":"regex","value":"^A[0-9]+"}`, Event{"code": "A123-extra"}, true},
		{"regex no match mid-string", `{"type":"condition","field":"code","op":"regex","value":"[0-9]+"}`, Event{"code": "A123"}, false},
		{"exists true", `{"type":"condition","field":"amount","op":"exists"}`, Event{"amount": 1.0}, true},
		{"exists false", `{"type":"condition","field":"amount","op":"exists"}`, Event{}, false},
		{"not_exists true", `{"type":"condition","field":"amount","op":"not_exists"}`, Event{}, true},
		{"not_exists false", `{"type":"condition","field":"amount","op":"not_exists"}`, Event{"amount": 1.0}, false},
		{"missing field non-exists collapses false", `{"type":"condition","field":"amount","op":">","value":10}`, Event{}, false},
		{"type mismatch collapses false", `{"type":"condition","field":"amount","op":">","value":10}`, Event{"amount": "not-a-number"}, false},
		{"unknown operator collapses false", `{"type":"condition","field":"amount","op":"bogus","value":10}`, Event{"amount": 10.0}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n := mustParse(t, tc.node)
			assert.Equal(t, tc.want, Evaluate(n, tc.event))
		})
	}
}

func TestEvaluate_Groups(t *testing.T) {
	and := mustParse(t, `{"type":"group","op":"AND","children":[
		{"type":"condition","field":"a","op":"==","value":1},
		{"type":"condition","field":"b","op":"==","value":2}
	]}`)
	assert.True(t, Evaluate(and, Event{"a": 1.0, "b": 2.0}))
	assert.False(t, Evaluate(and, Event{"a": 1.0, "b": 3.0}))

	or := mustParse(t, `{"type":"group","op":"OR","children":[
		{"type":"condition","field":"a","op":"==","value":1},
		{"type":"condition","field":"b","op":"==","value":2}
	]}`)
	assert.True(t, Evaluate(or, Event{"a": 9.0, "b": 2.0}))
	assert.False(t, Evaluate(or, Event{"a": 9.0, "b": 9.0}))

	not := mustParse(t, `{"type":"group","op":"NOT","children":[
		{"type":"condition","field":"a","op":"==","value":1}
	]}`)
	assert.False(t, Evaluate(not, Event{"a": 1.0}))
	assert.True(t, Evaluate(not, Event{"a": 2.0}))

	empty := mustParse(t, `{"type":"group","op":"AND","children":[]}`)
	assert.True(t, Evaluate(empty, Event{}))
}

func TestValidate_RejectsMalformedNot(t *testing.T) {
	var n Node
	raw := `{"type":"group","op":"NOT","children":[
		{"type":"condition","field":"a","op":"==","value":1},
		{"type":"condition","field":"b","op":"==","value":2}
	]}`
	require.NoError(t, json.Unmarshal([]byte(raw), &n))
	assert.Error(t, n.Validate())
}

func TestValidate_RejectsUnknownType(t *testing.T) {
	var n Node
	err := json.Unmarshal([]byte(`{"type":"nonsense"}`), &n)
	assert.Error(t, err)
}

func TestHash_Stability(t *testing.T) {
	a := mustParse(t, `{"type":"group","op":"AND","children":[
		{"type":"condition","field":"a","op":"==","value":1},
		{"type":"condition","field":"b","op":"==","value":2}
	]}`)
	// same logical tree, children reordered and field order swapped in JSON
	b := mustParse(t, `{"op":"AND","type":"group","children":[
		{"op":"==","type":"condition","field":"b","value":2},
		{"type":"condition","field":"a","op":"==","value":1}
	]}`)

	ha, err := a.Hash()
	require.NoError(t, err)
	hb, err := b.Hash()
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

func TestHash_DiffersOnValueChange(t *testing.T) {
	a := mustParse(t, `{"type":"condition","field":"a","op":"==","value":1}`)
	b := mustParse(t, `{"type":"condition","field":"a","op":"==","value":2}`)
	ha, _ := a.Hash()
	hb, _ := b.Hash()
	assert.NotEqual(t, ha, hb)
}

func TestKey_SharedAcrossEquivalentConditions(t *testing.T) {
	a := mustParse(t, `{"type":"condition","field":"a","op":"==","value":1}`)
	b := mustParse(t, `{"type":"condition","field":"a","op":"==","value":1}`)
	ka, err := a.Key()
	require.NoError(t, err)
	kb, err := b.Key()
	require.NoError(t, err)
	assert.Equal(t, ka, kb)
}
