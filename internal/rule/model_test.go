package rule

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRule_NormalizedGroup(t *testing.T) {
	r := &Rule{Group: ""}
	assert.Equal(t, "default", r.NormalizedGroup())

	r.Group = "fraud"
	assert.Equal(t, "fraud", r.NormalizedGroup())
}

func TestRule_Condition_DecodesAndValidates(t *testing.T) {
	r := &Rule{ConditionDSL: json.RawMessage(`{"type":"condition","field":"amount","op":">","value":100}`)}
	cond, err := r.Condition()
	require.NoError(t, err)
	assert.Equal(t, "amount", cond.Field)
}

func TestRule_Condition_RejectsInvalidTree(t *testing.T) {
	r := &Rule{ConditionDSL: json.RawMessage(`{"type":"group","op":"NOT","children":[
		{"type":"condition","field":"a","op":"==","value":1},
		{"type":"condition","field":"b","op":"==","value":2}
	]}`)}
	_, err := r.Condition()
	assert.Error(t, err)
}

func TestDiff_ReportsOnlyChangedFields(t *testing.T) {
	from := &RuleVersion{Name: "a", Priority: 1, ConditionDSL: json.RawMessage(`{"a":1}`)}
	to := &RuleVersion{Name: "a", Priority: 2, ConditionDSL: json.RawMessage(`{"a":1}`)}

	diffs := Diff(from, to)
	require.Len(t, diffs, 1)
	assert.Equal(t, "priority", diffs[0].Field)
}

func TestDiff_NoChangesProducesEmptyDiff(t *testing.T) {
	from := &RuleVersion{Name: "a", ConditionDSL: json.RawMessage(`{"a":1}`)}
	to := &RuleVersion{Name: "a", ConditionDSL: json.RawMessage(`{"a":1}`)}
	assert.Empty(t, Diff(from, to))
}
