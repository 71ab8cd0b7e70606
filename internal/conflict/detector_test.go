package conflict

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/fluxrules/ruleengine/internal/condition"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	rules []RuleSummary
}

func (f *fakeRepo) ListEnabledRules(ctx context.Context) ([]RuleSummary, error) {
	return f.rules, nil
}

func (f *fakeRepo) FindByGroupAndPriority(ctx context.Context, group string, priority int) ([]RuleSummary, error) {
	var out []RuleSummary
	for _, r := range f.rules {
		if normalizeGroup(r.Group) == group && r.Priority == priority {
			out = append(out, r)
		}
	}
	return out, nil
}

func cond(t *testing.T, raw string) *condition.Node {
	t.Helper()
	var n condition.Node
	require.NoError(t, json.Unmarshal([]byte(raw), &n))
	require.NoError(t, n.Validate())
	return &n
}

func TestCheckNewRule_DetectsPriorityCollision(t *testing.T) {
	repo := &fakeRepo{rules: []RuleSummary{
		{ID: "existing", Group: "fraud", Priority: 10, Condition: cond(t, `{"type":"condition","field":"a","op":"==","value":1}`)},
	}}
	d := NewDetector(repo, nil)

	conflicts, err := d.CheckNewRule(context.Background(), RuleSummary{
		ID: "new", Group: "fraud", Priority: 10,
		Condition: cond(t, `{"type":"condition","field":"b","op":"==","value":2}`),
	})
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, PriorityCollision, conflicts[0].Type)
}

func TestCheckNewRule_DetectsDuplicateCondition(t *testing.T) {
	shared := cond(t, `{"type":"condition","field":"a","op":"==","value":1}`)
	repo := &fakeRepo{rules: []RuleSummary{
		{ID: "existing", Group: "fraud", Priority: 1, Condition: shared},
	}}
	d := NewDetector(repo, nil)

	conflicts, err := d.CheckNewRule(context.Background(), RuleSummary{
		ID: "new", Group: "fraud", Priority: 2,
		Condition: cond(t, `{"type":"condition","field":"a","op":"==","value":1}`),
	})
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, DuplicateCondition, conflicts[0].Type)
}

func TestCheckUpdateRule_ExcludesOwnID(t *testing.T) {
	repo := &fakeRepo{rules: []RuleSummary{
		{ID: "r1", Group: "fraud", Priority: 10, Condition: cond(t, `{"type":"condition","field":"a","op":"==","value":1}`)},
	}}
	d := NewDetector(repo, nil)

	conflicts, err := d.CheckUpdateRule(context.Background(), "r1", RuleSummary{
		ID: "r1", Group: "fraud", Priority: 10,
		Condition: cond(t, `{"type":"condition","field":"a","op":"==","value":1}`),
	}, true, true)
	require.NoError(t, err)
	assert.Empty(t, conflicts)
}

func TestCheckUpdateRule_SkipsChecksNotRelevant(t *testing.T) {
	repo := &fakeRepo{rules: []RuleSummary{
		{ID: "r1", Group: "fraud", Priority: 10, Condition: cond(t, `{"type":"condition","field":"a","op":"==","value":1}`)},
		{ID: "r2", Group: "fraud", Priority: 20, Condition: cond(t, `{"type":"condition","field":"a","op":"==","value":1}`)},
	}}
	d := NewDetector(repo, nil)

	// updating r2's description only: priority/group unchanged, condition unchanged
	conflicts, err := d.CheckUpdateRule(context.Background(), "r2", RuleSummary{
		ID: "r2", Group: "fraud", Priority: 20,
		Condition: cond(t, `{"type":"condition","field":"a","op":"==","value":1}`),
	}, false, false)
	require.NoError(t, err)
	assert.Empty(t, conflicts, "no checks should run when neither priority/group nor condition changed")
}

func TestDetectAll_FindsBothKinds(t *testing.T) {
	repo := &fakeRepo{rules: []RuleSummary{
		{ID: "r1", Group: "fraud", Priority: 10, Condition: cond(t, `{"type":"condition","field":"a","op":"==","value":1}`)},
		{ID: "r2", Group: "fraud", Priority: 10, Condition: cond(t, `{"type":"condition","field":"b","op":"==","value":2}`)},
		{ID: "r3", Group: "other", Priority: 1, Condition: cond(t, `{"type":"condition","field":"a","op":"==","value":1}`)},
	}}
	d := NewDetector(repo, nil)

	conflicts, err := d.DetectAll(context.Background())
	require.NoError(t, err)

	var priorityHits, duplicateHits int
	for _, c := range conflicts {
		switch c.Type {
		case PriorityCollision:
			priorityHits++
		case DuplicateCondition:
			duplicateHits++
		}
	}
	assert.Equal(t, 1, priorityHits)
	assert.Equal(t, 1, duplicateHits)
}

func TestInvalidate_ForcesIndexRebuild(t *testing.T) {
	repo := &fakeRepo{rules: []RuleSummary{
		{ID: "r1", Group: "fraud", Priority: 1, Condition: cond(t, `{"type":"condition","field":"a","op":"==","value":1}`)},
	}}
	d := NewDetector(repo, nil)

	idx1, err := d.conditionHashIndex(context.Background())
	require.NoError(t, err)
	assert.Len(t, idx1, 1)

	repo.rules = append(repo.rules, RuleSummary{
		ID: "r2", Group: "fraud", Priority: 2, Condition: cond(t, `{"type":"condition","field":"c","op":"==","value":3}`),
	})

	idx2, err := d.conditionHashIndex(context.Background())
	require.NoError(t, err)
	assert.Len(t, idx2, 1, "cached index should not see the new rule yet")

	d.Invalidate()
	idx3, err := d.conditionHashIndex(context.Background())
	require.NoError(t, err)
	assert.Len(t, idx3, 2)
}
