package rule

import (
	"context"
	"fmt"

	"github.com/fluxrules/ruleengine/internal/conflict"
	"github.com/fluxrules/ruleengine/internal/rete"
	"github.com/fluxrules/ruleengine/internal/rulecache"
)

// These adapters let *Repository satisfy rulecache.Source and
// conflict.Repository directly, so cmd/server can wire one concrete type
// into both without an intermediate translation layer.

func (r *Rule) toCachedRule() (rulecache.CachedRule, error) {
	cond, err := r.Condition()
	if err != nil {
		return rulecache.CachedRule{}, fmt.Errorf("rule %s: %w", r.ID, err)
	}
	return rulecache.CachedRule{
		ID: r.ID, Name: r.Name, Group: r.NormalizedGroup(), Priority: r.Priority, Condition: cond,
	}, nil
}

func (r *Rule) toRuleSummary() (conflict.RuleSummary, error) {
	cond, err := r.Condition()
	if err != nil {
		return conflict.RuleSummary{}, fmt.Errorf("rule %s: %w", r.ID, err)
	}
	return conflict.RuleSummary{ID: r.ID, Group: r.NormalizedGroup(), Priority: r.Priority, Condition: cond}, nil
}

func (r *Rule) toRuleInput() (rete.RuleInput, error) {
	cond, err := r.Condition()
	if err != nil {
		return rete.RuleInput{}, fmt.Errorf("rule %s: %w", r.ID, err)
	}
	return rete.RuleInput{ID: r.ID, Name: r.Name, Group: r.NormalizedGroup(), Priority: r.Priority, Condition: cond}, nil
}

// LoadEnabledRules implements rulecache.Source.
func (repo *Repository) LoadEnabledRules(ctx context.Context, group string) ([]rulecache.CachedRule, error) {
	rules, err := repo.ListEnabled(ctx, group)
	if err != nil {
		return nil, err
	}
	out := make([]rulecache.CachedRule, 0, len(rules))
	for i := range rules {
		cr, err := rules[i].toCachedRule()
		if err != nil {
			return nil, err
		}
		out = append(out, cr)
	}
	return out, nil
}

// ListEnabledRules implements conflict.Repository.
func (repo *Repository) ListEnabledRules(ctx context.Context) ([]conflict.RuleSummary, error) {
	rules, err := repo.ListEnabled(ctx, "")
	if err != nil {
		return nil, err
	}
	out := make([]conflict.RuleSummary, 0, len(rules))
	for i := range rules {
		rs, err := rules[i].toRuleSummary()
		if err != nil {
			return nil, err
		}
		out = append(out, rs)
	}
	return out, nil
}

// FindByGroupAndPriority implements conflict.Repository.
func (repo *Repository) FindByGroupAndPriority(ctx context.Context, group string, priority int) ([]conflict.RuleSummary, error) {
	rules, err := repo.findByGroupAndPriorityRaw(ctx, group, priority)
	if err != nil {
		return nil, err
	}
	out := make([]conflict.RuleSummary, 0, len(rules))
	for i := range rules {
		rs, err := rules[i].toRuleSummary()
		if err != nil {
			return nil, err
		}
		out = append(out, rs)
	}
	return out, nil
}

// RuleInputs adapts a slice of Rule into rete.RuleInput, for compiling or
// linearly evaluating the active rule set.
func RuleInputs(rules []Rule) ([]rete.RuleInput, error) {
	out := make([]rete.RuleInput, 0, len(rules))
	for i := range rules {
		ri, err := rules[i].toRuleInput()
		if err != nil {
			return nil, err
		}
		out = append(out, ri)
	}
	return out, nil
}
