// Package conflict detects two kinds of rule authoring conflicts: two
// enabled rules in the same group sharing a priority, and two enabled rules
// with structurally identical condition trees (a near-certain authoring
// mistake). Both checks are available as a fast single-rule precheck (for
// create/update) and a whole-corpus scan.
package conflict

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fluxrules/ruleengine/internal/condition"
	gocache "github.com/patrickmn/go-cache"
)

const (
	hashCacheTTL = 30 * time.Second
	hashCacheKey = "condition_hashes"
	defaultGroup = "default"
)

// ConflictType distinguishes the two detector findings.
type ConflictType string

const (
	DuplicateCondition ConflictType = "duplicate_condition"
	PriorityCollision  ConflictType = "priority_collision"
)

// Conflict is one detected authoring conflict between two rules.
type Conflict struct {
	Type    ConflictType
	RuleAID string
	RuleBID string
	Group   string
	Detail  string
}

// RuleSummary is the minimal rule shape the detector needs; callers adapt
// their own rule records into this.
type RuleSummary struct {
	ID        string
	Group     string
	Priority  int
	Condition *condition.Node
}

func normalizeGroup(g string) string {
	if g == "" {
		return defaultGroup
	}
	return g
}

// Repository is the detector's view of the rule store.
type Repository interface {
	// ListEnabledRules returns every enabled rule, for whole-corpus scans
	// and for rebuilding the condition-hash cache.
	ListEnabledRules(ctx context.Context) ([]RuleSummary, error)
	// FindByGroupAndPriority returns enabled rules sharing group+priority,
	// for the fast single-rule precheck.
	FindByGroupAndPriority(ctx context.Context, group string, priority int) ([]RuleSummary, error)
}

// Detector checks for conflicts against a Repository, caching the
// corpus-wide condition-hash index for a short window since it's rebuilt
// from a full table scan.
type Detector struct {
	repo   Repository
	cache  *gocache.Cache
	logger *slog.Logger
}

func NewDetector(repo Repository, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		repo:   repo,
		cache:  gocache.New(hashCacheTTL, hashCacheTTL*2),
		logger: logger,
	}
}

// Invalidate drops the cached condition-hash index; called after any rule
// create/update/delete so the next check rebuilds from current data.
func (d *Detector) Invalidate() {
	d.cache.Flush()
}

// conditionHashIndex returns hash -> rules sharing that hash, from cache if
// fresh, else rebuilt from the full enabled-rule corpus.
func (d *Detector) conditionHashIndex(ctx context.Context) (map[string][]RuleSummary, error) {
	if v, ok := d.cache.Get(hashCacheKey); ok {
		return v.(map[string][]RuleSummary), nil
	}

	rules, err := d.repo.ListEnabledRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("conflict: listing enabled rules: %w", err)
	}
	idx := make(map[string][]RuleSummary)
	for _, r := range rules {
		h, err := r.Condition.Hash()
		if err != nil {
			d.logger.Warn("conflict: failed to hash condition, skipping rule", "rule_id", r.ID, "err", err)
			continue
		}
		idx[h] = append(idx[h], r)
	}
	d.cache.Set(hashCacheKey, idx, gocache.DefaultExpiration)
	return idx, nil
}

// CheckNewRule returns conflicts a not-yet-created rule would introduce.
func (d *Detector) CheckNewRule(ctx context.Context, rule RuleSummary) ([]Conflict, error) {
	return d.check(ctx, rule, "", true, true)
}

// CheckUpdateRule returns conflicts an update to ruleID would introduce,
// excluding the rule's own prior state. Skips the priority check when
// neither group nor priority is changing, and the duplicate check when the
// condition tree isn't part of the update — mirroring the reference
// detector's early-exit behavior.
func (d *Detector) CheckUpdateRule(ctx context.Context, ruleID string, updated RuleSummary, priorityOrGroupChanged, conditionChanged bool) ([]Conflict, error) {
	return d.check(ctx, updated, ruleID, priorityOrGroupChanged, conditionChanged)
}

func (d *Detector) check(ctx context.Context, rule RuleSummary, excludeID string, checkPriority, checkDuplicate bool) ([]Conflict, error) {
	var conflicts []Conflict
	group := normalizeGroup(rule.Group)

	if checkPriority {
		peers, err := d.repo.FindByGroupAndPriority(ctx, group, rule.Priority)
		if err != nil {
			return nil, fmt.Errorf("conflict: checking priority collision: %w", err)
		}
		for _, p := range peers {
			if p.ID == excludeID || p.ID == rule.ID {
				continue
			}
			conflicts = append(conflicts, Conflict{
				Type: PriorityCollision, RuleAID: rule.ID, RuleBID: p.ID, Group: group,
				Detail: fmt.Sprintf("both rules have priority %d in group %q", rule.Priority, group),
			})
		}
	}

	if checkDuplicate && rule.Condition != nil {
		hash, err := rule.Condition.Hash()
		if err != nil {
			return nil, fmt.Errorf("conflict: hashing new condition: %w", err)
		}
		idx, err := d.conditionHashIndex(ctx)
		if err != nil {
			return nil, err
		}
		for _, peer := range idx[hash] {
			if peer.ID == excludeID || peer.ID == rule.ID {
				continue
			}
			conflicts = append(conflicts, Conflict{
				Type: DuplicateCondition, RuleAID: rule.ID, RuleBID: peer.ID,
				Detail: "condition trees are structurally identical",
			})
			break // one duplicate is enough to flag; matches reference early-exit
		}
	}

	return conflicts, nil
}

// DetectAll scans the whole enabled-rule corpus and returns every
// duplicate-condition and priority-collision pair found.
func (d *Detector) DetectAll(ctx context.Context) ([]Conflict, error) {
	rules, err := d.repo.ListEnabledRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("conflict: listing enabled rules: %w", err)
	}

	priorityIndex := make(map[string]map[int][]RuleSummary)
	conditionIndex := make(map[string][]RuleSummary)

	for _, r := range rules {
		group := normalizeGroup(r.Group)
		if priorityIndex[group] == nil {
			priorityIndex[group] = make(map[int][]RuleSummary)
		}
		priorityIndex[group][r.Priority] = append(priorityIndex[group][r.Priority], r)

		if r.Condition != nil {
			h, err := r.Condition.Hash()
			if err != nil {
				d.logger.Warn("conflict: failed to hash condition, skipping rule", "rule_id", r.ID, "err", err)
				continue
			}
			conditionIndex[h] = append(conditionIndex[h], r)
		}
	}

	var conflicts []Conflict
	for group, byPriority := range priorityIndex {
		for priority, bucket := range byPriority {
			if len(bucket) < 2 {
				continue
			}
			for i := 0; i < len(bucket); i++ {
				for j := i + 1; j < len(bucket); j++ {
					conflicts = append(conflicts, Conflict{
						Type: PriorityCollision, RuleAID: bucket[i].ID, RuleBID: bucket[j].ID,
						Group:  group,
						Detail: fmt.Sprintf("both rules have priority %d in group %q", priority, group),
					})
				}
			}
		}
	}
	for _, bucket := range conditionIndex {
		if len(bucket) < 2 {
			continue
		}
		for i := 0; i < len(bucket); i++ {
			for j := i + 1; j < len(bucket); j++ {
				conflicts = append(conflicts, Conflict{
					Type: DuplicateCondition, RuleAID: bucket[i].ID, RuleBID: bucket[j].ID,
					Detail: "condition trees are structurally identical",
				})
			}
		}
	}
	return conflicts, nil
}
