package rule

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fluxrules/ruleengine/internal/conflict"
	"github.com/fluxrules/ruleengine/internal/rulecache"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Lifecycle wraps Repository with the side effects every mutation must
// trigger: a version snapshot, and invalidation of the rule cache and the
// conflict detector's condition-hash cache. The compiled RETE network needs
// no explicit invalidation — it recompiles automatically the next time it's
// asked to evaluate against a rule set whose hash has changed, and the
// cache invalidation here is what makes that next read see fresh rules.
type Lifecycle struct {
	repo     *Repository
	cache    *rulecache.Cache
	detector *conflict.Detector
	logger   *slog.Logger
}

func NewLifecycle(repo *Repository, cache *rulecache.Cache, detector *conflict.Detector, logger *slog.Logger) *Lifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lifecycle{repo: repo, cache: cache, detector: detector, logger: logger}
}

// CreateRule validates, conflict-checks, and persists a new rule plus its
// initial version snapshot in one transaction, then invalidates the caches
// that index the group it was created in.
func (lc *Lifecycle) CreateRule(ctx context.Context, in CreateInput) (*Rule, []conflict.Conflict, error) {
	if err := validate.Struct(in); err != nil {
		return nil, nil, fmt.Errorf("rule: invalid create payload: %w", err)
	}

	cond, err := (&Rule{ConditionDSL: in.ConditionDSL}).Condition()
	if err != nil {
		return nil, nil, fmt.Errorf("rule: invalid condition: %w", err)
	}

	conflicts, err := lc.detector.CheckNewRule(ctx, conflict.RuleSummary{
		Group: in.Group, Priority: in.Priority, Condition: cond,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("rule: checking conflicts: %w", err)
	}

	var created *Rule
	err = lc.repo.WithinTx(ctx, func(tx *Repository) error {
		r, err := tx.Create(ctx, in)
		if err != nil {
			return err
		}
		if _, err := tx.CreateVersion(ctx, r, in.CreatedBy); err != nil {
			return err
		}
		created = r
		return nil
	})
	if err != nil {
		return nil, conflicts, err
	}

	lc.cache.Invalidate(ctx, created.NormalizedGroup())
	lc.detector.Invalidate()
	lc.logger.Info("rule created", "rule_id", created.ID, "group", created.NormalizedGroup())
	return created, conflicts, nil
}

// UpdateRule applies a patch transactionally, snapshots the new version,
// and invalidates both the old and new group's cache entries if the rule
// moved groups.
func (lc *Lifecycle) UpdateRule(ctx context.Context, id string, expectedVersion int, in UpdateInput) (*Rule, []conflict.Conflict, error) {
	existing, err := lc.repo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	oldGroup := existing.NormalizedGroup()

	groupChanged := in.Group != nil && *in.Group != existing.Group
	priorityChanged := in.Priority != nil && *in.Priority != existing.Priority
	conditionChanged := in.ConditionDSL != nil

	var conflicts []conflict.Conflict
	if groupChanged || priorityChanged || conditionChanged {
		candidate := *existing
		if in.Group != nil {
			candidate.Group = *in.Group
		}
		if in.Priority != nil {
			candidate.Priority = *in.Priority
		}
		if in.ConditionDSL != nil {
			candidate.ConditionDSL = in.ConditionDSL
		}
		cond, err := candidate.Condition()
		if err != nil {
			return nil, nil, fmt.Errorf("rule: invalid condition: %w", err)
		}
		conflicts, err = lc.detector.CheckUpdateRule(ctx, id, conflict.RuleSummary{
			ID: id, Group: candidate.Group, Priority: candidate.Priority, Condition: cond,
		}, groupChanged || priorityChanged, conditionChanged)
		if err != nil {
			return nil, nil, fmt.Errorf("rule: checking conflicts: %w", err)
		}
	}

	var updated *Rule
	err = lc.repo.WithinTx(ctx, func(tx *Repository) error {
		r, err := tx.Update(ctx, id, expectedVersion, in)
		if err != nil {
			return err
		}
		if _, err := tx.CreateVersion(ctx, r, in.UpdatedBy); err != nil {
			return err
		}
		updated = r
		return nil
	})
	if err != nil {
		return nil, conflicts, err
	}

	lc.cache.Invalidate(ctx, oldGroup)
	if newGroup := updated.NormalizedGroup(); newGroup != oldGroup {
		lc.cache.Invalidate(ctx, newGroup)
	}
	lc.detector.Invalidate()
	lc.logger.Info("rule updated", "rule_id", updated.ID, "version", updated.CurrentVersion)
	return updated, conflicts, nil
}

// DeleteRule soft-deletes a rule and invalidates its group's cache entries.
func (lc *Lifecycle) DeleteRule(ctx context.Context, id string) error {
	existing, err := lc.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := lc.repo.Delete(ctx, id); err != nil {
		return err
	}
	lc.cache.Invalidate(ctx, existing.NormalizedGroup())
	lc.detector.Invalidate()
	lc.logger.Info("rule deleted", "rule_id", id)
	return nil
}
