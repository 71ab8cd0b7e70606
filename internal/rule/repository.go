package rule

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var (
	ErrNotFound        = errors.New("rule: not found")
	ErrVersionConflict = errors.New("rule: version conflict")
	ErrNameTaken       = errors.New("rule: name already in use")
)

// dbHandle is satisfied by both *sqlx.DB and *sqlx.Tx, so Repository's
// methods work unchanged whether called directly or inside WithinTx.
type dbHandle interface {
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

// Repository is a Postgres-backed store for rules and their version
// history: named-param queries via sqlx, soft deletes via deleted_at, and
// an optimistic-locking update.
type Repository struct {
	db dbHandle
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// WithinTx runs fn against a Repository bound to a single transaction,
// committing on success and rolling back on error or panic. Used by
// Lifecycle to make a rule write and its version snapshot atomic.
func (r *Repository) WithinTx(ctx context.Context, fn func(tx *Repository) error) error {
	sqlxDB, ok := r.db.(*sqlx.DB)
	if !ok {
		// Already running inside a transaction; nesting isn't supported,
		// just run against the current handle.
		return fn(r)
	}
	tx, err := sqlxDB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("rule: starting transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(&Repository{db: tx}); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Create inserts a new rule at version 1.
func (r *Repository) Create(ctx context.Context, in CreateInput) (*Rule, error) {
	now := time.Now().UTC()
	rule := &Rule{
		ID:             uuid.NewString(),
		Name:           in.Name,
		Description:    in.Description,
		Group:          in.Group,
		Priority:       in.Priority,
		Enabled:        in.Enabled,
		ConditionDSL:   in.ConditionDSL,
		Action:         in.Action,
		Metadata:       in.Metadata,
		CurrentVersion: 1,
		CreatedAt:      now,
		UpdatedAt:      now,
		CreatedBy:      in.CreatedBy,
	}

	const q = `
		INSERT INTO rules
			(id, name, description, group_name, priority, enabled, condition_dsl,
			 action, rule_metadata, current_version, created_at, updated_at, created_by)
		VALUES
			(:id, :name, :description, :group_name, :priority, :enabled, :condition_dsl,
			 :action, :rule_metadata, :current_version, :created_at, :updated_at, :created_by)`
	if _, err := r.db.NamedExecContext(ctx, q, rule); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrNameTaken
		}
		return nil, fmt.Errorf("rule: creating rule: %w", err)
	}
	return rule, nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (*Rule, error) {
	var out Rule
	const q = `SELECT * FROM rules WHERE id = $1 AND deleted_at IS NULL`
	if err := r.db.GetContext(ctx, &out, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("rule: getting rule %s: %w", id, err)
	}
	return &out, nil
}

func (r *Repository) GetByName(ctx context.Context, name string) (*Rule, error) {
	var out Rule
	const q = `SELECT * FROM rules WHERE name = $1 AND deleted_at IS NULL`
	if err := r.db.GetContext(ctx, &out, q, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("rule: getting rule by name %s: %w", name, err)
	}
	return &out, nil
}

// Update applies a patch with optimistic locking on current_version: the
// caller must have read the rule at expectedVersion, and the write fails
// with ErrVersionConflict if another writer has since bumped the version.
func (r *Repository) Update(ctx context.Context, id string, expectedVersion int, in UpdateInput) (*Rule, error) {
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.CurrentVersion != expectedVersion {
		return nil, ErrVersionConflict
	}

	if in.Name != nil {
		current.Name = *in.Name
	}
	if in.Description != nil {
		current.Description = *in.Description
	}
	if in.Group != nil {
		current.Group = *in.Group
	}
	if in.Priority != nil {
		current.Priority = *in.Priority
	}
	if in.Enabled != nil {
		current.Enabled = *in.Enabled
	}
	if in.ConditionDSL != nil {
		current.ConditionDSL = in.ConditionDSL
	}
	if in.Action != nil {
		current.Action = in.Action
	}
	if in.Metadata != nil {
		current.Metadata = in.Metadata
	}
	current.UpdatedAt = time.Now().UTC()
	current.CurrentVersion = expectedVersion + 1

	type updateParams struct {
		*Rule
		CurrentVersion  int `db:"current_version"`
		ExpectedVersion int `db:"expected_version"`
	}
	params := updateParams{Rule: current, CurrentVersion: current.CurrentVersion, ExpectedVersion: expectedVersion}

	const q = `
		UPDATE rules SET
			name = :name, description = :description, group_name = :group_name,
			priority = :priority, enabled = :enabled, condition_dsl = :condition_dsl,
			action = :action, rule_metadata = :rule_metadata,
			current_version = :current_version, updated_at = :updated_at
		WHERE id = :id AND current_version = :expected_version AND deleted_at IS NULL`
	res, err := r.db.NamedExecContext(ctx, q, params)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrNameTaken
		}
		return nil, fmt.Errorf("rule: updating rule %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rule: checking update result for %s: %w", id, err)
	}
	if affected == 0 {
		return nil, ErrVersionConflict
	}
	return current, nil
}

func (r *Repository) setEnabled(ctx context.Context, id string, enabled bool) error {
	const q = `UPDATE rules SET enabled = $1, updated_at = $2 WHERE id = $3 AND deleted_at IS NULL`
	res, err := r.db.ExecContext(ctx, q, enabled, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("rule: setting enabled=%v on %s: %w", enabled, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) Enable(ctx context.Context, id string) error  { return r.setEnabled(ctx, id, true) }
func (r *Repository) Disable(ctx context.Context, id string) error { return r.setEnabled(ctx, id, false) }

// Delete soft-deletes a rule by stamping deleted_at.
func (r *Repository) Delete(ctx context.Context, id string) error {
	const q = `UPDATE rules SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL`
	res, err := r.db.ExecContext(ctx, q, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("rule: deleting rule %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Filter narrows List/ListEnabled queries.
type Filter struct {
	Group       string
	Enabled     *bool
	Search      string
	Limit       int
	Offset      int
}

func (r *Repository) List(ctx context.Context, f Filter) ([]Rule, error) {
	clauses := []string{"deleted_at IS NULL"}
	args := []any{}
	argN := 1

	if f.Group != "" {
		clauses = append(clauses, fmt.Sprintf("group_name = $%d", argN))
		args = append(args, f.Group)
		argN++
	}
	if f.Enabled != nil {
		clauses = append(clauses, fmt.Sprintf("enabled = $%d", argN))
		args = append(args, *f.Enabled)
		argN++
	}
	if f.Search != "" {
		clauses = append(clauses, fmt.Sprintf("name ILIKE $%d", argN))
		args = append(args, "%"+f.Search+"%")
		argN++
	}

	q := fmt.Sprintf("SELECT * FROM rules WHERE %s ORDER BY priority DESC, name ASC", strings.Join(clauses, " AND "))
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	if f.Offset > 0 {
		q += fmt.Sprintf(" OFFSET %d", f.Offset)
	}

	var out []Rule
	if err := r.db.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, fmt.Errorf("rule: listing rules: %w", err)
	}
	return out, nil
}

func (r *Repository) ListEnabled(ctx context.Context, group string) ([]Rule, error) {
	enabled := true
	return r.List(ctx, Filter{Group: group, Enabled: &enabled})
}

func (r *Repository) findByGroupAndPriorityRaw(ctx context.Context, group string, priority int) ([]Rule, error) {
	const q = `SELECT * FROM rules WHERE enabled = true AND deleted_at IS NULL
		AND (group_name = $1 OR ($1 = 'default' AND group_name = '')) AND priority = $2`
	var out []Rule
	if err := r.db.SelectContext(ctx, &out, q, group, priority); err != nil {
		return nil, fmt.Errorf("rule: finding rules by group/priority: %w", err)
	}
	return out, nil
}

// ValidateName reports whether name is available, excluding excludeID (the
// rule's own id on an update, "" on create).
func (r *Repository) ValidateName(ctx context.Context, name, excludeID string) (bool, error) {
	const q = `SELECT COUNT(*) FROM rules WHERE name = $1 AND id != $2 AND deleted_at IS NULL`
	var count int
	if err := r.db.GetContext(ctx, &count, q, name, excludeID); err != nil {
		return false, fmt.Errorf("rule: validating name %s: %w", name, err)
	}
	return count == 0, nil
}

// Duplicate clones a rule as a new disabled draft at version 1.
func (r *Repository) Duplicate(ctx context.Context, id, newName, createdBy string) (*Rule, error) {
	src, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.Create(ctx, CreateInput{
		Name: newName, Description: src.Description, Group: src.Group,
		Priority: src.Priority, Enabled: false, ConditionDSL: src.ConditionDSL,
		Action: src.Action, Metadata: src.Metadata, CreatedBy: createdBy,
	})
}

// CreateVersion snapshots rule as an immutable version row.
func (r *Repository) CreateVersion(ctx context.Context, rule *Rule, createdBy string) (*RuleVersion, error) {
	v := &RuleVersion{
		ID: uuid.NewString(), RuleID: rule.ID, Version: rule.CurrentVersion,
		Name: rule.Name, Description: rule.Description, Group: rule.Group,
		Priority: rule.Priority, Enabled: rule.Enabled, ConditionDSL: rule.ConditionDSL,
		Action: rule.Action, Metadata: rule.Metadata, CreatedAt: time.Now().UTC(), CreatedBy: createdBy,
	}
	const q = `
		INSERT INTO rule_versions
			(id, rule_id, version, name, description, group_name, priority, enabled,
			 condition_dsl, action, rule_metadata, created_at, created_by)
		VALUES
			(:id, :rule_id, :version, :name, :description, :group_name, :priority, :enabled,
			 :condition_dsl, :action, :rule_metadata, :created_at, :created_by)`
	if _, err := r.db.NamedExecContext(ctx, q, v); err != nil {
		return nil, fmt.Errorf("rule: recording version for %s: %w", rule.ID, err)
	}
	return v, nil
}

func (r *Repository) GetVersionHistory(ctx context.Context, ruleID string) ([]RuleVersion, error) {
	const q = `SELECT * FROM rule_versions WHERE rule_id = $1 ORDER BY version ASC`
	var out []RuleVersion
	if err := r.db.SelectContext(ctx, &out, q, ruleID); err != nil {
		return nil, fmt.Errorf("rule: fetching version history for %s: %w", ruleID, err)
	}
	return out, nil
}

// VersionDiff reports the field-by-field changes between two versions of
// the same rule.
func (r *Repository) VersionDiff(ctx context.Context, ruleID string, fromVersion, toVersion int) ([]FieldDiff, error) {
	from, err := r.GetVersion(ctx, ruleID, fromVersion)
	if err != nil {
		return nil, fmt.Errorf("rule: loading version %d of %s: %w", fromVersion, ruleID, err)
	}
	to, err := r.GetVersion(ctx, ruleID, toVersion)
	if err != nil {
		return nil, fmt.Errorf("rule: loading version %d of %s: %w", toVersion, ruleID, err)
	}
	return Diff(from, to), nil
}

func (r *Repository) GetVersion(ctx context.Context, ruleID string, version int) (*RuleVersion, error) {
	const q = `SELECT * FROM rule_versions WHERE rule_id = $1 AND version = $2`
	var out RuleVersion
	if err := r.db.GetContext(ctx, &out, q, ruleID, version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("rule: fetching version %d of %s: %w", version, ruleID, err)
	}
	return &out, nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "duplicate key value violates unique constraint")
}
