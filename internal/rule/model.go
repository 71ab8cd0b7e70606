// Package rule owns rule persistence and the lifecycle operations
// (create/update/delete) that keep the rule store, the two-tier cache, the
// conflict detector, and the compiled RETE network consistent with each
// other.
package rule

import (
	"encoding/json"
	"time"

	"github.com/fluxrules/ruleengine/internal/condition"
)

// Rule is one row of the rules table: the live, current-version state of a
// rule. ConditionDSL is stored as JSON in Postgres and decoded lazily via
// Condition().
type Rule struct {
	ID              string          `db:"id" json:"id"`
	Name            string          `db:"name" json:"name" validate:"required"`
	Description     string          `db:"description" json:"description"`
	Group           string          `db:"group_name" json:"group"`
	Priority        int             `db:"priority" json:"priority"`
	Enabled         bool            `db:"enabled" json:"enabled"`
	ConditionDSL    json.RawMessage `db:"condition_dsl" json:"condition_dsl" validate:"required"`
	Action          json.RawMessage `db:"action" json:"action" validate:"required"`
	Metadata        json.RawMessage `db:"rule_metadata" json:"metadata,omitempty"`
	CurrentVersion  int             `db:"current_version" json:"current_version"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
	DeletedAt       *time.Time      `db:"deleted_at" json:"deleted_at,omitempty"`
	CreatedBy       string          `db:"created_by" json:"created_by"`
}

// Condition decodes ConditionDSL into a condition tree.
func (r *Rule) Condition() (*condition.Node, error) {
	var n condition.Node
	if err := json.Unmarshal(r.ConditionDSL, &n); err != nil {
		return nil, err
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}
	return &n, nil
}

// NormalizedGroup returns Group, or "default" if unset — the cache and
// conflict detector both treat these as equivalent.
func (r *Rule) NormalizedGroup() string {
	if r.Group == "" {
		return "default"
	}
	return r.Group
}

// RuleVersion is an immutable snapshot of a rule taken at every
// create/update, forming an append-only history.
type RuleVersion struct {
	ID           string          `db:"id" json:"id"`
	RuleID       string          `db:"rule_id" json:"rule_id"`
	Version      int             `db:"version" json:"version"`
	Name         string          `db:"name" json:"name"`
	Description  string          `db:"description" json:"description"`
	Group        string          `db:"group_name" json:"group"`
	Priority     int             `db:"priority" json:"priority"`
	Enabled      bool            `db:"enabled" json:"enabled"`
	ConditionDSL json.RawMessage `db:"condition_dsl" json:"condition_dsl"`
	Action       json.RawMessage `db:"action" json:"action"`
	Metadata     json.RawMessage `db:"rule_metadata" json:"metadata,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	CreatedBy    string          `db:"created_by" json:"created_by"`
}

// FieldDiff is one changed field between two rule versions.
type FieldDiff struct {
	Field string `json:"field"`
	From  any    `json:"from"`
	To    any    `json:"to"`
}

// Diff compares two versions of the same rule field-by-field.
func Diff(from, to *RuleVersion) []FieldDiff {
	var diffs []FieldDiff
	add := func(field string, a, b any) {
		if a != b {
			diffs = append(diffs, FieldDiff{Field: field, From: a, To: b})
		}
	}
	add("name", from.Name, to.Name)
	add("description", from.Description, to.Description)
	add("group", from.Group, to.Group)
	add("priority", from.Priority, to.Priority)
	add("enabled", from.Enabled, to.Enabled)
	if string(from.ConditionDSL) != string(to.ConditionDSL) {
		diffs = append(diffs, FieldDiff{Field: "condition_dsl", From: string(from.ConditionDSL), To: string(to.ConditionDSL)})
	}
	if string(from.Action) != string(to.Action) {
		diffs = append(diffs, FieldDiff{Field: "action", From: string(from.Action), To: string(to.Action)})
	}
	return diffs
}

// CreateInput is the payload for creating a rule, validated at the
// boundary via go-playground/validator before it ever reaches the
// repository.
type CreateInput struct {
	Name         string          `json:"name" validate:"required"`
	Description  string          `json:"description"`
	Group        string          `json:"group"`
	Priority     int             `json:"priority"`
	Enabled      bool            `json:"enabled"`
	ConditionDSL json.RawMessage `json:"condition_dsl" validate:"required"`
	Action       json.RawMessage `json:"action" validate:"required"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	CreatedBy    string          `json:"created_by"`
}

// UpdateInput is a partial patch; nil pointers mean "leave unchanged".
type UpdateInput struct {
	Name         *string         `json:"name,omitempty"`
	Description  *string         `json:"description,omitempty"`
	Group        *string         `json:"group,omitempty"`
	Priority     *int            `json:"priority,omitempty"`
	Enabled      *bool           `json:"enabled,omitempty"`
	ConditionDSL json.RawMessage `json:"condition_dsl,omitempty"`
	Action       json.RawMessage `json:"action,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	UpdatedBy    string          `json:"updated_by"`
}
