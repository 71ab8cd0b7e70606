// Package condition implements the rule condition DSL: a tagged tree of
// atomic comparisons ("condition" nodes) and boolean connectives ("group"
// nodes), its JSON wire format, canonicalization, and a pure evaluator.
package condition

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"golang.org/x/crypto/blake2b"
)

// Operator is an atomic comparison operator. The set is closed; unknown
// operators never match (see Evaluate).
type Operator string

const (
	OpEq         Operator = "=="
	OpNe         Operator = "!="
	OpGt         Operator = ">"
	OpGte        Operator = ">="
	OpLt         Operator = "<"
	OpLte        Operator = "<="
	OpIn         Operator = "in"
	OpNotIn      Operator = "not_in"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "starts_with"
	OpEndsWith   Operator = "ends_with"
	OpRegex      Operator = "regex"
	OpExists     Operator = "exists"
	OpNotExists  Operator = "not_exists"
)

// Connective is a boolean combinator for a group node.
type Connective string

const (
	ConnAnd Connective = "AND"
	ConnOr  Connective = "OR"
	ConnNot Connective = "NOT"
)

// NodeType discriminates the two shapes a Node's JSON can take.
type NodeType string

const (
	TypeCondition NodeType = "condition"
	TypeGroup     NodeType = "group"
)

// Node is either an atomic condition (Field/Op/Value set, Children nil) or a
// group (Connective/Children set, Field/Op/Value zero). The Type field is
// the wire discriminator; use IsGroup/IsCondition rather than comparing it
// directly from outside this package.
//
// The wire format uses a single "op" key for both an atomic condition's
// operator and a group's connective (">", "in", "AND", "NOT", ...) — the
// same key carries different vocabularies depending on Type. Op and
// Connective are marshaled/unmarshaled by hand below rather than via struct
// tags, since encoding/json can't map two distinct fields onto one key.
type Node struct {
	Type       NodeType   `json:"type"`
	Field      string     `json:"field,omitempty"`
	Op         Operator   `json:"-"`
	Value      any        `json:"value,omitempty"`
	Connective Connective `json:"-"`
	Children   []*Node    `json:"children,omitempty"`
}

func (n *Node) IsGroup() bool     { return n.Type == TypeGroup }
func (n *Node) IsCondition() bool { return n.Type == TypeCondition }

// wireNode mirrors Node's JSON shape with the shared "op" key, used as the
// marshal/unmarshal target so Node itself can keep typed Op/Connective
// fields for the rest of the package to use without casting.
type wireNode struct {
	Type     NodeType `json:"type"`
	Field    string   `json:"field,omitempty"`
	Op       string   `json:"op,omitempty"`
	Value    any      `json:"value,omitempty"`
	Children []*Node  `json:"children,omitempty"`
}

// UnmarshalJSON validates the discriminator up front so malformed payloads
// fail at the boundary instead of producing a half-populated Node, and
// routes the wire "op" key to Op or Connective depending on Type.
func (n *Node) UnmarshalJSON(data []byte) error {
	var w wireNode
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Type {
	case TypeCondition, TypeGroup:
	default:
		return fmt.Errorf("condition: unknown node type %q", w.Type)
	}
	n.Type = w.Type
	n.Field = w.Field
	n.Value = w.Value
	n.Children = w.Children
	n.Op = ""
	n.Connective = ""
	switch w.Type {
	case TypeCondition:
		n.Op = Operator(w.Op)
	case TypeGroup:
		n.Connective = Connective(w.Op)
	}
	return nil
}

// MarshalJSON emits Op or Connective (whichever applies to Type) under the
// shared "op" key.
func (n *Node) MarshalJSON() ([]byte, error) {
	w := wireNode{Type: n.Type, Field: n.Field, Value: n.Value, Children: n.Children}
	switch n.Type {
	case TypeCondition:
		w.Op = string(n.Op)
	case TypeGroup:
		w.Op = string(n.Connective)
	}
	return json.Marshal(w)
}

// Validate enforces the structural invariants the evaluator and RETE
// compiler both rely on: a condition node carries no children, a group
// node carries no field/op/value, and a NOT group has exactly one child.
func (n *Node) Validate() error {
	if n == nil {
		return fmt.Errorf("condition: nil node")
	}
	switch n.Type {
	case TypeCondition:
		if n.Field == "" {
			return fmt.Errorf("condition: condition node missing field")
		}
		if n.Op == "" {
			return fmt.Errorf("condition: condition node missing operator")
		}
		if len(n.Children) != 0 {
			return fmt.Errorf("condition: condition node %q must not have children", n.Field)
		}
		return nil
	case TypeGroup:
		if n.Field != "" || n.Op != "" || n.Value != nil {
			return fmt.Errorf("condition: group node must not set field/operator/value")
		}
		switch n.Connective {
		case ConnAnd, ConnOr:
			// ok, any child count including zero (empty group = true)
		case ConnNot:
			if len(n.Children) != 1 {
				return fmt.Errorf("condition: NOT group must have exactly one child, got %d", len(n.Children))
			}
		default:
			return fmt.Errorf("condition: unknown connective %q", n.Connective)
		}
		for _, c := range n.Children {
			if err := c.Validate(); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("condition: unknown node type %q", n.Type)
	}
}

// AtomicKey is the hashable, comparable identity of an atomic condition used
// to key the RETE alpha-node table: two conditions sharing field/op/value
// must map to the same AlphaNode regardless of which rule they came from.
type AtomicKey struct {
	Field string
	Op    Operator
	Value string // canonical JSON encoding of Value
}

// Key returns this condition node's alpha-sharing identity. Only valid for
// condition nodes; callers must validate the tree first.
func (n *Node) Key() (AtomicKey, error) {
	v, err := canonicalJSON(n.Value)
	if err != nil {
		return AtomicKey{}, err
	}
	return AtomicKey{Field: n.Field, Op: n.Op, Value: v}, nil
}

// canonicalJSON renders a value as JSON with map keys sorted, so equal
// values (including nested maps) always produce identical strings.
func canonicalJSON(v any) (string, error) {
	normalized, err := normalize(v)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(normalized)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// normalize round-trips arbitrary Go values (including map[string]any with
// nondeterministic iteration order) through JSON so json.Marshal's
// guaranteed sorted-key map encoding applies uniformly.
func normalize(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Hash returns a stable digest of the condition tree, used both for
// duplicate-condition detection in internal/conflict and for the RETE
// network's rule-set change check.
func (n *Node) Hash() (string, error) {
	canon, err := canonicalNode(n)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(canon)
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(b)
	return fmt.Sprintf("%x", sum), nil
}

// canonicalNode builds a plain-map representation of the tree with group
// children in a stable order (sorted by their own canonical encoding), so
// semantically identical trees hash identically regardless of JSON field
// order or child array ordering supplied by the caller.
func canonicalNode(n *Node) (map[string]any, error) {
	if n == nil {
		return nil, nil
	}
	out := map[string]any{"type": string(n.Type)}
	switch n.Type {
	case TypeCondition:
		out["field"] = n.Field
		out["op"] = string(n.Op)
		v, err := normalize(n.Value)
		if err != nil {
			return nil, err
		}
		out["value"] = v
	case TypeGroup:
		out["op"] = string(n.Connective)
		children := make([]map[string]any, 0, len(n.Children))
		for _, c := range n.Children {
			cc, err := canonicalNode(c)
			if err != nil {
				return nil, err
			}
			children = append(children, cc)
		}
		sort.Slice(children, func(i, j int) bool {
			bi, _ := json.Marshal(children[i])
			bj, _ := json.Marshal(children[j])
			return bytes.Compare(bi, bj) < 0
		})
		out["children"] = children
	}
	return out, nil
}
