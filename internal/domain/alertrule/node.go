package alertrule

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Combinator joins the children of a Group.
type Combinator string

const (
	All Combinator = "all"
	Any Combinator = "any"
)

// Operator compares a snapshot value against a Condition.
type Operator string

const (
	OpGT      Operator = ">"
	OpGTE     Operator = ">="
	OpLT      Operator = "<"
	OpLTE     Operator = "<="
	OpEQ      Operator = "=="
	OpNE      Operator = "!="
	OpIsTrue  Operator = "is_true"
	OpIsFalse Operator = "is_false"
)

// IsComparison reports whether op takes a numeric threshold.
func (op Operator) IsComparison() bool {
	switch op {
	case OpGT, OpGTE, OpLT, OpLTE, OpEQ, OpNE:
		return true
	}
	return false
}

// IsBoolean reports whether op tests a boolean metric.
func (op Operator) IsBoolean() bool {
	return op == OpIsTrue || op == OpIsFalse
}

// maxDepth bounds nesting of stored documents. Current rules use one level.
const maxDepth = 8

// Node is either a *Group or a *Condition.
type Node interface {
	node()
}

// Group is a combinator node over an ordered, non-empty child list.
type Group struct {
	Op       Combinator
	Children []Node
}

// Condition is a leaf comparing one named metric.
type Condition struct {
	Metric    string
	Operator  Operator
	Threshold *float64
}

func (*Group) node()     {}
func (*Condition) node() {}

// Tree is the condition tree of a rule. It round-trips through the stored
// JSON document form:
//
//	{"all": [{"metric": "mood_latest", "operator": "<", "value": 3},
//	         {"metric": "checkin_missing_3d", "operator": "is_true"}]}
type Tree struct {
	Root Node
}

type leafDoc struct {
	Metric   string   `json:"metric"`
	Operator Operator `json:"operator"`
	Value    *float64 `json:"value,omitempty"`
}

// ParseTree decodes and structurally validates a stored condition document.
func ParseTree(raw []byte) (Tree, error) {
	root, err := parseNode(raw, 1)
	if err != nil {
		return Tree{}, err
	}
	return Tree{Root: root}, nil
}

func parseNode(raw json.RawMessage, depth int) (Node, error) {
	if depth > maxDepth {
		return nil, invalidf("condition tree deeper than %d levels", maxDepth)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, invalidf("condition node must be a JSON object")
	}

	allRaw, hasAll := fields[string(All)]
	anyRaw, hasAny := fields[string(Any)]
	switch {
	case hasAll && hasAny:
		return nil, invalidf("condition node cannot hold both %q and %q", All, Any)
	case hasAll || hasAny:
		if len(fields) != 1 {
			return nil, invalidf("combinator node must have exactly one key")
		}
		op, childrenRaw := All, allRaw
		if hasAny {
			op, childrenRaw = Any, anyRaw
		}
		var items []json.RawMessage
		if err := json.Unmarshal(childrenRaw, &items); err != nil {
			return nil, invalidf("%q must be a list of conditions", op)
		}
		if len(items) == 0 {
			return nil, invalidf("%q must have at least one condition", op)
		}
		g := &Group{Op: op, Children: make([]Node, 0, len(items))}
		for i, item := range items {
			child, err := parseNode(item, depth+1)
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", op, i, err)
			}
			g.Children = append(g.Children, child)
		}
		return g, nil
	}

	var leaf leafDoc
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&leaf); err != nil {
		return nil, invalidf("invalid condition: %v", err)
	}
	c := &Condition{Metric: leaf.Metric, Operator: leaf.Operator, Threshold: leaf.Value}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Condition) validate() error {
	if c.Metric == "" {
		return invalidf("condition metric is required")
	}
	switch {
	case c.Operator.IsComparison():
		if c.Threshold == nil {
			return invalidf("operator %q on %q requires a numeric value", c.Operator, c.Metric)
		}
	case c.Operator.IsBoolean():
		if c.Threshold != nil {
			return invalidf("operator %q on %q takes no value", c.Operator, c.Metric)
		}
	default:
		return invalidf("unknown operator %q on %q", c.Operator, c.Metric)
	}
	return nil
}

// MarshalJSON writes the stored document form.
func (t Tree) MarshalJSON() ([]byte, error) {
	if t.Root == nil {
		return []byte("null"), nil
	}
	return json.Marshal(toDoc(t.Root))
}

// UnmarshalJSON parses and structurally validates the stored document form.
func (t *Tree) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		t.Root = nil
		return nil
	}
	parsed, err := ParseTree(b)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func toDoc(n Node) interface{} {
	switch v := n.(type) {
	case *Group:
		children := make([]interface{}, len(v.Children))
		for i, c := range v.Children {
			children[i] = toDoc(c)
		}
		return map[string]interface{}{string(v.Op): children}
	case *Condition:
		return leafDoc{Metric: v.Metric, Operator: v.Operator, Value: v.Threshold}
	}
	return nil
}

// Metrics lists every metric referenced by the tree, in document order.
func (t Tree) Metrics() []string {
	var out []string
	var walk func(Node)
	walk = func(n Node) {
		switch v := n.(type) {
		case *Group:
			for _, c := range v.Children {
				walk(c)
			}
		case *Condition:
			out = append(out, v.Metric)
		}
	}
	if t.Root != nil {
		walk(t.Root)
	}
	return out
}

// Leaf and group constructors, mostly for callers building rules in code.

func Leaf(metric string, op Operator, threshold float64) *Condition {
	return &Condition{Metric: metric, Operator: op, Threshold: &threshold}
}

func IsTrue(metric string) *Condition {
	return &Condition{Metric: metric, Operator: OpIsTrue}
}

func IsFalse(metric string) *Condition {
	return &Condition{Metric: metric, Operator: OpIsFalse}
}

func AllOf(children ...Node) *Group {
	return &Group{Op: All, Children: children}
}

func AnyOf(children ...Node) *Group {
	return &Group{Op: Any, Children: children}
}
