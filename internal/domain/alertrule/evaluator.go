package alertrule

import (
	"encoding/json"
	"fmt"
	"math"
)

// Snapshot is the flat map of current metrics for one patient.
type Snapshot map[string]interface{}

// Evaluate reports whether rule's condition holds for snapshot. A metric
// missing from the snapshot makes its leaf false. Evaluation does no I/O.
func Evaluate(rule *Rule, snapshot Snapshot) (bool, error) {
	if rule == nil || rule.Condition.Root == nil {
		return false, fmt.Errorf("%w: rule has no condition", ErrInvalidRule)
	}
	return EvaluateNode(rule.Condition.Root, snapshot)
}

// EvaluateJSON decodes a stored condition document and evaluates it against
// metrics.
func EvaluateJSON(metrics map[string]interface{}, condition json.RawMessage) (bool, error) {
	tree, err := ParseTree(condition)
	if err != nil {
		return false, err
	}
	return EvaluateNode(tree.Root, Snapshot(metrics))
}

// EvaluateNode evaluates one node. all stops at the first false child, any at
// the first true one.
func EvaluateNode(n Node, s Snapshot) (bool, error) {
	switch v := n.(type) {
	case *Group:
		if len(v.Children) == 0 {
			return false, fmt.Errorf("%w: %q has no conditions", ErrInvalidRule, v.Op)
		}
		switch v.Op {
		case All:
			for _, c := range v.Children {
				ok, err := EvaluateNode(c, s)
				if err != nil || !ok {
					return false, err
				}
			}
			return true, nil
		case Any:
			for _, c := range v.Children {
				ok, err := EvaluateNode(c, s)
				if err != nil {
					return false, err
				}
				if ok {
					return true, nil
				}
			}
			return false, nil
		}
		return false, fmt.Errorf("%w: unknown combinator %q", ErrInvalidRule, v.Op)
	case *Condition:
		return evaluateCondition(v, s)
	}
	return false, fmt.Errorf("%w: unknown condition node %T", ErrInvalidRule, n)
}

func evaluateCondition(c *Condition, s Snapshot) (bool, error) {
	raw, ok := s[c.Metric]
	if !ok || raw == nil {
		return false, nil
	}

	if c.Operator.IsBoolean() {
		b, ok := raw.(bool)
		if !ok {
			return false, nil
		}
		if c.Operator == OpIsTrue {
			return b, nil
		}
		return !b, nil
	}

	if !c.Operator.IsComparison() {
		return false, fmt.Errorf("%w: unknown operator %q", ErrInvalidRule, c.Operator)
	}
	if c.Threshold == nil {
		return false, fmt.Errorf("%w: operator %q on %q has no value", ErrInvalidRule, c.Operator, c.Metric)
	}
	x, ok := toFloat(raw)
	if !ok {
		return false, nil
	}
	t := *c.Threshold
	switch c.Operator {
	case OpGT:
		return x > t, nil
	case OpGTE:
		return x >= t, nil
	case OpLT:
		return x < t, nil
	case OpLTE:
		return x <= t, nil
	case OpEQ:
		return x == t, nil
	default:
		return x != t, nil
	}
}

// toFloat accepts the numeric kinds a snapshot can carry. Strings and bools
// are not numbers.
func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
