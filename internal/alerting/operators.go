package alerting

import (
	"fmt"
	"slices"
	"strings"

	"github.com/fleetpulse/alertcore/internal/rules"
)

// evaluateGroup evaluates every child in order and combines the results
// with the group logic. NOT negates its first child only; an empty NOT
// group is true.
func (e *Evaluator) evaluateGroup(g *rules.Group, in env) (bool, error) {
	results := make([]bool, 0, len(g.Rules))
	for _, child := range g.Rules {
		switch n := child.(type) {
		case *rules.Condition:
			results = append(results, e.evaluateCondition(n, in))
		case *rules.Group:
			ok, err := e.evaluateGroup(n, in)
			if err != nil {
				return false, err
			}
			results = append(results, ok)
		default:
			results = append(results, false)
		}
	}
	return combine(g.Logic, results)
}

func combine(logic rules.Logic, results []bool) (bool, error) {
	switch logic {
	case rules.LogicAnd:
		return !slices.Contains(results, false), nil
	case rules.LogicOr:
		return slices.Contains(results, true), nil
	case rules.LogicXor:
		n := 0
		for _, r := range results {
			if r {
				n++
			}
		}
		return n == 1, nil
	case rules.LogicNot:
		if len(results) == 0 {
			return true, nil
		}
		return !results[0], nil
	default:
		return false, fmt.Errorf("unknown group logic %q", logic)
	}
}

// evaluateCondition tests one leaf. Unknown operators never match.
func (e *Evaluator) evaluateCondition(c *rules.Condition, in env) bool {
	if c.Type == rules.ConditionGroup {
		return e.matchGroups(c, in.groups)
	}

	actual, present := fieldValue(c, in)
	if !present {
		// A missing field only satisfies the negated operators.
		return c.Operator == rules.OperatorNotEquals || c.Operator == rules.OperatorNotIn
	}
	return e.apply(c.Operator, actual, c.Value)
}

// fieldValue returns the event value a condition of type c.Type reads.
func fieldValue(c *rules.Condition, in env) (any, bool) {
	switch c.Type {
	case rules.ConditionApontamento:
		v, ok := in.data[rules.FieldApontamento]
		return v, ok
	case rules.ConditionStatus:
		v, ok := in.data[rules.FieldStatus]
		return v, ok
	case rules.ConditionTime:
		return timeValue(in.data), true
	case rules.ConditionEquipment:
		return in.equipment, in.equipment != ""
	case rules.ConditionCustom:
		if c.Field == "" {
			return nil, false
		}
		v, ok := in.data[c.Field]
		return v, ok
	default:
		return nil, false
	}
}

// matchGroups tests a group condition against the equipment's groups: it
// holds when any group matches, and the negated operators hold when none do.
func (e *Evaluator) matchGroups(c *rules.Condition, groups []string) bool {
	op := c.Operator
	negated := false
	switch op {
	case rules.OperatorNotEquals:
		op, negated = rules.OperatorEquals, true
	case rules.OperatorNotIn:
		op, negated = rules.OperatorIn, true
	}
	matched := slices.ContainsFunc(groups, func(g string) bool { return e.apply(op, g, c.Value) })
	return matched != negated
}

func (e *Evaluator) apply(op string, actual, expected any) bool {
	switch op {
	case rules.OperatorEquals:
		return looseEquals(actual, expected)
	case rules.OperatorNotEquals:
		return !looseEquals(actual, expected)
	case rules.OperatorContains:
		if list, ok := asList(actual); ok {
			return slices.ContainsFunc(list, func(v any) bool { return looseEquals(v, expected) })
		}
		return strings.Contains(lower(actual), lower(expected))
	case rules.OperatorStartsWith:
		return strings.HasPrefix(lower(actual), lower(expected))
	case rules.OperatorEndsWith:
		return strings.HasSuffix(lower(actual), lower(expected))
	case rules.OperatorRegex:
		pattern, ok := expected.(string)
		if !ok {
			return false
		}
		matched, err := e.regex.MatchString(pattern, rules.Stringify(actual), false)
		return err == nil && matched
	case rules.OperatorIn:
		return inList(actual, expected)
	case rules.OperatorNotIn:
		return !inList(actual, expected)
	case rules.OperatorGreaterThan, rules.OperatorLessThan, rules.OperatorGreaterOrEqual,
		rules.OperatorLessOrEqual, rules.OperatorNumericEquals:
		return compareFloat(rules.Coerce(actual), op, rules.Coerce(expected))
	default:
		return false
	}
}

// looseEquals compares numerically when both sides are numeric and as
// case-insensitive text otherwise.
func looseEquals(a, b any) bool {
	if x, ok := rules.ToNumber(a); ok {
		if y, ok := rules.ToNumber(b); ok {
			return x == y
		}
	}
	return strings.EqualFold(rules.Stringify(a), rules.Stringify(b))
}

// inList reports whether actual equals an element of expected. A string
// list is accepted comma separated.
func inList(actual, expected any) bool {
	list, ok := asList(expected)
	if !ok {
		s, isString := expected.(string)
		if !isString {
			return false
		}
		for _, part := range strings.Split(s, ",") {
			list = append(list, strings.TrimSpace(part))
		}
	}
	return slices.ContainsFunc(list, func(v any) bool { return looseEquals(actual, v) })
}

func asList(v any) ([]any, bool) {
	switch t := v.(type) {
	case []any:
		return t, true
	case []string:
		out := make([]any, len(t))
		for i := range t {
			out[i] = t[i]
		}
		return out, true
	case []float64:
		out := make([]any, len(t))
		for i := range t {
			out[i] = t[i]
		}
		return out, true
	case []int:
		out := make([]any, len(t))
		for i := range t {
			out[i] = t[i]
		}
		return out, true
	}
	return nil, false
}

func lower(v any) string {
	return strings.ToLower(rules.Stringify(v))
}
