package rules

import (
	"fmt"
	"strings"

	"github.com/fleetpulse/alertcore/internal/errors"
	"github.com/fleetpulse/alertcore/internal/saferegex"
)

// Tree limits applied when ValidatorOptions leaves them unset.
const (
	DefaultMaxDepth      = 5
	DefaultMaxConditions = 50
)

// ValidatorOptions configures tree validation.
type ValidatorOptions struct {
	MaxDepth             int
	MaxConditions        int
	AllowEmptyConditions bool
	// Strict turns operator/type mismatches into errors instead of warnings.
	Strict bool
}

// DefaultValidatorOptions returns the default limits in permissive mode.
func DefaultValidatorOptions() ValidatorOptions {
	return ValidatorOptions{MaxDepth: DefaultMaxDepth, MaxConditions: DefaultMaxConditions}
}

func (o ValidatorOptions) withDefaults() ValidatorOptions {
	if o.MaxDepth <= 0 {
		o.MaxDepth = DefaultMaxDepth
	}
	if o.MaxConditions <= 0 {
		o.MaxConditions = DefaultMaxConditions
	}
	return o
}

// Result collects validation findings. Only Errors make a tree invalid.
type Result struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Valid reports whether no errors were found.
func (r Result) Valid() bool {
	return len(r.Errors) == 0
}

// Err returns the errors as a *errors.ValidationError for field, or nil.
func (r Result) Err(field string) error {
	if r.Valid() {
		return nil
	}
	return errors.NewValidationError(field, r.Errors...)
}

func (r *Result) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Result) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// mismatch records an operator/type incompatibility according to strictness.
func (r *Result) mismatch(strict bool, format string, args ...any) {
	if strict {
		r.errorf(format, args...)
		return
	}
	r.warnf(format, args...)
}

// Validator checks condition trees and rules.
type Validator struct {
	opts  ValidatorOptions
	regex *saferegex.Matcher
}

// NewValidator creates a Validator. Zero limits select the defaults.
func NewValidator(opts ValidatorOptions) *Validator {
	return &Validator{opts: opts.withDefaults(), regex: saferegex.New(0, 0)}
}

// Options returns the effective options.
func (v *Validator) Options() ValidatorOptions {
	return v.opts
}

// ValidateGroup checks logic values, empty groups, depth and leaf-count
// ceilings, and each condition.
func (v *Validator) ValidateGroup(g *Group) Result {
	var res Result
	if g == nil {
		res.errorf("condition tree is required")
		return res
	}

	leaves := 0
	depthExceeded := false
	g.Walk(func(n Node, _ *Group, depth int) bool {
		switch node := n.(type) {
		case *Group:
			if depth > v.opts.MaxDepth {
				if !depthExceeded {
					res.errorf("maximum nesting depth of %d exceeded", v.opts.MaxDepth)
					depthExceeded = true
				}
				return false
			}
			v.checkGroup(&res, node)
		case *Condition:
			leaves++
			v.checkCondition(&res, node)
		}
		return true
	})

	if leaves > v.opts.MaxConditions {
		res.errorf("too many conditions: %d (max %d)", leaves, v.opts.MaxConditions)
	}
	return res
}

func (v *Validator) checkGroup(res *Result, g *Group) {
	label := nodeLabel("group", g.ID)
	if !g.Logic.Valid() {
		res.errorf("%s has invalid logic %q (expected AND, OR, NOT or XOR)", label, g.Logic)
	}
	if len(g.Rules) == 0 {
		if v.opts.AllowEmptyConditions {
			res.warnf("%s has no conditions", label)
		} else {
			res.errorf("%s has no conditions", label)
		}
	}
	if g.Logic == LogicNot && len(g.Rules) > 1 {
		res.warnf("%s uses NOT with %d children; only the first is evaluated", label, len(g.Rules))
	}
	for i, child := range g.Rules {
		if child == nil {
			res.errorf("%s has a null child at position %d", label, i)
		}
	}
}

func (v *Validator) checkCondition(res *Result, c *Condition) {
	label := nodeLabel("condition", c.ID)
	if !c.Type.Valid() {
		res.errorf("%s has unknown type %q", label, c.Type)
		return
	}
	if !IsOperator(c.Operator) {
		res.errorf("%s has unknown operator %q", label, c.Operator)
		return
	}
	if c.Value == nil {
		res.errorf("%s requires a value", label)
		return
	}
	if c.Type == ConditionCustom && strings.TrimSpace(c.Field) == "" {
		res.errorf("%s of type custom requires a field", label)
	}
	if !Compatible(c.Type, c.Operator) {
		res.mismatch(v.opts.Strict, "%s: operator %q is not compatible with type %q", label, c.Operator, c.Type)
	}

	switch c.Operator {
	case OperatorIn, OperatorNotIn:
		if _, ok := c.Value.([]any); !ok {
			if _, ok := c.Value.([]string); !ok {
				res.warnf("%s: operator %q expects a list value", label, c.Operator)
			}
		}
	case OperatorRegex:
		pattern, ok := c.Value.(string)
		if !ok {
			res.warnf("%s: regex value must be a string", label)
		} else if err := v.regex.Valid(pattern); err != nil {
			res.warnf("%s: pattern %q does not compile and will never match: %v", label, pattern, err)
		}
	}
	if IsNumericOperator(c.Operator) {
		if _, ok := ToNumber(c.Value); !ok {
			res.mismatch(v.opts.Strict, "%s: operator %q expects a numeric value, got %v", label, c.Operator, c.Value)
		}
	}
}

// ValidateRule checks the rule metadata and its type-specific conditions.
func (v *Validator) ValidateRule(r *Rule) Result {
	var res Result
	if r == nil {
		res.errorf("rule is required")
		return res
	}

	if strings.TrimSpace(r.Name) == "" {
		res.errorf("name is required")
	}
	if !r.Type.Valid() {
		res.errorf("unknown rule type %q", r.Type)
	}
	if !r.Severity.Valid() {
		res.errorf("unknown severity %q", r.Severity)
	}
	if r.CooldownPeriod < 0 {
		res.errorf("cooldownPeriod must not be negative")
	}
	if r.EvaluationFrequency < 0 {
		res.errorf("evaluationFrequency must not be negative")
	}
	if r.ValidFrom != nil && r.ValidUntil != nil && !r.ValidFrom.Before(r.ValidUntil.Time) {
		res.errorf("validFrom must be before validUntil")
	}
	for _, p := range r.EquipmentPatterns {
		if err := v.regex.Valid(p); err != nil {
			res.warnf("equipment pattern %q is not a valid expression and will match as plain text", p)
		}
	}

	switch r.Type {
	case TypeSimple:
		v.checkSimple(&res, r.Conditions.Simple)
	case TypeAdvanced:
		if r.Conditions.Tree == nil {
			res.errorf("advanced rule requires a condition group")
			break
		}
		tree := v.ValidateGroup(r.Conditions.Tree)
		res.Errors = append(res.Errors, tree.Errors...)
		res.Warnings = append(res.Warnings, tree.Warnings...)
	case TypeThreshold:
		v.checkThreshold(&res, r.Conditions.Threshold)
	case TypeAnomaly:
		v.checkAnomaly(&res, r.Conditions.Anomaly)
	}
	return res
}

func (v *Validator) checkSimple(res *Result, s *SimpleConditions) {
	if s == nil {
		res.errorf("simple rule requires conditions")
		return
	}
	if s.Apontamento == "" && s.Status == "" && s.TimeOperator == "" {
		res.warnf("simple rule declares no checks and matches every event")
	}
	if s.TimeOperator != "" {
		if !IsNumericOperator(s.TimeOperator) {
			res.errorf("timeOperator %q is not a numeric operator", s.TimeOperator)
		}
		if s.TimeValue == nil {
			res.errorf("timeOperator requires timeValue")
		}
	}
}

func (v *Validator) checkThreshold(res *Result, t *ThresholdCondition) {
	if t == nil {
		res.errorf("threshold rule requires conditions")
		return
	}
	if strings.TrimSpace(t.Metric) == "" {
		res.errorf("threshold rule requires a metric")
	}
	if !IsNumericOperator(t.Operator) {
		res.errorf("threshold operator %q is not a numeric operator", t.Operator)
	}
	if t.SustainedFor < 0 {
		res.errorf("sustainedFor must not be negative")
	}
}

func (v *Validator) checkAnomaly(res *Result, a *AnomalyCondition) {
	if a == nil {
		res.errorf("anomaly rule requires conditions")
		return
	}
	if strings.TrimSpace(a.Metric) == "" {
		res.errorf("anomaly rule requires a metric")
	}
	switch a.Method {
	case AnomalyZScore:
		if a.ZThreshold != nil && a.ZThreshold.Float() <= 0 {
			res.errorf("zThreshold must be positive")
		}
		if a.StdDev != nil && a.StdDev.Float() < 0 {
			res.errorf("stdDev must not be negative")
		}
	case AnomalyStatistical:
		if a.Min != nil && a.Max != nil && a.Min.Float() > a.Max.Float() {
			res.errorf("min must not exceed max")
		}
		if a.Tolerance != nil && a.Tolerance.Float() < 0 {
			res.errorf("tolerance must not be negative")
		}
	default:
		// Custom tests registered on the evaluator are allowed.
		if strings.TrimSpace(a.Method) == "" {
			res.errorf("anomaly rule requires a method")
		} else {
			res.warnf("anomaly method %q is not built in", a.Method)
		}
	}
}

func nodeLabel(kind, id string) string {
	if id == "" {
		return kind
	}
	return fmt.Sprintf("%s %s", kind, id)
}
