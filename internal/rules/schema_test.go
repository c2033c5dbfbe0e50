package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSchema_AllConditionTypesPresent(t *testing.T) {
	schema := GetSchema()
	names := make([]ConditionType, len(schema.ConditionTypes))
	for i, ct := range schema.ConditionTypes {
		names[i] = ct.Name
		assert.NotEmpty(t, ct.Operators, "condition type %s has no operators", ct.Name)
	}
	assert.ElementsMatch(t, []ConditionType{
		ConditionApontamento, ConditionStatus, ConditionTime,
		ConditionEquipment, ConditionGroup, ConditionCustom,
	}, names)
}

func TestGetSchema_AllOperatorsPresent(t *testing.T) {
	schema := GetSchema()
	names := make([]string, len(schema.Operators))
	for i, op := range schema.Operators {
		names[i] = op.Name
	}
	assert.ElementsMatch(t, allOperators, names)
}

func TestGetSchema_OperatorsAreKnown(t *testing.T) {
	schema := GetSchema()
	for _, ct := range schema.ConditionTypes {
		for _, op := range ct.Operators {
			assert.True(t, IsOperator(op), "condition type %s lists unknown operator %s", ct.Name, op)
			assert.True(t, Compatible(ct.Name, op))
		}
	}
}

func TestGetSchema_TimeAcceptsNumericOperators(t *testing.T) {
	schema := GetSchema()
	for _, ct := range schema.ConditionTypes {
		if ct.Name != ConditionTime {
			continue
		}
		assert.Subset(t, ct.Operators, numericOperators)
		return
	}
	require.Fail(t, "time condition type missing")
}

func TestGetSchemaWithLimits(t *testing.T) {
	schema := GetSchemaWithLimits(ValidatorOptions{MaxDepth: 3})
	assert.Equal(t, 3, schema.Limits.MaxDepth)
	assert.Equal(t, DefaultMaxConditions, schema.Limits.MaxConditions)
	assert.Len(t, schema.Logics, 4)
	assert.Len(t, schema.RuleTypes, 4)
}

func TestDefaultRules(t *testing.T) {
	defaults := DefaultRules()
	require.NotEmpty(t, defaults, "should have default rules")

	v := NewValidator(DefaultValidatorOptions())
	for i := range defaults {
		rule := &defaults[i]
		assert.NotEmpty(t, rule.Name, "rule must have a name")
		assert.True(t, rule.Enabled, "default rules should be enabled")
		assert.Positive(t, rule.CooldownPeriod.Std(), "rule must have cooldown: %s", rule.Name)
		assert.NotEmpty(t, rule.MessageTemplate, "rule must have a message: %s", rule.Name)

		res := v.ValidateRule(rule)
		assert.True(t, res.Valid(), "default rule %q is invalid: %v", rule.Name, res.Errors)
	}
}

func TestDefaultRules_UniqueNames(t *testing.T) {
	defaults := DefaultRules()
	names := make(map[string]bool, len(defaults))
	for _, rule := range defaults {
		assert.False(t, names[rule.Name], "duplicate rule name: %s", rule.Name)
		names[rule.Name] = true
	}
}
