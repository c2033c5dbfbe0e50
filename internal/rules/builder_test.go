package rules

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetpulse/alertcore/internal/errors"
)

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("n%d", n)
	}
}

func TestBuilder_BuildsNestedTree(t *testing.T) {
	t.Parallel()

	b, err := NewBuilder(LogicAnd, WithIDGenerator(sequentialIDs()))
	require.NoError(t, err)
	assert.Equal(t, "n1", b.RootID())

	statusID, err := b.AddCondition(ConditionStatus, OperatorEquals, "on")
	require.NoError(t, err)

	groupID, err := b.StartGroup(LogicOr)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Depth())

	_, err = b.AddCondition(ConditionTime, OperatorGreaterThan, 30)
	require.NoError(t, err)
	_, err = b.AddCustomCondition("speed", OperatorLessThan, 5)
	require.NoError(t, err)
	require.NoError(t, b.EndGroup())
	assert.Equal(t, 0, b.Depth())

	tree, err := b.Build()
	require.NoError(t, err)

	assert.Equal(t, LogicAnd, tree.Logic)
	require.Len(t, tree.Rules, 2)
	assert.Equal(t, statusID, tree.Rules[0].NodeID())
	nested, ok := tree.Rules[1].(*Group)
	require.True(t, ok)
	assert.Equal(t, groupID, nested.ID)
	assert.Len(t, nested.Rules, 2)
	assert.Equal(t, "speed", nested.Rules[1].(*Condition).Field)
}

func TestBuilder_GeneratesUniqueIDs(t *testing.T) {
	t.Parallel()

	b, err := NewBuilder(LogicOr)
	require.NoError(t, err)

	seen := map[string]bool{b.RootID(): true}
	for range 10 {
		id, err := b.AddCondition(ConditionStatus, OperatorEquals, "x")
		require.NoError(t, err)
		assert.False(t, seen[id], "id %s reused", id)
		seen[id] = true
	}
}

func TestBuilder_AddConditionValidation(t *testing.T) {
	t.Parallel()

	b, err := NewBuilder(LogicAnd)
	require.NoError(t, err)

	tests := []struct {
		name     string
		ct       ConditionType
		operator string
		value    any
		wantMsg  string
	}{
		{"unknown type", "weather", OperatorEquals, "x", "unknown condition type"},
		{"unknown operator", ConditionStatus, "like", "x", "unknown operator"},
		{"missing value", ConditionStatus, OperatorEquals, nil, "value is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.AddCondition(tt.ct, tt.operator, tt.value)
			var verr *errors.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Contains(t, verr.Error(), tt.wantMsg)
		})
	}

	_, err = b.AddCustomCondition("", OperatorEquals, "x")
	assert.Error(t, err)
}

func TestBuilder_ScopeErrors(t *testing.T) {
	t.Parallel()

	_, err := NewBuilder("MAYBE")
	require.Error(t, err)

	b, err := NewBuilder(LogicAnd)
	require.NoError(t, err)

	assert.Error(t, b.EndGroup(), "ending without an open group fails")

	_, err = b.StartGroup("NAND")
	assert.Error(t, err)

	_, err = b.StartGroup(LogicOr)
	require.NoError(t, err)
	_, err = b.AddCondition(ConditionStatus, OperatorEquals, "on")
	require.NoError(t, err)

	_, err = b.Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unterminated group")

	require.NoError(t, b.EndGroup())
	_, err = b.Build()
	assert.NoError(t, err)
}

func TestBuilder_BuildValidatesTree(t *testing.T) {
	t.Parallel()

	b, err := NewBuilder(LogicAnd)
	require.NoError(t, err)
	_, err = b.Build()
	require.Error(t, err, "empty root is rejected by default")

	b, err = NewBuilder(LogicAnd, WithValidatorOptions(ValidatorOptions{AllowEmptyConditions: true}))
	require.NoError(t, err)
	tree, err := b.Build()
	require.NoError(t, err)
	assert.Empty(t, tree.Rules)
	assert.NotEmpty(t, b.Warnings())

	b, err = NewBuilder(LogicAnd, WithValidatorOptions(ValidatorOptions{MaxDepth: 2}))
	require.NoError(t, err)
	_, _ = b.StartGroup(LogicOr)
	_, _ = b.StartGroup(LogicOr)
	_, _ = b.AddCondition(ConditionStatus, OperatorEquals, "on")
	_ = b.EndGroup()
	_ = b.EndGroup()
	_, err = b.Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maximum nesting depth")
}

func TestBuilder_FindUpdateRemove(t *testing.T) {
	t.Parallel()

	b, err := NewBuilder(LogicAnd, WithIDGenerator(sequentialIDs()))
	require.NoError(t, err)
	keep, _ := b.AddCondition(ConditionStatus, OperatorEquals, "on")
	groupID, _ := b.StartGroup(LogicOr)
	inner, _ := b.AddCondition(ConditionTime, OperatorGreaterThan, 10)

	assert.Error(t, b.Remove(groupID), "open group cannot be removed")
	require.NoError(t, b.EndGroup())

	n, ok := b.Find(inner)
	require.True(t, ok)
	assert.Equal(t, 10, n.(*Condition).Value)

	require.NoError(t, b.Update(inner, OperatorGreaterOrEqual, 20))
	n, _ = b.Find(inner)
	assert.Equal(t, OperatorGreaterOrEqual, n.(*Condition).Operator)
	assert.Equal(t, 20, n.(*Condition).Value)

	assert.Error(t, b.Update(inner, "bogus", 1))
	assert.Error(t, b.Update(groupID, OperatorEquals, 1), "groups have no operator")
	assert.Error(t, b.Update("missing", OperatorEquals, 1))

	require.NoError(t, b.SetLogic(groupID, LogicXor))
	assert.Error(t, b.SetLogic(keep, LogicXor))

	assert.Error(t, b.Remove(b.RootID()))
	assert.Error(t, b.Remove("missing"))
	require.NoError(t, b.Remove(groupID))

	_, ok = b.Find(inner)
	assert.False(t, ok, "children of a removed group are gone")

	tree, err := b.Build()
	require.NoError(t, err)
	require.Len(t, tree.Rules, 1)
	assert.Equal(t, keep, tree.Rules[0].NodeID())
}

func TestBuilder_BuildReturnsCopy(t *testing.T) {
	t.Parallel()

	b, err := NewBuilder(LogicAnd)
	require.NoError(t, err)
	id, _ := b.AddCondition(ConditionStatus, OperatorEquals, "on")

	tree, err := b.Build()
	require.NoError(t, err)
	tree.Rules[0].(*Condition).Value = "mutated"

	n, _ := b.Find(id)
	assert.Equal(t, "on", n.(*Condition).Value)
}
