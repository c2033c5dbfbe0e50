package rules

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestID_JSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  ID
		out   string
	}{
		{"number", `7`, "7", `7`},
		{"string", `"rule-a"`, "rule-a", `"rule-a"`},
		{"numeric string is written as number", `"42"`, "42", `42`},
		{"leading zero stays a string", `"007"`, "007", `"007"`},
		{"fractional number", `1.5`, "1.5", `"1.5"`},
		{"null", `null`, "", `""`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var id ID
			require.NoError(t, json.Unmarshal([]byte(tt.input), &id))
			assert.Equal(t, tt.want, id)

			out, err := json.Marshal(id)
			require.NoError(t, err)
			assert.Equal(t, tt.out, string(out))
		})
	}

	var id ID
	assert.Error(t, json.Unmarshal([]byte(`true`), &id))
}

func TestNumber_JSON(t *testing.T) {
	t.Parallel()

	var n Number
	require.NoError(t, json.Unmarshal([]byte(`"30"`), &n))
	assert.InDelta(t, 30.0, n.Float(), 1e-9)
	require.NoError(t, json.Unmarshal([]byte(`12.5`), &n))
	assert.InDelta(t, 12.5, n.Float(), 1e-9)
	assert.Error(t, json.Unmarshal([]byte(`"thirty"`), &n))
}

func TestRule_UnmarshalJSON_ByType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		check func(t *testing.T, r *Rule)
	}{
		{
			name:  "advanced",
			input: `{"id":1,"name":"a","type":"advanced","severity":"high","conditions":{"logic":"AND","rules":[{"type":"status","operator":"equals","value":"on"}]}}`,
			check: func(t *testing.T, r *Rule) {
				require.NotNil(t, r.Conditions.Tree)
				assert.Len(t, r.Conditions.Tree.Rules, 1)
				assert.Equal(t, SeverityHigh, r.Severity, "severity is upper-cased")
			},
		},
		{
			name:  "advanced with single root condition",
			input: `{"id":2,"name":"b","type":"advanced","logic":"or","conditions":{"type":"status","operator":"equals","value":"on"}}`,
			check: func(t *testing.T, r *Rule) {
				require.NotNil(t, r.Conditions.Tree)
				assert.Equal(t, LogicOr, r.Conditions.Tree.Logic)
				assert.Len(t, r.Conditions.Tree.Rules, 1)
			},
		},
		{
			name:  "simple",
			input: `{"id":3,"name":"c","type":"simple","conditions":{"status":"on","timeOperator":">","timeValue":"30"},"cooldownPeriod":300000}`,
			check: func(t *testing.T, r *Rule) {
				require.NotNil(t, r.Conditions.Simple)
				assert.Equal(t, "on", r.Conditions.Simple.Status)
				require.NotNil(t, r.Conditions.Simple.TimeValue)
				assert.InDelta(t, 30.0, r.Conditions.Simple.TimeValue.Float(), 1e-9)
				assert.Equal(t, 5*time.Minute, r.CooldownPeriod.Std())
			},
		},
		{
			name:  "threshold",
			input: `{"id":4,"name":"d","type":"THRESHOLD","conditions":{"metric":"speed","operator":">","threshold":60}}`,
			check: func(t *testing.T, r *Rule) {
				assert.Equal(t, TypeThreshold, r.Type)
				require.NotNil(t, r.Conditions.Threshold)
				assert.Equal(t, "speed", r.Conditions.Threshold.Metric)
			},
		},
		{
			name:  "anomaly",
			input: `{"id":5,"name":"e","type":"anomaly","conditions":{"metric":"fuel","method":"zscore","mean":10,"stdDev":2}}`,
			check: func(t *testing.T, r *Rule) {
				require.NotNil(t, r.Conditions.Anomaly)
				assert.InDelta(t, DefaultZThreshold, r.Conditions.Anomaly.ZThresholdOrDefault(), 1e-9)
				assert.InDelta(t, DefaultTolerance, r.Conditions.Anomaly.ToleranceOrDefault(), 1e-9)
			},
		},
		{
			name:  "timestamps",
			input: `{"id":6,"name":"f","type":"simple","conditions":{},"validFrom":"2024-01-01T00:00:00Z","validUntil":1735689600000}`,
			check: func(t *testing.T, r *Rule) {
				require.NotNil(t, r.ValidFrom)
				require.NotNil(t, r.ValidUntil)
				assert.True(t, r.ValidFrom.Before(r.ValidUntil.Time))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var r Rule
			require.NoError(t, json.Unmarshal([]byte(tt.input), &r))
			tt.check(t, &r)
		})
	}
}

func TestRule_JSONRoundTrip(t *testing.T) {
	t.Parallel()

	input := `{
	  "id": 10, "name": "stop", "type": "advanced", "enabled": true, "severity": "HIGH",
	  "cooldownPeriod": 300000, "triggerCount": 2, "evaluationCount": 9, "version": 3,
	  "conditions": {"logic": "AND", "rules": [
	    {"type": "status", "operator": "equals", "value": "on"},
	    {"group": {"logic": "NOT", "rules": [{"type": "time", "operator": "<", "value": 5}]}}
	  ]}
	}`

	var r Rule
	require.NoError(t, json.Unmarshal([]byte(input), &r))
	out, err := json.Marshal(&r)
	require.NoError(t, err)

	var again Rule
	require.NoError(t, json.Unmarshal(out, &again))
	assert.Equal(t, r, again)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(out, &generic))
	assert.InDelta(t, 10.0, generic["id"], 1e-9, "numeric ids stay numeric")
	assert.InDelta(t, 300000.0, generic["cooldownPeriod"], 1e-9)
	conds := generic["conditions"].(map[string]any)
	nested := conds["rules"].([]any)[1].(map[string]any)
	assert.Contains(t, nested, "group")
}

func TestRule_CloneIsDeep(t *testing.T) {
	t.Parallel()

	r := DefaultRules()[0]
	r.EquipmentGroups = []string{"trucks"}
	c := r.Clone()
	c.EquipmentGroups[0] = "other"
	c.Conditions.Tree.Rules[0].(*Condition).Value = "changed"

	assert.Equal(t, "trucks", r.EquipmentGroups[0])
	assert.Equal(t, "parado", r.Conditions.Tree.Rules[0].(*Condition).Value)
}

func TestConditions_InferShape(t *testing.T) {
	t.Parallel()

	var c Conditions
	require.NoError(t, json.Unmarshal([]byte(`{"metric":"rpm","operator":">","threshold":3000}`), &c))
	assert.NotNil(t, c.Threshold)

	require.NoError(t, json.Unmarshal([]byte(`{"logic":"OR","rules":[]}`), &c))
	assert.NotNil(t, c.Tree)

	require.NoError(t, json.Unmarshal([]byte(`null`), &c))
	assert.True(t, c.IsZero())
}

func TestCoerce(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   any
		want float64
	}{
		{"nil", nil, 0},
		{"float", 4.5, 4.5},
		{"int", 3, 3},
		{"numeric string", " 45 ", 45},
		{"empty string", "", 0},
		{"true", true, 1},
		{"hex", "0x10", 16},
		{"exponent", "1e3", 1000},
		{"single element list", []any{"7"}, 7},
		{"empty list", []any{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, Coerce(tt.in), 1e-9)
		})
	}

	for _, nan := range []any{"abc", "inf", "NaN", "1_000", []any{1, 2}, map[string]any{}} {
		assert.True(t, math.IsNaN(Coerce(nan)), "%v should be NaN", nan)
	}
}

func TestStringify(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "45", Stringify(45.0))
	assert.Equal(t, "4.5", Stringify(4.5))
	assert.Equal(t, "", Stringify(nil))
	assert.Equal(t, "a,b", Stringify([]any{"a", "b"}))
	assert.Equal(t, "true", Stringify(true))
}

func TestSeverity(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1, SeverityLow.Rank())
	assert.Equal(t, 4, SeverityCritical.Rank())
	assert.Equal(t, 3, Severity("high").Rank())
	assert.Equal(t, 0, Severity("URGENT").Rank())

	s, ok := ParseSeverity(" medium ")
	assert.True(t, ok)
	assert.Equal(t, SeverityMedium, s)

	for rank := 1; rank <= 4; rank++ {
		assert.Equal(t, rank, SeverityForRank(rank).Rank())
	}
	assert.Equal(t, SeverityCritical, SeverityForRank(9))
}
