package rules

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/fleetpulse/alertcore/internal/timeutil"
)

// ID identifies a rule. Rule files use both numeric and string ids; ids that
// are canonical integers are written back as JSON numbers.
type ID string

func (id ID) String() string { return string(id) }

// IsNumeric reports whether id is a canonical base-10 integer.
func (id ID) IsNumeric() bool {
	n, err := strconv.ParseInt(string(id), 10, 64)
	return err == nil && strconv.FormatInt(n, 10) == string(id)
}

func (id ID) MarshalJSON() ([]byte, error) {
	if id.IsNumeric() {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*id = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
	default:
		var f float64
		if err := json.Unmarshal(b, &f); err != nil {
			return fmt.Errorf("rule id must be a string or number: %w", err)
		}
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			*id = ID(strconv.FormatInt(int64(f), 10))
		} else {
			*id = ID(strconv.FormatFloat(f, 'g', -1, 64))
		}
	}
	return nil
}

// Number is a float64 that also accepts numeric strings in JSON.
type Number float64

// Float returns n as float64.
func (n Number) Float() float64 { return float64(n) }

// Num returns a pointer to n, for optional fields.
func Num(v float64) *Number {
	n := Number(v)
	return &n
}

func (n *Number) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case float64:
		*n = Number(t)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return fmt.Errorf("invalid number %q", t)
		}
		*n = Number(f)
	case nil:
		*n = 0
	default:
		return fmt.Errorf("invalid number %s", string(b))
	}
	return nil
}

// SimpleConditions are the implicit-AND checks of a simple rule. Unset
// checks are skipped.
type SimpleConditions struct {
	Apontamento  string  `json:"apontamento,omitempty"`
	Status       string  `json:"status,omitempty"`
	TimeOperator string  `json:"timeOperator,omitempty"`
	TimeValue    *Number `json:"timeValue,omitempty"`
}

// ThresholdCondition compares a numeric metric against a fixed value.
// When SustainedFor is set the comparison must have held for that long.
type ThresholdCondition struct {
	Metric       string          `json:"metric"`
	Operator     string          `json:"operator"`
	Threshold    Number          `json:"threshold"`
	SustainedFor timeutil.Millis `json:"sustainedFor,omitempty"`
}

// AnomalyCondition flags metric values that deviate from their baseline.
// Statistics left unset are taken from the rolling per-equipment baseline.
type AnomalyCondition struct {
	Metric     string  `json:"metric"`
	Method     string  `json:"method"`
	Mean       *Number `json:"mean,omitempty"`
	StdDev     *Number `json:"stdDev,omitempty"`
	ZThreshold *Number `json:"zThreshold,omitempty"`
	Min        *Number `json:"min,omitempty"`
	Max        *Number `json:"max,omitempty"`
	Tolerance  *Number `json:"tolerance,omitempty"`
}

// ZThresholdOrDefault returns the z-score cut-off.
func (a *AnomalyCondition) ZThresholdOrDefault() float64 {
	if a.ZThreshold == nil {
		return DefaultZThreshold
	}
	return a.ZThreshold.Float()
}

// ToleranceOrDefault returns the fraction the [min,max] range is widened by.
func (a *AnomalyCondition) ToleranceOrDefault() float64 {
	if a.Tolerance == nil {
		return DefaultTolerance
	}
	return a.Tolerance.Float()
}

// Conditions holds the type-specific condition payload of a rule. Exactly
// one field is set for a well-formed rule.
type Conditions struct {
	Simple    *SimpleConditions
	Tree      *Group
	Threshold *ThresholdCondition
	Anomaly   *AnomalyCondition
}

// IsZero reports whether no payload is set.
func (c Conditions) IsZero() bool {
	return c.Simple == nil && c.Tree == nil && c.Threshold == nil && c.Anomaly == nil
}

func (c Conditions) MarshalJSON() ([]byte, error) {
	switch {
	case c.Tree != nil:
		return json.Marshal(c.Tree)
	case c.Simple != nil:
		return json.Marshal(c.Simple)
	case c.Threshold != nil:
		return json.Marshal(c.Threshold)
	case c.Anomaly != nil:
		return json.Marshal(c.Anomaly)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON infers the payload from its shape. Rule.UnmarshalJSON uses
// the rule type instead when it is known.
func (c *Conditions) UnmarshalJSON(b []byte) error {
	decoded, err := DecodeConditions("", "", b)
	if err != nil {
		return err
	}
	*c = decoded
	return nil
}

// DecodeConditions decodes raw according to the rule type t. An empty type
// is inferred from the payload. For advanced rules a single condition at the
// root is wrapped in a group using logic (AND when empty).
func DecodeConditions(t Type, logic Logic, raw []byte) (Conditions, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Conditions{}, nil
	}
	if t == "" {
		t = inferType(raw)
	}

	switch t {
	case TypeAdvanced:
		n, err := UnmarshalNode(raw)
		if err != nil {
			return Conditions{}, err
		}
		if g, ok := n.(*Group); ok {
			return Conditions{Tree: g}, nil
		}
		if logic == "" {
			logic = LogicAnd
		}
		return Conditions{Tree: &Group{Logic: logic, Rules: []Node{n}}}, nil
	case TypeThreshold:
		var tc ThresholdCondition
		if err := json.Unmarshal(raw, &tc); err != nil {
			return Conditions{}, err
		}
		return Conditions{Threshold: &tc}, nil
	case TypeAnomaly:
		var ac AnomalyCondition
		if err := json.Unmarshal(raw, &ac); err != nil {
			return Conditions{}, err
		}
		return Conditions{Anomaly: &ac}, nil
	default:
		var sc SimpleConditions
		if err := json.Unmarshal(raw, &sc); err != nil {
			return Conditions{}, err
		}
		return Conditions{Simple: &sc}, nil
	}
}

func inferType(raw []byte) Type {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return TypeSimple
	}
	_, hasRules := probe["rules"]
	_, hasGroup := probe["group"]
	_, hasMetric := probe["metric"]
	_, hasMethod := probe["method"]
	switch {
	case hasRules || hasGroup:
		return TypeAdvanced
	case hasMetric && hasMethod:
		return TypeAnomaly
	case hasMetric:
		return TypeThreshold
	default:
		return TypeSimple
	}
}

// Clone returns a deep copy of c.
func (c Conditions) Clone() Conditions {
	out := Conditions{Tree: c.Tree.Clone()}
	if c.Simple != nil {
		s := *c.Simple
		if s.TimeValue != nil {
			s.TimeValue = Num(s.TimeValue.Float())
		}
		out.Simple = &s
	}
	if c.Threshold != nil {
		t := *c.Threshold
		out.Threshold = &t
	}
	if c.Anomaly != nil {
		a := *c.Anomaly
		for _, p := range []**Number{&a.Mean, &a.StdDev, &a.ZThreshold, &a.Min, &a.Max, &a.Tolerance} {
			if *p != nil {
				*p = Num((*p).Float())
			}
		}
		out.Anomaly = &a
	}
	return out
}

// Rule is an alert rule definition. The runtime fields (LastEvaluated,
// LastTriggered and the counters) are snapshots; the evaluator owns the live
// values.
type Rule struct {
	ID                  ID              `json:"id"`
	Name                string          `json:"name"`
	Description         string          `json:"description,omitempty"`
	Type                Type            `json:"type"`
	Enabled             bool            `json:"enabled"`
	Conditions          Conditions      `json:"conditions"`
	Logic               Logic           `json:"logic,omitempty"`
	Severity            Severity        `json:"severity"`
	EquipmentGroups     []string        `json:"equipmentGroups,omitempty"`
	EquipmentPatterns   []string        `json:"equipmentPatterns,omitempty"`
	ApplicableEquipment []string        `json:"applicableEquipment,omitempty"`
	EvaluationFrequency timeutil.Millis `json:"evaluationFrequency,omitempty"`
	CooldownPeriod      timeutil.Millis `json:"cooldownPeriod"`
	ValidFrom           *timeutil.Time  `json:"validFrom,omitempty"`
	ValidUntil          *timeutil.Time  `json:"validUntil,omitempty"`
	LastEvaluated       *timeutil.Time  `json:"lastEvaluated,omitempty"`
	LastTriggered       *timeutil.Time  `json:"lastTriggered,omitempty"`
	TriggerCount        int64           `json:"triggerCount"`
	EvaluationCount     int64           `json:"evaluationCount"`
	Version             int             `json:"version"`
	MessageTemplate     string          `json:"messageTemplate,omitempty"`
	EventType           string          `json:"eventType,omitempty"`
}

// UnmarshalJSON decodes conditions according to the rule type and
// normalizes the type, logic and severity spellings.
func (r *Rule) UnmarshalJSON(b []byte) error {
	type alias Rule
	aux := struct {
		Conditions json.RawMessage `json:"conditions"`
		*alias
	}{alias: (*alias)(r)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}

	r.Type = Type(strings.ToLower(strings.TrimSpace(string(r.Type))))
	if r.Logic != "" {
		r.Logic, _ = ParseLogic(string(r.Logic))
	}
	if r.Severity != "" {
		r.Severity, _ = ParseSeverity(string(r.Severity))
	}

	conds, err := DecodeConditions(r.Type, r.Logic, aux.Conditions)
	if err != nil {
		return fmt.Errorf("rule %s conditions: %w", r.ID, err)
	}
	r.Conditions = conds
	return nil
}

// Clone returns a deep copy of r.
func (r *Rule) Clone() *Rule {
	if r == nil {
		return nil
	}
	out := *r
	out.Conditions = r.Conditions.Clone()
	out.EquipmentGroups = slices.Clone(r.EquipmentGroups)
	out.EquipmentPatterns = slices.Clone(r.EquipmentPatterns)
	out.ApplicableEquipment = slices.Clone(r.ApplicableEquipment)
	out.ValidFrom = cloneTime(r.ValidFrom)
	out.ValidUntil = cloneTime(r.ValidUntil)
	out.LastEvaluated = cloneTime(r.LastEvaluated)
	out.LastTriggered = cloneTime(r.LastTriggered)
	return &out
}

// HasApplicability reports whether the rule restricts which equipment it applies to.
func (r *Rule) HasApplicability() bool {
	return len(r.EquipmentGroups) > 0 || len(r.EquipmentPatterns) > 0 || len(r.ApplicableEquipment) > 0
}

func cloneTime(t *timeutil.Time) *timeutil.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
