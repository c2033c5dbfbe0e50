// Package rules defines alert rules and their condition trees, together with
// the validator and builder used to author them.
package rules

import (
	"slices"
	"strings"
)

// Type selects how a rule's conditions are shaped and evaluated.
type Type string

const (
	TypeSimple    Type = "simple"
	TypeAdvanced  Type = "advanced"
	TypeThreshold Type = "threshold"
	TypeAnomaly   Type = "anomaly"
)

// Valid reports whether t is a known rule type.
func (t Type) Valid() bool {
	switch t {
	case TypeSimple, TypeAdvanced, TypeThreshold, TypeAnomaly:
		return true
	}
	return false
}

// Severity of the alerts a rule produces.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

var severityRanks = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank orders severities from LOW (1) to CRITICAL (4). Unknown values rank 0.
func (s Severity) Rank() int {
	return severityRanks[Severity(strings.ToUpper(string(s)))]
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// ParseSeverity normalizes s to upper case and reports whether it is known.
func ParseSeverity(s string) (Severity, bool) {
	sev := Severity(strings.ToUpper(strings.TrimSpace(s)))
	return sev, sev.Valid()
}

// SeverityForRank is the inverse of Rank. Out-of-range ranks are clamped.
func SeverityForRank(rank int) Severity {
	switch {
	case rank <= 1:
		return SeverityLow
	case rank == 2:
		return SeverityMedium
	case rank == 3:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

// Logic combines the results of a group's children.
type Logic string

const (
	LogicAnd Logic = "AND"
	LogicOr  Logic = "OR"
	LogicNot Logic = "NOT"
	LogicXor Logic = "XOR"
)

// Valid reports whether l is a known logic.
func (l Logic) Valid() bool {
	switch l {
	case LogicAnd, LogicOr, LogicNot, LogicXor:
		return true
	}
	return false
}

// ParseLogic upper-cases s and reports whether it is a known logic.
func ParseLogic(s string) (Logic, bool) {
	l := Logic(strings.ToUpper(strings.TrimSpace(s)))
	return l, l.Valid()
}

// ConditionType names the data a leaf condition inspects.
type ConditionType string

const (
	// ConditionApontamento tests the activity code reported for the equipment.
	ConditionApontamento ConditionType = "apontamento"
	ConditionStatus      ConditionType = "status"
	// ConditionTime tests the event duration in minutes.
	ConditionTime      ConditionType = "time"
	ConditionEquipment ConditionType = "equipment"
	// ConditionGroup tests the equipment groups the classifier assigned.
	ConditionGroup ConditionType = "group"
	// ConditionCustom tests the data key named by the condition's field.
	ConditionCustom ConditionType = "custom"
)

// Valid reports whether ct is a known condition type.
func (ct ConditionType) Valid() bool {
	_, ok := conditionTypeOperators[ct]
	return ok
}

// Condition operators.
const (
	OperatorEquals     = "equals"
	OperatorNotEquals  = "not_equals"
	OperatorContains   = "contains"
	OperatorStartsWith = "starts_with"
	OperatorEndsWith   = "ends_with"
	OperatorRegex      = "regex"
	OperatorIn         = "in"
	OperatorNotIn      = "not_in"

	OperatorGreaterThan    = ">"
	OperatorLessThan       = "<"
	OperatorGreaterOrEqual = ">="
	OperatorLessOrEqual    = "<="
	OperatorNumericEquals  = "="
)

// Anomaly detection methods.
const (
	AnomalyZScore      = "zscore"
	AnomalyStatistical = "statistical"
)

// Anomaly defaults applied when a rule leaves the parameter unset.
const (
	DefaultZThreshold = 3.0
	DefaultTolerance  = 0.1
)

// Data keys read by the evaluator.
const (
	FieldApontamento = "apontamento"
	FieldStatus      = "status"
	FieldTime        = "time"
	FieldDuration    = "duration"
	FieldEquipment   = "equipamento"
	FieldEventType   = "eventType"
)

var (
	stringOperators  = []string{OperatorEquals, OperatorNotEquals, OperatorContains, OperatorStartsWith, OperatorEndsWith, OperatorRegex, OperatorIn, OperatorNotIn}
	numericOperators = []string{OperatorGreaterThan, OperatorLessThan, OperatorGreaterOrEqual, OperatorLessOrEqual, OperatorNumericEquals}
	groupOperators   = []string{OperatorEquals, OperatorNotEquals, OperatorContains, OperatorRegex, OperatorIn, OperatorNotIn}
	timeOperators    = append(append([]string{}, numericOperators...), OperatorEquals, OperatorNotEquals, OperatorIn, OperatorNotIn)
	allOperators     = append(append([]string{}, stringOperators...), numericOperators...)
)

// conditionTypeOperators lists the operators compatible with each condition type.
var conditionTypeOperators = map[ConditionType][]string{
	ConditionApontamento: stringOperators,
	ConditionStatus:      stringOperators,
	ConditionTime:        timeOperators,
	ConditionEquipment:   stringOperators,
	ConditionGroup:       groupOperators,
	ConditionCustom:      allOperators,
}

// IsOperator reports whether op is a known operator.
func IsOperator(op string) bool {
	return slices.Contains(allOperators, op)
}

// IsNumericOperator reports whether op compares numbers.
func IsNumericOperator(op string) bool {
	return slices.Contains(numericOperators, op)
}

// Compatible reports whether op may be used on conditions of type ct.
func Compatible(ct ConditionType, op string) bool {
	return slices.Contains(conditionTypeOperators[ct], op)
}
