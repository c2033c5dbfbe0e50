package rules

// Schema describes the condition types, operators and logics available when
// authoring rules.
type Schema struct {
	RuleTypes      []RuleTypeSchema      `json:"ruleTypes"`
	ConditionTypes []ConditionTypeSchema `json:"conditionTypes"`
	Operators      []OperatorSchema      `json:"operators"`
	Logics         []LogicSchema         `json:"logics"`
	Severities     []Severity            `json:"severities"`
	AnomalyMethods []string              `json:"anomalyMethods"`
	Limits         LimitSchema           `json:"limits"`
}

// RuleTypeSchema describes a rule type.
type RuleTypeSchema struct {
	Name  Type   `json:"name"`
	Label string `json:"label"`
}

// ConditionTypeSchema describes a condition type and its compatible operators.
type ConditionTypeSchema struct {
	Name      ConditionType `json:"name"`
	Label     string        `json:"label"`
	ValueType string        `json:"valueType"` // "string", "number", "list" or "any"
	Operators []string      `json:"operators"`
}

// OperatorSchema describes an operator for the UI.
type OperatorSchema struct {
	Name  string `json:"name"`
	Label string `json:"label"`
	Type  string `json:"type"` // "string", "number" or "list"
}

// LogicSchema describes a group logic.
type LogicSchema struct {
	Name  Logic  `json:"name"`
	Label string `json:"label"`
}

// LimitSchema reports the tree limits in effect.
type LimitSchema struct {
	MaxDepth      int `json:"maxDepth"`
	MaxConditions int `json:"maxConditions"`
}

// GetSchema returns the catalog with the default limits.
func GetSchema() Schema {
	return GetSchemaWithLimits(DefaultValidatorOptions())
}

// GetSchemaWithLimits returns the catalog reporting the limits in opts.
func GetSchemaWithLimits(opts ValidatorOptions) Schema {
	opts = opts.withDefaults()
	return Schema{
		RuleTypes: []RuleTypeSchema{
			{Name: TypeSimple, Label: "Simple"},
			{Name: TypeAdvanced, Label: "Advanced (condition groups)"},
			{Name: TypeThreshold, Label: "Metric threshold"},
			{Name: TypeAnomaly, Label: "Metric anomaly"},
		},
		ConditionTypes: []ConditionTypeSchema{
			{Name: ConditionApontamento, Label: "Activity code", ValueType: "string", Operators: operatorsFor(ConditionApontamento)},
			{Name: ConditionStatus, Label: "Status", ValueType: "string", Operators: operatorsFor(ConditionStatus)},
			{Name: ConditionTime, Label: "Duration (minutes)", ValueType: "number", Operators: operatorsFor(ConditionTime)},
			{Name: ConditionEquipment, Label: "Equipment", ValueType: "string", Operators: operatorsFor(ConditionEquipment)},
			{Name: ConditionGroup, Label: "Equipment group", ValueType: "list", Operators: operatorsFor(ConditionGroup)},
			{Name: ConditionCustom, Label: "Custom field", ValueType: "any", Operators: operatorsFor(ConditionCustom)},
		},
		Operators: []OperatorSchema{
			{Name: OperatorEquals, Label: "equals", Type: "string"},
			{Name: OperatorNotEquals, Label: "does not equal", Type: "string"},
			{Name: OperatorContains, Label: "contains", Type: "string"},
			{Name: OperatorStartsWith, Label: "starts with", Type: "string"},
			{Name: OperatorEndsWith, Label: "ends with", Type: "string"},
			{Name: OperatorRegex, Label: "matches pattern", Type: "string"},
			{Name: OperatorIn, Label: "is one of", Type: "list"},
			{Name: OperatorNotIn, Label: "is none of", Type: "list"},
			{Name: OperatorGreaterThan, Label: "greater than", Type: "number"},
			{Name: OperatorLessThan, Label: "less than", Type: "number"},
			{Name: OperatorGreaterOrEqual, Label: "greater or equal", Type: "number"},
			{Name: OperatorLessOrEqual, Label: "less or equal", Type: "number"},
			{Name: OperatorNumericEquals, Label: "equal to", Type: "number"},
		},
		Logics: []LogicSchema{
			{Name: LogicAnd, Label: "all of"},
			{Name: LogicOr, Label: "any of"},
			{Name: LogicXor, Label: "exactly one of"},
			{Name: LogicNot, Label: "not"},
		},
		Severities:     []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical},
		AnomalyMethods: []string{AnomalyZScore, AnomalyStatistical},
		Limits:         LimitSchema{MaxDepth: opts.MaxDepth, MaxConditions: opts.MaxConditions},
	}
}

func operatorsFor(ct ConditionType) []string {
	return append([]string(nil), conditionTypeOperators[ct]...)
}
