package rules

import (
	"time"

	"github.com/fleetpulse/alertcore/internal/timeutil"
)

// DefaultRules returns the built-in equipment monitoring rules. They are
// seeded into an empty store and can be restored by name.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:           "Long unplanned stop",
			Description:    "Equipment stopped for more than 30 minutes",
			Type:           TypeAdvanced,
			Enabled:        true,
			Severity:       SeverityHigh,
			CooldownPeriod: timeutil.Millis(30 * time.Minute),
			Conditions: Conditions{Tree: &Group{
				Logic: LogicAnd,
				Rules: []Node{
					&Condition{Type: ConditionStatus, Operator: OperatorEquals, Value: "parado"},
					&Condition{Type: ConditionTime, Operator: OperatorGreaterThan, Value: float64(30)},
					&Group{Logic: LogicNot, Rules: []Node{
						&Condition{Type: ConditionApontamento, Operator: OperatorIn, Value: []any{"Refeição", "Troca de turno"}},
					}},
				},
			}},
			MessageTemplate: "{{equipamento}} stopped for {{time}} minutes",
			EventType:       "long_stop",
		},
		{
			Name:            "Corrective maintenance",
			Description:     "Equipment reported a corrective maintenance activity",
			Type:            TypeSimple,
			Enabled:         true,
			Severity:        SeverityMedium,
			CooldownPeriod:  timeutil.Millis(time.Hour),
			Conditions:      Conditions{Simple: &SimpleConditions{Apontamento: "Manutenção Corretiva"}},
			MessageTemplate: "{{equipamento}} in corrective maintenance",
			EventType:       "maintenance",
		},
		{
			Name:           "Extended idle",
			Description:    "Engine idling for more than 15 minutes",
			Type:           TypeSimple,
			Enabled:        true,
			Severity:       SeverityLow,
			CooldownPeriod: timeutil.Millis(15 * time.Minute),
			Conditions: Conditions{Simple: &SimpleConditions{
				Status:       "ocioso",
				TimeOperator: OperatorGreaterThan,
				TimeValue:    Num(15),
			}},
			MessageTemplate: "{{equipamento}} idle for {{time}} minutes",
			EventType:       "idle",
		},
		{
			Name:           "Engine overheating",
			Description:    "Coolant temperature above 105 degrees for 5 minutes",
			Type:           TypeThreshold,
			Enabled:        true,
			Severity:       SeverityCritical,
			CooldownPeriod: timeutil.Millis(15 * time.Minute),
			Conditions: Conditions{Threshold: &ThresholdCondition{
				Metric:       "engineTemperature",
				Operator:     OperatorGreaterThan,
				Threshold:    105,
				SustainedFor: timeutil.Millis(5 * time.Minute),
			}},
			MessageTemplate: "{{equipamento}} engine temperature {{engineTemperature}}",
			EventType:       "overheat",
		},
		{
			Name:           "Abnormal fuel consumption",
			Description:    "Fuel rate deviates more than 3 standard deviations from its recent baseline",
			Type:           TypeAnomaly,
			Enabled:        true,
			Severity:       SeverityMedium,
			CooldownPeriod: timeutil.Millis(time.Hour),
			Conditions: Conditions{Anomaly: &AnomalyCondition{
				Metric: "fuelRate",
				Method: AnomalyZScore,
			}},
			MessageTemplate: "{{equipamento}} fuel rate {{fuelRate}} is outside its normal range",
			EventType:       "fuel_anomaly",
		},
	}
}
