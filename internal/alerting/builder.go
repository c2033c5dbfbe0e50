package alerting

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fleetpulse/alertcore/internal/alert"
	"github.com/fleetpulse/alertcore/internal/equipment"
	"github.com/fleetpulse/alertcore/internal/rules"
	"github.com/fleetpulse/alertcore/internal/timeutil"
)

// Event data keys read by AlertBuilder.
const (
	keyEventIdentifier = "eventIdentifier"
	keyFirstOccurrence = "firstOccurrence"
	keyLastOccurrence  = "lastOccurrence"
	keyTimestamp       = "timestamp"
)

// AlertBuilder turns a fired rule and its event into an Alert.
type AlertBuilder struct {
	classifier equipment.Classifier
	newID      func() string
	now        func() time.Time
}

// NewAlertBuilder creates an AlertBuilder. A nil classifier assigns no groups.
func NewAlertBuilder(classifier equipment.Classifier) *AlertBuilder {
	if classifier == nil {
		classifier = equipment.Nop
	}
	return &AlertBuilder{classifier: classifier, newID: uuid.NewString, now: time.Now}
}

// Build creates an active alert for rule from data. The alert's uniqueId is
// its fingerprint.
func (b *AlertBuilder) Build(rule *rules.Rule, data Data, ec EvalContext) alert.Alert {
	now := ec.Timestamp
	if now.IsZero() {
		now = b.now()
	}
	equip := ec.Equipment
	if equip == "" {
		equip = rules.Stringify(data[rules.FieldEquipment])
	}
	groups := ec.EquipmentGroups
	if groups == nil && equip != "" {
		groups = b.classifier.DetectGroups(equip)
	}

	ts := timeFrom(data, now, keyTimestamp)
	first := timeFrom(data, ts, keyFirstOccurrence)
	last := timeFrom(data, ts, keyLastOccurrence)
	if last.Before(first) {
		last = first
	}

	a := alert.Alert{
		ID:              b.newID(),
		Equipment:       equip,
		EquipmentGroups: groups,
		RuleID:          rule.ID,
		RuleName:        rule.Name,
		Severity:        rule.Severity,
		EventType:       eventType(rule, data),
		EventIdentifier: rules.Stringify(data[keyEventIdentifier]),
		Timestamp:       timeutil.NewTime(ts),
		FirstOccurrence: timeutil.NewTime(first),
		LastOccurrence:  timeutil.NewTime(last),
		Duration:        duration(data, first, last),
		Status:          alert.StatusActive,
		RecordCount:     1,
	}
	a.Message = renderTemplate(rule.MessageTemplate, rule, &a, data)
	a.UniqueID = a.Fingerprint()
	return a
}

func eventType(rule *rules.Rule, data Data) string {
	if rule.EventType != "" {
		return rule.EventType
	}
	if v := rules.Stringify(data[rules.FieldEventType]); v != "" {
		return v
	}
	return rules.Stringify(data[rules.FieldApontamento])
}

func timeFrom(data Data, fallback time.Time, key string) time.Time {
	if v, ok := data[key]; ok {
		if t, ok := timeutil.Parse(v); ok {
			return t
		}
	}
	return fallback
}

// duration returns the event duration in minutes: the duration or time
// field when present, else the span between first and last occurrence.
func duration(data Data, first, last time.Time) float64 {
	for _, key := range []string{rules.FieldDuration, rules.FieldTime} {
		if v, ok := data[key]; ok && v != nil {
			if f, ok := rules.ToNumber(v); ok {
				return f
			}
		}
	}
	return timeutil.Duration(first, last, timeutil.Minutes)
}

// renderTemplate substitutes {{placeholders}} in tmpl. Every top-level event
// field is available by name. Falls back to a default message if the
// template is empty.
func renderTemplate(tmpl string, rule *rules.Rule, a *alert.Alert, data Data) string {
	if tmpl == "" {
		return defaultTemplate(rule, a)
	}
	pairs := []string{
		PlaceholderRuleName, rule.Name,
		PlaceholderSeverity, string(rule.Severity),
		PlaceholderEquipment, a.Equipment,
		PlaceholderGroups, strings.Join(a.EquipmentGroups, ", "),
		PlaceholderTimestamp, timeutil.Format(a.Timestamp.Time),
	}
	for k, v := range data {
		pairs = append(pairs, fmt.Sprintf("{{%s}}", k), rules.Stringify(v))
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

func defaultTemplate(rule *rules.Rule, a *alert.Alert) string {
	if a.Equipment != "" {
		return fmt.Sprintf("Alert: %s (%s)", rule.Name, a.Equipment)
	}
	return "Alert: " + rule.Name
}
