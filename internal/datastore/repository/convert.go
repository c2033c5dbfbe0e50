package repository

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/fleetpulse/alertcore/internal/alert"
	"github.com/fleetpulse/alertcore/internal/datastore/entities"
	"github.com/fleetpulse/alertcore/internal/rules"
	"github.com/fleetpulse/alertcore/internal/timeutil"
)

// parseRuleID maps a rule ID onto its primary key.
func parseRuleID(id rules.ID) (uint, error) {
	n, err := strconv.ParseUint(string(id), 10, 64)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidRuleID, id)
	}
	return uint(n), nil
}

func formatRuleID(id uint) rules.ID {
	return rules.ID(strconv.FormatUint(uint64(id), 10))
}

func encodeList(list []string) (string, error) {
	if len(list) == 0 {
		return "", nil
	}
	b, err := json.Marshal(list)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeList(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func timePtr(t *timeutil.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func wrapTime(t *time.Time) *timeutil.Time {
	if t == nil {
		return nil
	}
	return timeutil.Ptr(t.UTC())
}

func toRuleEntity(r *rules.Rule) (*entities.Rule, error) {
	conditions, err := json.Marshal(r.Conditions)
	if err != nil {
		return nil, fmt.Errorf("failed to encode conditions: %w", err)
	}
	groups, err := encodeList(r.EquipmentGroups)
	if err != nil {
		return nil, err
	}
	patterns, err := encodeList(r.EquipmentPatterns)
	if err != nil {
		return nil, err
	}
	applicable, err := encodeList(r.ApplicableEquipment)
	if err != nil {
		return nil, err
	}

	e := &entities.Rule{
		Name:                r.Name,
		Description:         r.Description,
		Type:                string(r.Type),
		Enabled:             r.Enabled,
		Severity:            string(r.Severity),
		Logic:               string(r.Logic),
		Conditions:          string(conditions),
		EquipmentGroups:     groups,
		EquipmentPatterns:   patterns,
		ApplicableEquipment: applicable,
		EvaluationFrequency: r.EvaluationFrequency.Std().Milliseconds(),
		CooldownPeriod:      r.CooldownPeriod.Std().Milliseconds(),
		ValidFrom:           timePtr(r.ValidFrom),
		ValidUntil:          timePtr(r.ValidUntil),
		LastEvaluated:       timePtr(r.LastEvaluated),
		LastTriggered:       timePtr(r.LastTriggered),
		TriggerCount:        r.TriggerCount,
		EvaluationCount:     r.EvaluationCount,
		Version:             max(r.Version, 1),
		MessageTemplate:     r.MessageTemplate,
		EventType:           r.EventType,
	}
	if r.ID != "" {
		if e.ID, err = parseRuleID(r.ID); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func fromRuleEntity(e *entities.Rule) (rules.Rule, error) {
	t := rules.Type(e.Type)
	logic := rules.Logic(e.Logic)
	conditions, err := rules.DecodeConditions(t, logic, []byte(e.Conditions))
	if err != nil {
		return rules.Rule{}, fmt.Errorf("failed to decode conditions of rule %d: %w", e.ID, err)
	}
	groups, err := decodeList(e.EquipmentGroups)
	if err != nil {
		return rules.Rule{}, err
	}
	patterns, err := decodeList(e.EquipmentPatterns)
	if err != nil {
		return rules.Rule{}, err
	}
	applicable, err := decodeList(e.ApplicableEquipment)
	if err != nil {
		return rules.Rule{}, err
	}

	return rules.Rule{
		ID:                  formatRuleID(e.ID),
		Name:                e.Name,
		Description:         e.Description,
		Type:                t,
		Enabled:             e.Enabled,
		Conditions:          conditions,
		Logic:               logic,
		Severity:            rules.Severity(e.Severity),
		EquipmentGroups:     groups,
		EquipmentPatterns:   patterns,
		ApplicableEquipment: applicable,
		EvaluationFrequency: timeutil.Millis(time.Duration(e.EvaluationFrequency) * time.Millisecond),
		CooldownPeriod:      timeutil.Millis(time.Duration(e.CooldownPeriod) * time.Millisecond),
		ValidFrom:           wrapTime(e.ValidFrom),
		ValidUntil:          wrapTime(e.ValidUntil),
		LastEvaluated:       wrapTime(e.LastEvaluated),
		LastTriggered:       wrapTime(e.LastTriggered),
		TriggerCount:        e.TriggerCount,
		EvaluationCount:     e.EvaluationCount,
		Version:             e.Version,
		MessageTemplate:     e.MessageTemplate,
		EventType:           e.EventType,
	}, nil
}

func toAlertEntity(a *alert.Alert) (entities.Alert, error) {
	groups, err := encodeList(a.EquipmentGroups)
	if err != nil {
		return entities.Alert{}, err
	}
	merged, err := encodeList(a.MergedFrom)
	if err != nil {
		return entities.Alert{}, err
	}
	status := a.Status
	if status == "" {
		status = alert.StatusActive
	}
	return entities.Alert{
		ID:                a.ID,
		UniqueID:          a.UniqueID,
		Equipment:         a.Equipment,
		EquipmentGroups:   groups,
		RuleID:            string(a.RuleID),
		RuleName:          a.RuleName,
		Severity:          string(a.Severity),
		Message:           a.Message,
		EventType:         a.EventType,
		EventIdentifier:   a.EventIdentifier,
		Timestamp:         a.OccurredAt().UTC(),
		FirstOccurrence:   a.FirstOccurrence.UTC(),
		LastOccurrence:    a.LastOccurrence.UTC(),
		Duration:          a.Duration,
		Consolidated:      a.Consolidated,
		ConsolidatedCount: a.ConsolidatedCount,
		Status:            string(status),
		MergedFrom:        merged,
		MergedCount:       a.MergedCount,
		RecordCount:       a.Records(),
	}, nil
}

func fromAlertEntity(e *entities.Alert) (alert.Alert, error) {
	groups, err := decodeList(e.EquipmentGroups)
	if err != nil {
		return alert.Alert{}, err
	}
	merged, err := decodeList(e.MergedFrom)
	if err != nil {
		return alert.Alert{}, err
	}
	return alert.Alert{
		ID:                e.ID,
		UniqueID:          e.UniqueID,
		Equipment:         e.Equipment,
		EquipmentGroups:   groups,
		RuleID:            rules.ID(e.RuleID),
		RuleName:          e.RuleName,
		Severity:          rules.Severity(e.Severity),
		Message:           e.Message,
		EventType:         e.EventType,
		EventIdentifier:   e.EventIdentifier,
		Timestamp:         timeutil.NewTime(e.Timestamp.UTC()),
		FirstOccurrence:   timeutil.NewTime(e.FirstOccurrence.UTC()),
		LastOccurrence:    timeutil.NewTime(e.LastOccurrence.UTC()),
		Duration:          e.Duration,
		Consolidated:      e.Consolidated,
		ConsolidatedCount: e.ConsolidatedCount,
		Status:            alert.Status(e.Status),
		MergedFrom:        merged,
		MergedCount:       e.MergedCount,
		RecordCount:       e.RecordCount,
	}, nil
}
