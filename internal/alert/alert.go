// Package alert defines the alert record produced from triggered rules and
// consumed by deduplication, storage and the API.
package alert

import (
	"slices"
	"time"

	"github.com/fleetpulse/alertcore/internal/fingerprint"
	"github.com/fleetpulse/alertcore/internal/rules"
	"github.com/fleetpulse/alertcore/internal/timeutil"
)

// Status is the lifecycle state of an alert.
type Status string

const (
	StatusActive       Status = "active"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusAcknowledged, StatusResolved:
		return true
	}
	return false
}

// Alert is an operator-facing notification raised by a rule.
type Alert struct {
	ID                string         `json:"id"`
	UniqueID          string         `json:"uniqueId,omitempty"`
	Equipment         string         `json:"equipamento"`
	EquipmentGroups   []string       `json:"equipmentGroups,omitempty"`
	RuleID            rules.ID       `json:"ruleId"`
	RuleName          string         `json:"ruleName,omitempty"`
	Severity          rules.Severity `json:"severity"`
	Message           string         `json:"message"`
	EventType         string         `json:"eventType,omitempty"`
	EventIdentifier   string         `json:"eventIdentifier,omitempty"`
	Timestamp         timeutil.Time  `json:"timestamp"`
	FirstOccurrence   timeutil.Time  `json:"firstOccurrence"`
	LastOccurrence    timeutil.Time  `json:"lastOccurrence"`
	Duration          float64        `json:"duration"` // minutes
	Consolidated      bool           `json:"consolidated"`
	ConsolidatedCount int            `json:"consolidatedCount"`
	Status            Status         `json:"status"`
	MergedFrom        []string       `json:"mergedFrom,omitempty"`
	MergedCount       int            `json:"mergedCount,omitempty"`
	RecordCount       int            `json:"recordCount,omitempty"`
}

// Records returns RecordCount, counting an unset value as one record.
func (a *Alert) Records() int {
	if a.RecordCount <= 0 {
		return 1
	}
	return a.RecordCount
}

// OccurredAt returns the time used for windowing: Timestamp, falling back to
// LastOccurrence and then FirstOccurrence.
func (a *Alert) OccurredAt() time.Time {
	switch {
	case !a.Timestamp.IsZero():
		return a.Timestamp.Time
	case !a.LastOccurrence.IsZero():
		return a.LastOccurrence.Time
	default:
		return a.FirstOccurrence.Time
	}
}

// FingerprintInput returns the identifying fields. Missing occurrence times
// fall back to the alert timestamp.
func (a *Alert) FingerprintInput() fingerprint.Input {
	first := a.FirstOccurrence.Time
	if first.IsZero() {
		first = a.Timestamp.Time
	}
	last := a.LastOccurrence.Time
	if last.IsZero() {
		last = first
	}
	return fingerprint.Input{
		Equipment:       a.Equipment,
		RuleID:          a.RuleID.String(),
		EventIdentifier: a.EventIdentifier,
		EventType:       a.EventType,
		FirstOccurrence: first,
		LastOccurrence:  last,
		Consolidated:    a.Consolidated,
		Severity:        string(a.Severity),
	}
}

// Fingerprint returns the deterministic hash of the identifying fields.
func (a *Alert) Fingerprint() string {
	return fingerprint.Compute(a.FingerprintInput())
}

// ContentKey groups alerts with the same equipment, rule and event type.
func (a *Alert) ContentKey() string {
	return fingerprint.ContentKey(a.Equipment, a.RuleID.String(), a.EventType)
}

// TimeKey groups alerts with the same equipment and rule in the same window.
func (a *Alert) TimeKey(window time.Duration) string {
	return fingerprint.TimeKey(a.Equipment, a.RuleID.String(), a.OccurredAt(), window)
}

// Clone returns a deep copy of a.
func (a *Alert) Clone() Alert {
	out := *a
	out.EquipmentGroups = slices.Clone(a.EquipmentGroups)
	out.MergedFrom = slices.Clone(a.MergedFrom)
	return out
}
