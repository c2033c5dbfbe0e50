// Package fingerprint derives the deterministic identity keys of an alert:
// the exact-match fingerprint, the content key and the time-window key.
package fingerprint

import (
	"strconv"
	"strings"
	"time"

	"github.com/fleetpulse/alertcore/internal/hashutil"
	"github.com/fleetpulse/alertcore/internal/timeutil"
)

// Input holds the fields that identify an alert.
type Input struct {
	Equipment       string
	RuleID          string
	EventIdentifier string
	EventType       string
	FirstOccurrence time.Time
	LastOccurrence  time.Time
	Consolidated    bool
	Severity        string
}

// Compute returns the fingerprint of in. Occurrence times are truncated to
// the minute so re-imports of the same event with second-level jitter
// collapse to one alert.
func Compute(in Input) string {
	event := in.EventIdentifier
	if event == "" {
		event = in.EventType
	}
	return hashutil.HashParts(
		strings.TrimSpace(in.Equipment),
		strings.TrimSpace(in.RuleID),
		strings.TrimSpace(event),
		minuteMillis(in.FirstOccurrence),
		minuteMillis(in.LastOccurrence),
		strconv.FormatBool(in.Consolidated),
		strings.ToUpper(strings.TrimSpace(in.Severity)),
	)
}

// ContentKey groups alerts describing the same kind of event on the same
// equipment.
func ContentKey(equipment, ruleID, eventType string) string {
	return hashutil.Join(strings.TrimSpace(equipment), strings.TrimSpace(ruleID), strings.TrimSpace(eventType))
}

// TimeKey groups alerts of the same rule on the same equipment whose
// timestamps fall in the same window-sized bucket.
func TimeKey(equipment, ruleID string, ts time.Time, window time.Duration) string {
	return hashutil.Join(
		strings.TrimSpace(equipment),
		strings.TrimSpace(ruleID),
		strconv.FormatInt(timeutil.Bucket(ts, window), 10),
	)
}

func minuteMillis(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return strconv.FormatInt(timeutil.TruncateMinute(t).UnixMilli(), 10)
}
