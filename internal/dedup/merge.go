package dedup

import (
	"fmt"
	"regexp"
	"time"

	"github.com/fleetpulse/alertcore/internal/alert"
	"github.com/fleetpulse/alertcore/internal/rules"
	"github.com/fleetpulse/alertcore/internal/timeutil"
)

// eventSuffix matches the annotation added to merged messages.
var eventSuffix = regexp.MustCompile(` \(\d+ events\)$`)

// MergeAlerts collapses groups of related alerts into one when merging is
// enabled. Alerts are related when they share equipment and rule, their
// severities are at most one rank apart and their timestamps fall within
// the window. The most recent alert of a group carries the merged result in
// place of the group's first member; the rest are dropped.
func (d *Deduplicator) MergeAlerts(alerts []alert.Alert) []alert.Alert {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.cfg.EnableMerge || len(alerts) < 2 {
		out := make([]alert.Alert, len(alerts))
		for i := range alerts {
			out[i] = alerts[i].Clone()
		}
		return out
	}

	window := d.cfg.Window()
	var groups [][]int
	for i := range alerts {
		placed := false
		for g := range groups {
			if mergeable(alerts, groups[g], &alerts[i], window) {
				groups[g] = append(groups[g], i)
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, []int{i})
		}
	}

	out := make([]alert.Alert, 0, len(groups))
	merged := 0
	for _, g := range groups {
		if len(g) == 1 {
			out = append(out, alerts[g[0]].Clone())
			continue
		}
		out = append(out, mergeGroup(alerts, g))
		merged += len(g) - 1
	}

	d.stats.MergedAlerts += int64(merged)
	d.metrics.RecordMerge(merged)
	return out
}

func mergeable(alerts []alert.Alert, group []int, a *alert.Alert, window time.Duration) bool {
	for _, i := range group {
		m := &alerts[i]
		if m.Equipment != a.Equipment || m.RuleID != a.RuleID {
			return false
		}
		if abs(m.Severity.Rank()-a.Severity.Rank()) > 1 {
			return false
		}
		if d := m.OccurredAt().Sub(a.OccurredAt()); d > window || d < -window {
			return false
		}
	}
	return true
}

func mergeGroup(alerts []alert.Alert, group []int) alert.Alert {
	base := group[0]
	for _, i := range group[1:] {
		if !alerts[i].OccurredAt().Before(alerts[base].OccurredAt()) {
			base = i
		}
	}

	out := alerts[base].Clone()
	records := 0
	maxRank := 0
	out.MergedFrom = make([]string, 0, len(group))
	first, last := out.FirstOccurrence.Time, out.LastOccurrence.Time
	for _, i := range group {
		a := &alerts[i]
		records += a.Records()
		maxRank = max(maxRank, a.Severity.Rank())
		out.MergedFrom = append(out.MergedFrom, a.ID)
		if f := a.FirstOccurrence.Time; !f.IsZero() && (first.IsZero() || f.Before(first)) {
			first = f
		}
		if l := a.LastOccurrence.Time; l.After(last) {
			last = l
		}
	}

	out.Severity = rules.SeverityForRank(maxRank)
	out.RecordCount = records
	out.MergedCount = len(group)
	out.FirstOccurrence = timeutil.NewTime(first)
	out.LastOccurrence = timeutil.NewTime(last)
	out.Message = fmt.Sprintf("%s (%d events)", eventSuffix.ReplaceAllString(out.Message, ""), records)
	return out
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
