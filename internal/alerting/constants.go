// Package alerting evaluates alert rules against equipment events, builds
// alerts for the rules that fire and runs the event pipeline that feeds
// them through deduplication into storage.
package alerting

import "time"

// Evaluator defaults.
const (
	DefaultCacheTimeout       = time.Minute
	DefaultMaxCacheSize       = 1000
	DefaultRegexTimeout       = 100 * time.Millisecond
	DefaultMinBaselineSamples = 5
)

// Reasons reported when a rule is skipped before its conditions run.
const (
	SkipDisabled      = "disabled"
	SkipOutsideWindow = "outside_window"
	SkipCooldown      = "cooldown"
	SkipNotApplicable = "not_applicable"
)

// Template placeholders filled in by AlertBuilder in addition to every
// top-level event field.
const (
	PlaceholderRuleName  = "{{rule_name}}"
	PlaceholderSeverity  = "{{severity}}"
	PlaceholderEquipment = "{{equipment}}"
	PlaceholderGroups    = "{{groups}}"
	PlaceholderTimestamp = "{{timestamp}}"
)
