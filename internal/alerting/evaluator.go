package alerting

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/fleetpulse/alertcore/internal/equipment"
	"github.com/fleetpulse/alertcore/internal/errors"
	"github.com/fleetpulse/alertcore/internal/hashutil"
	"github.com/fleetpulse/alertcore/internal/logger"
	"github.com/fleetpulse/alertcore/internal/rules"
	"github.com/fleetpulse/alertcore/internal/saferegex"
	"github.com/fleetpulse/alertcore/internal/timeutil"
)

// Data is the loosely typed event record a rule is evaluated against.
type Data map[string]any

// EvalContext carries the evaluation instant and the equipment identity.
// A zero Timestamp means "now". Nil EquipmentGroups are detected with the
// configured classifier.
type EvalContext struct {
	Timestamp       time.Time      `json:"timestamp"`
	Equipment       string         `json:"equipment,omitempty"`
	EquipmentGroups []string       `json:"equipmentGroups,omitempty"`
	Extra           map[string]any `json:"extra,omitempty"`
}

// UnmarshalJSON reads Timestamp as an ISO-8601 string or epoch milliseconds.
func (ec *EvalContext) UnmarshalJSON(b []byte) error {
	type plain EvalContext
	aux := struct {
		*plain
		Timestamp timeutil.Time `json:"timestamp"`
	}{plain: (*plain)(ec)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	ec.Timestamp = aux.Timestamp.Time
	return nil
}

// MetricsRecorder receives evaluation telemetry.
type MetricsRecorder interface {
	RecordEvaluation(ruleType string, triggered bool, elapsed time.Duration)
	RecordEvaluationSkipped(reason string)
	RecordCacheLookup(hit bool)
	RecordEvaluationError(ruleType string)
}

type nopRecorder struct{}

func (nopRecorder) RecordEvaluation(string, bool, time.Duration) {}
func (nopRecorder) RecordEvaluationSkipped(string)               {}
func (nopRecorder) RecordCacheLookup(bool)                       {}
func (nopRecorder) RecordEvaluationError(string)                 {}

// EvaluatorConfig tunes the evaluator. Zero values select the defaults; a
// negative CacheTimeout or MaxCacheSize disables the result cache.
type EvaluatorConfig struct {
	CacheTimeout       time.Duration
	MaxCacheSize       int
	RegexTimeout       time.Duration
	MinBaselineSamples int
}

// DefaultEvaluatorConfig returns the default evaluator configuration.
func DefaultEvaluatorConfig() EvaluatorConfig {
	return EvaluatorConfig{
		CacheTimeout:       DefaultCacheTimeout,
		MaxCacheSize:       DefaultMaxCacheSize,
		RegexTimeout:       DefaultRegexTimeout,
		MinBaselineSamples: DefaultMinBaselineSamples,
	}
}

func (c EvaluatorConfig) withDefaults() EvaluatorConfig {
	d := DefaultEvaluatorConfig()
	if c.CacheTimeout == 0 {
		c.CacheTimeout = d.CacheTimeout
	}
	if c.MaxCacheSize == 0 {
		c.MaxCacheSize = d.MaxCacheSize
	}
	if c.RegexTimeout <= 0 {
		c.RegexTimeout = d.RegexTimeout
	}
	if c.MinBaselineSamples <= 0 {
		c.MinBaselineSamples = d.MinBaselineSamples
	}
	return c
}

// RuleState is the live runtime state of one rule.
type RuleState struct {
	LastEvaluated   time.Time `json:"lastEvaluated"`
	LastTriggered   time.Time `json:"lastTriggered"`
	EvaluationCount int64     `json:"evaluationCount"`
	TriggerCount    int64     `json:"triggerCount"`
}

// EvaluatorStats are cumulative evaluator counters.
type EvaluatorStats struct {
	Evaluations  int64            `json:"evaluations"`
	Triggers     int64            `json:"triggers"`
	CacheHits    int64            `json:"cacheHits"`
	CacheMisses  int64            `json:"cacheMisses"`
	Errors       int64            `json:"errors"`
	Skipped      map[string]int64 `json:"skipped"`
	CacheSize    int              `json:"cacheSize"`
	TrackedRules int              `json:"trackedRules"`
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) EvaluatorOption {
	return func(e *Evaluator) {
		if l != nil {
			e.log = l
		}
	}
}

// WithClassifier sets the equipment group classifier.
func WithClassifier(c equipment.Classifier) EvaluatorOption {
	return func(e *Evaluator) {
		if c != nil {
			e.classifier = c
		}
	}
}

// WithMetrics sets the telemetry recorder.
func WithMetrics(m MetricsRecorder) EvaluatorOption {
	return func(e *Evaluator) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithClock overrides the time source used when EvalContext has no timestamp.
func WithClock(now func() time.Time) EvaluatorOption {
	return func(e *Evaluator) {
		if now != nil {
			e.now = now
		}
	}
}

// WithMetricTracker shares a sample tracker with other components.
func WithMetricTracker(t *MetricTracker) EvaluatorOption {
	return func(e *Evaluator) {
		if t != nil {
			e.tracker = t
		}
	}
}

// WithAnomalyTest registers test under method, replacing a built-in one.
func WithAnomalyTest(method string, test AnomalyTest) EvaluatorOption {
	return func(e *Evaluator) {
		if test != nil {
			e.anomalyTests[strings.ToLower(method)] = test
		}
	}
}

// Evaluator decides whether rules fire for an event. It owns the per-rule
// runtime state and a bounded result cache. An Evaluator is safe for
// concurrent use; evaluations are serialized.
type Evaluator struct {
	cfg          EvaluatorConfig
	log          logger.Logger
	classifier   equipment.Classifier
	matcher      *equipment.Matcher
	regex        *saferegex.Matcher
	tracker      *MetricTracker
	metrics      MetricsRecorder
	anomalyTests map[string]AnomalyTest
	now          func() time.Time

	mu     sync.Mutex
	cache  *lru.Cache[string, bool]
	states map[rules.ID]*RuleState
	stats  EvaluatorStats
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(cfg EvaluatorConfig, opts ...EvaluatorOption) *Evaluator {
	cfg = cfg.withDefaults()
	e := &Evaluator{
		cfg:        cfg,
		log:        logger.NewNop(),
		classifier: equipment.Nop,
		matcher:    equipment.NewMatcher(cfg.RegexTimeout),
		regex:      saferegex.New(cfg.RegexTimeout, 0),
		tracker:    NewMetricTracker(),
		metrics:    nopRecorder{},
		anomalyTests: map[string]AnomalyTest{
			rules.AnomalyZScore:      ZScoreTest{},
			rules.AnomalyStatistical: RangeTest{},
		},
		now:    time.Now,
		states: make(map[rules.ID]*RuleState),
		stats:  EvaluatorStats{Skipped: make(map[string]int64)},
	}
	for _, opt := range opts {
		opt(e)
	}
	if cfg.CacheTimeout > 0 && cfg.MaxCacheSize > 0 {
		// Size is positive, so New cannot fail.
		e.cache, _ = lru.New[string, bool](cfg.MaxCacheSize)
	}
	e.log = e.log.With(logger.Component("evaluator"))
	return e
}

// Tracker returns the metric sample tracker.
func (e *Evaluator) Tracker() *MetricTracker {
	return e.tracker
}

// env is the resolved input of one evaluation.
type env struct {
	data      Data
	equipment string
	groups    []string
	now       time.Time
}

// Evaluate reports whether rule fires for data. Rules that are disabled,
// outside their validity window, cooling down or not applicable to the
// equipment return false without running their conditions. Failures while
// running conditions are logged and reported and count as false.
func (e *Evaluator) Evaluate(rule *rules.Rule, data Data, ec EvalContext) bool {
	if rule == nil {
		return false
	}
	if !rule.Enabled {
		e.skip(SkipDisabled)
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	in := e.resolve(data, ec)
	state := e.stateFor(rule)

	if !withinWindow(rule, in.now) {
		e.skipLocked(SkipOutsideWindow)
		return false
	}
	if cooldown := rule.CooldownPeriod.Std(); cooldown > 0 && !state.LastTriggered.IsZero() &&
		in.now.Sub(state.LastTriggered) < cooldown {
		e.skipLocked(SkipCooldown)
		return false
	}
	if !e.applicable(rule, in) {
		e.skipLocked(SkipNotApplicable)
		return false
	}

	key, cacheable := e.cacheKey(rule, in, ec)
	if cacheable {
		if hit, ok := e.cache.Peek(key); ok {
			e.stats.CacheHits++
			e.metrics.RecordCacheLookup(true)
			state.EvaluationCount++
			state.LastEvaluated = in.now
			if hit {
				state.TriggerCount++
				state.LastTriggered = in.now
				e.stats.Triggers++
			}
			return hit
		}
		e.stats.CacheMisses++
		e.metrics.RecordCacheLookup(false)
	}

	start := time.Now()
	result, err := e.safeDispatch(rule, in)
	elapsed := time.Since(start)

	state.EvaluationCount++
	state.LastEvaluated = in.now
	e.stats.Evaluations++

	if err != nil {
		e.stats.Errors++
		e.metrics.RecordEvaluationError(string(rule.Type))
		evalErr := &errors.EvaluationError{
			RuleID:   rule.ID.String(),
			RuleType: string(rule.Type),
			Snapshot: maps.Clone(map[string]any(data)),
			Err:      err,
		}
		e.log.Warn("rule evaluation failed",
			logger.String("rule_id", rule.ID.String()),
			logger.String("rule_name", rule.Name),
			logger.String("rule_type", string(rule.Type)),
			logger.Error(err))
		errors.Report(evalErr)
		return false
	}

	if result {
		state.TriggerCount++
		state.LastTriggered = in.now
		e.stats.Triggers++
	}
	e.metrics.RecordEvaluation(string(rule.Type), result, elapsed)

	if cacheable {
		e.cache.Add(key, result)
	}
	return result
}

// EvaluateAll evaluates every rule against data and returns the ones that
// fired, in input order.
func (e *Evaluator) EvaluateAll(rs []*rules.Rule, data Data, ec EvalContext) []*rules.Rule {
	var fired []*rules.Rule
	for _, r := range rs {
		if e.Evaluate(r, data, ec) {
			fired = append(fired, r)
		}
	}
	return fired
}

// State returns a copy of the runtime state of the rule with id.
func (e *Evaluator) State(id rules.ID) (RuleState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[id]
	if !ok {
		return RuleState{}, false
	}
	return *st, true
}

// Snapshot returns a copy of rule with its runtime fields taken from the
// live state.
func (e *Evaluator) Snapshot(rule *rules.Rule) rules.Rule {
	out := *rule.Clone()
	e.mu.Lock()
	st, ok := e.states[rule.ID]
	var cp RuleState
	if ok {
		cp = *st
	}
	e.mu.Unlock()
	if !ok {
		return out
	}
	out.EvaluationCount = cp.EvaluationCount
	out.TriggerCount = cp.TriggerCount
	if !cp.LastEvaluated.IsZero() {
		out.LastEvaluated = timeutil.Ptr(cp.LastEvaluated)
	}
	if !cp.LastTriggered.IsZero() {
		out.LastTriggered = timeutil.Ptr(cp.LastTriggered)
	}
	return out
}

// ResetState forgets the runtime state of the given rules, or of every rule
// when no id is given.
func (e *Evaluator) ResetState(ids ...rules.ID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(ids) == 0 {
		clear(e.states)
		return
	}
	for _, id := range ids {
		delete(e.states, id)
	}
}

// ClearCache drops every cached result. Call it after rules change.
func (e *Evaluator) ClearCache() {
	if e.cache != nil {
		e.cache.Purge()
	}
	e.regex.Purge()
}

// Stats returns a copy of the evaluator counters.
func (e *Evaluator) Stats() EvaluatorStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.stats
	out.Skipped = maps.Clone(e.stats.Skipped)
	if e.cache != nil {
		out.CacheSize = e.cache.Len()
	}
	out.TrackedRules = len(e.states)
	return out
}

func (e *Evaluator) skip(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.skipLocked(reason)
}

func (e *Evaluator) skipLocked(reason string) {
	e.stats.Skipped[reason]++
	e.metrics.RecordEvaluationSkipped(reason)
}

// stateFor returns the live state of rule, seeding it from the rule's
// persisted snapshot. Later snapshots only move the state forward.
func (e *Evaluator) stateFor(rule *rules.Rule) *RuleState {
	st, ok := e.states[rule.ID]
	if !ok {
		st = &RuleState{}
		e.states[rule.ID] = st
	}
	st.EvaluationCount = max(st.EvaluationCount, rule.EvaluationCount)
	st.TriggerCount = max(st.TriggerCount, rule.TriggerCount)
	if rule.LastEvaluated != nil && rule.LastEvaluated.After(st.LastEvaluated) {
		st.LastEvaluated = rule.LastEvaluated.Time
	}
	if rule.LastTriggered != nil && rule.LastTriggered.After(st.LastTriggered) {
		st.LastTriggered = rule.LastTriggered.Time
	}
	return st
}

func (e *Evaluator) resolve(data Data, ec EvalContext) env {
	in := env{data: data, equipment: ec.Equipment, groups: ec.EquipmentGroups, now: ec.Timestamp}
	if in.data == nil {
		in.data = Data{}
	}
	if in.now.IsZero() {
		in.now = e.now()
	}
	if in.equipment == "" {
		if v, ok := in.data[rules.FieldEquipment]; ok {
			in.equipment = rules.Stringify(v)
		}
	}
	if in.groups == nil && in.equipment != "" {
		in.groups = e.classifier.DetectGroups(in.equipment)
	}
	return in
}

func withinWindow(rule *rules.Rule, now time.Time) bool {
	if rule.ValidFrom != nil && !rule.ValidFrom.IsZero() && now.Before(rule.ValidFrom.Time) {
		return false
	}
	if rule.ValidUntil != nil && !rule.ValidUntil.IsZero() && now.After(rule.ValidUntil.Time) {
		return false
	}
	return true
}

// applicable reports whether the rule targets the event's equipment. A rule
// with no targeting applies everywhere; otherwise any matching category is
// enough.
func (e *Evaluator) applicable(rule *rules.Rule, in env) bool {
	if !rule.HasApplicability() {
		return true
	}
	for _, g := range rule.EquipmentGroups {
		if slices.ContainsFunc(in.groups, func(have string) bool { return strings.EqualFold(have, g) }) {
			return true
		}
	}
	if in.equipment == "" {
		return false
	}
	if e.matcher.MatchAny(rule.EquipmentPatterns, in.equipment) {
		return true
	}
	return slices.ContainsFunc(rule.ApplicableEquipment, func(name string) bool {
		return strings.EqualFold(name, in.equipment)
	})
}

// cacheKey derives the result cache key from the rule id, the data, the
// context and the cache time bucket. Inputs that cannot be serialized are
// not cached.
func (e *Evaluator) cacheKey(rule *rules.Rule, in env, ec EvalContext) (string, bool) {
	if e.cache == nil {
		return "", false
	}
	data, err := json.Marshal(in.data)
	if err != nil {
		return "", false
	}
	ec.Timestamp = time.Time{}
	ec.Equipment = in.equipment
	ec.EquipmentGroups = in.groups
	ctx, err := json.Marshal(ec)
	if err != nil {
		return "", false
	}
	bucket := timeutil.Bucket(in.now, e.cfg.CacheTimeout)
	return hashutil.HashParts(rule.ID.String(), string(data), string(ctx), strconv.FormatInt(bucket, 10)), true
}

func (e *Evaluator) safeDispatch(rule *rules.Rule, in env) (result bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = false
			err = errors.FromPanic(r)
		}
	}()
	return e.dispatch(rule, in)
}

func (e *Evaluator) dispatch(rule *rules.Rule, in env) (bool, error) {
	switch rule.Type {
	case rules.TypeSimple:
		if rule.Conditions.Simple == nil {
			return false, errors.New("simple rule has no conditions")
		}
		return evaluateSimple(rule.Conditions.Simple, in.data), nil
	case rules.TypeAdvanced:
		if rule.Conditions.Tree == nil {
			return false, errors.New("advanced rule has no condition group")
		}
		return e.evaluateGroup(rule.Conditions.Tree, in)
	case rules.TypeThreshold:
		if rule.Conditions.Threshold == nil {
			return false, errors.New("threshold rule has no conditions")
		}
		return e.evaluateThreshold(rule.Conditions.Threshold, in), nil
	case rules.TypeAnomaly:
		if rule.Conditions.Anomaly == nil {
			return false, errors.New("anomaly rule has no conditions")
		}
		return e.evaluateAnomaly(rule.Conditions.Anomaly, in)
	default:
		return false, fmt.Errorf("unknown rule type %q", rule.Type)
	}
}

// evaluateSimple applies the implicit-AND checks of a simple rule.
func evaluateSimple(s *rules.SimpleConditions, data Data) bool {
	if s.Apontamento != "" && !strings.EqualFold(rules.Stringify(data[rules.FieldApontamento]), s.Apontamento) {
		return false
	}
	if s.Status != "" && !strings.EqualFold(rules.Stringify(data[rules.FieldStatus]), s.Status) {
		return false
	}
	if s.TimeOperator != "" && s.TimeValue != nil {
		if !compareFloat(rules.Coerce(timeValue(data)), s.TimeOperator, s.TimeValue.Float()) {
			return false
		}
	}
	return true
}

// timeValue returns the elapsed time of the event: time, else duration,
// else 0.
func timeValue(data Data) any {
	if v, ok := data[rules.FieldTime]; ok && v != nil {
		return v
	}
	if v, ok := data[rules.FieldDuration]; ok && v != nil {
		return v
	}
	return 0
}

func (e *Evaluator) evaluateThreshold(t *rules.ThresholdCondition, in env) bool {
	raw, ok := in.data[t.Metric]
	if !ok {
		return false
	}
	value := rules.Coerce(raw)
	if sustained := t.SustainedFor.Std(); sustained > 0 {
		key := SeriesKey(t.Metric, in.equipment)
		e.tracker.Record(key, value, in.now)
		return e.tracker.IsSustained(key, t.Operator, t.Threshold.Float(), sustained, in.now)
	}
	return compareFloat(value, t.Operator, t.Threshold.Float())
}
