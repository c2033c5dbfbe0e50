// Package dedup filters alerts that repeat already known ones and merges
// bursts of related alerts.
package dedup

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/fleetpulse/alertcore/internal/alert"
	"github.com/fleetpulse/alertcore/internal/errors"
	"github.com/fleetpulse/alertcore/internal/logger"
	"github.com/fleetpulse/alertcore/internal/similarity"
)

// Strategy selects how duplicates are recognized.
type Strategy string

const (
	// StrategyHash matches the alert fingerprint exactly.
	StrategyHash Strategy = "hash"
	// StrategyID matches the caller-supplied uniqueId.
	StrategyID Strategy = "id"
	// StrategyContent matches equipment, rule and event type with a similar
	// message and duration.
	StrategyContent Strategy = "content"
	// StrategyTime matches equipment and rule in the same time window.
	StrategyTime Strategy = "time"
	// StrategySmart tries hash, id, time and content in that order.
	StrategySmart Strategy = "smart"
)

// Strategies lists the supported strategies.
var Strategies = []Strategy{StrategyHash, StrategyID, StrategyContent, StrategyTime, StrategySmart}

// smartOrder is the cascade used by StrategySmart, cheapest check first.
var smartOrder = []Strategy{StrategyHash, StrategyID, StrategyTime, StrategyContent}

// Valid reports whether s is a supported strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyHash, StrategyID, StrategyContent, StrategyTime, StrategySmart:
		return true
	}
	return false
}

// ParseStrategy parses s case-insensitively.
func ParseStrategy(s string) (Strategy, error) {
	st := Strategy(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown dedup strategy %q", s)
	}
	return st, nil
}

// Defaults applied when Config leaves a field unset.
const (
	DefaultWindowMinutes       = 5
	DefaultSimilarityThreshold = 0.9
	DefaultDurationTolerance   = 5.0
	DefaultNormalizeCacheSize  = 2048
)

// ExactDuration as DurationTolerance requires content duplicates to have
// equal durations. Zero selects DefaultDurationTolerance.
const ExactDuration = -1.0

// Config tunes the deduplicator.
type Config struct {
	Strategy            Strategy
	WindowMinutes       int
	SimilarityThreshold float64
	// DurationTolerance is the largest duration difference, in minutes, of
	// two content duplicates.
	DurationTolerance  float64
	EnableMerge        bool
	NormalizeCacheSize int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Strategy:            StrategyHash,
		WindowMinutes:       DefaultWindowMinutes,
		SimilarityThreshold: DefaultSimilarityThreshold,
		DurationTolerance:   DefaultDurationTolerance,
		NormalizeCacheSize:  DefaultNormalizeCacheSize,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if !c.Strategy.Valid() {
		c.Strategy = d.Strategy
	}
	if c.WindowMinutes <= 0 {
		c.WindowMinutes = d.WindowMinutes
	}
	if c.SimilarityThreshold <= 0 {
		c.SimilarityThreshold = d.SimilarityThreshold
	}
	switch {
	case c.DurationTolerance == ExactDuration:
		c.DurationTolerance = 0
	case c.DurationTolerance <= 0:
		c.DurationTolerance = d.DurationTolerance
	}
	if c.NormalizeCacheSize == 0 {
		c.NormalizeCacheSize = d.NormalizeCacheSize
	}
	return c
}

// Window returns the time window as a duration.
func (c Config) Window() time.Duration {
	return time.Duration(c.WindowMinutes) * time.Minute
}

// MetricsRecorder receives deduplication telemetry.
type MetricsRecorder interface {
	RecordDeduplication(strategy string, processed, duplicates int, elapsed time.Duration)
	RecordMerge(merged int)
	RecordClassificationError(strategy string)
}

type nopRecorder struct{}

func (nopRecorder) RecordDeduplication(string, int, int, time.Duration) {}
func (nopRecorder) RecordMerge(int)                                     {}
func (nopRecorder) RecordClassificationError(string)                    {}

// SimilarityFunc scores two messages in [0, 1].
type SimilarityFunc func(a, b string) float64

// Option configures a Deduplicator.
type Option func(*Deduplicator)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(d *Deduplicator) {
		if l != nil {
			d.log = l
		}
	}
}

// WithMetrics sets the telemetry recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(d *Deduplicator) {
		if m != nil {
			d.metrics = m
		}
	}
}

// WithSimilarity replaces the message similarity function.
func WithSimilarity(fn SimilarityFunc) Option {
	return func(d *Deduplicator) {
		if fn != nil {
			d.similarity = fn
		}
	}
}

// WithClock overrides the time source for LastRun.
func WithClock(now func() time.Time) Option {
	return func(d *Deduplicator) {
		if now != nil {
			d.now = now
		}
	}
}

// Deduplicator classifies new alerts against known ones. It is safe for
// concurrent use; calls are serialized.
type Deduplicator struct {
	cfg        Config
	log        logger.Logger
	metrics    MetricsRecorder
	normalizer *similarity.Normalizer
	similarity SimilarityFunc
	now        func() time.Time

	mu    sync.Mutex
	stats Stats
}

// New creates a Deduplicator.
func New(cfg Config, opts ...Option) *Deduplicator {
	cfg = cfg.withDefaults()
	d := &Deduplicator{
		cfg:        cfg,
		log:        logger.NewNop(),
		metrics:    nopRecorder{},
		normalizer: similarity.NewNormalizer(cfg.NormalizeCacheSize),
		now:        time.Now,
		stats:      newStats(),
	}
	d.similarity = d.normalizer.Compare
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.With(logger.Component("dedup"))
	return d
}

// Config returns the effective configuration.
func (d *Deduplicator) Config() Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// SetStrategy switches the strategy and clears the cache.
func (d *Deduplicator) SetStrategy(s Strategy) error {
	if !s.Valid() {
		return fmt.Errorf("unknown dedup strategy %q", s)
	}
	d.mu.Lock()
	d.cfg.Strategy = s
	d.mu.Unlock()
	d.ClearCache()
	return nil
}

// ClearCache drops memoized message normalizations.
func (d *Deduplicator) ClearCache() {
	d.normalizer.Purge()
}

// Deduplicate returns the alerts of newAlerts that duplicate neither an
// alert of existing nor an earlier accepted alert of newAlerts, in input
// order. An alert whose classification fails is kept.
func (d *Deduplicator) Deduplicate(newAlerts, existing []alert.Alert) []alert.Alert {
	d.mu.Lock()
	defer d.mu.Unlock()

	start := time.Now()
	window := d.cfg.Window()
	known := newIndex(window)
	for i := range existing {
		known.add(&existing[i])
	}
	accepted := newIndex(window)

	unique := make([]alert.Alert, 0, len(newAlerts))
	duplicates := 0
	for i := range newAlerts {
		a := &newAlerts[i]
		matched, err := d.classify(a, known, accepted)
		if err != nil {
			d.stats.Errors++
			d.metrics.RecordClassificationError(string(d.cfg.Strategy))
			d.log.Warn("duplicate classification failed, keeping alert",
				logger.String("alert_id", a.ID),
				logger.String("strategy", string(d.cfg.Strategy)),
				logger.Error(err))
			errors.Report(&errors.ClassificationError{AlertID: a.ID, Strategy: string(d.cfg.Strategy), Err: err})
		}
		if matched != "" {
			duplicates++
			d.stats.ByStrategy[string(matched)]++
			continue
		}
		kept := a.Clone()
		accepted.add(&kept)
		unique = append(unique, kept)
	}

	d.stats.TotalProcessed += int64(len(newAlerts))
	d.stats.DuplicatesFound += int64(duplicates)
	d.stats.UniqueAlerts += int64(len(unique))
	d.stats.LastRun = d.now()
	d.metrics.RecordDeduplication(string(d.cfg.Strategy), len(newAlerts), duplicates, time.Since(start))
	return unique
}

// Process deduplicates newAlerts against existing and merges the result
// when merging is enabled.
func (d *Deduplicator) Process(newAlerts, existing []alert.Alert) []alert.Alert {
	unique := d.Deduplicate(newAlerts, existing)
	return d.MergeAlerts(unique)
}

// classify returns the strategy that recognized a as a duplicate, or "".
func (d *Deduplicator) classify(a *alert.Alert, indexes ...*index) (matched Strategy, err error) {
	defer func() {
		if r := recover(); r != nil {
			matched = ""
			err = errors.FromPanic(r)
		}
	}()

	strategies := []Strategy{d.cfg.Strategy}
	if d.cfg.Strategy == StrategySmart {
		strategies = smartOrder
	}
	keys := keysOf(a, d.cfg.Window())
	for _, s := range strategies {
		for _, ix := range indexes {
			if d.matches(s, a, keys, ix) {
				return s, nil
			}
		}
	}
	return "", nil
}

func (d *Deduplicator) matches(s Strategy, a *alert.Alert, k alertKeys, ix *index) bool {
	switch s {
	case StrategyHash:
		_, ok := ix.byHash[k.hash]
		return ok
	case StrategyID:
		if a.UniqueID == "" {
			return false
		}
		_, ok := ix.byID[a.UniqueID]
		return ok
	case StrategyTime:
		_, ok := ix.byTime[k.time]
		return ok
	case StrategyContent:
		for _, candidate := range ix.byContent[k.content] {
			if d.similarContent(a, candidate) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// similarContent reports whether two alerts with the same content key have
// close durations and similar messages.
func (d *Deduplicator) similarContent(a, b *alert.Alert) bool {
	if math.Abs(a.Duration-b.Duration) > d.cfg.DurationTolerance {
		return false
	}
	return d.similarity(a.Message, b.Message) >= d.cfg.SimilarityThreshold
}

type alertKeys struct {
	hash    string
	content string
	time    string
}

func keysOf(a *alert.Alert, window time.Duration) alertKeys {
	return alertKeys{hash: a.Fingerprint(), content: a.ContentKey(), time: a.TimeKey(window)}
}

// index looks alerts up by fingerprint, uniqueId, content key and time key.
type index struct {
	window    time.Duration
	byHash    map[string]struct{}
	byID      map[string]struct{}
	byContent map[string][]*alert.Alert
	byTime    map[string]struct{}
}

func newIndex(window time.Duration) *index {
	return &index{
		window:    window,
		byHash:    make(map[string]struct{}),
		byID:      make(map[string]struct{}),
		byContent: make(map[string][]*alert.Alert),
		byTime:    make(map[string]struct{}),
	}
}

func (ix *index) add(a *alert.Alert) {
	k := keysOf(a, ix.window)
	ix.byHash[k.hash] = struct{}{}
	if a.UniqueID != "" {
		ix.byID[a.UniqueID] = struct{}{}
	}
	ix.byContent[k.content] = append(ix.byContent[k.content], a)
	ix.byTime[k.time] = struct{}{}
}
