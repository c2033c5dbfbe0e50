package alerting

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/fleetpulse/alertcore/internal/alert"
	"github.com/fleetpulse/alertcore/internal/errors"
	"github.com/fleetpulse/alertcore/internal/logger"
	"github.com/fleetpulse/alertcore/internal/rules"
	"github.com/fleetpulse/alertcore/internal/timeutil"
)

const (
	// storeTimeout is the context deadline for each store call made while
	// handling an event.
	storeTimeout = 3 * time.Second
	// cleanupTimeout is the context deadline for the periodic alert deletion.
	cleanupTimeout = 5 * time.Second
	// cleanupInterval is how often the retention cleanup goroutine runs.
	cleanupInterval = 1 * time.Hour
	// DefaultLookback is how far back stored alerts are compared against
	// new ones for duplicates.
	DefaultLookback = 24 * time.Hour
)

// Store is the persistence the engine needs.
type Store interface {
	ListRules(ctx context.Context) ([]rules.Rule, error)
	GetEnabledRules(ctx context.Context) ([]rules.Rule, error)
	CreateRule(ctx context.Context, rule *rules.Rule) error
	SaveRuleState(ctx context.Context, rule *rules.Rule) error
	ListAlertsSince(ctx context.Context, since time.Time) ([]alert.Alert, error)
	SaveAlerts(ctx context.Context, alerts []alert.Alert) error
	DeleteAlertsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Deduplicator drops new alerts that repeat stored ones and merges the rest.
type Deduplicator interface {
	Process(newAlerts, existing []alert.Alert) []alert.Alert
}

// Event is one equipment record fed to the engine.
type Event struct {
	Equipment       string    `json:"equipamento,omitempty"`
	EquipmentGroups []string  `json:"equipmentGroups,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
	Data            Data      `json:"data"`
}

// UnmarshalJSON reads Timestamp as an ISO-8601 string or epoch milliseconds.
func (ev *Event) UnmarshalJSON(b []byte) error {
	type plain Event
	aux := struct {
		*plain
		Timestamp timeutil.Time `json:"timestamp"`
	}{plain: (*plain)(ev)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	ev.Timestamp = aux.Timestamp.Time
	return nil
}

// EngineConfig tunes the engine.
type EngineConfig struct {
	Lookback time.Duration
}

// Engine runs events through evaluation, alert building, deduplication,
// storage and the alert stream.
type Engine struct {
	store     Store
	evaluator *Evaluator
	builder   *AlertBuilder
	dedup     Deduplicator
	stream    *AlertStream
	cfg       EngineConfig
	log       logger.Logger

	// Cached enabled rules, refreshed from the store
	rules   []rules.Rule
	rulesMu sync.RWMutex

	cleanupStop chan struct{}
}

// NewEngine creates an engine. stream may be nil.
func NewEngine(store Store, evaluator *Evaluator, builder *AlertBuilder, dedup Deduplicator,
	stream *AlertStream, cfg EngineConfig, log logger.Logger) *Engine {
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultLookback
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Engine{
		store:     store,
		evaluator: evaluator,
		builder:   builder,
		dedup:     dedup,
		stream:    stream,
		cfg:       cfg,
		log:       log.With(logger.Component("engine")),
	}
}

// Evaluator returns the engine's evaluator.
func (e *Engine) Evaluator() *Evaluator {
	return e.evaluator
}

// RefreshRules reloads enabled rules from the store and clears cached
// results. Call it on startup and whenever rules change.
func (e *Engine) RefreshRules(ctx context.Context) error {
	loaded, err := e.store.GetEnabledRules(ctx)
	if err != nil {
		return err
	}
	e.rulesMu.Lock()
	e.rules = loaded
	e.rulesMu.Unlock()
	e.evaluator.ClearCache()
	return nil
}

// Rules returns a copy of the loaded rules.
func (e *Engine) Rules() []rules.Rule {
	e.rulesMu.RLock()
	defer e.rulesMu.RUnlock()
	out := make([]rules.Rule, len(e.rules))
	for i := range e.rules {
		out[i] = *e.rules[i].Clone()
	}
	return out
}

// HandleEvent evaluates ev against every loaded rule and returns the alerts
// that survived deduplication. Store failures are logged and returned; the
// surviving alerts are still published.
func (e *Engine) HandleEvent(ctx context.Context, ev Event) ([]alert.Alert, error) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	ec := EvalContext{Timestamp: ev.Timestamp, Equipment: ev.Equipment, EquipmentGroups: ev.EquipmentGroups}

	loaded := e.Rules()
	ptrs := make([]*rules.Rule, len(loaded))
	for i := range loaded {
		ptrs[i] = &loaded[i]
	}

	fired := e.evaluator.EvaluateAll(ptrs, ev.Data, ec)
	if len(fired) == 0 {
		return nil, nil
	}

	var errs []error
	built := make([]alert.Alert, 0, len(fired))
	for _, rule := range fired {
		built = append(built, e.builder.Build(rule, ev.Data, ec))
		snapshot := e.evaluator.Snapshot(rule)
		if err := e.withTimeout(ctx, func(ctx context.Context) error {
			return e.store.SaveRuleState(ctx, &snapshot)
		}); err != nil {
			e.log.Error("failed to save rule state",
				logger.String("rule_id", rule.ID.String()),
				logger.Error(err))
			errs = append(errs, err)
		}
	}

	var existing []alert.Alert
	if err := e.withTimeout(ctx, func(ctx context.Context) error {
		var err error
		existing, err = e.store.ListAlertsSince(ctx, ev.Timestamp.Add(-e.cfg.Lookback))
		return err
	}); err != nil {
		e.log.Error("failed to load recent alerts", logger.Error(err))
		errs = append(errs, err)
	}

	emitted := built
	if e.dedup != nil {
		emitted = e.dedup.Process(built, existing)
	}
	if len(emitted) == 0 {
		return nil, errors.Join(errs...)
	}

	if err := e.withTimeout(ctx, func(ctx context.Context) error {
		return e.store.SaveAlerts(ctx, emitted)
	}); err != nil {
		e.log.Error("failed to save alerts",
			logger.Int("count", len(emitted)),
			logger.Error(err))
		errs = append(errs, err)
	}

	if e.stream != nil {
		for i := range emitted {
			e.stream.Publish(emitted[i])
		}
	}

	e.log.Debug("event handled",
		logger.String("equipment", emitted[0].Equipment),
		logger.Int("fired", len(fired)),
		logger.Int("emitted", len(emitted)))

	return emitted, errors.Join(errs...)
}

func (e *Engine) withTimeout(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	return fn(ctx)
}

// StartRetentionCleanup starts a background goroutine that periodically
// deletes alerts older than retention. A non-positive retention disables
// cleanup.
func (e *Engine) StartRetentionCleanup(retention time.Duration) {
	if retention <= 0 {
		return
	}
	// Stop any existing cleanup goroutine before starting a new one.
	e.stopCleanup()
	e.rulesMu.Lock()
	e.cleanupStop = make(chan struct{})
	stopCh := e.cleanupStop
	e.rulesMu.Unlock()
	go func() {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.cleanup(retention)
			case <-stopCh:
				return
			}
		}
	}()
}

func (e *Engine) cleanup(retention time.Duration) {
	cutoff := time.Now().Add(-retention)
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	deleted, err := e.store.DeleteAlertsBefore(ctx, cutoff)
	if err != nil {
		e.log.Error("alert retention cleanup failed", logger.Error(err))
		return
	}
	if deleted > 0 {
		e.log.Info("alert retention cleanup completed",
			logger.Int64("deleted", deleted),
			logger.Duration("retention", retention))
	}
}

// stopCleanup signals the cleanup goroutine to exit. rulesMu makes the
// nil-check-then-close atomic.
func (e *Engine) stopCleanup() {
	e.rulesMu.Lock()
	ch := e.cleanupStop
	e.cleanupStop = nil
	e.rulesMu.Unlock()
	if ch != nil {
		close(ch)
	}
}

// Stop shuts down background goroutines.
func (e *Engine) Stop() {
	e.stopCleanup()
}
