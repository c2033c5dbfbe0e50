package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/fleetpulse/alertcore/internal/alert"
	"github.com/fleetpulse/alertcore/internal/conf"
	"github.com/fleetpulse/alertcore/internal/dedup"
	"github.com/fleetpulse/alertcore/internal/equipment"
	"github.com/fleetpulse/alertcore/internal/logger"
	"github.com/fleetpulse/alertcore/internal/rules"
)

// Recorder receives the telemetry of every alerting component.
type Recorder interface {
	MetricsRecorder
	dedup.MetricsRecorder
	RecordAlertEmitted(severity string)
}

// Service bundles the components created by Initialize.
type Service struct {
	Engine     *Engine
	Evaluator  *Evaluator
	Dedup      *dedup.Deduplicator
	Stream     *AlertStream
	Classifier equipment.Classifier
	Validator  *rules.Validator
	Builder    *AlertBuilder
	Settings   *conf.Settings
}

// Stop shuts down the engine's background work and drains the stream.
func (s *Service) Stop() {
	s.Engine.Stop()
	s.Stream.Stop()
}

// Initialize creates and starts the alerting pipeline. It seeds default
// rules missing from the store, loads the enabled rules and starts the
// retention cleanup. rec may be nil.
func Initialize(ctx context.Context, store Store, settings *conf.Settings, log logger.Logger, rec Recorder) (*Service, error) {
	if settings == nil {
		settings = conf.Default()
	}
	if log == nil {
		log = logger.NewNop()
	}

	if _, err := SeedDefaultRules(ctx, store, log); err != nil {
		return nil, err
	}

	classifier := NewClassifier(settings.Equipment, settings.Evaluator.RegexTimeout.Std())

	evalOpts := []EvaluatorOption{WithLogger(log), WithClassifier(classifier)}
	dedupOpts := []dedup.Option{dedup.WithLogger(log)}
	if rec != nil {
		evalOpts = append(evalOpts, WithMetrics(rec))
		dedupOpts = append(dedupOpts, dedup.WithMetrics(rec))
	}
	evaluator := NewEvaluator(EvaluatorConfigFrom(settings.Evaluator), evalOpts...)

	dcfg, err := DedupConfigFrom(settings.Dedup)
	if err != nil {
		return nil, err
	}
	dd := dedup.New(dcfg, dedupOpts...)

	stream := NewAlertStream(log)
	if rec != nil {
		stream.Subscribe(func(a *alert.Alert) {
			rec.RecordAlertEmitted(string(a.Severity))
		})
	}

	builder := NewAlertBuilder(classifier)
	engine := NewEngine(store, evaluator, builder, dd, stream,
		EngineConfig{Lookback: settings.Dedup.Lookback.Std()}, log)

	if err := engine.RefreshRules(ctx); err != nil {
		stream.Stop()
		return nil, err
	}
	engine.StartRetentionCleanup(settings.Datastore.Retention.Std())

	log.Info("alerting engine initialized",
		logger.Int("rules_loaded", len(engine.Rules())),
		logger.String("dedup_strategy", string(dcfg.Strategy)))

	return &Service{
		Engine:     engine,
		Evaluator:  evaluator,
		Dedup:      dd,
		Stream:     stream,
		Classifier: classifier,
		Validator:  rules.NewValidator(ValidatorOptionsFrom(settings.Evaluator)),
		Builder:    builder,
		Settings:   settings,
	}, nil
}

// NewClassifier builds the cached pattern classifier described by s.
func NewClassifier(s conf.EquipmentSettings, regexTimeout time.Duration) equipment.Classifier {
	inner := equipment.NewPatternClassifier(s.Groups, equipment.NewMatcher(regexTimeout))
	return equipment.NewCachedClassifier(inner, s.CacheTTL.Std())
}

// EvaluatorConfigFrom maps evaluator settings onto EvaluatorConfig.
func EvaluatorConfigFrom(s conf.EvaluatorSettings) EvaluatorConfig {
	return EvaluatorConfig{
		CacheTimeout:       s.CacheTimeout.Std(),
		MaxCacheSize:       s.MaxCacheSize,
		RegexTimeout:       s.RegexTimeout.Std(),
		MinBaselineSamples: s.MinBaselineSamples,
	}
}

// ValidatorOptionsFrom maps evaluator settings onto the tree limits.
func ValidatorOptionsFrom(s conf.EvaluatorSettings) rules.ValidatorOptions {
	return rules.ValidatorOptions{
		MaxDepth:             s.MaxDepth,
		MaxConditions:        s.MaxConditions,
		AllowEmptyConditions: s.AllowEmptyConditions,
		Strict:               s.StrictMode,
	}
}

// DedupConfigFrom maps dedup settings onto dedup.Config.
func DedupConfigFrom(s conf.DedupSettings) (dedup.Config, error) {
	strategy := dedup.StrategyHash
	if s.Strategy != "" {
		var err error
		if strategy, err = dedup.ParseStrategy(s.Strategy); err != nil {
			return dedup.Config{}, fmt.Errorf("dedup settings: %w", err)
		}
	}
	return dedup.Config{
		Strategy:            strategy,
		WindowMinutes:       s.WindowMinutes,
		SimilarityThreshold: s.SimilarityThreshold,
		DurationTolerance:   s.DurationTolerance,
		EnableMerge:         s.EnableMerge,
		NormalizeCacheSize:  s.NormalizeCacheSize,
	}, nil
}

// SeedDefaultRules creates the built-in default rules missing from store and
// returns how many were created. It checks by name so partial seeds from
// previous runs self-heal on restart.
func SeedDefaultRules(ctx context.Context, store Store, log logger.Logger) (int, error) {
	existing, err := store.ListRules(ctx)
	if err != nil {
		return 0, err
	}

	existingNames := make(map[string]struct{}, len(existing))
	for i := range existing {
		existingNames[existing[i].Name] = struct{}{}
	}

	defaults := rules.DefaultRules()
	var created int
	for i := range defaults {
		if _, exists := existingNames[defaults[i].Name]; exists {
			continue
		}
		if err := store.CreateRule(ctx, &defaults[i]); err != nil {
			return created, err
		}
		created++
	}
	if created > 0 {
		log.Info("seeded default alert rules", logger.Int("created", created))
	}
	return created, nil
}
