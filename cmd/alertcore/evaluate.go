package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fleetpulse/alertcore/internal/alert"
	"github.com/fleetpulse/alertcore/internal/alerting"
	"github.com/fleetpulse/alertcore/internal/conf"
	"github.com/fleetpulse/alertcore/internal/datastore"
	"github.com/fleetpulse/alertcore/internal/datastore/repository"
	"github.com/fleetpulse/alertcore/internal/dedup"
	"github.com/fleetpulse/alertcore/internal/logger"
	"github.com/fleetpulse/alertcore/internal/rules"
)

// evaluateResult is the output of the evaluate command.
type evaluateResult struct {
	Events    int                     `json:"events"`
	Rules     int                     `json:"rules"`
	Count     int                     `json:"count"`
	Alerts    []alert.Alert           `json:"alerts"`
	Evaluator alerting.EvaluatorStats `json:"evaluator"`
	Dedup     dedup.Stats             `json:"dedup"`
}

func newEvaluateCmd(opts *rootOptions) *cobra.Command {
	var (
		rulesFiles   []string
		eventsFile   string
		withDefaults bool
	)

	cmd := &cobra.Command{
		Use:   "evaluate --events <file> [--rules <file>]... [--defaults]",
		Short: "Run events through the pipeline offline",
		Long: `Evaluate a file of events against rule files using a throwaway in-memory
store. Events are processed in file order through evaluation, alert building
and deduplication; the emitted alerts are printed as JSON.

Events may be objects of the form {"equipamento", "timestamp", "data"} or
flat data objects, as an array or one per line.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(rulesFiles) == 0 && !withDefaults {
				return fmt.Errorf("no rules: pass --rules or --defaults")
			}
			settings, log, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			var loaded []rules.Rule
			for _, path := range rulesFiles {
				rs, decodeErrs, err := readRules(path)
				if err != nil {
					return err
				}
				if len(decodeErrs) > 0 {
					return decodeErrs[0]
				}
				loaded = append(loaded, rs...)
			}
			events, err := readEvents(eventsFile)
			if err != nil {
				return err
			}

			result, err := runEvaluation(cmd.Context(), settings, log, loaded, withDefaults, events)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}

	cmd.Flags().StringSliceVar(&rulesFiles, "rules", nil, "Rule file (JSON or YAML); repeatable")
	cmd.Flags().StringVar(&eventsFile, "events", "", "Event file (JSON, NDJSON or YAML)")
	cmd.Flags().BoolVar(&withDefaults, "defaults", false, "Include the built-in default rules")
	_ = cmd.MarkFlagRequired("events")

	return cmd
}

// runEvaluation builds an engine over an in-memory store holding ruleSet and
// feeds it events in order.
func runEvaluation(ctx context.Context, settings *conf.Settings, log logger.Logger,
	ruleSet []rules.Rule, withDefaults bool, events []alerting.Event,
) (*evaluateResult, error) {
	db, err := datastore.Open(conf.DatastoreSettings{Driver: "sqlite"}, log)
	if err != nil {
		return nil, err
	}
	defer func() { _ = datastore.Close(db) }()
	repo := repository.New(db)

	if withDefaults {
		if _, err := alerting.SeedDefaultRules(ctx, repo, log); err != nil {
			return nil, err
		}
	}

	validator := rules.NewValidator(alerting.ValidatorOptionsFrom(settings.Evaluator))
	var invalid []string
	for i := range ruleSet {
		r := ruleSet[i]
		if res := validator.ValidateRule(&r); !res.Valid() {
			invalid = append(invalid, fmt.Sprintf("%q: %s", r.Name, strings.Join(res.Errors, "; ")))
			continue
		}
		// The store assigns IDs.
		r.ID = ""
		if err := repo.CreateRule(ctx, &r); err != nil {
			return nil, fmt.Errorf("failed to load rule %q: %w", r.Name, err)
		}
	}
	if len(invalid) > 0 {
		return nil, fmt.Errorf("invalid rules: %s", strings.Join(invalid, ", "))
	}

	classifier := alerting.NewClassifier(settings.Equipment, settings.Evaluator.RegexTimeout.Std())
	evaluator := alerting.NewEvaluator(alerting.EvaluatorConfigFrom(settings.Evaluator),
		alerting.WithLogger(log), alerting.WithClassifier(classifier))
	dcfg, err := alerting.DedupConfigFrom(settings.Dedup)
	if err != nil {
		return nil, err
	}
	dd := dedup.New(dcfg, dedup.WithLogger(log))

	engine := alerting.NewEngine(repo, evaluator, alerting.NewAlertBuilder(classifier), dd, nil,
		alerting.EngineConfig{Lookback: settings.Dedup.Lookback.Std()}, log)
	defer engine.Stop()
	if err := engine.RefreshRules(ctx); err != nil {
		return nil, err
	}

	result := &evaluateResult{
		Events: len(events),
		Rules:  len(engine.Rules()),
		Alerts: []alert.Alert{},
	}
	for i := range events {
		emitted, err := engine.HandleEvent(ctx, events[i])
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i+1, err)
		}
		result.Alerts = append(result.Alerts, emitted...)
	}
	result.Count = len(result.Alerts)
	result.Evaluator = evaluator.Stats()
	result.Dedup = dd.Stats()
	return result, nil
}
