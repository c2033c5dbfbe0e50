package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/fleetpulse/alertcore/internal/conf"
	"github.com/fleetpulse/alertcore/internal/logger"
)

// rootOptions holds the persistent flags.
type rootOptions struct {
	configFile string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "alertcore",
		Short: "Equipment alert rule engine",
		Long: `alertcore evaluates equipment events against configurable alert rules and
deduplicates the alerts they raise.

Configuration is read from --config (YAML) and ALERTCORE_* environment
variables, e.g. ALERTCORE_DEDUP_STRATEGY=smart.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "Config file path")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "Log format override (json, console)")

	root.AddCommand(newValidateCmd(opts))
	root.AddCommand(newEvaluateCmd(opts))
	root.AddCommand(newDedupCmd(opts))
	root.AddCommand(newServeCmd(opts))

	return root
}

// load reads the settings and builds the logger they describe.
func (o *rootOptions) load() (*conf.Settings, logger.Logger, error) {
	settings, err := conf.Load(o.configFile)
	if err != nil {
		return nil, nil, err
	}
	if o.logLevel != "" {
		settings.Logging.Level = o.logLevel
	}
	if o.logFormat != "" {
		settings.Logging.Format = o.logFormat
	}

	log, err := logger.New(logger.Config{
		Level:       settings.Logging.Level,
		Format:      settings.Logging.Format,
		Development: settings.Logging.Development,
	})
	if err != nil {
		return nil, nil, err
	}
	return settings, log, nil
}

// writeJSON writes v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
