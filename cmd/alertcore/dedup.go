package main

import (
	"github.com/spf13/cobra"

	"github.com/fleetpulse/alertcore/internal/alert"
	"github.com/fleetpulse/alertcore/internal/alerting"
	"github.com/fleetpulse/alertcore/internal/dedup"
)

// dedupResult is the output of the dedup command.
type dedupResult struct {
	Input      int           `json:"input"`
	Count      int           `json:"count"`
	Duplicates int           `json:"duplicates"`
	Alerts     []alert.Alert `json:"alerts"`
	Stats      dedup.Stats   `json:"stats"`
}

func newDedupCmd(opts *rootOptions) *cobra.Command {
	var (
		existingFile string
		strategy     string
		merge        bool
	)

	cmd := &cobra.Command{
		Use:   "dedup <alerts-file>",
		Short: "Deduplicate a file of alerts",
		Long: `Remove duplicates from a file of alerts, optionally against a file of
already-known alerts, and print the survivors as JSON. The strategy defaults
to the configured one; --merge collapses related survivors.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, log, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			if strategy != "" {
				settings.Dedup.Strategy = strategy
			}
			if merge {
				settings.Dedup.EnableMerge = true
			}
			cfg, err := alerting.DedupConfigFrom(settings.Dedup)
			if err != nil {
				return err
			}

			incoming, err := readAlerts(args[0])
			if err != nil {
				return err
			}
			var existing []alert.Alert
			if existingFile != "" {
				if existing, err = readAlerts(existingFile); err != nil {
					return err
				}
			}

			d := dedup.New(cfg, dedup.WithLogger(log))
			unique := d.Process(incoming, existing)
			stats := d.Stats()
			return writeJSON(cmd.OutOrStdout(), dedupResult{
				Input:      len(incoming),
				Count:      len(unique),
				Duplicates: int(stats.DuplicatesFound),
				Alerts:     unique,
				Stats:      stats,
			})
		},
	}

	cmd.Flags().StringVar(&existingFile, "existing", "", "File of already-known alerts")
	cmd.Flags().StringVar(&strategy, "strategy", "", "Strategy: hash, id, content, time or smart")
	cmd.Flags().BoolVar(&merge, "merge", false, "Merge related alerts after deduplication")
	return cmd
}
