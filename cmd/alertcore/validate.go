package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fleetpulse/alertcore/internal/alerting"
	"github.com/fleetpulse/alertcore/internal/rules"
)

// maxConcurrentFiles bounds parallel file loading.
const maxConcurrentFiles = 8

// ruleReport is the validation outcome of one rule.
type ruleReport struct {
	File     string   `json:"file"`
	Name     string   `json:"name,omitempty"`
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func newValidateCmd(opts *rootOptions) *cobra.Command {
	var outputJSON bool

	cmd := &cobra.Command{
		Use:   "validate <rules-file>...",
		Short: "Validate rule files",
		Long: `Validate every rule in the given JSON or YAML files against the configured
condition tree limits. Files may hold a rule array, a rule export document or
a single rule. Exits non-zero when any rule is invalid.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, log, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			validator := rules.NewValidator(alerting.ValidatorOptionsFrom(settings.Evaluator))
			reports, err := validateFiles(validator, args)
			if err != nil {
				return err
			}

			invalid := 0
			for i := range reports {
				if !reports[i].Valid {
					invalid++
				}
			}

			if outputJSON {
				if err := writeJSON(cmd.OutOrStdout(), reports); err != nil {
					return err
				}
			} else {
				printReports(cmd, reports)
			}

			if invalid > 0 {
				return fmt.Errorf("%d of %d rules are invalid", invalid, len(reports))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&outputJSON, "json", false, "Output in JSON format")
	return cmd
}

// validateFiles loads files concurrently and validates every rule. Reports
// keep the order of files and of rules within each file.
func validateFiles(validator *rules.Validator, files []string) ([]ruleReport, error) {
	perFile := make([][]ruleReport, len(files))

	var g errgroup.Group
	g.SetLimit(maxConcurrentFiles)
	for i, path := range files {
		g.Go(func() error {
			loaded, decodeErrs, err := readRules(path)
			if err != nil {
				return err
			}
			reports := make([]ruleReport, 0, len(loaded)+len(decodeErrs))
			for _, derr := range decodeErrs {
				reports = append(reports, ruleReport{File: path, Errors: []string{derr.Error()}})
			}
			for j := range loaded {
				res := validator.ValidateRule(&loaded[j])
				reports = append(reports, ruleReport{
					File:     path,
					Name:     loaded[j].Name,
					Valid:    res.Valid(),
					Errors:   res.Errors,
					Warnings: res.Warnings,
				})
			}
			perFile[i] = reports
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []ruleReport
	for _, reports := range perFile {
		all = append(all, reports...)
	}
	return all, nil
}

func printReports(cmd *cobra.Command, reports []ruleReport) {
	out := cmd.OutOrStdout()
	for i := range reports {
		r := &reports[i]
		status := "ok"
		if !r.Valid {
			status = "FAIL"
		}
		_, _ = fmt.Fprintf(out, "%-4s %s: %s\n", status, r.File, r.Name)
		for _, e := range r.Errors {
			_, _ = fmt.Fprintf(out, "       error: %s\n", e)
		}
		for _, w := range r.Warnings {
			_, _ = fmt.Fprintf(out, "       warning: %s\n", w)
		}
	}
}
