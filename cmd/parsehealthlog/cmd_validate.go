package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tsilva/parsehealthlog/internal/audit"
)

func validateCmd() *cobra.Command {
	var outputJSON bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Audit the built timeline for integrity problems",
		Long: `Checks entity id continuity, related-id references, chronological order of
the event log, that replaying the log reproduces the entity snapshot, and that
entries declaring a complete stack are reflected in the timeline.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			regOpts, err := cfg.Registry.Options()
			if err != nil {
				return fmt.Errorf("validate: %w", err)
			}
			st, view, err := loadView(ctx, logger)
			if err != nil {
				return fmt.Errorf("validate: %w", err)
			}
			entries, err := audit.LoadEntries(ctx, st, view)
			if err != nil {
				return fmt.Errorf("validate: %w", err)
			}

			report := audit.New(regOpts, logger).Audit(view, entries)
			if outputJSON {
				if err := printJSON(report); err != nil {
					return err
				}
			} else if err := report.Write(os.Stdout); err != nil {
				return fmt.Errorf("validate: %w", err)
			}
			if !report.OK() {
				return fmt.Errorf("validate: %d finding(s)", len(report.Findings))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")
	return cmd
}
