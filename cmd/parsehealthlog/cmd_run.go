package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tsilva/parsehealthlog/internal/extract"
	"github.com/tsilva/parsehealthlog/internal/models"
	"github.com/tsilva/parsehealthlog/internal/pipeline"
	"github.com/tsilva/parsehealthlog/internal/sections"
	"github.com/tsilva/parsehealthlog/internal/sidedata"
)

func runCmd() *cobra.Command {
	var (
		logPath   string
		outputDir string
		workers   int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process the health log and bring the timeline up to date",
		Long: `Splits the log into dated entries, regenerates only the artifacts whose
inputs changed, and rebuilds the timeline from the earliest changed entry.
Entries that fail extraction are reported in entries/<date>.failed.json and
skipped; an out-of-order log aborts without touching the timeline.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if logPath != "" {
				cfg.Input.LogPath = logPath
			}
			if outputDir != "" {
				cfg.Output.Dir = outputDir
			}
			if workers > 0 {
				cfg.Processing.Workers = workers
			}
			if cfg.Claude.APIKey == "" {
				return fmt.Errorf("run: no Claude API key configured (set ANTHROPIC_API_KEY)")
			}

			logger := newLogger()
			ctx := cmd.Context()

			doc, err := sections.ParseFile(cfg.Input.LogPath)
			if err != nil {
				return fmt.Errorf("run: %w", err)
			}
			labs, err := sidedata.LoadFiles(cfg.Input.LabsPaths...)
			if err != nil {
				return fmt.Errorf("run: %w", err)
			}
			in, err := extract.LoadInstructions(cfg.Input.PromptsDir)
			if err != nil {
				return fmt.Errorf("run: %w", err)
			}
			regOpts, err := cfg.Registry.Options()
			if err != nil {
				return fmt.Errorf("run: %w", err)
			}
			st, err := newStore(logger)
			if err != nil {
				return fmt.Errorf("run: opening output directory: %w", err)
			}

			client := extract.NewClaudeClient(cfg.Claude.APIKey, cfg.Claude.Model, cfg.Claude.MaxTokens, cfg.Claude.Timeout, logger)
			opts := extract.Options{
				MaxAttempts:    cfg.Processing.MaxAttempts,
				InitialBackoff: cfg.Processing.InitialBackoff,
				Strict:         cfg.Processing.StrictFacts,
			}
			p := pipeline.New(st,
				extract.NewTransformer(client, in, opts, logger),
				extract.NewExtractor(client, in, opts, logger),
				in,
				pipeline.Config{
					Workers:     cfg.Processing.Workers,
					CallTimeout: cfg.Processing.CallTimeout,
					Registry:    regOpts,
				},
				logger,
			)

			summary, err := p.Run(ctx, doc, labs)
			if err != nil {
				if errors.Is(err, models.ErrSequenceViolation) {
					return fmt.Errorf("run: timeline left unchanged: %w", err)
				}
				return fmt.Errorf("run: %w", err)
			}
			if err := printJSON(summary); err != nil {
				return fmt.Errorf("run: %w", err)
			}
			if len(summary.Failed) > 0 {
				logger.Warn("run: some entries failed extraction", "dates", summary.Failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&logPath, "log", "", "health log markdown file (overrides input.log_path)")
	cmd.Flags().StringVar(&outputDir, "output", "", "output directory (overrides output.dir)")
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent entries (overrides processing.workers)")
	return cmd
}
