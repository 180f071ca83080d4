package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tsilva/parsehealthlog/internal/graph"
	"github.com/tsilva/parsehealthlog/internal/timeline"
)

func healthCmd() *cobra.Command {
	var checkGraph bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check inputs, output directory and external services",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()
			allOK := true

			// Check health log
			if _, err := os.Stat(cfg.Input.LogPath); err != nil {
				fmt.Printf("Health log: FAIL (%v)\n", err)
				allOK = false
			} else {
				fmt.Printf("Health log: OK (%s)\n", cfg.Input.LogPath)
			}

			// Check output directory and timeline
			st, err := newStore(logger)
			if err != nil {
				fmt.Printf("Output: FAIL (%v)\n", err)
				allOK = false
			} else {
				_, loadErr := timeline.NewReader(st).Load(ctx)
				switch {
				case errors.Is(loadErr, timeline.ErrNoTimeline):
					fmt.Println("Timeline: not built yet")
				case loadErr != nil:
					fmt.Printf("Timeline: FAIL (%v)\n", loadErr)
					allOK = false
				default:
					fmt.Println("Timeline: OK")
				}
			}

			// Check Claude API key
			if cfg.Claude.APIKey == "" {
				fmt.Println("Claude API: FAIL (no API key configured)")
				allOK = false
			} else {
				fmt.Println("Claude API: OK")
			}

			if checkGraph {
				exp, connErr := graph.Connect(ctx, cfg.Neo4j, logger)
				if connErr != nil {
					fmt.Printf("Neo4j: FAIL (%v)\n", connErr)
					allOK = false
				} else {
					_ = exp.Close(ctx)
					fmt.Println("Neo4j: OK")
				}
			}

			if !allOK {
				return fmt.Errorf("one or more health checks failed")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&checkGraph, "graph", false, "also check Neo4j connectivity")
	return cmd
}
