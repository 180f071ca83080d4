package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tsilva/parsehealthlog/internal/graph"
)

func exportGraphCmd() *cobra.Command {
	var uri string

	cmd := &cobra.Command{
		Use:   "export-graph",
		Short: "Mirror the built timeline into Neo4j",
		Long: `Merges every entity as a HealthEntity node and every event as a HealthEvent
node linked to its entity, with RELATED_TO and RECURS_FROM edges between
entities. Re-running after a rebuild updates the graph in place.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if uri != "" {
				cfg.Neo4j.URI = uri
			}
			logger := newLogger()
			ctx := cmd.Context()

			_, view, err := loadView(ctx, logger)
			if err != nil {
				return fmt.Errorf("export-graph: %w", err)
			}

			exp, err := graph.Connect(ctx, cfg.Neo4j, logger)
			if err != nil {
				return fmt.Errorf("export-graph: %w", err)
			}
			defer func() { _ = exp.Close(ctx) }()

			stats, err := exp.Export(ctx, view)
			if err != nil {
				return fmt.Errorf("export-graph: %w", err)
			}
			return printJSON(stats)
		},
	}

	cmd.Flags().StringVar(&uri, "uri", "", "Neo4j URI (overrides neo4j.uri)")
	return cmd
}
