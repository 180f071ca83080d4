package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/tsilva/parsehealthlog/internal/models"
)

func statsCmd() *cobra.Command {
	var outputJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show timeline statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, view, err := loadView(cmd.Context(), newLogger())
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			stats := view.Stats()
			if outputJSON {
				return printJSON(stats)
			}

			fmt.Printf("Entries:          %d\n", stats.Entries)
			fmt.Printf("Last processed:   %s\n", stats.LastProcessedDate)
			fmt.Printf("Entities:         %d (%d active)\n", stats.Entities, stats.ActiveEntities)
			fmt.Printf("Events:           %d\n", stats.Events)
			fmt.Printf("Last issued id:   %s\n\n", stats.LastIssuedEntityID)

			types := make([]models.EntityType, 0, len(stats.ByType))
			for t := range stats.ByType {
				types = append(types, t)
			}
			sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
			fmt.Println("By type:")
			for _, t := range types {
				fmt.Printf("  %-12s %d\n", t, stats.ByType[t])
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")
	return cmd
}
