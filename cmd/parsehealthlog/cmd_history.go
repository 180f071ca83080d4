package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tsilva/parsehealthlog/internal/models"
	"github.com/tsilva/parsehealthlog/internal/timeline"
)

func historyCmd() *cobra.Command {
	var (
		outputJSON bool
		entityID   string
		entityType string
		from, to   string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List events from the event log",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := models.ParseEntityID(entityID)
			if err != nil {
				return fmt.Errorf("history: %w", err)
			}
			f := timeline.EventFilter{EntityID: id, Type: models.EntityType(entityType), From: from, To: to}
			if f.Type != "" && !f.Type.IsValid() {
				return fmt.Errorf("history: invalid type %q", entityType)
			}
			for _, d := range []string{from, to} {
				if d != "" && !models.ValidDate(d) {
					return fmt.Errorf("history: dates must be YYYY-MM-DD, got %q", d)
				}
			}

			_, view, err := loadView(cmd.Context(), newLogger())
			if err != nil {
				return fmt.Errorf("history: %w", err)
			}
			events := view.FilterEvents(f)
			if outputJSON {
				return printJSON(events)
			}
			for i := range events {
				ev := &events[i]
				fmt.Printf("%s  %-8s  %-10s  %-10s  %-24s  %s\n",
					ev.Date, ev.EntityID, ev.Type, ev.Kind, truncate(ev.Name, 24), truncate(ev.Details, 60))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")
	cmd.Flags().StringVar(&entityID, "entity", "", "only events of this entity (ent-NNN)")
	cmd.Flags().StringVar(&entityType, "type", "", "only events of this entity type")
	cmd.Flags().StringVar(&from, "from", "", "first date, inclusive")
	cmd.Flags().StringVar(&to, "to", "", "last date, inclusive")
	return cmd
}
