package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tsilva/parsehealthlog/internal/lifecycle"
	"github.com/tsilva/parsehealthlog/internal/models"
	"github.com/tsilva/parsehealthlog/internal/timeline"
)

func entitiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entities",
		Short: "Inspect tracked entities in the built timeline",
	}

	cmd.AddCommand(
		entitiesListCmd(),
		entitiesGetCmd(),
		entitiesSearchCmd(),
		entitiesAgesCmd(),
	)

	return cmd
}

func printEntities(entities []models.Entity) {
	for i := range entities {
		e := &entities[i]
		state := "inactive"
		if e.Active {
			state = "active"
		}
		fmt.Printf("%-8s  %-10s  %-8s  %-10s  %s\n", e.ID, e.Type, state, e.LastUpdated, e.CanonicalName)
	}
}

func entitiesListCmd() *cobra.Command {
	var (
		outputJSON bool
		entityType string
		activeOnly bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List entities, optionally filtered by type and state",
		RunE: func(cmd *cobra.Command, args []string) error {
			t := models.EntityType(entityType)
			if t != "" && !t.IsValid() {
				return fmt.Errorf("entities list: invalid type %q", entityType)
			}
			_, view, err := loadView(cmd.Context(), newLogger())
			if err != nil {
				return fmt.Errorf("entities list: %w", err)
			}

			entities := view.Filter(t, activeOnly)
			if outputJSON {
				return printJSON(entities)
			}
			if len(entities) == 0 {
				fmt.Println("No entities found.")
				return nil
			}
			printEntities(entities)
			return nil
		},
	}

	cmd.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")
	cmd.Flags().StringVar(&entityType, "type", "", "filter by entity type")
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only active entities")
	return cmd
}

func entitiesGetCmd() *cobra.Command {
	var outputJSON bool

	cmd := &cobra.Command{
		Use:   "get <entity-id>",
		Short: "Show one entity and its events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := models.ParseEntityID(args[0])
			if err != nil || id == 0 {
				return fmt.Errorf("entities get: invalid entity id %q", args[0])
			}
			_, view, err := loadView(cmd.Context(), newLogger())
			if err != nil {
				return fmt.Errorf("entities get: %w", err)
			}
			entity, ok := view.Entity(id)
			if !ok {
				return fmt.Errorf("entities get: entity %s not found", id)
			}
			events := view.FilterEvents(timeline.EventFilter{EntityID: id})

			if outputJSON {
				return printJSON(struct {
					Entity models.Entity  `json:"entity"`
					Events []models.Event `json:"events"`
				}{entity, events})
			}

			fmt.Printf("ID:          %s\n", entity.ID)
			fmt.Printf("Name:        %s\n", entity.CanonicalName)
			fmt.Printf("Type:        %s\n", entity.Type)
			fmt.Printf("Active:      %t\n", entity.Active)
			fmt.Printf("Origin:      %s\n", entity.OriginKind)
			fmt.Printf("First seen:  %s\n", entity.FirstSeen)
			fmt.Printf("Updated:     %s\n", entity.LastUpdated)
			if len(entity.RelatedIDs) > 0 {
				fmt.Printf("Related:     %v\n", entity.RelatedIDs)
			}
			if entity.RecursFrom != 0 {
				fmt.Printf("Recurs from: %s\n", entity.RecursFrom)
			}
			fmt.Println("\nEvents:")
			for i := range events {
				ev := &events[i]
				fmt.Printf("  %s  %-10s  %s\n", ev.Date, ev.Kind, truncate(ev.Details, 80))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")
	return cmd
}

func entitiesSearchCmd() *cobra.Command {
	var outputJSON bool

	cmd := &cobra.Command{
		Use:   "search <name>",
		Short: "Search entities by normalized name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, view, err := loadView(cmd.Context(), newLogger())
			if err != nil {
				return fmt.Errorf("entities search: %w", err)
			}

			entities := view.Search(args[0])
			if outputJSON {
				return printJSON(entities)
			}
			if len(entities) == 0 {
				fmt.Printf("No entities found matching %q.\n", args[0])
				return nil
			}
			printEntities(entities)
			return nil
		},
	}

	cmd.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")
	return cmd
}

func entitiesAgesCmd() *cobra.Command {
	var (
		outputJSON bool
		asOf       string
		all        bool
	)

	cmd := &cobra.Command{
		Use:   "ages",
		Short: "Show days since each entity was first seen and last updated",
		RunE: func(cmd *cobra.Command, args []string) error {
			at := time.Now()
			if asOf != "" {
				parsed, err := time.Parse(models.DateLayout, asOf)
				if err != nil {
					return fmt.Errorf("entities ages: --as-of must be YYYY-MM-DD")
				}
				at = parsed
			}
			_, view, err := loadView(cmd.Context(), newLogger())
			if err != nil {
				return fmt.Errorf("entities ages: %w", err)
			}

			ages := lifecycle.Ages(view.Filter("", !all), at)
			if outputJSON {
				return printJSON(ages)
			}
			for i := range ages {
				a := &ages[i]
				fmt.Printf("%-8s  %-10s  %6d  %6d  %s\n", a.ID, a.Type, a.DaysSinceFirstSeen, a.DaysSinceLastUpdate, a.Name)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")
	cmd.Flags().StringVar(&asOf, "as-of", "", "reference date (default today)")
	cmd.Flags().BoolVar(&all, "all", false, "include inactive entities")
	return cmd
}
