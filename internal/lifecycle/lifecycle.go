// Package lifecycle computes elapsed time for tracked entities. It only
// measures; deciding whether an old item is still relevant is left to callers.
package lifecycle

import (
	"fmt"
	"sort"
	"time"

	"github.com/tsilva/parsehealthlog/internal/models"
)

// Age describes how long ago an entity was first and last seen.
type Age struct {
	ID                  models.EntityID   `json:"id"`
	Type                models.EntityType `json:"type"`
	Name                string            `json:"name"`
	Active              bool              `json:"active"`
	DaysSinceFirstSeen  int               `json:"days_since_first_seen"`
	DaysSinceLastUpdate int               `json:"days_since_last_update"`
}

// DaysBetween returns the whole days from one YYYY-MM-DD date to another.
// The result is negative when to precedes from.
func DaysBetween(from, to string) (int, error) {
	f, err := time.Parse(models.DateLayout, from)
	if err != nil {
		return 0, fmt.Errorf("parsing date %q: %w", from, err)
	}
	t, err := time.Parse(models.DateLayout, to)
	if err != nil {
		return 0, fmt.Errorf("parsing date %q: %w", to, err)
	}
	return int(t.Sub(f).Hours() / 24), nil
}

// Ages returns the age of each entity as of asOf, oldest last update first.
// Entities with unparsable dates are skipped.
func Ages(entities []models.Entity, asOf time.Time) []Age {
	today := asOf.UTC().Format(models.DateLayout)
	ages := make([]Age, 0, len(entities))
	for i := range entities {
		e := &entities[i]
		first, err := DaysBetween(e.FirstSeen, today)
		if err != nil {
			continue
		}
		last, err := DaysBetween(e.LastUpdated, today)
		if err != nil {
			continue
		}
		ages = append(ages, Age{
			ID:                  e.ID,
			Type:                e.Type,
			Name:                e.CanonicalName,
			Active:              e.Active,
			DaysSinceFirstSeen:  first,
			DaysSinceLastUpdate: last,
		})
	}
	sort.SliceStable(ages, func(i, j int) bool {
		if ages[i].DaysSinceLastUpdate != ages[j].DaysSinceLastUpdate {
			return ages[i].DaysSinceLastUpdate > ages[j].DaysSinceLastUpdate
		}
		return ages[i].ID < ages[j].ID
	})
	return ages
}
