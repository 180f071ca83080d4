package registry

import (
	"fmt"

	"github.com/tsilva/parsehealthlog/internal/lifecycle"
	"github.com/tsilva/parsehealthlog/internal/models"
)

// RecurrencePolicy decides what a start fact does when the only entity with
// the same identity is inactive.
type RecurrencePolicy interface {
	// Reopen reports whether prev should be reactivated instead of creating a
	// new entity linked to it.
	Reopen(prev models.Entity, date string) bool

	// Name identifies the policy and its parameters. It is persisted so a
	// policy change forces a full rebuild.
	Name() string
}

// NewEpisode always creates a new entity that recurs from the previous one.
type NewEpisode struct{}

func (NewEpisode) Reopen(models.Entity, string) bool { return false }

func (NewEpisode) Name() string { return "new_episode" }

// ReopenWithin reactivates the previous entity when it was last updated no
// more than Days days before the new start fact.
type ReopenWithin struct {
	Days int
}

func (p ReopenWithin) Reopen(prev models.Entity, date string) bool {
	d, err := lifecycle.DaysBetween(prev.LastUpdated, date)
	if err != nil {
		return false
	}
	return d >= 0 && d <= p.Days
}

func (p ReopenWithin) Name() string { return fmt.Sprintf("reopen_within:%d", p.Days) }

// ParseRecurrence builds a policy from its configured name.
func ParseRecurrence(name string, days int) (RecurrencePolicy, error) {
	switch name {
	case "", "new_episode":
		return NewEpisode{}, nil
	case "reopen_within":
		if days < 0 {
			return nil, fmt.Errorf("reopen window must be >= 0, got %d", days)
		}
		return ReopenWithin{Days: days}, nil
	default:
		return nil, fmt.Errorf("unknown recurrence policy %q", name)
	}
}
