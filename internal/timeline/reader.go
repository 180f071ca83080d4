package timeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tsilva/parsehealthlog/internal/models"
	"github.com/tsilva/parsehealthlog/internal/registry"
	"github.com/tsilva/parsehealthlog/internal/store"
)

// ErrNoTimeline is returned when no timeline has been built yet.
var ErrNoTimeline = errors.New("no timeline has been built yet")

// Stats summarizes a persisted timeline.
type Stats struct {
	Entries            int                       `json:"entries"`
	Entities           int                       `json:"entities"`
	ActiveEntities     int                       `json:"active_entities"`
	Events             int                       `json:"events"`
	ByType             map[models.EntityType]int `json:"by_type"`
	LastProcessedDate  string                    `json:"last_processed_date"`
	LastIssuedEntityID models.EntityID           `json:"last_issued_entity_id"`
}

// EventFilter narrows an event listing. Zero values match everything.
type EventFilter struct {
	EntityID models.EntityID
	Type     models.EntityType
	From     string
	To       string
}

// Reader serves queries over a persisted timeline.
type Reader struct {
	store store.Store
}

// NewReader creates a Reader over st.
func NewReader(st store.Store) *Reader {
	return &Reader{store: st}
}

// Load reads the persisted outputs.
func (r *Reader) Load(ctx context.Context) (*View, error) {
	stateContent, err := r.store.Read(ctx, StateID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoTimeline
	}
	if err != nil {
		return nil, fmt.Errorf("reading timeline state: %w", err)
	}
	state, ok := parseState(stateContent)
	if !ok {
		return nil, fmt.Errorf("timeline state has an unrecognized format")
	}
	entitiesContent, err := r.store.Read(ctx, EntitiesID)
	if err != nil {
		return nil, fmt.Errorf("reading entities: %w", err)
	}
	snapshot, err := ParseSnapshot(entitiesContent)
	if err != nil {
		return nil, err
	}
	historyContent, err := r.store.Read(ctx, HistoryID)
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	events, err := ParseHistory(historyContent)
	if err != nil {
		return nil, err
	}
	return &View{State: state, Entities: snapshot.Entities, Events: events}, nil
}

// View is an immutable, loaded timeline.
type View struct {
	State    State
	Entities []models.Entity
	Events   []models.Event
}

// Entity returns the entity with the given id.
func (v *View) Entity(id models.EntityID) (models.Entity, bool) {
	i := sort.Search(len(v.Entities), func(i int) bool { return v.Entities[i].ID >= id })
	if i < len(v.Entities) && v.Entities[i].ID == id {
		return v.Entities[i], true
	}
	return models.Entity{}, false
}

// Filter returns entities of type t (all types when empty), optionally only active ones.
func (v *View) Filter(t models.EntityType, activeOnly bool) []models.Entity {
	var out []models.Entity
	for i := range v.Entities {
		e := v.Entities[i]
		if t != "" && e.Type != t {
			continue
		}
		if activeOnly && !e.Active {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Search returns entities whose normalized name contains the normalized query.
func (v *View) Search(query string) []models.Entity {
	q := registry.NormalizeName(query, registry.DosageDistinct)
	if q == "" {
		return nil
	}
	var out []models.Entity
	for i := range v.Entities {
		if strings.Contains(registry.NormalizeName(v.Entities[i].CanonicalName, registry.DosageDistinct), q) {
			out = append(out, v.Entities[i])
		}
	}
	return out
}

// FilterEvents returns the events matching f in log order.
func (v *View) FilterEvents(f EventFilter) []models.Event {
	var out []models.Event
	for i := range v.Events {
		ev := v.Events[i]
		if f.EntityID != 0 && ev.EntityID != f.EntityID {
			continue
		}
		if f.Type != "" && ev.Type != f.Type {
			continue
		}
		if f.From != "" && ev.Date < f.From {
			continue
		}
		if f.To != "" && ev.Date > f.To {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// Stats summarizes the view.
func (v *View) Stats() Stats {
	s := Stats{
		Entries:            len(v.State.Entries),
		Entities:           len(v.Entities),
		Events:             len(v.Events),
		ByType:             make(map[models.EntityType]int),
		LastProcessedDate:  v.State.LastProcessedDate,
		LastIssuedEntityID: v.State.LastIssuedEntityID,
	}
	for i := range v.Entities {
		s.ByType[v.Entities[i].Type]++
		if v.Entities[i].Active {
			s.ActiveEntities++
		}
	}
	return s
}
