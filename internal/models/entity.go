package models

import (
	"fmt"
	"strconv"
	"strings"
)

// EntityType classifies the kind of tracked item.
type EntityType string

const (
	EntityTypeCondition  EntityType = "condition"
	EntityTypeSymptom    EntityType = "symptom"
	EntityTypeMedication EntityType = "medication"
	EntityTypeSupplement EntityType = "supplement"
	EntityTypeExperiment EntityType = "experiment"
	EntityTypeProvider   EntityType = "provider"
	EntityTypeTodo       EntityType = "todo"
)

// ValidEntityTypes is the set of all valid entity types.
var ValidEntityTypes = []EntityType{
	EntityTypeCondition,
	EntityTypeSymptom,
	EntityTypeMedication,
	EntityTypeSupplement,
	EntityTypeExperiment,
	EntityTypeProvider,
	EntityTypeTodo,
}

// IsValid returns true if the entity type is recognized.
func (et EntityType) IsValid() bool {
	for i := range ValidEntityTypes {
		if et == ValidEntityTypes[i] {
			return true
		}
	}
	return false
}

// EntityID identifies an entity. IDs start at 1; zero means "none".
type EntityID int

// String renders the id as ent-NNN.
func (id EntityID) String() string {
	return fmt.Sprintf("ent-%03d", int(id))
}

// MarshalText implements encoding.TextMarshaler.
func (id EntityID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *EntityID) UnmarshalText(b []byte) error {
	parsed, err := ParseEntityID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseEntityID parses "ent-NNN". An empty string parses as zero.
func ParseEntityID(s string) (EntityID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	digits, ok := strings.CutPrefix(s, "ent-")
	if !ok {
		return 0, fmt.Errorf("invalid entity id %q", s)
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid entity id %q", s)
	}
	return EntityID(n), nil
}

// Entity is a tracked item with a stable identity and an active/inactive lifecycle.
type Entity struct {
	ID            EntityID   `json:"id"`
	Type          EntityType `json:"type"`
	CanonicalName string     `json:"canonical_name"`
	Active        bool       `json:"active"`
	OriginKind    EventKind  `json:"origin_event_kind"`
	FirstSeen     string     `json:"first_seen_date"`
	LastUpdated   string     `json:"last_updated_date"`
	RelatedIDs    []EntityID `json:"related_entity_ids"`
	RecursFrom    EntityID   `json:"recurs_from,omitempty"`
}

// Clone returns a deep copy of e.
func (e Entity) Clone() Entity {
	if e.RelatedIDs != nil {
		ids := make([]EntityID, len(e.RelatedIDs))
		copy(ids, e.RelatedIDs)
		e.RelatedIDs = ids
	}
	return e
}

// AddRelated inserts id into the sorted related set.
func (e *Entity) AddRelated(id EntityID) {
	for i, existing := range e.RelatedIDs {
		if existing == id {
			return
		}
		if existing > id {
			e.RelatedIDs = append(e.RelatedIDs, 0)
			copy(e.RelatedIDs[i+1:], e.RelatedIDs[i:])
			e.RelatedIDs[i] = id
			return
		}
	}
	e.RelatedIDs = append(e.RelatedIDs, id)
}
