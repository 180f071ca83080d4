package models

import "time"

// DateLayout is the layout of every date handled by the timeline.
const DateLayout = "2006-01-02"

// ValidDate reports whether s is a YYYY-MM-DD calendar date.
func ValidDate(s string) bool {
	_, err := time.Parse(DateLayout, s)
	return err == nil
}

// EventKind names what happened to an entity.
type EventKind string

const (
	KindDiagnosed EventKind = "diagnosed"
	KindSuspected EventKind = "suspected"
	KindNoted     EventKind = "noted"
	KindFlare     EventKind = "flare"
	KindImproved  EventKind = "improved"
	KindWorsened  EventKind = "worsened"
	KindStable    EventKind = "stable"
	KindResolved  EventKind = "resolved"
	KindStarted   EventKind = "started"
	KindAdjusted  EventKind = "adjusted"
	KindStopped   EventKind = "stopped"
	KindUpdate    EventKind = "update"
	KindEnded     EventKind = "ended"
	KindVisit     EventKind = "visit"
	KindAdded     EventKind = "added"
	KindCompleted EventKind = "completed"

	// KindNote is recorded for facts whose kind is not part of the type's
	// vocabulary. It never changes entity state.
	KindNote EventKind = "note"
)

// KindClass is the lifecycle effect of an event kind for a given entity type.
type KindClass int

const (
	ClassUnrecognized KindClass = iota
	ClassStart
	ClassUpdate
	ClassStop
)

func (c KindClass) String() string {
	switch c {
	case ClassStart:
		return "start"
	case ClassUpdate:
		return "update"
	case ClassStop:
		return "stop"
	default:
		return "unrecognized"
	}
}

type vocabulary struct {
	start  []EventKind
	update []EventKind
	stop   EventKind
	adjust EventKind
}

var vocabularies = map[EntityType]vocabulary{
	EntityTypeCondition: {
		start:  []EventKind{KindDiagnosed, KindSuspected, KindNoted, KindFlare},
		update: []EventKind{KindImproved, KindWorsened, KindStable},
		stop:   KindResolved,
	},
	EntityTypeSymptom: {
		start:  []EventKind{KindNoted},
		update: []EventKind{KindImproved, KindWorsened, KindStable},
		stop:   KindResolved,
	},
	EntityTypeMedication: {
		start:  []EventKind{KindStarted},
		update: []EventKind{KindAdjusted},
		stop:   KindStopped,
		adjust: KindAdjusted,
	},
	EntityTypeSupplement: {
		start:  []EventKind{KindStarted},
		update: []EventKind{KindAdjusted},
		stop:   KindStopped,
		adjust: KindAdjusted,
	},
	EntityTypeExperiment: {
		start:  []EventKind{KindStarted},
		update: []EventKind{KindUpdate},
		stop:   KindEnded,
	},
	EntityTypeProvider: {
		start: []EventKind{KindVisit},
	},
	EntityTypeTodo: {
		start: []EventKind{KindAdded},
		stop:  KindCompleted,
	},
}

// Classify returns the lifecycle effect of kind for entity type t.
func Classify(t EntityType, kind EventKind) KindClass {
	v, ok := vocabularies[t]
	if !ok {
		return ClassUnrecognized
	}
	for _, k := range v.start {
		if k == kind {
			return ClassStart
		}
	}
	for _, k := range v.update {
		if k == kind {
			return ClassUpdate
		}
	}
	if v.stop != "" && v.stop == kind {
		return ClassStop
	}
	return ClassUnrecognized
}

// Vocabulary returns every kind accepted for entity type t, start kinds first.
func Vocabulary(t EntityType) []EventKind {
	v := vocabularies[t]
	kinds := make([]EventKind, 0, len(v.start)+len(v.update)+1)
	kinds = append(kinds, v.start...)
	kinds = append(kinds, v.update...)
	if v.stop != "" {
		kinds = append(kinds, v.stop)
	}
	return kinds
}

// StopKind returns the kind that closes an entity of type t.
func StopKind(t EntityType) (EventKind, bool) {
	v := vocabularies[t]
	return v.stop, v.stop != ""
}

// AdjustKind returns the kind recorded when an active entity of type t is
// restarted under a different name, if the type has one.
func AdjustKind(t EntityType) (EventKind, bool) {
	v := vocabularies[t]
	return v.adjust, v.adjust != ""
}

// Event is a resolved fact appended to the event log. Events are immutable
// once appended.
type Event struct {
	Date      string     `json:"date"`
	EntityID  EntityID   `json:"entity_id"`
	Name      string     `json:"name"`
	Type      EntityType `json:"type"`
	Kind      EventKind  `json:"event_kind"`
	Details   string     `json:"details"`
	RelatedID EntityID   `json:"related_entity_id,omitempty"`
}
