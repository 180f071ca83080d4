// Package registry implements the entity state machine: resolved facts in,
// stable entity identities and an append-only event log out.
//
// A Registry is not safe for concurrent use. Identity assignment and
// active/inactive transitions are only defined under a total event order, so
// callers feed it from a single goroutine in date order.
package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/tsilva/parsehealthlog/internal/metrics"
	"github.com/tsilva/parsehealthlog/internal/models"
)

// StackResetDetails is recorded on events synthesized by a stack reset.
const StackResetDetails = "not in declared current set"

// Options configures identity and recurrence decisions.
type Options struct {
	Dosage     DosagePolicy
	Recurrence RecurrencePolicy
}

// DefaultOptions returns the default policies.
func DefaultOptions() Options {
	return Options{Dosage: DosageIgnore, Recurrence: NewEpisode{}}
}

// Fingerprint identifies the policies. Logs built under a different
// fingerprint cannot be extended incrementally.
func (o Options) Fingerprint() string {
	return fmt.Sprintf("dosage=%s;recurrence=%s", o.Dosage, o.Recurrence.Name())
}

// Warning is a recoverable problem with a single fact.
type Warning struct {
	Date   string            `json:"date"`
	Type   models.EntityType `json:"type"`
	Name   string            `json:"name"`
	Reason string            `json:"reason"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%s %s %q: %s", w.Date, w.Type, w.Name, w.Reason)
}

// Outcome reports what applying one fact did.
type Outcome struct {
	// Event is the appended event, or nil when the fact was dropped.
	Event    *models.Event
	Created  bool
	Reopened bool
	Warnings []Warning
}

// Registry holds entities and the event log built from applied facts.
type Registry struct {
	opts   Options
	logger *slog.Logger

	entities   map[models.EntityID]*models.Entity
	order      []models.EntityID
	byIdentity map[string][]models.EntityID
	byName     map[string][]models.EntityID
	events     []models.Event
	lastIssued models.EntityID
	lastDate   string
}

// New creates an empty Registry.
func New(opts Options, logger *slog.Logger) *Registry {
	if opts.Dosage == "" {
		opts.Dosage = DosageIgnore
	}
	if opts.Recurrence == nil {
		opts.Recurrence = NewEpisode{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		opts:       opts,
		logger:     logger,
		entities:   make(map[models.EntityID]*models.Entity),
		byIdentity: make(map[string][]models.EntityID),
		byName:     make(map[string][]models.EntityID),
	}
}

// Options returns the policies the registry was built with.
func (r *Registry) Options() Options { return r.opts }

// LastIssuedID returns the highest id issued or restored so far.
func (r *Registry) LastIssuedID() models.EntityID { return r.lastIssued }

// LastDate returns the date of the most recently applied fact.
func (r *Registry) LastDate() string { return r.lastDate }

// SetIDFloor guarantees that every id issued from now on is greater than id.
// It never lowers the counter.
func (r *Registry) SetIDFloor(id models.EntityID) {
	if id > r.lastIssued {
		r.lastIssued = id
	}
}

// Apply resolves one fact against the registry and appends the resulting
// event. Recoverable problems are reported as warnings on the outcome; only
// an out-of-order date returns an error.
func (r *Registry) Apply(f models.Fact, date string) (Outcome, error) {
	if err := r.checkDate(date); err != nil {
		return Outcome{}, err
	}
	name := strings.TrimSpace(f.Name)
	if !f.Type.IsValid() {
		return r.drop(date, f, "unknown entity type"), nil
	}
	if name == "" {
		return r.drop(date, f, "empty name"), nil
	}
	f.Name = name
	key := identityKey(f.Type, name, r.opts.Dosage)

	var out Outcome
	related := r.resolveRelated(f, date, &out)

	switch f.Class() {
	case models.ClassStart:
		r.applyStart(f, key, date, related, &out)
	case models.ClassUpdate:
		e := r.activeMatch(key)
		if e == nil {
			return r.dropInto(out, date, f, fmt.Sprintf("%s with no active match", f.Kind)), nil
		}
		if adj, ok := models.AdjustKind(f.Type); ok && f.Kind == adj && name != e.CanonicalName {
			e.CanonicalName = name
		}
		out.Event = r.appendEvent(e, date, f.Kind, f.Details, related)
	case models.ClassStop:
		e := r.activeMatch(key)
		if e == nil {
			return r.dropInto(out, date, f, fmt.Sprintf("%s with no active match", f.Kind)), nil
		}
		e.Active = false
		out.Event = r.appendEvent(e, date, f.Kind, f.Details, related)
	default:
		e := r.activeMatch(key)
		if e == nil {
			e = r.latestMatch(key)
		}
		if e == nil {
			return r.dropInto(out, date, f, fmt.Sprintf("unrecognized event kind %q and no matching entity", f.Kind)), nil
		}
		out.Event = r.appendEvent(e, date, models.KindNote, noteDetails(f), related)
	}
	return out, nil
}

// ApplyStackReset closes every active entity whose type is in categories and
// whose name is not in mentioned. Types without a stop kind are left alone.
func (r *Registry) ApplyStackReset(categories []models.EntityType, mentioned []string, date string) ([]Outcome, error) {
	if err := r.checkDate(date); err != nil {
		return nil, err
	}
	inCategory := make(map[models.EntityType]bool, len(categories))
	for _, c := range categories {
		inCategory[c] = true
	}
	keep := make(map[string]bool, len(mentioned))
	for _, n := range mentioned {
		keep[NormalizeName(n, r.opts.Dosage)] = true
	}

	var outcomes []Outcome
	for _, id := range r.order {
		e := r.entities[id]
		if !e.Active || !inCategory[e.Type] {
			continue
		}
		if keep[NormalizeName(e.CanonicalName, r.opts.Dosage)] {
			continue
		}
		stop, ok := models.StopKind(e.Type)
		if !ok {
			continue
		}
		e.Active = false
		ev := r.appendEvent(e, date, stop, StackResetDetails, 0)
		outcomes = append(outcomes, Outcome{Event: ev})
	}
	return outcomes, nil
}

// ApplyEntry applies one entry's facts in input order, then its stack reset.
func (r *Registry) ApplyEntry(date string, fs models.FactSet) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(fs.Items))
	for _, f := range fs.Items {
		out, err := r.Apply(f, date)
		if err != nil {
			return outcomes, err
		}
		outcomes = append(outcomes, out)
	}
	if fs.StackReset != nil {
		resets, err := r.ApplyStackReset(fs.StackReset.Categories, fs.StackReset.Mentioned, date)
		if err != nil {
			return outcomes, err
		}
		outcomes = append(outcomes, resets...)
	}
	return outcomes, nil
}

// Replay rebuilds state from a previously produced event log. It must be
// called on a registry that has not applied anything yet.
func (r *Registry) Replay(events []models.Event) error {
	for i := range events {
		ev := events[i]
		if err := r.checkDate(ev.Date); err != nil {
			return err
		}
		if !ev.Type.IsValid() {
			return &models.SequenceError{Date: ev.Date, Reason: fmt.Sprintf("event %d has unknown type %q", i, ev.Type)}
		}
		e, ok := r.entities[ev.EntityID]
		if !ok {
			if ev.EntityID <= r.lastIssued {
				return &models.SequenceError{Date: ev.Date, Reason: fmt.Sprintf("entity id %s is not above %s", ev.EntityID, r.lastIssued)}
			}
			if models.Classify(ev.Type, ev.Kind) != models.ClassStart {
				return &models.SequenceError{Date: ev.Date, Reason: fmt.Sprintf("entity %s first appears with %s", ev.EntityID, ev.Kind)}
			}
			key := identityKey(ev.Type, ev.Name, r.opts.Dosage)
			e = r.register(ev.EntityID, ev.Type, ev.Name, ev.Kind, ev.Date, key)
			r.lastIssued = ev.EntityID
		} else if e.Type != ev.Type {
			return &models.SequenceError{Date: ev.Date, Reason: fmt.Sprintf("entity %s changes type", ev.EntityID)}
		} else {
			switch models.Classify(ev.Type, ev.Kind) {
			case models.ClassStart:
				e.Active = true
			case models.ClassStop:
				e.Active = false
			}
		}
		e.CanonicalName = ev.Name
		e.LastUpdated = ev.Date
		if ev.RelatedID != 0 {
			e.AddRelated(ev.RelatedID)
		}
		r.events = append(r.events, ev)
		r.lastDate = ev.Date
	}
	return nil
}

// Events returns a copy of the event log.
func (r *Registry) Events() []models.Event {
	out := make([]models.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Snapshot returns copies of all entities in id order.
func (r *Registry) Snapshot() []models.Entity {
	out := make([]models.Entity, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entities[id].Clone())
	}
	return out
}

// Entity returns a copy of the entity with the given id.
func (r *Registry) Entity(id models.EntityID) (models.Entity, bool) {
	e, ok := r.entities[id]
	if !ok {
		return models.Entity{}, false
	}
	return e.Clone(), true
}

func (r *Registry) applyStart(f models.Fact, key, date string, related models.EntityID, out *Outcome) {
	if e := r.activeMatch(key); e != nil {
		kind := f.Kind
		if f.Name != e.CanonicalName {
			if adj, ok := models.AdjustKind(f.Type); ok {
				kind = adj
				e.CanonicalName = f.Name
			}
		}
		out.Event = r.appendEvent(e, date, kind, f.Details, related)
		return
	}

	prev := r.latestMatch(key)
	if prev != nil && r.opts.Recurrence.Reopen(prev.Clone(), date) {
		prev.Active = true
		prev.CanonicalName = f.Name
		out.Reopened = true
		out.Event = r.appendEvent(prev, date, f.Kind, f.Details, related)
		return
	}

	r.lastIssued++
	e := r.register(r.lastIssued, f.Type, f.Name, f.Kind, date, key)
	out.Created = true
	metrics.Inc(metrics.EntitiesCreated)
	out.Event = r.appendEvent(e, date, f.Kind, f.Details, related)
}

// register adds a new active entity. It links the entity to the most recent
// entity with the same identity, which is inactive by construction.
func (r *Registry) register(id models.EntityID, t models.EntityType, name string, kind models.EventKind, date, key string) *models.Entity {
	e := &models.Entity{
		ID:            id,
		Type:          t,
		CanonicalName: name,
		Active:        true,
		OriginKind:    kind,
		FirstSeen:     date,
		LastUpdated:   date,
	}
	if prev := r.latestMatch(key); prev != nil {
		e.RecursFrom = prev.ID
	}
	r.entities[id] = e
	r.order = append(r.order, id)
	r.byIdentity[key] = append(r.byIdentity[key], id)
	nameKey := NormalizeName(name, r.opts.Dosage)
	r.byName[nameKey] = append(r.byName[nameKey], id)
	return e
}

func (r *Registry) appendEvent(e *models.Entity, date string, kind models.EventKind, details string, related models.EntityID) *models.Event {
	if related != 0 && related != e.ID {
		e.AddRelated(related)
	} else {
		related = 0
	}
	e.LastUpdated = date
	r.events = append(r.events, models.Event{
		Date:      date,
		EntityID:  e.ID,
		Name:      e.CanonicalName,
		Type:      e.Type,
		Kind:      kind,
		Details:   details,
		RelatedID: related,
	})
	r.lastDate = date
	metrics.Inc(metrics.EventsAppended)
	ev := r.events[len(r.events)-1]
	return &ev
}

// resolveRelated looks up for_name among entities known before this fact,
// preferring the most recent active entity.
func (r *Registry) resolveRelated(f models.Fact, date string, out *Outcome) models.EntityID {
	if strings.TrimSpace(f.ForName) == "" {
		return 0
	}
	ids := r.byName[NormalizeName(f.ForName, r.opts.Dosage)]
	for i := len(ids) - 1; i >= 0; i-- {
		if r.entities[ids[i]].Active {
			return ids[i]
		}
	}
	if len(ids) > 0 {
		return ids[len(ids)-1]
	}
	w := Warning{Date: date, Type: f.Type, Name: f.Name, Reason: fmt.Sprintf("unresolved relationship %q dropped", f.ForName)}
	r.warn(w)
	out.Warnings = append(out.Warnings, w)
	return 0
}

func (r *Registry) activeMatch(key string) *models.Entity {
	ids := r.byIdentity[key]
	for i := len(ids) - 1; i >= 0; i-- {
		if e := r.entities[ids[i]]; e.Active {
			return e
		}
	}
	return nil
}

func (r *Registry) latestMatch(key string) *models.Entity {
	ids := r.byIdentity[key]
	if len(ids) == 0 {
		return nil
	}
	return r.entities[ids[len(ids)-1]]
}

func (r *Registry) checkDate(date string) error {
	if !models.ValidDate(date) {
		return &models.SequenceError{Date: date, Reason: "invalid date"}
	}
	if r.lastDate != "" && date < r.lastDate {
		return &models.SequenceError{Date: date, Reason: fmt.Sprintf("date precedes previously applied %s", r.lastDate)}
	}
	return nil
}

func (r *Registry) drop(date string, f models.Fact, reason string) Outcome {
	return r.dropInto(Outcome{}, date, f, reason)
}

func (r *Registry) dropInto(out Outcome, date string, f models.Fact, reason string) Outcome {
	w := Warning{Date: date, Type: f.Type, Name: f.Name, Reason: reason}
	r.warn(w)
	out.Event = nil
	out.Warnings = append(out.Warnings, w)
	return out
}

func (r *Registry) warn(w Warning) {
	metrics.Inc(metrics.TransitionWarnings)
	r.logger.Warn("registry: fact dropped or degraded", "date", w.Date, "type", w.Type, "name", w.Name, "reason", w.Reason)
}

func noteDetails(f models.Fact) string {
	if f.Kind == models.KindNote || f.Kind == "" {
		return f.Details
	}
	if f.Details == "" {
		return string(f.Kind)
	}
	return string(f.Kind) + ": " + f.Details
}

// ActiveByType groups active entities by type, each group in id order.
func ActiveByType(entities []models.Entity) map[models.EntityType][]models.Entity {
	out := make(map[models.EntityType][]models.Entity)
	for i := range entities {
		if entities[i].Active {
			out[entities[i].Type] = append(out[entities[i].Type], entities[i])
		}
	}
	for t := range out {
		group := out[t]
		sort.Slice(group, func(i, j int) bool { return group[i].ID < group[j].ID })
	}
	return out
}
