// Package audit checks a persisted timeline for integrity problems that the
// builder cannot detect on its own, such as a declared current stack that the
// extractor failed to turn into a stack reset.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/tsilva/parsehealthlog/internal/models"
	"github.com/tsilva/parsehealthlog/internal/pipeline"
	"github.com/tsilva/parsehealthlog/internal/registry"
	"github.com/tsilva/parsehealthlog/internal/store"
	"github.com/tsilva/parsehealthlog/internal/timeline"
)

// Check names one integrity check.
type Check string

const (
	CheckIDs               Check = "entity_ids"
	CheckReferences        Check = "related_references"
	CheckChronology        Check = "chronological_order"
	CheckActiveState       Check = "active_state"
	CheckStackDeclarations Check = "stack_declarations"
)

// Finding is one problem reported by a check.
type Finding struct {
	Check    Check           `json:"check"`
	Date     string          `json:"date,omitempty"`
	EntityID models.EntityID `json:"entity_id,omitempty"`
	Message  string          `json:"message"`
}

// Report is the result of an audit.
type Report struct {
	Checks   []Check   `json:"checks"`
	Findings []Finding `json:"findings"`
}

// OK reports whether no check found a problem.
func (r Report) OK() bool { return len(r.Findings) == 0 }

// Count returns the number of findings per check.
func (r Report) Count() map[Check]int {
	out := make(map[Check]int, len(r.Checks))
	for _, c := range r.Checks {
		out[c] = 0
	}
	for _, f := range r.Findings {
		out[f.Check]++
	}
	return out
}

// Write prints a human-readable report.
func (r Report) Write(w io.Writer) error {
	counts := r.Count()
	for _, c := range r.Checks {
		status := "ok"
		if counts[c] > 0 {
			status = fmt.Sprintf("%d problem(s)", counts[c])
		}
		if _, err := fmt.Fprintf(w, "%-22s %s\n", c, status); err != nil {
			return err
		}
	}
	for _, f := range r.Findings {
		if _, err := fmt.Fprintf(w, "  [%s] %s %s\n", f.Check, f.Date, f.Message); err != nil {
			return err
		}
	}
	return nil
}

// Entry is the processed text and extracted facts of one dated entry.
type Entry struct {
	Date      string
	Processed string
	Facts     *models.FactSet
}

// stackPatterns match text that declares a complete current list of
// medications or supplements.
var stackPatterns = []string{
	"current stack", "only taking", "stopped all",
	"not taking any", "complete list", "current supplements",
	"only supplement",
}

// Auditor runs the integrity checks.
type Auditor struct {
	opts   registry.Options
	logger *slog.Logger
}

// New creates an Auditor that replays events under opts.
func New(opts registry.Options, logger *slog.Logger) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{opts: opts, logger: logger}
}

// LoadEntries reads the processed text and facts of every entry recorded in
// the view's state. Missing artifacts are left empty.
func LoadEntries(ctx context.Context, st store.Store, view *timeline.View) ([]Entry, error) {
	cache := store.NewCache(st, nil)
	entries := make([]Entry, 0, len(view.State.Entries))
	for _, ed := range view.State.Entries {
		e := Entry{Date: ed.Date}
		processed, err := cache.ReadBody(ctx, pipeline.ProcessedID(ed.Date))
		switch {
		case err == nil:
			e.Processed = processed
		case !errors.Is(err, store.ErrNotFound):
			return nil, err
		}
		facts, err := cache.ReadBody(ctx, pipeline.FactsID(ed.Date))
		switch {
		case err == nil:
			fs, err := decodeFacts(facts)
			if err != nil {
				return nil, fmt.Errorf("decoding facts for %s: %w", ed.Date, err)
			}
			e.Facts = fs
		case !errors.Is(err, store.ErrNotFound):
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Audit runs every check over view. Stack declarations are only checked
// when entries are given.
func (a *Auditor) Audit(view *timeline.View, entries []Entry) Report {
	r := Report{Checks: []Check{CheckIDs, CheckReferences, CheckChronology, CheckActiveState}}
	r.Findings = append(r.Findings, checkIDs(view)...)
	r.Findings = append(r.Findings, checkReferences(view)...)
	r.Findings = append(r.Findings, checkChronology(view)...)
	r.Findings = append(r.Findings, a.checkActiveState(view)...)
	if entries != nil {
		r.Checks = append(r.Checks, CheckStackDeclarations)
		r.Findings = append(r.Findings, checkStackDeclarations(view, entries)...)
	}
	a.logger.Info("audit: complete", "checks", len(r.Checks), "findings", len(r.Findings))
	return r
}

// checkIDs verifies that ids are unique, never exceed the persisted counter
// and first appear in the log in increasing order.
func checkIDs(view *timeline.View) []Finding {
	var out []Finding
	seen := make(map[models.EntityID]bool, len(view.Entities))
	for _, e := range view.Entities {
		if seen[e.ID] {
			out = append(out, Finding{Check: CheckIDs, EntityID: e.ID, Message: fmt.Sprintf("duplicate entity id %s", e.ID)})
		}
		seen[e.ID] = true
		if e.ID > view.State.LastIssuedEntityID {
			out = append(out, Finding{Check: CheckIDs, EntityID: e.ID,
				Message: fmt.Sprintf("entity id %s exceeds last issued id %s", e.ID, view.State.LastIssuedEntityID)})
		}
	}

	var last models.EntityID
	firstSeen := make(map[models.EntityID]bool)
	for _, ev := range view.Events {
		if !seen[ev.EntityID] {
			out = append(out, Finding{Check: CheckIDs, Date: ev.Date, EntityID: ev.EntityID,
				Message: fmt.Sprintf("event references unknown entity %s", ev.EntityID)})
			continue
		}
		if firstSeen[ev.EntityID] {
			continue
		}
		firstSeen[ev.EntityID] = true
		if ev.EntityID <= last {
			out = append(out, Finding{Check: CheckIDs, Date: ev.Date, EntityID: ev.EntityID,
				Message: fmt.Sprintf("entity %s first appears after %s", ev.EntityID, last)})
		}
		last = max(last, ev.EntityID)
	}
	for id := range seen {
		if !firstSeen[id] {
			out = append(out, Finding{Check: CheckIDs, EntityID: id, Message: fmt.Sprintf("entity %s has no events", id)})
		}
	}
	sortFindings(out)
	return out
}

func checkReferences(view *timeline.View) []Finding {
	var out []Finding
	exists := func(id models.EntityID) bool {
		_, ok := view.Entity(id)
		return ok
	}
	for _, e := range view.Entities {
		for _, rid := range e.RelatedIDs {
			if !exists(rid) {
				out = append(out, Finding{Check: CheckReferences, EntityID: e.ID,
					Message: fmt.Sprintf("%s relates to missing entity %s", e.ID, rid)})
			}
		}
		if e.RecursFrom != 0 && !exists(e.RecursFrom) {
			out = append(out, Finding{Check: CheckReferences, EntityID: e.ID,
				Message: fmt.Sprintf("%s recurs from missing entity %s", e.ID, e.RecursFrom)})
		}
	}
	for _, ev := range view.Events {
		if ev.RelatedID != 0 && !exists(ev.RelatedID) {
			out = append(out, Finding{Check: CheckReferences, Date: ev.Date, EntityID: ev.EntityID,
				Message: fmt.Sprintf("event relates to missing entity %s", ev.RelatedID)})
		}
	}
	return out
}

func checkChronology(view *timeline.View) []Finding {
	for i := 1; i < len(view.Events); i++ {
		if view.Events[i].Date < view.Events[i-1].Date {
			return []Finding{{Check: CheckChronology, Date: view.Events[i].Date,
				Message: fmt.Sprintf("event %d dated %s follows %s", i, view.Events[i].Date, view.Events[i-1].Date)}}
		}
	}
	return nil
}

// checkActiveState replays the log and compares the result with the stored
// snapshot.
func (a *Auditor) checkActiveState(view *timeline.View) []Finding {
	reg := registry.New(a.opts, a.logger)
	if err := reg.Replay(view.Events); err != nil {
		return []Finding{{Check: CheckActiveState, Message: fmt.Sprintf("event log does not replay: %v", err)}}
	}
	replayed := make(map[models.EntityID]models.Entity)
	for _, e := range reg.Snapshot() {
		replayed[e.ID] = e
	}
	var out []Finding
	for _, stored := range view.Entities {
		want, ok := replayed[stored.ID]
		if !ok {
			continue
		}
		if diff := cmp.Diff(want, stored, cmpopts.EquateEmpty()); diff != "" {
			out = append(out, Finding{Check: CheckActiveState, EntityID: stored.ID,
				Message: fmt.Sprintf("snapshot differs from replayed log (-replayed +stored):\n%s", diff)})
		}
	}
	return out
}

// checkStackDeclarations flags entries whose text declares a complete
// current list while some medication or supplement active before that date
// was neither stopped, mentioned in a stack reset nor touched on that date.
func checkStackDeclarations(view *timeline.View, entries []Entry) []Finding {
	var out []Finding
	for _, entry := range entries {
		if !declaresStack(entry.Processed) {
			continue
		}
		mentioned := make(map[string]bool)
		if entry.Facts != nil && entry.Facts.StackReset != nil {
			for _, n := range entry.Facts.StackReset.Mentioned {
				mentioned[registry.NormalizeName(n, registry.DosageIgnore)] = true
			}
		}
		touched := make(map[models.EntityID]bool)
		for _, ev := range view.Events {
			if ev.Date == entry.Date {
				touched[ev.EntityID] = true
			}
		}
		for _, e := range activeBefore(view, entry.Date) {
			if e.Type != models.EntityTypeMedication && e.Type != models.EntityTypeSupplement {
				continue
			}
			if touched[e.ID] || mentioned[registry.NormalizeName(e.CanonicalName, registry.DosageIgnore)] {
				continue
			}
			out = append(out, Finding{Check: CheckStackDeclarations, Date: entry.Date, EntityID: e.ID,
				Message: fmt.Sprintf("entry declares a current stack but %s (%s) was neither stopped nor mentioned", e.CanonicalName, e.ID)})
		}
	}
	return out
}

func declaresStack(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range stackPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// activeBefore returns the entities active after every event dated before date.
func activeBefore(view *timeline.View, date string) []models.Entity {
	active := make(map[models.EntityID]bool)
	names := make(map[models.EntityID]models.Event)
	for _, ev := range view.Events {
		if ev.Date >= date {
			break
		}
		names[ev.EntityID] = ev
		switch models.Classify(ev.Type, ev.Kind) {
		case models.ClassStart:
			active[ev.EntityID] = true
		case models.ClassStop:
			active[ev.EntityID] = false
		}
	}
	var out []models.Entity
	for id, on := range active {
		if !on {
			continue
		}
		ev := names[id]
		out = append(out, models.Entity{ID: id, Type: ev.Type, CanonicalName: ev.Name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortFindings(fs []Finding) {
	sort.SliceStable(fs, func(i, j int) bool { return fs[i].EntityID < fs[j].EntityID })
}

func decodeFacts(body string) (*models.FactSet, error) {
	var fs models.FactSet
	if err := json.Unmarshal([]byte(body), &fs); err != nil {
		return nil, err
	}
	return &fs, nil
}
