// Package timeline builds the event log and entity snapshot from per-entry
// fact sets, re-applying only the suffix of entries that changed since the
// previous run.
package timeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tsilva/parsehealthlog/internal/metrics"
	"github.com/tsilva/parsehealthlog/internal/models"
	"github.com/tsilva/parsehealthlog/internal/registry"
	"github.com/tsilva/parsehealthlog/internal/store"
	"github.com/tsilva/parsehealthlog/pkg/manifest"
)

var tracer = otel.Tracer("github.com/tsilva/parsehealthlog/internal/timeline")

// Mode describes how a build reached its result.
type Mode string

const (
	ModeUnchanged   Mode = "unchanged"
	ModeAppend      Mode = "append"
	ModeIncremental Mode = "incremental"
	ModeFull        Mode = "full"
)

// Entry is one dated entry's extraction result.
type Entry struct {
	Date   string
	Digest string
	Facts  models.FactSet
}

// Result summarizes one build.
type Result struct {
	Mode        Mode               `json:"mode"`
	Reason      string             `json:"reason,omitempty"`
	ChangePoint string             `json:"change_point,omitempty"`
	Applied     int                `json:"entries_applied"`
	Created     int                `json:"entities_created"`
	Appended    int                `json:"events_appended"`
	Entities    int                `json:"entities"`
	Events      int                `json:"events"`
	LastIssued  models.EntityID    `json:"last_issued_entity_id"`
	Warnings    []registry.Warning `json:"warnings,omitempty"`
}

// Builder owns the persisted timeline. It is the only component that issues
// entity ids across runs and must be run from a single goroutine.
type Builder struct {
	store  store.Store
	opts   registry.Options
	logger *slog.Logger
}

// NewBuilder creates a Builder that persists to st.
func NewBuilder(st store.Store, opts registry.Options, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Dosage == "" {
		opts.Dosage = registry.DosageIgnore
	}
	if opts.Recurrence == nil {
		opts.Recurrence = registry.NewEpisode{}
	}
	return &Builder{store: st, opts: opts, logger: logger}
}

// plan is the decision reached by comparing current entries with the
// persisted state.
type plan struct {
	mode        Mode
	reason      string
	changePoint string
	after       string
	retained    []models.Event
	floor       models.EntityID
}

// Build brings the persisted timeline up to date with entries, which must be
// sorted by strictly increasing date. Nothing is written if a sequence
// violation is detected.
func (b *Builder) Build(ctx context.Context, entries []Entry) (*Result, error) {
	ctx, span := tracer.Start(ctx, "timeline.Build", trace.WithAttributes(
		attribute.Int("timeline.entries", len(entries)),
	))
	defer span.End()

	for i := range entries {
		if !models.ValidDate(entries[i].Date) {
			return nil, &models.SequenceError{Date: entries[i].Date, Reason: "invalid entry date"}
		}
		if i > 0 && entries[i].Date <= entries[i-1].Date {
			return nil, &models.SequenceError{Date: entries[i].Date, Reason: fmt.Sprintf("entries out of order after %s", entries[i-1].Date)}
		}
	}

	p, err := b.plan(ctx, entries)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("timeline.mode", string(p.mode)))

	reg := registry.New(b.opts, b.logger)
	if err := reg.Replay(p.retained); err != nil {
		return nil, fmt.Errorf("restoring registry: %w", err)
	}
	if reg.LastIssuedID() > p.floor && p.mode != ModeFull {
		return nil, &models.SequenceError{
			Date:   reg.LastDate(),
			Reason: fmt.Sprintf("retained log issues %s above persisted counter %s", reg.LastIssuedID(), p.floor),
		}
	}
	reg.SetIDFloor(p.floor)

	res := &Result{Mode: p.mode, Reason: p.reason, ChangePoint: p.changePoint}

	if p.mode == ModeUnchanged {
		if err := b.repairOutputs(ctx, reg, entries); err != nil {
			return nil, err
		}
		b.finish(res, reg)
		b.logger.Info("timeline: unchanged", "entries", len(entries), "events", res.Events)
		return res, nil
	}

	for i := range entries {
		if !p.applies(entries[i].Date) {
			continue
		}
		outcomes, err := reg.ApplyEntry(entries[i].Date, entries[i].Facts)
		if err != nil {
			return nil, fmt.Errorf("applying %s: %w", entries[i].Date, err)
		}
		res.Applied++
		for _, o := range outcomes {
			if o.Created {
				res.Created++
			}
			if o.Event != nil {
				res.Appended++
			}
			res.Warnings = append(res.Warnings, o.Warnings...)
		}
	}

	if err := b.persist(ctx, reg, entries); err != nil {
		return nil, err
	}
	if p.mode == ModeFull {
		metrics.Inc(metrics.TimelineRebuilds)
	}
	b.finish(res, reg)
	b.logger.Info("timeline: built",
		"mode", res.Mode,
		"reason", res.Reason,
		"change_point", res.ChangePoint,
		"entries_applied", res.Applied,
		"entities_created", res.Created,
		"events_appended", res.Appended,
		"warnings", len(res.Warnings),
	)
	return res, nil
}

func (p plan) applies(date string) bool {
	switch p.mode {
	case ModeFull:
		return true
	case ModeIncremental:
		return date >= p.changePoint
	case ModeAppend:
		return date > p.after
	default:
		return false
	}
}

func (b *Builder) plan(ctx context.Context, entries []Entry) (plan, error) {
	content, err := b.store.Read(ctx, StateID)
	if errors.Is(err, store.ErrNotFound) {
		return plan{mode: ModeFull, reason: "no persisted state"}, nil
	}
	if err != nil {
		return plan{}, fmt.Errorf("reading timeline state: %w", err)
	}
	state, ok := parseState(content)
	if !ok {
		b.logger.Warn("timeline: unrecognized state format, rebuilding from scratch")
		full := plan{mode: ModeFull, reason: "unrecognized state format"}
		// Keep ids monotonic if the previous snapshot is still readable.
		if snapContent, readErr := b.store.Read(ctx, EntitiesID); readErr == nil {
			if snap, parseErr := ParseSnapshot(snapContent); parseErr == nil {
				full.floor = snap.LastIssuedEntityID
			}
		}
		return full, nil
	}
	full := plan{mode: ModeFull, floor: state.LastIssuedEntityID}

	if state.Policy != b.opts.Fingerprint() {
		full.reason = "registry policy changed"
		return full, nil
	}
	history, err := b.store.Read(ctx, HistoryID)
	if err != nil || manifest.Digest(history) != state.LogDigest {
		full.reason = "event log missing or modified"
		return full, nil
	}
	events, err := ParseHistory(history)
	if err != nil {
		full.reason = "event log unreadable"
		return full, nil
	}

	changePoint, hasNew := divergence(state, entries)
	switch {
	case changePoint == "" && !hasNew:
		return plan{mode: ModeUnchanged, retained: events, floor: state.LastIssuedEntityID}, nil
	case changePoint == "":
		return plan{
			mode:     ModeAppend,
			reason:   "new trailing entries",
			after:    state.LastProcessedDate,
			retained: events,
			floor:    state.LastIssuedEntityID,
		}, nil
	default:
		var retained []models.Event
		for i := range events {
			if events[i].Date < changePoint {
				retained = append(retained, events[i])
			}
		}
		return plan{
			mode:        ModeIncremental,
			reason:      "entries changed",
			changePoint: changePoint,
			retained:    retained,
			floor:       state.LastIssuedEntityID,
		}, nil
	}
}

// divergence returns the earliest date at which entries differ from the
// persisted state, and whether there are entries after the last processed date.
func divergence(state State, entries []Entry) (changePoint string, hasNew bool) {
	current := make(map[string]string, len(entries))
	for i := range entries {
		current[entries[i].Date] = entries[i].Digest
	}
	seen := make(map[string]bool, len(state.Entries))
	var candidates []string
	for _, prev := range state.Entries {
		seen[prev.Date] = true
		if d, ok := current[prev.Date]; !ok || d != prev.Digest {
			candidates = append(candidates, prev.Date)
		}
	}
	for i := range entries {
		if seen[entries[i].Date] {
			continue
		}
		if entries[i].Date <= state.LastProcessedDate {
			candidates = append(candidates, entries[i].Date)
		} else {
			hasNew = true
		}
	}
	if len(candidates) == 0 {
		return "", hasNew
	}
	sort.Strings(candidates)
	return candidates[0], hasNew
}

func (b *Builder) persist(ctx context.Context, reg *registry.Registry, entries []Entry) error {
	events := reg.Events()
	history, err := FormatHistory(events)
	if err != nil {
		return err
	}
	entities, current, err := b.renderSnapshot(reg, entries)
	if err != nil {
		return err
	}

	state := State{
		Version:            StateVersion,
		LastIssuedEntityID: reg.LastIssuedID(),
		Policy:             b.opts.Fingerprint(),
		LogDigest:          manifest.Digest(history),
		Entries:            make([]EntryDigest, 0, len(entries)),
	}
	for i := range entries {
		state.Entries = append(state.Entries, EntryDigest{Date: entries[i].Date, Digest: entries[i].Digest})
	}
	if len(entries) > 0 {
		state.LastProcessedDate = entries[len(entries)-1].Date
	}
	stateContent, err := formatState(state)
	if err != nil {
		return err
	}

	// The state file goes last: it only ever describes outputs already on disk.
	for _, w := range []struct{ id, content string }{
		{HistoryID, history},
		{EntitiesID, entities},
		{CurrentID, current},
		{StateID, stateContent},
	} {
		if err := b.store.Write(ctx, w.id, w.content); err != nil {
			return fmt.Errorf("persisting timeline: %w", err)
		}
	}
	return nil
}

// repairOutputs rewrites derived views that are missing while the log and
// state are intact.
func (b *Builder) repairOutputs(ctx context.Context, reg *registry.Registry, entries []Entry) error {
	entities, current, err := b.renderSnapshot(reg, entries)
	if err != nil {
		return err
	}
	for _, w := range []struct{ id, content string }{
		{EntitiesID, entities},
		{CurrentID, current},
	} {
		if _, err := b.store.Read(ctx, w.id); !errors.Is(err, store.ErrNotFound) {
			continue
		}
		b.logger.Info("timeline: restoring missing output", "id", w.id)
		if err := b.store.Write(ctx, w.id, w.content); err != nil {
			return fmt.Errorf("restoring %s: %w", w.id, err)
		}
	}
	return nil
}

func (b *Builder) renderSnapshot(reg *registry.Registry, entries []Entry) (entities, current string, err error) {
	snapshot := reg.Snapshot()
	entities, err = formatSnapshot(Snapshot{LastIssuedEntityID: reg.LastIssuedID(), Entities: snapshot})
	if err != nil {
		return "", "", err
	}
	asOf := reg.LastDate()
	if len(entries) > 0 {
		asOf = entries[len(entries)-1].Date
	}
	current, err = formatCurrent(BuildCurrentView(asOf, snapshot, reg.Events()))
	if err != nil {
		return "", "", err
	}
	return entities, current, nil
}

func (b *Builder) finish(res *Result, reg *registry.Registry) {
	res.Entities = len(reg.Snapshot())
	res.Events = len(reg.Events())
	res.LastIssued = reg.LastIssuedID()
}
