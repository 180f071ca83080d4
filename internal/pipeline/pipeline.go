// Package pipeline runs one end-to-end pass over a health log: per-entry
// transform and extraction on a bounded worker pool, then the timeline build.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/tsilva/parsehealthlog/internal/extract"
	"github.com/tsilva/parsehealthlog/internal/metrics"
	"github.com/tsilva/parsehealthlog/internal/models"
	"github.com/tsilva/parsehealthlog/internal/registry"
	"github.com/tsilva/parsehealthlog/internal/sections"
	"github.com/tsilva/parsehealthlog/internal/sidedata"
	"github.com/tsilva/parsehealthlog/internal/store"
	"github.com/tsilva/parsehealthlog/internal/timeline"
	"github.com/tsilva/parsehealthlog/pkg/manifest"
)

var tracer = otel.Tracer("github.com/tsilva/parsehealthlog/internal/pipeline")

// Dependency keys of per-entry artifacts.
const (
	keyRaw       = "raw"
	keyLabs      = "labs"
	keyProcessed = "processed"
	keyIntro     = "intro"
)

// IntroID is the artifact holding the text before the first dated entry.
const IntroID = "intro.md"

// RawID, ProcessedID, FactsID and FailureID name the per-entry artifacts.
func RawID(date string) string       { return "entries/" + date + ".raw.md" }
func ProcessedID(date string) string { return "entries/" + date + ".processed.md" }
func FactsID(date string) string     { return "entries/" + date + ".facts.json" }
func FailureID(date string) string   { return "entries/" + date + ".failed.json" }

// Transformer turns a raw entry into structured text.
type Transformer interface {
	Transform(ctx context.Context, date, raw string) (string, error)
}

// Extractor turns structured entry text into facts.
type Extractor interface {
	Extract(ctx context.Context, date, text string) (models.FactSet, error)
}

// Config tunes a Pipeline.
type Config struct {
	Workers     int
	CallTimeout time.Duration
	Registry    registry.Options
}

// Summary reports one run.
type Summary struct {
	RunID       uuid.UUID          `json:"run_id"`
	Entries     int                `json:"entries"`
	Transformed int                `json:"transformed"`
	Extracted   int                `json:"extracted"`
	Failed      []string           `json:"failed,omitempty"`
	Merged      []string           `json:"merged_dates,omitempty"`
	Warnings    []registry.Warning `json:"warnings,omitempty"`
	Artifacts   store.CacheStats   `json:"artifacts"`
	Timeline    *timeline.Result   `json:"timeline,omitempty"`
	Duration    time.Duration      `json:"duration_ns"`
}

// Pipeline wires the collaborators for a run. It is safe to call Run
// repeatedly but not concurrently.
type Pipeline struct {
	store       store.Store
	transformer Transformer
	extractor   Extractor
	in          extract.Instructions
	cfg         Config
	logger      *slog.Logger
	now         func() time.Time
}

// New creates a Pipeline writing to st.
func New(st store.Store, t Transformer, e Extractor, in extract.Instructions, cfg Config, logger *slog.Logger) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:       st,
		transformer: t,
		extractor:   e,
		in:          in,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
	}
}

// entryResult is owned by the worker that processes its entry.
type entryResult struct {
	entry       timeline.Entry
	ok          bool
	transformed bool
	extracted   bool
}

// Run processes doc with labs as side data and rebuilds the timeline.
// Entry failures are isolated and reported in the summary. If ctx is
// cancelled, no new entries are scheduled and the timeline is left untouched.
func (p *Pipeline) Run(ctx context.Context, doc *sections.Document, labs sidedata.Labs) (*Summary, error) {
	start := p.now()
	sum := &Summary{RunID: uuid.New(), Entries: len(doc.Sections), Merged: doc.Merged}
	ctx, span := tracer.Start(ctx, "pipeline.Run", trace.WithAttributes(
		attribute.String("run.id", sum.RunID.String()),
		attribute.Int("run.entries", len(doc.Sections)),
	))
	defer span.End()

	logger := p.logger.With("run_id", sum.RunID.String())
	for _, d := range doc.Merged {
		logger.Warn("pipeline: duplicate date merged", "date", d)
	}
	cache := store.NewCache(p.store, logger)

	if doc.Intro != "" {
		if _, err := cache.Ensure(ctx, IntroID, manifest.Manifest{keyIntro: manifest.Digest(doc.Intro)},
			func(context.Context) (string, error) { return doc.Intro, nil }); err != nil {
			return sum, err
		}
	}

	results := make([]entryResult, len(doc.Sections))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for i := range doc.Sections {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return p.processEntry(gctx, cache, logger, sum.RunID, doc.Sections[i], labs, &results[i])
		})
	}
	if err := g.Wait(); err != nil {
		return sum, err
	}
	if err := ctx.Err(); err != nil {
		logger.Warn("pipeline: cancelled before every entry was scheduled, timeline not rebuilt")
		return sum, err
	}

	entries := make([]timeline.Entry, 0, len(results))
	for i := range results {
		r := &results[i]
		if r.transformed {
			sum.Transformed++
		}
		if r.extracted {
			sum.Extracted++
		}
		if !r.ok {
			sum.Failed = append(sum.Failed, doc.Sections[i].Date)
			continue
		}
		entries = append(entries, r.entry)
	}

	res, err := timeline.NewBuilder(p.store, p.cfg.Registry, logger).Build(ctx, entries)
	sum.Artifacts = cache.Stats()
	sum.Duration = p.now().Sub(start)
	if err != nil {
		return sum, err
	}
	sum.Timeline = res
	sum.Warnings = res.Warnings
	for i := range sum.Warnings {
		logger.Warn("pipeline: transition warning", "warning", sum.Warnings[i].String())
	}

	span.SetAttributes(
		attribute.Int("run.failed", len(sum.Failed)),
		attribute.String("timeline.mode", string(res.Mode)),
	)
	logger.Info("pipeline: run complete",
		"entries", sum.Entries,
		"transformed", sum.Transformed,
		"extracted", sum.Extracted,
		"failed", len(sum.Failed),
		"reused", sum.Artifacts.Reused,
		"produced", sum.Artifacts.Produced,
		"corrupt", sum.Artifacts.Corrupt,
		"mode", res.Mode,
		"change_point", res.ChangePoint,
		"duration", sum.Duration,
	)
	return sum, nil
}

// processEntry ensures the raw, processed and facts artifacts of one entry.
// Only store failures are returned; collaborator failures mark the entry
// failed and leave a diagnostic.
func (p *Pipeline) processEntry(ctx context.Context, cache *store.Cache, logger *slog.Logger, runID uuid.UUID, sec sections.Section, labs sidedata.Labs, out *entryResult) error {
	ctx, span := tracer.Start(ctx, "pipeline.entry", trace.WithAttributes(attribute.String("entry.date", sec.Date)))
	defer span.End()

	date := sec.Date
	rawDigest := manifest.Digest(sec.Text)
	if _, err := cache.Ensure(ctx, RawID(date), manifest.Manifest{keyRaw: rawDigest},
		func(context.Context) (string, error) { return sec.Text, nil }); err != nil {
		return err
	}

	labText := labs.Format(date)
	processedDeps := p.in.TransformDeps()
	processedDeps[keyRaw] = rawDigest
	if labText != "" {
		processedDeps[keyLabs] = manifest.Digest(labText)
	}
	processed, err := p.ensureCall(ctx, cache, ProcessedID(date), processedDeps, func(callCtx context.Context) (string, error) {
		text, err := p.transformer.Transform(callCtx, date, sec.Text)
		if err != nil {
			return "", err
		}
		out.transformed = true
		if labText != "" {
			text += "\n\n" + labText
		}
		return text, nil
	})
	if err != nil {
		return p.fail(ctx, logger, runID, date, sec.Text, err)
	}

	factsDeps := p.in.ExtractDeps()
	factsDeps[keyProcessed] = manifest.Digest(processed)
	factsBody, err := p.ensureCall(ctx, cache, FactsID(date), factsDeps, func(callCtx context.Context) (string, error) {
		fs, err := p.extractor.Extract(callCtx, date, processed)
		if err != nil {
			return "", err
		}
		out.extracted = true
		return formatFacts(fs)
	})
	if err != nil {
		return p.fail(ctx, logger, runID, date, processed, err)
	}

	facts, err := parseFacts(date, factsBody)
	if err != nil {
		return p.fail(ctx, logger, runID, date, processed, err)
	}
	if err := p.store.Remove(ctx, FailureID(date)); err != nil && !errors.Is(err, store.ErrNotFound) {
		logger.Warn("pipeline: removing stale failure report", "date", date, "error", err)
	}
	out.entry = timeline.Entry{Date: date, Digest: manifest.Digest(factsBody), Facts: facts}
	out.ok = true
	return nil
}

// ensureCall runs a model-backed producer on a context that survives run
// cancellation but is bounded by the call timeout.
func (p *Pipeline) ensureCall(ctx context.Context, cache *store.Cache, id string, deps manifest.Manifest, produce store.Producer) (string, error) {
	return cache.Ensure(ctx, id, deps, func(ctx context.Context) (string, error) {
		callCtx := context.WithoutCancel(ctx)
		if p.cfg.CallTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(callCtx, p.cfg.CallTimeout)
			defer cancel()
		}
		return produce(callCtx)
	})
}

// fail records an isolated entry failure. Errors that are not extraction
// failures are returned to abort the run.
func (p *Pipeline) fail(ctx context.Context, logger *slog.Logger, runID uuid.UUID, date, input string, err error) error {
	if !errors.Is(err, models.ErrExtractionFailure) {
		return err
	}
	metrics.Inc(metrics.ExtractionFailures)
	logger.Error("pipeline: entry failed", "date", date, "error", err)

	report, ferr := extract.NewFailure(runID, date, input, err, p.now()).Format()
	if ferr != nil {
		return ferr
	}
	if werr := p.store.Write(context.WithoutCancel(ctx), FailureID(date), report); werr != nil {
		return fmt.Errorf("writing failure report for %s: %w", date, werr)
	}
	return nil
}

func formatFacts(fs models.FactSet) (string, error) {
	if fs.Items == nil {
		fs.Items = []models.Fact{}
	}
	b, err := json.MarshalIndent(fs, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding facts: %w", err)
	}
	return string(b) + "\n", nil
}

func parseFacts(date, body string) (models.FactSet, error) {
	var fs models.FactSet
	if err := json.Unmarshal([]byte(body), &fs); err != nil {
		return models.FactSet{}, &models.ExtractionError{Date: date, Stage: "facts", Err: fmt.Errorf("decoding stored facts: %w", err)}
	}
	return fs, nil
}
