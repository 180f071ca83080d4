package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsilva/parsehealthlog/internal/extract"
	"github.com/tsilva/parsehealthlog/internal/models"
	"github.com/tsilva/parsehealthlog/internal/registry"
	"github.com/tsilva/parsehealthlog/internal/sections"
	"github.com/tsilva/parsehealthlog/internal/sidedata"
	"github.com/tsilva/parsehealthlog/internal/store"
	"github.com/tsilva/parsehealthlog/internal/timeline"
)

const healthLog = `# My health log

Background notes.

### 2024-01-01
Diagnosed with gastritis.

### 2024-01-10
Started pantoprazole 20mg for gastritis.

### 2024-02-01
Gastritis improved.
`

type fakeTransformer struct {
	calls atomic.Int64
}

func (f *fakeTransformer) Transform(_ context.Context, _ string, raw string) (string, error) {
	f.calls.Add(1)
	return "processed\n" + raw, nil
}

type fakeExtractor struct {
	calls atomic.Int64
	mu    sync.Mutex
	facts map[string]models.FactSet
	fail  map[string]bool
}

func (f *fakeExtractor) Extract(_ context.Context, date, _ string) (models.FactSet, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[date] {
		return models.FactSet{}, &models.ExtractionError{Date: date, Stage: "extract", Attempts: 3, Problems: []string{"bad output"}}
	}
	return f.facts[date], nil
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{
		fail: map[string]bool{},
		facts: map[string]models.FactSet{
			"2024-01-01": {Items: []models.Fact{
				{Type: models.EntityTypeCondition, Name: "Gastritis", Kind: models.KindDiagnosed},
			}},
			"2024-01-10": {Items: []models.Fact{
				{Type: models.EntityTypeMedication, Name: "Pantoprazole 20mg", Kind: models.KindStarted, ForName: "Gastritis"},
			}},
			"2024-02-01": {Items: []models.Fact{
				{Type: models.EntityTypeCondition, Name: "Gastritis", Kind: models.KindImproved},
			}},
		},
	}
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func parseLog(t *testing.T, content string) *sections.Document {
	t.Helper()
	doc, err := sections.Parse(content)
	require.NoError(t, err)
	return doc
}

func newPipeline(st store.Store, tr Transformer, ex Extractor, in extract.Instructions) *Pipeline {
	return New(st, tr, ex, in, Config{Workers: 2, Registry: registry.DefaultOptions()}, newTestLogger())
}

func TestRun_FirstRunThenFullReuse(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	tr, ex := &fakeTransformer{}, newFakeExtractor()
	p := newPipeline(st, tr, ex, extract.DefaultInstructions())
	doc := parseLog(t, healthLog)

	sum, err := p.Run(ctx, doc, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Entries)
	assert.Equal(t, 3, sum.Transformed)
	assert.Equal(t, 3, sum.Extracted)
	assert.Empty(t, sum.Failed)
	require.NotNil(t, sum.Timeline)
	assert.Equal(t, timeline.ModeFull, sum.Timeline.Mode)
	assert.Equal(t, 2, sum.Timeline.Entities)
	assert.Equal(t, 3, sum.Timeline.Events)

	intro, err := store.NewCache(st, newTestLogger()).ReadBody(ctx, IntroID)
	require.NoError(t, err)
	assert.Contains(t, intro, "Background notes.")

	view, err := timeline.NewReader(st).Load(ctx)
	require.NoError(t, err)
	med := view.Filter(models.EntityTypeMedication, true)
	require.Len(t, med, 1)
	require.Len(t, med[0].RelatedIDs, 1)

	writes := st.TotalWrites()
	sum, err = p.Run(ctx, doc, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), tr.calls.Load())
	assert.Equal(t, int64(3), ex.calls.Load())
	assert.Zero(t, sum.Transformed)
	assert.Zero(t, sum.Artifacts.Produced)
	assert.Equal(t, timeline.ModeUnchanged, sum.Timeline.Mode)
	assert.Equal(t, writes, st.TotalWrites())
}

func TestRun_EditedEntryReprocessesOnlyThatEntry(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	tr, ex := &fakeTransformer{}, newFakeExtractor()
	p := newPipeline(st, tr, ex, extract.DefaultInstructions())

	_, err := p.Run(ctx, parseLog(t, healthLog), nil)
	require.NoError(t, err)

	ex.mu.Lock()
	ex.facts["2024-01-10"] = models.FactSet{Items: []models.Fact{
		{Type: models.EntityTypeMedication, Name: "Pantoprazole 40mg", Kind: models.KindStarted, ForName: "Gastritis"},
	}}
	ex.mu.Unlock()
	edited := strings.Replace(healthLog, "pantoprazole 20mg", "pantoprazole 40mg", 1)

	sum, err := p.Run(ctx, parseLog(t, edited), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Transformed)
	assert.Equal(t, 1, sum.Extracted)
	assert.Equal(t, int64(4), tr.calls.Load())
	assert.Equal(t, timeline.ModeIncremental, sum.Timeline.Mode)
	assert.Equal(t, "2024-01-10", sum.Timeline.ChangePoint)
}

func TestRun_FailedEntryIsIsolated(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	tr, ex := &fakeTransformer{}, newFakeExtractor()
	ex.fail["2024-01-10"] = true
	p := newPipeline(st, tr, ex, extract.DefaultInstructions())
	doc := parseLog(t, healthLog)

	sum, err := p.Run(ctx, doc, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-10"}, sum.Failed)
	assert.Equal(t, 1, sum.Timeline.Entities)

	report, err := st.Read(ctx, FailureID("2024-01-10"))
	require.NoError(t, err)
	assert.Contains(t, report, `"stage": "extract"`)
	assert.Contains(t, report, "bad output")

	_, err = st.Read(ctx, FactsID("2024-01-10"))
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Once extraction succeeds the entry joins the timeline and the
	// diagnostic is removed.
	delete(ex.fail, "2024-01-10")
	sum, err = p.Run(ctx, doc, nil)
	require.NoError(t, err)
	assert.Empty(t, sum.Failed)
	assert.Equal(t, 1, sum.Extracted)
	assert.Equal(t, timeline.ModeIncremental, sum.Timeline.Mode)
	assert.Equal(t, "2024-01-10", sum.Timeline.ChangePoint)
	_, err = st.Read(ctx, FailureID("2024-01-10"))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRun_PromptChangeReextractsWithoutRetransform(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	tr, ex := &fakeTransformer{}, newFakeExtractor()
	doc := parseLog(t, healthLog)

	_, err := newPipeline(st, tr, ex, extract.DefaultInstructions()).Run(ctx, doc, nil)
	require.NoError(t, err)

	in := extract.DefaultInstructions()
	in.Extract += "\nBe thorough."
	sum, err := newPipeline(st, tr, ex, in).Run(ctx, doc, nil)
	require.NoError(t, err)
	assert.Zero(t, sum.Transformed)
	assert.Equal(t, 3, sum.Extracted)
	// Same facts come back, so the timeline itself is unchanged.
	assert.Equal(t, timeline.ModeUnchanged, sum.Timeline.Mode)
}

func TestRun_LabsAreDependencyOfProcessedEntry(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	tr, ex := &fakeTransformer{}, newFakeExtractor()
	p := newPipeline(st, tr, ex, extract.DefaultInstructions())
	doc := parseLog(t, healthLog)

	_, err := p.Run(ctx, doc, nil)
	require.NoError(t, err)

	labs, err := sidedata.Parse(strings.NewReader("date,lab_name,value,unit,range_min,range_max\n2024-02-01,Ferritin,12,ng/mL,30,400\n"))
	require.NoError(t, err)
	sum, err := p.Run(ctx, doc, labs)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Transformed)

	processed, err := store.NewCache(st, newTestLogger()).ReadBody(ctx, ProcessedID("2024-02-01"))
	require.NoError(t, err)
	assert.Contains(t, processed, sidedata.LabSectionHeader)
	assert.Contains(t, processed, "[BELOW RANGE]")
}

func TestRun_CancelledBeforeScheduling(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	st := store.NewMemoryStore()
	tr, ex := &fakeTransformer{}, newFakeExtractor()

	_, err := newPipeline(st, tr, ex, extract.DefaultInstructions()).Run(ctx, parseLog(t, healthLog), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, tr.calls.Load())
	_, err = st.Read(context.Background(), timeline.StateID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
