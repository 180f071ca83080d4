package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsilva/parsehealthlog/pkg/manifest"
)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type countingProducer struct {
	calls int
	body  string
	err   error
}

func (p *countingProducer) produce(_ context.Context) (string, error) {
	p.calls++
	return p.body, p.err
}

func deps(pairs ...string) manifest.Manifest {
	m := make(manifest.Manifest)
	for i := 0; i+1 < len(pairs); i += 2 {
		m[pairs[i]] = manifest.Digest(pairs[i+1])
	}
	return m
}

func TestEnsure_ReusesOnEqualManifest(t *testing.T) {
	ctx := context.Background()
	c := NewCache(NewMemoryStore(), silentLogger())
	p := &countingProducer{body: "body v1"}

	got, err := c.Ensure(ctx, "entries/a.md", deps("raw", "x", "prompt", "y"), p.produce)
	require.NoError(t, err)
	assert.Equal(t, "body v1", got)
	assert.Equal(t, 1, p.calls)

	p.body = "would change"
	got, err = c.Ensure(ctx, "entries/a.md", deps("prompt", "y", "raw", "x"), p.produce)
	require.NoError(t, err)
	assert.Equal(t, "body v1", got)
	assert.Equal(t, 1, p.calls)

	assert.Equal(t, CacheStats{Reused: 1, Produced: 1}, c.Stats())
}

func TestEnsure_ProducesOnAnyDependencyChange(t *testing.T) {
	ctx := context.Background()
	base := deps("raw", "x", "prompt", "y")

	cases := map[string]manifest.Manifest{
		"digest changed": deps("raw", "x2", "prompt", "y"),
		"key added":      deps("raw", "x", "prompt", "y", "labs", "z"),
		"key removed":    deps("raw", "x"),
	}
	for name, changed := range cases {
		t.Run(name, func(t *testing.T) {
			c := NewCache(NewMemoryStore(), silentLogger())
			p := &countingProducer{body: "first"}
			_, err := c.Ensure(ctx, "a", base, p.produce)
			require.NoError(t, err)

			p.body = "second"
			got, err := c.Ensure(ctx, "a", changed, p.produce)
			require.NoError(t, err)
			assert.Equal(t, "second", got)
			assert.Equal(t, 2, p.calls)

			// The new manifest is now the stored one.
			_, err = c.Ensure(ctx, "a", changed, p.produce)
			require.NoError(t, err)
			assert.Equal(t, 2, p.calls)
		})
	}
}

func TestEnsure_ProducerErrorPropagatesAndPersistsNothing(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	c := NewCache(st, silentLogger())
	boom := errors.New("collaborator down")
	p := &countingProducer{err: boom}

	_, err := c.Ensure(ctx, "a", deps("raw", "x"), p.produce)
	assert.Same(t, boom, err)
	assert.Equal(t, 0, st.TotalWrites())

	_, err = st.Read(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEnsure_CorruptHeaderIsAMiss(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	require.NoError(t, st.Write(ctx, "a", "raw:not-a-digest\nold body"))

	c := NewCache(st, silentLogger())
	p := &countingProducer{body: "fresh"}
	got, err := c.Ensure(ctx, "a", deps("raw", "x"), p.produce)
	require.NoError(t, err)
	assert.Equal(t, "fresh", got)
	assert.Equal(t, 1, p.calls)
	assert.Equal(t, int64(1), c.Stats().Corrupt)

	stored, err := st.Read(ctx, "a")
	require.NoError(t, err)
	m, body, ok := manifest.Split(stored)
	require.True(t, ok)
	assert.True(t, m.Equal(deps("raw", "x")))
	assert.Equal(t, "fresh", body)
}

func TestEnsure_RejectsInvalidManifest(t *testing.T) {
	c := NewCache(NewMemoryStore(), silentLogger())
	p := &countingProducer{body: "x"}
	_, err := c.Ensure(context.Background(), "a", manifest.Manifest{}, p.produce)
	assert.Error(t, err)
	assert.Equal(t, 0, p.calls)
}

func TestFileStore_AtomicWriteAndRead(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	st, err := NewFileStore(dir, silentLogger())
	require.NoError(t, err)

	require.NoError(t, st.Write(ctx, "entries/2024-01-01.facts.json", "v1"))
	require.NoError(t, st.Write(ctx, "entries/2024-01-01.facts.json", "v2"))

	got, err := st.Read(ctx, "entries/2024-01-01.facts.json")
	require.NoError(t, err)
	assert.Equal(t, "v2", got)

	// No temp files are left behind.
	entries, err := os.ReadDir(filepath.Join(dir, "entries"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, err = st.Read(ctx, "missing.md")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, st.Remove(ctx, "entries/2024-01-01.facts.json"))
	assert.ErrorIs(t, st.Remove(ctx, "entries/2024-01-01.facts.json"), ErrNotFound)
}

func TestFileStore_CacheAcrossInstances(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	st1, err := NewFileStore(dir, silentLogger())
	require.NoError(t, err)
	p := &countingProducer{body: "structured"}
	_, err = NewCache(st1, silentLogger()).Ensure(ctx, "entries/d.md", deps("raw", "r"), p.produce)
	require.NoError(t, err)

	st2, err := NewFileStore(dir, silentLogger())
	require.NoError(t, err)
	got, err := NewCache(st2, silentLogger()).Ensure(ctx, "entries/d.md", deps("raw", "r"), p.produce)
	require.NoError(t, err)
	assert.Equal(t, "structured", got)
	assert.Equal(t, 1, p.calls)
}

func TestValidateID(t *testing.T) {
	assert.NoError(t, ValidateID("history.csv"))
	assert.NoError(t, ValidateID("entries/2024-01-01.md"))
	for _, bad := range []string{"", "/etc/passwd", "../x", "a/../../b", "a//b", "a\\b", "./a"} {
		assert.Error(t, ValidateID(bad), bad)
	}
}
