package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/tsilva/parsehealthlog/internal/metrics"
	"github.com/tsilva/parsehealthlog/pkg/manifest"
)

// Producer generates the body of an artifact.
type Producer func(ctx context.Context) (string, error)

// CacheStats counts cache decisions made during a run.
type CacheStats struct {
	Reused   int64 `json:"reused"`
	Produced int64 `json:"produced"`
	Corrupt  int64 `json:"corrupt"`
}

// Cache is a produce-or-reuse layer over a Store. An artifact is reused only
// when its stored manifest equals the requested dependency manifest; no
// modification time is ever consulted.
//
// Cache is safe for concurrent use as long as each artifact id has a single
// writer.
type Cache struct {
	store  Store
	logger *slog.Logger

	reused   atomic.Int64
	produced atomic.Int64
	corrupt  atomic.Int64
}

// NewCache creates a Cache over st.
func NewCache(st Store, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{store: st, logger: logger}
}

// Store returns the underlying Store.
func (c *Cache) Store() Store { return c.store }

// Ensure returns the body of artifact id. If the stored manifest equals deps
// the stored body is returned and produce is not called. Otherwise produce is
// called exactly once and its body is persisted behind the deps header.
// Errors from produce are returned unchanged.
func (c *Cache) Ensure(ctx context.Context, id string, deps manifest.Manifest, produce Producer) (string, error) {
	if err := deps.Validate(); err != nil {
		return "", fmt.Errorf("store: ensure %s: %w", id, err)
	}

	if body, ok := c.lookup(ctx, id, deps); ok {
		c.reused.Add(1)
		metrics.Inc(metrics.ArtifactsReused)
		return body, nil
	}

	body, err := produce(ctx)
	if err != nil {
		return "", err
	}

	if err := c.store.Write(ctx, id, manifest.Join(deps, body)); err != nil {
		return "", fmt.Errorf("store: ensure %s: %w", id, err)
	}
	c.produced.Add(1)
	metrics.Inc(metrics.ArtifactsProduced)
	c.logger.Debug("store: produced artifact", "id", id)
	return body, nil
}

// Fresh reports whether artifact id is stored with a manifest equal to deps.
func (c *Cache) Fresh(ctx context.Context, id string, deps manifest.Manifest) bool {
	_, ok := c.lookup(ctx, id, deps)
	return ok
}

// ReadBody returns the body of a stored artifact without checking its manifest.
func (c *Cache) ReadBody(ctx context.Context, id string) (string, error) {
	content, err := c.store.Read(ctx, id)
	if err != nil {
		return "", err
	}
	_, body, ok := manifest.Split(content)
	if !ok {
		return "", fmt.Errorf("store: %s has no valid manifest header", id)
	}
	return body, nil
}

// Stats returns the counters accumulated since the cache was created.
func (c *Cache) Stats() CacheStats {
	return CacheStats{
		Reused:   c.reused.Load(),
		Produced: c.produced.Load(),
		Corrupt:  c.corrupt.Load(),
	}
}

func (c *Cache) lookup(ctx context.Context, id string, deps manifest.Manifest) (string, bool) {
	content, err := c.store.Read(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.logger.Warn("store: read failed, regenerating", "id", id, "error", err)
		}
		return "", false
	}
	stored, body, ok := manifest.Split(content)
	if !ok {
		c.corrupt.Add(1)
		metrics.Inc(metrics.CacheCorruptions)
		c.logger.Warn("store: unparsable manifest header, regenerating", "id", id)
		return "", false
	}
	if !stored.Equal(deps) {
		return "", false
	}
	return body, true
}
