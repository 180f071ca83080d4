// Package graph mirrors a persisted timeline into Neo4j: one node per entity,
// one node per event, and edges for related and recurrence links.
package graph

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tsilva/parsehealthlog/internal/config"
	"github.com/tsilva/parsehealthlog/internal/models"
	"github.com/tsilva/parsehealthlog/internal/timeline"
)

var tracer = otel.Tracer("github.com/tsilva/parsehealthlog/internal/graph")

const connectTimeout = 10 * time.Second

var schema = []string{
	`CREATE CONSTRAINT health_entity_id IF NOT EXISTS FOR (e:HealthEntity) REQUIRE e.id IS UNIQUE`,
	`CREATE CONSTRAINT health_event_seq IF NOT EXISTS FOR (ev:HealthEvent) REQUIRE ev.seq IS UNIQUE`,
}

const (
	upsertEntities = `
UNWIND $entities AS e
MERGE (n:HealthEntity {id: e.id})
SET n += e
`
	upsertEvents = `
UNWIND $events AS ev
MATCH (n:HealthEntity {id: ev.entity_id})
MERGE (x:HealthEvent {seq: ev.seq})
SET x += ev
MERGE (x)-[:OF]->(n)
`
	upsertRelated = `
UNWIND $rels AS r
MATCH (a:HealthEntity {id: r.from})
MATCH (b:HealthEntity {id: r.to})
MERGE (a)-[:RELATED_TO]->(b)
`
	upsertRecurs = `
UNWIND $rels AS r
MATCH (a:HealthEntity {id: r.from})
MATCH (b:HealthEntity {id: r.to})
MERGE (a)-[:RECURS_FROM]->(b)
`
	pruneEvents = `
MATCH (x:HealthEvent) WHERE x.seq >= $count
DETACH DELETE x
`
)

// Params holds the query parameters for one export.
type Params struct {
	Entities []map[string]any
	Events   []map[string]any
	Related  []map[string]any
	Recurs   []map[string]any
}

// BuildParams converts a view into query parameters. Event seq is the
// position in the event log, so re-exports after a rebuild overwrite in place.
func BuildParams(view *timeline.View) Params {
	p := Params{
		Entities: make([]map[string]any, 0, len(view.Entities)),
		Events:   make([]map[string]any, 0, len(view.Events)),
	}
	for i := range view.Entities {
		e := &view.Entities[i]
		p.Entities = append(p.Entities, map[string]any{
			"id":           e.ID.String(),
			"type":         string(e.Type),
			"name":         e.CanonicalName,
			"active":       e.Active,
			"origin_kind":  string(e.OriginKind),
			"first_seen":   e.FirstSeen,
			"last_updated": e.LastUpdated,
		})
		for _, rid := range e.RelatedIDs {
			p.Related = append(p.Related, edge(e.ID, rid))
		}
		if e.RecursFrom != 0 {
			p.Recurs = append(p.Recurs, edge(e.ID, e.RecursFrom))
		}
	}
	for i := range view.Events {
		ev := &view.Events[i]
		row := map[string]any{
			"seq":       int64(i),
			"date":      ev.Date,
			"entity_id": ev.EntityID.String(),
			"kind":      string(ev.Kind),
			"details":   ev.Details,
		}
		if ev.RelatedID != 0 {
			row["related_entity_id"] = ev.RelatedID.String()
		}
		p.Events = append(p.Events, row)
	}
	return p
}

func edge(from, to models.EntityID) map[string]any {
	return map[string]any{"from": from.String(), "to": to.String()}
}

// Stats reports what an export wrote.
type Stats struct {
	Entities int `json:"entities"`
	Events   int `json:"events"`
	Related  int `json:"related_edges"`
	Recurs   int `json:"recurrence_edges"`
}

// Exporter writes timelines to a Neo4j database.
type Exporter struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *slog.Logger
}

// Connect opens a driver for cfg and verifies connectivity.
func Connect(ctx context.Context, cfg config.Neo4jConfig, logger *slog.Logger) (*Exporter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	auth := neo4j.NoAuth()
	if cfg.Username != "" {
		auth = neo4j.BasicAuth(cfg.Username, cfg.Password, "")
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, auth, func(c *neo4j.Config) {
		c.SocketConnectTimeout = connectTimeout
	})
	if err != nil {
		return nil, fmt.Errorf("graph: init driver: %w", err)
	}
	vctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := driver.VerifyConnectivity(vctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("graph: verify connectivity: %w", err)
	}
	return &Exporter{driver: driver, database: cfg.Database, logger: logger}, nil
}

// Close releases the driver.
func (x *Exporter) Close(ctx context.Context) error {
	if x == nil || x.driver == nil {
		return nil
	}
	return x.driver.Close(ctx)
}

// Export merges view into the database in a single write transaction.
func (x *Exporter) Export(ctx context.Context, view *timeline.View) (Stats, error) {
	ctx, span := tracer.Start(ctx, "graph.Export", trace.WithAttributes(
		attribute.Int("graph.entities", len(view.Entities)),
		attribute.Int("graph.events", len(view.Events)),
	))
	defer span.End()

	p := BuildParams(view)
	session := x.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: x.database,
		AccessMode:   neo4j.AccessModeWrite,
	})
	defer func() { _ = session.Close(ctx) }()

	for _, q := range schema {
		res, err := session.Run(ctx, q, nil)
		if err != nil {
			x.logger.Warn("graph: schema init failed (continuing)", "error", err)
			continue
		}
		_, _ = res.Consume(ctx)
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		steps := []struct {
			query  string
			params map[string]any
			skip   bool
		}{
			{upsertEntities, map[string]any{"entities": p.Entities}, len(p.Entities) == 0},
			{upsertEvents, map[string]any{"events": p.Events}, len(p.Events) == 0},
			{upsertRelated, map[string]any{"rels": p.Related}, len(p.Related) == 0},
			{upsertRecurs, map[string]any{"rels": p.Recurs}, len(p.Recurs) == 0},
			{pruneEvents, map[string]any{"count": int64(len(p.Events))}, false},
		}
		for _, s := range steps {
			if s.skip {
				continue
			}
			res, err := tx.Run(ctx, s.query, s.params)
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("graph: export: %w", err)
	}

	stats := Stats{Entities: len(p.Entities), Events: len(p.Events), Related: len(p.Related), Recurs: len(p.Recurs)}
	x.logger.Info("graph: exported", "entities", stats.Entities, "events", stats.Events,
		"related_edges", stats.Related, "recurrence_edges", stats.Recurs)
	return stats, nil
}
