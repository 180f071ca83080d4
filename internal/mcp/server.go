// Package mcp implements a read-only Model Context Protocol server over the
// persisted health timeline.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/tsilva/parsehealthlog/internal/lifecycle"
	"github.com/tsilva/parsehealthlog/internal/models"
	"github.com/tsilva/parsehealthlog/internal/store"
	"github.com/tsilva/parsehealthlog/internal/timeline"
)

// defaultHistoryLimit is the default number of events returned by history.
const defaultHistoryLimit = 100

// Server wraps an MCPServer with the timeline reader.
type Server struct {
	mcp    *mcpserver.MCPServer
	st     store.Store
	reader *timeline.Reader
	logger *slog.Logger
}

// NewServer creates a new MCP server over the artifacts in st. If st is nil,
// tool calls return an error response instead of panicking.
func NewServer(st store.Store, version string, logger *slog.Logger) *Server {
	s := &Server{st: st, logger: logger}
	if st != nil {
		s.reader = timeline.NewReader(st)
	}

	mcpSrv := mcpserver.NewMCPServer(
		"parsehealthlog",
		version,
		mcpserver.WithToolCapabilities(false),
	)

	mcpSrv.AddTool(buildEntitiesTool(), s.handleEntities)
	mcpSrv.AddTool(buildEntityTool(), s.handleEntity)
	mcpSrv.AddTool(buildHistoryTool(), s.handleHistory)
	mcpSrv.AddTool(buildCurrentTool(), s.handleCurrent)
	mcpSrv.AddTool(buildAgesTool(), s.handleAges)
	mcpSrv.AddTool(buildStatsTool(), s.handleStats)

	s.mcp = mcpSrv
	return s
}

// MCPServer returns the underlying mcp-go MCPServer for use with ServeStdio.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcp
}

// HandleEntities is the exported handler for the "entities" tool.
// It is exposed for direct testing without the mcp-go transport layer.
func (s *Server) HandleEntities(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleEntities(ctx, req)
}

// HandleEntity is the exported handler for the "entity" tool.
func (s *Server) HandleEntity(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleEntity(ctx, req)
}

// HandleHistory is the exported handler for the "history" tool.
func (s *Server) HandleHistory(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleHistory(ctx, req)
}

// HandleCurrent is the exported handler for the "current" tool.
func (s *Server) HandleCurrent(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleCurrent(ctx, req)
}

// HandleAges is the exported handler for the "ages" tool.
func (s *Server) HandleAges(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleAges(ctx, req)
}

// HandleStats is the exported handler for the "stats" tool.
func (s *Server) HandleStats(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleStats(ctx, req)
}

// --- helpers ---

// toolResultJSON marshals v to JSON and returns it as a tool text result.
func toolResultJSON(v any) (*mcpgo.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("mcp: marshaling result: %w", err)
	}
	return mcpgo.NewToolResultText(string(b)), nil
}

// load reads the timeline, turning failures into tool error results.
func (s *Server) load(ctx context.Context) (*timeline.View, *mcpgo.CallToolResult) {
	if s.reader == nil {
		return nil, mcpgo.NewToolResultError("store is unavailable")
	}
	view, err := s.reader.Load(ctx)
	if errors.Is(err, timeline.ErrNoTimeline) {
		return nil, mcpgo.NewToolResultError("no timeline has been built yet; run parsehealthlog run first")
	}
	if err != nil {
		return nil, mcpgo.NewToolResultErrorf("loading timeline failed: %s", err.Error())
	}
	return view, nil
}

func entityType(req mcpgo.CallToolRequest) (models.EntityType, *mcpgo.CallToolResult) {
	t := models.EntityType(strings.TrimSpace(req.GetString("type", "")))
	if t != "" && !t.IsValid() {
		return "", mcpgo.NewToolResultErrorf("invalid type %q: must be one of condition, symptom, medication, supplement, experiment, provider, todo", t)
	}
	return t, nil
}

// --- tool definitions ---

func buildEntitiesTool() mcpgo.Tool {
	return mcpgo.NewTool("entities",
		mcpgo.WithDescription("List tracked health entities (conditions, symptoms, medications, supplements, experiments, providers, todos)."),
		mcpgo.WithString("type",
			mcpgo.Description("Only entities of this type"),
		),
		mcpgo.WithBoolean("active_only",
			mcpgo.Description("Only currently active entities (default: false)"),
		),
		mcpgo.WithString("query",
			mcpgo.Description("Only entities whose name contains this text"),
		),
	)
}

func buildEntityTool() mcpgo.Tool {
	return mcpgo.NewTool("entity",
		mcpgo.WithDescription("Get one entity by id (for example ent-001) together with its events."),
		mcpgo.WithString("id",
			mcpgo.Required(),
			mcpgo.Description("The entity id"),
		),
	)
}

func buildHistoryTool() mcpgo.Tool {
	return mcpgo.NewTool("history",
		mcpgo.WithDescription("List events from the health timeline in chronological order."),
		mcpgo.WithString("entity_id",
			mcpgo.Description("Only events of this entity"),
		),
		mcpgo.WithString("type",
			mcpgo.Description("Only events of this entity type"),
		),
		mcpgo.WithString("from",
			mcpgo.Description("Earliest date, YYYY-MM-DD"),
		),
		mcpgo.WithString("to",
			mcpgo.Description("Latest date, YYYY-MM-DD"),
		),
		mcpgo.WithNumber("limit",
			mcpgo.Description("Maximum number of most recent events (default: 100)"),
		),
	)
}

func buildCurrentTool() mcpgo.Tool {
	return mcpgo.NewTool("current",
		mcpgo.WithDescription("Get the current health view: active items by category with treatments per condition."),
	)
}

func buildAgesTool() mcpgo.Tool {
	return mcpgo.NewTool("ages",
		mcpgo.WithDescription("Days since each active entity was first seen and last updated, stalest first."),
		mcpgo.WithString("as_of",
			mcpgo.Description("Reference date, YYYY-MM-DD (default: today)"),
		),
	)
}

func buildStatsTool() mcpgo.Tool {
	return mcpgo.NewTool("stats",
		mcpgo.WithDescription("Get timeline statistics: entries, entities by type, active entities and events."),
	)
}

// --- tool handlers ---

func (s *Server) handleEntities(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	view, errRes := s.load(ctx)
	if errRes != nil {
		return errRes, nil
	}
	t, errRes := entityType(req)
	if errRes != nil {
		return errRes, nil
	}

	entities := view.Filter(t, req.GetBool("active_only", false))
	if q := strings.TrimSpace(req.GetString("query", "")); q != "" {
		matches := make(map[models.EntityID]bool)
		for _, e := range view.Search(q) {
			matches[e.ID] = true
		}
		filtered := entities[:0]
		for _, e := range entities {
			if matches[e.ID] {
				filtered = append(filtered, e)
			}
		}
		entities = filtered
	}
	return toolResultJSON(map[string]any{
		"entities": entities,
		"count":    len(entities),
	})
}

func (s *Server) handleEntity(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	raw := strings.TrimSpace(req.GetString("id", ""))
	if raw == "" {
		return mcpgo.NewToolResultError("id is required and must not be empty"), nil
	}
	id, err := models.ParseEntityID(raw)
	if err != nil {
		return mcpgo.NewToolResultErrorf("invalid id: %s", err.Error()), nil
	}
	view, errRes := s.load(ctx)
	if errRes != nil {
		return errRes, nil
	}
	e, ok := view.Entity(id)
	if !ok {
		return mcpgo.NewToolResultErrorf("entity %s not found", id), nil
	}
	return toolResultJSON(map[string]any{
		"entity": e,
		"events": view.FilterEvents(timeline.EventFilter{EntityID: id}),
	})
}

func (s *Server) handleHistory(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	var f timeline.EventFilter
	if raw := strings.TrimSpace(req.GetString("entity_id", "")); raw != "" {
		id, err := models.ParseEntityID(raw)
		if err != nil {
			return mcpgo.NewToolResultErrorf("invalid entity_id: %s", err.Error()), nil
		}
		f.EntityID = id
	}
	t, errRes := entityType(req)
	if errRes != nil {
		return errRes, nil
	}
	f.Type = t
	f.From = req.GetString("from", "")
	f.To = req.GetString("to", "")
	for _, d := range []string{f.From, f.To} {
		if d != "" && !models.ValidDate(d) {
			return mcpgo.NewToolResultErrorf("invalid date %q: expected YYYY-MM-DD", d), nil
		}
	}
	limit := req.GetInt("limit", defaultHistoryLimit)
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	view, errRes := s.load(ctx)
	if errRes != nil {
		return errRes, nil
	}
	events := view.FilterEvents(f)
	total := len(events)
	if total > limit {
		events = events[total-limit:]
	}
	return toolResultJSON(map[string]any{
		"events": events,
		"total":  total,
	})
}

func (s *Server) handleCurrent(ctx context.Context, _ mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.st == nil {
		return mcpgo.NewToolResultError("store is unavailable"), nil
	}
	content, err := s.st.Read(ctx, timeline.CurrentID)
	if errors.Is(err, store.ErrNotFound) {
		return mcpgo.NewToolResultError("no timeline has been built yet; run parsehealthlog run first"), nil
	}
	if err != nil {
		return mcpgo.NewToolResultErrorf("reading current view failed: %s", err.Error()), nil
	}
	return mcpgo.NewToolResultText(content), nil
}

func (s *Server) handleAges(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	asOf := time.Now()
	if raw := req.GetString("as_of", ""); raw != "" {
		parsed, err := time.Parse(models.DateLayout, raw)
		if err != nil {
			return mcpgo.NewToolResultErrorf("invalid as_of %q: expected YYYY-MM-DD", raw), nil
		}
		asOf = parsed
	}
	view, errRes := s.load(ctx)
	if errRes != nil {
		return errRes, nil
	}
	return toolResultJSON(map[string]any{
		"as_of": asOf.Format(models.DateLayout),
		"ages":  lifecycle.Ages(view.Filter("", true), asOf),
	})
}

func (s *Server) handleStats(ctx context.Context, _ mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	view, errRes := s.load(ctx)
	if errRes != nil {
		return errRes, nil
	}
	return toolResultJSON(view.Stats())
}
