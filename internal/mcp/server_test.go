package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsilva/parsehealthlog/internal/models"
	"github.com/tsilva/parsehealthlog/internal/registry"
	"github.com/tsilva/parsehealthlog/internal/store"
	"github.com/tsilva/parsehealthlog/internal/timeline"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newMCPServer returns a Server over a small built timeline:
// ent-001 Gastritis (condition), ent-002 Pantoprazole 20mg (medication, stopped),
// ent-003 Magnesium (supplement).
func newMCPServer(t *testing.T) *Server {
	t.Helper()
	st := store.NewMemoryStore()
	entries := []timeline.Entry{
		{Date: "2024-01-01", Digest: "a", Facts: models.FactSet{Items: []models.Fact{
			{Type: models.EntityTypeCondition, Name: "Gastritis", Kind: models.KindDiagnosed},
			{Type: models.EntityTypeMedication, Name: "Pantoprazole 20mg", Kind: models.KindStarted, ForName: "Gastritis"},
		}}},
		{Date: "2024-02-01", Digest: "b", Facts: models.FactSet{Items: []models.Fact{
			{Type: models.EntityTypeMedication, Name: "Pantoprazole 20mg", Kind: models.KindStopped},
			{Type: models.EntityTypeSupplement, Name: "Magnesium", Kind: models.KindStarted},
		}}},
	}
	_, err := timeline.NewBuilder(st, registry.DefaultOptions(), newTestLogger()).Build(context.Background(), entries)
	require.NoError(t, err)
	return NewServer(st, "test", newTestLogger())
}

// makeReq builds a CallToolRequest with the given arguments.
func makeReq(toolName string, args map[string]any) mcpgo.CallToolRequest {
	req := mcpgo.CallToolRequest{}
	req.Params.Name = toolName
	req.Params.Arguments = args
	return req
}

// textContent extracts the first TextContent string from a CallToolResult.
func textContent(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content item")
	tc, ok := result.Content[0].(mcpgo.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

func decode(t *testing.T, result *mcpgo.CallToolResult, v any) {
	t.Helper()
	require.False(t, result.IsError, "tool returned error: %s", textContent(t, result))
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), v))
}

func TestMCPEntities_Filters(t *testing.T) {
	srv := newMCPServer(t)
	ctx := context.Background()

	var all struct {
		Entities []models.Entity `json:"entities"`
		Count    int             `json:"count"`
	}
	res, err := srv.HandleEntities(ctx, makeReq("entities", nil))
	require.NoError(t, err)
	decode(t, res, &all)
	assert.Equal(t, 3, all.Count)

	var active struct {
		Entities []models.Entity `json:"entities"`
	}
	res, err = srv.HandleEntities(ctx, makeReq("entities", map[string]any{"active_only": true, "type": "medication"}))
	require.NoError(t, err)
	decode(t, res, &active)
	assert.Empty(t, active.Entities)

	var search struct {
		Entities []models.Entity `json:"entities"`
	}
	res, err = srv.HandleEntities(ctx, makeReq("entities", map[string]any{"query": "magnes"}))
	require.NoError(t, err)
	decode(t, res, &search)
	require.Len(t, search.Entities, 1)
	assert.Equal(t, models.EntityID(3), search.Entities[0].ID)

	res, err = srv.HandleEntities(ctx, makeReq("entities", map[string]any{"type": "disease"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestMCPEntity(t *testing.T) {
	srv := newMCPServer(t)
	ctx := context.Background()

	var out struct {
		Entity models.Entity  `json:"entity"`
		Events []models.Event `json:"events"`
	}
	res, err := srv.HandleEntity(ctx, makeReq("entity", map[string]any{"id": "ent-002"}))
	require.NoError(t, err)
	decode(t, res, &out)
	assert.Equal(t, "Pantoprazole 20mg", out.Entity.CanonicalName)
	assert.False(t, out.Entity.Active)
	assert.Equal(t, []models.EntityID{1}, out.Entity.RelatedIDs)
	require.Len(t, out.Events, 2)
	assert.Equal(t, models.KindStopped, out.Events[1].Kind)

	for _, id := range []string{"", "2", "ent-099"} {
		res, err = srv.HandleEntity(ctx, makeReq("entity", map[string]any{"id": id}))
		require.NoError(t, err)
		assert.True(t, res.IsError, "id %q", id)
	}
}

func TestMCPHistory(t *testing.T) {
	srv := newMCPServer(t)
	ctx := context.Background()

	var out struct {
		Events []models.Event `json:"events"`
		Total  int            `json:"total"`
	}
	res, err := srv.HandleHistory(ctx, makeReq("history", map[string]any{"from": "2024-02-01"}))
	require.NoError(t, err)
	decode(t, res, &out)
	assert.Equal(t, 2, out.Total)

	res, err = srv.HandleHistory(ctx, makeReq("history", map[string]any{"limit": 1}))
	require.NoError(t, err)
	decode(t, res, &out)
	assert.Equal(t, 4, out.Total)
	require.Len(t, out.Events, 1)
	assert.Equal(t, "Magnesium", out.Events[0].Name)

	res, err = srv.HandleHistory(ctx, makeReq("history", map[string]any{"to": "01/02/2024"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestMCPCurrentAgesStats(t *testing.T) {
	srv := newMCPServer(t)
	ctx := context.Background()

	res, err := srv.HandleCurrent(ctx, makeReq("current", nil))
	require.NoError(t, err)
	require.False(t, res.IsError)
	view, err := timeline.ParseCurrentView(textContent(t, res))
	require.NoError(t, err)
	require.Len(t, view.Conditions, 1)
	assert.Empty(t, view.Medications)

	var ages struct {
		AsOf string `json:"as_of"`
		Ages []struct {
			Name                string `json:"name"`
			DaysSinceLastUpdate int    `json:"days_since_last_update"`
		} `json:"ages"`
	}
	res, err = srv.HandleAges(ctx, makeReq("ages", map[string]any{"as_of": "2024-03-01"}))
	require.NoError(t, err)
	decode(t, res, &ages)
	require.Len(t, ages.Ages, 2)
	assert.Equal(t, "Gastritis", ages.Ages[0].Name)
	assert.Equal(t, 60, ages.Ages[0].DaysSinceLastUpdate)

	var stats timeline.Stats
	res, err = srv.HandleStats(ctx, makeReq("stats", nil))
	require.NoError(t, err)
	decode(t, res, &stats)
	assert.Equal(t, 3, stats.Entities)
	assert.Equal(t, 2, stats.ActiveEntities)
	assert.Equal(t, 4, stats.Events)
}

func TestMCP_NoTimeline(t *testing.T) {
	srv := NewServer(store.NewMemoryStore(), "test", newTestLogger())
	res, err := srv.HandleStats(context.Background(), makeReq("stats", nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, textContent(t, res), "no timeline")

	nilSrv := NewServer(nil, "test", newTestLogger())
	res, err = nilSrv.HandleCurrent(context.Background(), makeReq("current", nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}
