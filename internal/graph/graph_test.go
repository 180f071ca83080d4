package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsilva/parsehealthlog/internal/models"
	"github.com/tsilva/parsehealthlog/internal/timeline"
)

func TestBuildParams(t *testing.T) {
	view := &timeline.View{
		Entities: []models.Entity{
			{ID: 1, Type: models.EntityTypeCondition, CanonicalName: "Gastritis", Active: false,
				OriginKind: models.KindDiagnosed, FirstSeen: "2024-01-01", LastUpdated: "2024-02-01"},
			{ID: 2, Type: models.EntityTypeMedication, CanonicalName: "Pantoprazole", Active: true,
				OriginKind: models.KindStarted, FirstSeen: "2024-01-01", LastUpdated: "2024-01-01",
				RelatedIDs: []models.EntityID{1}},
			{ID: 3, Type: models.EntityTypeCondition, CanonicalName: "Gastritis", Active: true,
				OriginKind: models.KindFlare, FirstSeen: "2024-06-01", LastUpdated: "2024-06-01",
				RecursFrom: 1},
		},
		Events: []models.Event{
			{Date: "2024-01-01", EntityID: 1, Kind: models.KindDiagnosed},
			{Date: "2024-01-01", EntityID: 2, Kind: models.KindStarted, RelatedID: 1},
			{Date: "2024-02-01", EntityID: 1, Kind: models.KindResolved},
			{Date: "2024-06-01", EntityID: 3, Kind: models.KindFlare},
		},
	}

	p := BuildParams(view)

	require.Len(t, p.Entities, 3)
	assert.Equal(t, "ent-002", p.Entities[1]["id"])
	assert.Equal(t, "medication", p.Entities[1]["type"])
	assert.Equal(t, true, p.Entities[1]["active"])

	require.Len(t, p.Events, 4)
	assert.Equal(t, int64(3), p.Events[3]["seq"])
	assert.Equal(t, "ent-001", p.Events[1]["related_entity_id"])
	_, hasRelated := p.Events[0]["related_entity_id"]
	assert.False(t, hasRelated)

	assert.Equal(t, []map[string]any{{"from": "ent-002", "to": "ent-001"}}, p.Related)
	assert.Equal(t, []map[string]any{{"from": "ent-003", "to": "ent-001"}}, p.Recurs)
}

func TestBuildParams_Empty(t *testing.T) {
	p := BuildParams(&timeline.View{})
	assert.Empty(t, p.Entities)
	assert.Empty(t, p.Events)
	assert.Nil(t, p.Related)
	assert.Nil(t, p.Recurs)
}

func TestCloseNil(t *testing.T) {
	var x *Exporter
	assert.NoError(t, x.Close(t.Context()))
}
