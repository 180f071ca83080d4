package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsilva/parsehealthlog/internal/models"
)

func TestDaysBetween(t *testing.T) {
	d, err := DaysBetween("2024-01-01", "2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, 60, d)

	d, err = DaysBetween("2024-03-01", "2024-01-01")
	require.NoError(t, err)
	assert.Equal(t, -60, d)

	_, err = DaysBetween("2024-13-01", "2024-01-01")
	assert.Error(t, err)
}

func TestAges_SortsByStaleness(t *testing.T) {
	asOf := time.Date(2024, 6, 1, 15, 0, 0, 0, time.UTC)
	entities := []models.Entity{
		{ID: 1, Type: models.EntityTypeSupplement, CanonicalName: "NAC", Active: true, FirstSeen: "2024-01-01", LastUpdated: "2024-05-30"},
		{ID: 2, Type: models.EntityTypeCondition, CanonicalName: "GERD", Active: true, FirstSeen: "2023-06-01", LastUpdated: "2023-12-01"},
		{ID: 3, Type: models.EntityTypeTodo, CanonicalName: "bad", FirstSeen: "nope", LastUpdated: "nope"},
	}

	ages := Ages(entities, asOf)
	require.Len(t, ages, 2)
	assert.Equal(t, models.EntityID(2), ages[0].ID)
	assert.Equal(t, 183, ages[0].DaysSinceLastUpdate)
	assert.Equal(t, models.EntityID(1), ages[1].ID)
	assert.Equal(t, 2, ages[1].DaysSinceLastUpdate)
	assert.Equal(t, 152, ages[1].DaysSinceFirstSeen)
}
