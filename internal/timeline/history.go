package timeline

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/tsilva/parsehealthlog/internal/models"
)

var historyHeader = []string{"date", "entity_id", "name", "type", "event_kind", "details", "related_entity_id"}

// FormatHistory renders the event log as CSV with a header row.
func FormatHistory(events []models.Event) (string, error) {
	var sb strings.Builder
	w := csv.NewWriter(&sb)
	if err := w.Write(historyHeader); err != nil {
		return "", fmt.Errorf("writing history header: %w", err)
	}
	for i := range events {
		ev := &events[i]
		related := ""
		if ev.RelatedID != 0 {
			related = ev.RelatedID.String()
		}
		row := []string{ev.Date, ev.EntityID.String(), ev.Name, string(ev.Type), string(ev.Kind), ev.Details, related}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("writing history row %d: %w", i, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flushing history: %w", err)
	}
	return sb.String(), nil
}

// ParseHistory reads an event log written by FormatHistory.
func ParseHistory(content string) ([]models.Event, error) {
	r := csv.NewReader(strings.NewReader(content))
	r.FieldsPerRecord = len(historyHeader)

	header, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("history: missing header")
		}
		return nil, fmt.Errorf("history: reading header: %w", err)
	}
	for i := range historyHeader {
		if header[i] != historyHeader[i] {
			return nil, fmt.Errorf("history: unexpected column %q at %d", header[i], i)
		}
	}

	var events []models.Event
	for line := 2; ; line++ {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("history: line %d: %w", line, err)
		}
		id, err := models.ParseEntityID(row[1])
		if err != nil || id == 0 {
			return nil, fmt.Errorf("history: line %d: invalid entity id %q", line, row[1])
		}
		related, err := models.ParseEntityID(row[6])
		if err != nil {
			return nil, fmt.Errorf("history: line %d: %w", line, err)
		}
		events = append(events, models.Event{
			Date:      row[0],
			EntityID:  id,
			Name:      row[2],
			Type:      models.EntityType(row[3]),
			Kind:      models.EventKind(row[4]),
			Details:   row[5],
			RelatedID: related,
		})
	}
	return events, nil
}
