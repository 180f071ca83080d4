package timeline

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/tsilva/parsehealthlog/internal/models"
)

// Snapshot is the entities.json document.
type Snapshot struct {
	LastIssuedEntityID models.EntityID `json:"last_issued_entity_id"`
	Entities           []models.Entity `json:"entities"`
}

// CurrentItem is one active entity in the current view.
type CurrentItem struct {
	ID         string   `yaml:"id"`
	Name       string   `yaml:"name"`
	Status     string   `yaml:"status"`
	Since      string   `yaml:"since"`
	Updated    string   `yaml:"last_updated"`
	RelatedTo  []string `yaml:"related_to,omitempty"`
	Treatments []string `yaml:"treatments,omitempty"`
	RecursFrom string   `yaml:"recurs_from,omitempty"`
}

// CurrentView is the current.yaml document: active items by category.
type CurrentView struct {
	AsOf        string        `yaml:"as_of"`
	Conditions  []CurrentItem `yaml:"active_conditions,omitempty"`
	Symptoms    []CurrentItem `yaml:"active_symptoms,omitempty"`
	Medications []CurrentItem `yaml:"active_medications,omitempty"`
	Supplements []CurrentItem `yaml:"active_supplements,omitempty"`
	Experiments []CurrentItem `yaml:"active_experiments,omitempty"`
	Providers   []CurrentItem `yaml:"providers,omitempty"`
	Todos       []CurrentItem `yaml:"pending_todos,omitempty"`
}

// BuildCurrentView derives the current view from an entity snapshot. The
// status of each item is the kind of the last event recorded for it.
func BuildCurrentView(asOf string, entities []models.Entity, events []models.Event) CurrentView {
	lastKind := make(map[models.EntityID]models.EventKind, len(entities))
	for i := range events {
		if events[i].Kind != models.KindNote {
			lastKind[events[i].EntityID] = events[i].Kind
		}
	}

	view := CurrentView{AsOf: asOf}
	for i := range entities {
		e := &entities[i]
		if !e.Active {
			continue
		}
		item := CurrentItem{
			ID:      e.ID.String(),
			Name:    e.CanonicalName,
			Status:  string(lastKind[e.ID]),
			Since:   e.FirstSeen,
			Updated: e.LastUpdated,
		}
		for _, rid := range e.RelatedIDs {
			item.RelatedTo = append(item.RelatedTo, rid.String())
		}
		if e.RecursFrom != 0 {
			item.RecursFrom = e.RecursFrom.String()
		}
		switch e.Type {
		case models.EntityTypeCondition:
			item.Treatments = treatmentsFor(e.ID, entities)
			view.Conditions = append(view.Conditions, item)
		case models.EntityTypeSymptom:
			view.Symptoms = append(view.Symptoms, item)
		case models.EntityTypeMedication:
			view.Medications = append(view.Medications, item)
		case models.EntityTypeSupplement:
			view.Supplements = append(view.Supplements, item)
		case models.EntityTypeExperiment:
			view.Experiments = append(view.Experiments, item)
		case models.EntityTypeProvider:
			view.Providers = append(view.Providers, item)
		case models.EntityTypeTodo:
			view.Todos = append(view.Todos, item)
		}
	}
	return view
}

func treatmentsFor(condition models.EntityID, entities []models.Entity) []string {
	var out []string
	for i := range entities {
		e := &entities[i]
		if !e.Active || (e.Type != models.EntityTypeMedication && e.Type != models.EntityTypeSupplement) {
			continue
		}
		for _, rid := range e.RelatedIDs {
			if rid == condition {
				out = append(out, e.ID.String())
				break
			}
		}
	}
	return out
}

func formatCurrent(view CurrentView) (string, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(view); err != nil {
		return "", fmt.Errorf("encoding current view: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("encoding current view: %w", err)
	}
	return buf.String(), nil
}

func formatSnapshot(s Snapshot) (string, error) {
	entities := make([]models.Entity, len(s.Entities))
	for i := range s.Entities {
		entities[i] = s.Entities[i]
		if entities[i].RelatedIDs == nil {
			entities[i].RelatedIDs = []models.EntityID{}
		}
	}
	s.Entities = entities
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding entities: %w", err)
	}
	return string(b) + "\n", nil
}

// ParseSnapshot decodes an entities.json document.
func ParseSnapshot(content string) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal([]byte(content), &s); err != nil {
		return Snapshot{}, fmt.Errorf("decoding entities: %w", err)
	}
	return s, nil
}

// ParseCurrentView decodes a current.yaml document.
func ParseCurrentView(content string) (CurrentView, error) {
	var v CurrentView
	if err := yaml.Unmarshal([]byte(content), &v); err != nil {
		return CurrentView{}, fmt.Errorf("decoding current view: %w", err)
	}
	return v, nil
}
