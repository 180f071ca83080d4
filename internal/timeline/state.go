package timeline

import (
	"encoding/json"
	"fmt"

	"github.com/tsilva/parsehealthlog/internal/models"
)

// StateVersion is the control file format this package reads and writes.
const StateVersion = 1

// Artifact ids written by the builder, relative to the output store.
const (
	StateID    = "timeline.state.json"
	HistoryID  = "history.csv"
	EntitiesID = "entities.json"
	CurrentID  = "current.yaml"
)

// EntryDigest records the input digest of one processed entry.
type EntryDigest struct {
	Date   string `json:"date"`
	Digest string `json:"digest"`
}

// State is the persisted control state of the timeline.
type State struct {
	Version            int             `json:"version"`
	LastProcessedDate  string          `json:"last_processed_date"`
	LastIssuedEntityID models.EntityID `json:"last_issued_entity_id"`
	Policy             string          `json:"policy"`
	LogDigest          string          `json:"log_digest"`
	Entries            []EntryDigest   `json:"entries"`
}

// parseState decodes the control file. ok is false for any content that is
// not a state of the current version.
func parseState(content string) (State, bool) {
	var s State
	if err := json.Unmarshal([]byte(content), &s); err != nil {
		return State{}, false
	}
	if s.Version != StateVersion {
		return State{}, false
	}
	for _, e := range s.Entries {
		if !models.ValidDate(e.Date) || e.Digest == "" {
			return State{}, false
		}
	}
	return s, true
}

func formatState(s State) (string, error) {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding timeline state: %w", err)
	}
	return string(b) + "\n", nil
}
