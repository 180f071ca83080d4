package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tsilva/parsehealthlog/internal/models"
	"github.com/tsilva/parsehealthlog/pkg/tokenizer"
)

// previewTokens bounds the input preview kept in a failure report.
const previewTokens = 200

// Failure is the diagnostic written for an entry that could not be processed.
type Failure struct {
	RunID        uuid.UUID `json:"run_id"`
	Date         string    `json:"date"`
	Stage        string    `json:"stage"`
	Attempts     int       `json:"attempts"`
	LastErrors   []string  `json:"last_errors"`
	LastOutput   string    `json:"last_output,omitempty"`
	InputPreview string    `json:"input_content_preview"`
	InputTokens  int       `json:"input_tokens_estimate"`
	FailedAt     time.Time `json:"failed_at"`
}

// NewFailure builds the diagnostic for err, which is usually an
// *models.ExtractionError.
func NewFailure(runID uuid.UUID, date, input string, err error, now time.Time) Failure {
	f := Failure{
		RunID:        runID,
		Date:         date,
		InputPreview: tokenizer.Truncate(input, previewTokens),
		InputTokens:  tokenizer.EstimateTokens(input),
		FailedAt:     now.UTC(),
	}
	var ee *models.ExtractionError
	if errors.As(err, &ee) {
		f.Stage = ee.Stage
		f.Attempts = ee.Attempts
		f.LastOutput = tokenizer.Truncate(ee.LastOutput, previewTokens*4)
		f.LastErrors = append(f.LastErrors, ee.Problems...)
		if ee.Err != nil {
			f.LastErrors = append(f.LastErrors, ee.Err.Error())
		}
	}
	if len(f.LastErrors) == 0 && err != nil {
		f.LastErrors = []string{err.Error()}
	}
	return f
}

// Format renders the diagnostic as indented JSON.
func (f Failure) Format() (string, error) {
	b, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding failure report: %w", err)
	}
	return string(b) + "\n", nil
}
