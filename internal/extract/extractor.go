package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tsilva/parsehealthlog/internal/metrics"
	"github.com/tsilva/parsehealthlog/internal/models"
	"github.com/tsilva/parsehealthlog/pkg/xmlutil"
)

// Extractor turns structured entry text into a validated FactSet. Schema
// problems are fed back to the model as a follow-up message so that it can
// correct its previous answer.
type Extractor struct {
	messenger Messenger
	in        Instructions
	opts      Options
	logger    *slog.Logger
}

// NewExtractor creates an Extractor.
func NewExtractor(m Messenger, in Instructions, opts Options, logger *slog.Logger) *Extractor {
	return &Extractor{messenger: m, in: in, opts: opts.normalized(), logger: logger}
}

// Extract returns the facts of the entry dated date.
// Failures are reported as *models.ExtractionError.
func (e *Extractor) Extract(ctx context.Context, date, text string) (models.FactSet, error) {
	ctx, span := tracer.Start(ctx, "extract.Extract", trace.WithAttributes(attribute.String("entry.date", date)))
	defer span.End()

	messages := []Message{{Role: RoleUser, Text: extractionRequest(date, text)}}
	var (
		problems []string
		last     string
	)
	for attempt := 1; attempt <= e.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			metrics.Inc(metrics.ExtractionRetries)
		}
		out, err := complete(ctx, e.messenger, e.opts, e.logger, e.in.Extract, messages)
		if err != nil {
			return models.FactSet{}, &models.ExtractionError{Date: date, Stage: "extract", Attempts: attempt, LastOutput: last, Err: err}
		}
		last = out

		var fs models.FactSet
		fs, problems = ParseFacts(out, e.opts.Strict)
		if len(problems) == 0 {
			span.SetAttributes(attribute.Int("extract.attempts", attempt), attribute.Int("extract.items", len(fs.Items)))
			if len(fs.Items) == 0 && fs.StackReset == nil {
				e.logger.Debug("extract: entry has no facts", "date", date)
			}
			return fs, nil
		}
		e.logger.Warn("extract: facts failed validation", "date", date, "attempt", attempt, "problems", problems)
		messages = append(messages,
			Message{Role: RoleAssistant, Text: out},
			Message{Role: RoleUser, Text: feedback(problems)},
		)
	}
	return models.FactSet{}, &models.ExtractionError{
		Date:       date,
		Stage:      "extract",
		Attempts:   e.opts.MaxAttempts,
		Problems:   problems,
		LastOutput: last,
	}
}

// ParseFacts decodes a model response into a FactSet and validates it.
// Code fences and text around the JSON object are ignored. Types, kinds and
// categories are lower-cased before validation.
func ParseFacts(out string, strict bool) (models.FactSet, []string) {
	start := strings.IndexByte(out, '{')
	end := strings.LastIndexByte(out, '}')
	if start < 0 || end < start {
		return models.FactSet{}, []string{"response is not a JSON object"}
	}

	var raw struct {
		Items      json.RawMessage    `json:"items"`
		StackReset *models.StackReset `json:"stack_reset"`
	}
	if err := json.Unmarshal([]byte(out[start:end+1]), &raw); err != nil {
		return models.FactSet{}, []string{fmt.Sprintf("invalid JSON: %v", err)}
	}
	if len(raw.Items) == 0 || string(raw.Items) == "null" {
		return models.FactSet{}, []string{`missing required key "items"`}
	}
	var items []models.Fact
	if err := json.Unmarshal(raw.Items, &items); err != nil {
		return models.FactSet{}, []string{fmt.Sprintf(`"items" must be a list of objects: %v`, err)}
	}

	fs := models.FactSet{Items: items, StackReset: raw.StackReset}
	for i := range fs.Items {
		f := &fs.Items[i]
		f.Type = models.EntityType(strings.ToLower(strings.TrimSpace(string(f.Type))))
		f.Kind = models.EventKind(strings.ToLower(strings.TrimSpace(string(f.Kind))))
		f.Name = strings.TrimSpace(f.Name)
		f.ForName = strings.TrimSpace(f.ForName)
	}
	if fs.StackReset != nil {
		for i, c := range fs.StackReset.Categories {
			fs.StackReset.Categories[i] = models.EntityType(strings.ToLower(strings.TrimSpace(string(c))))
		}
	}
	return fs, fs.Validate(strict)
}

func extractionRequest(date, text string) string {
	return fmt.Sprintf("Entry date: %s\n\n%s\n\nReturn the JSON object only.", date, xmlutil.Wrap("entry", text))
}

func feedback(problems []string) string {
	var sb strings.Builder
	sb.WriteString("Your previous response had validation errors:\n")
	for _, p := range problems {
		sb.WriteString("- ")
		sb.WriteString(p)
		sb.WriteString("\n")
	}
	sb.WriteString("Return the corrected JSON object only.")
	return sb.String()
}
