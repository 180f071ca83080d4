package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tsilva/parsehealthlog/internal/metrics"
	"github.com/tsilva/parsehealthlog/internal/models"
	"github.com/tsilva/parsehealthlog/pkg/xmlutil"
)

var tracer = otel.Tracer("github.com/tsilva/parsehealthlog/internal/extract")

// OKMarker is the token the validator answers with when a processed entry
// faithfully preserves its source.
const OKMarker = "$OK$"

// Transformer rewrites a raw entry into structured text and has the result
// checked against the source before accepting it.
type Transformer struct {
	messenger Messenger
	in        Instructions
	opts      Options
	logger    *slog.Logger
}

// NewTransformer creates a Transformer.
func NewTransformer(m Messenger, in Instructions, opts Options, logger *slog.Logger) *Transformer {
	return &Transformer{messenger: m, in: in, opts: opts.normalized(), logger: logger}
}

// Transform returns the validated structured text for the entry dated date.
// Failures are reported as *models.ExtractionError.
func (t *Transformer) Transform(ctx context.Context, date, raw string) (string, error) {
	ctx, span := tracer.Start(ctx, "extract.Transform", trace.WithAttributes(attribute.String("entry.date", date)))
	defer span.End()

	var lastOutput, lastVerdict string
	for attempt := 1; attempt <= t.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			metrics.Inc(metrics.ExtractionRetries)
		}
		processed, err := complete(ctx, t.messenger, t.opts, t.logger, t.in.Process, []Message{
			{Role: RoleUser, Text: raw},
		})
		if err != nil {
			return "", &models.ExtractionError{Date: date, Stage: "transform", Attempts: attempt, Err: err}
		}
		verdict, err := complete(ctx, t.messenger, t.opts, t.logger, t.in.Validate, []Message{
			{Role: RoleUser, Text: validationRequest(raw, processed)},
		})
		if err != nil {
			return "", &models.ExtractionError{Date: date, Stage: "validate", Attempts: attempt, LastOutput: processed, Err: err}
		}
		if strings.Contains(verdict, OKMarker) {
			span.SetAttributes(attribute.Int("extract.attempts", attempt))
			return processed, nil
		}
		t.logger.Warn("extract: processed entry failed validation",
			"date", date, "attempt", attempt, "verdict", firstLine(verdict))
		lastOutput, lastVerdict = processed, verdict
	}
	return "", &models.ExtractionError{
		Date:       date,
		Stage:      "validate",
		Attempts:   t.opts.MaxAttempts,
		Problems:   verdictProblems(lastVerdict),
		LastOutput: lastOutput,
	}
}

func validationRequest(raw, processed string) string {
	return fmt.Sprintf("Compare the processed entry with its raw source.\n\n%s\n\n%s",
		xmlutil.Wrap("raw_entry", raw),
		xmlutil.Wrap("processed_entry", processed))
}

func verdictProblems(verdict string) []string {
	var out []string
	for _, line := range strings.Split(verdict, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "-*• "))
		if line != "" {
			out = append(out, line)
		}
	}
	if len(out) == 0 {
		out = []string{"validator did not confirm the processed entry"}
	}
	return out
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
