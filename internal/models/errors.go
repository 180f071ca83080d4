package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrExtractionFailure marks an entry whose transform or extraction
	// exhausted its retries. It is isolated to that entry.
	ErrExtractionFailure = errors.New("extraction failure")

	// ErrSequenceViolation marks out-of-order replay or an id counter
	// regression. It is fatal for the run.
	ErrSequenceViolation = errors.New("sequence violation")
)

// ExtractionError describes a failed entry.
type ExtractionError struct {
	Date     string
	Stage    string
	Attempts int
	Problems []string
	Err      error

	// LastOutput is the final collaborator response, kept for diagnostics.
	LastOutput string
}

func (e *ExtractionError) Error() string {
	msg := fmt.Sprintf("%s %s: failed after %d attempt(s)", e.Stage, e.Date, e.Attempts)
	if len(e.Problems) > 0 {
		msg += ": " + strings.Join(e.Problems, "; ")
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Is matches ErrExtractionFailure.
func (e *ExtractionError) Is(target error) bool { return target == ErrExtractionFailure }

// SequenceError describes a sequence violation.
type SequenceError struct {
	Date   string
	Reason string
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("sequence violation at %s: %s", e.Date, e.Reason)
}

// Is matches ErrSequenceViolation.
func (e *SequenceError) Is(target error) bool { return target == ErrSequenceViolation }
