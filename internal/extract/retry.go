package extract

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Options controls retries for model calls.
type Options struct {
	// MaxAttempts bounds both transport retries of a single call and
	// content retries (failed validation) of a whole transform or extraction.
	MaxAttempts int
	// InitialBackoff is the first wait between transport retries.
	InitialBackoff time.Duration
	// Strict rejects fact kinds outside the entity type's vocabulary
	// instead of recording them as notes.
	Strict bool
}

// DefaultOptions returns three attempts with a one second initial backoff.
func DefaultOptions() Options {
	return Options{MaxAttempts: 3, InitialBackoff: time.Second}
}

func (o Options) normalized() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 1
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = time.Second
	}
	return o
}

func (o Options) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.InitialBackoff
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(o.MaxAttempts-1)), ctx)
}

// complete sends one conversation, retrying transient failures with
// exponential backoff.
func complete(ctx context.Context, m Messenger, opts Options, logger *slog.Logger, system string, messages []Message) (string, error) {
	var (
		out     string
		attempt int
	)
	op := func() error {
		attempt++
		text, err := m.Complete(ctx, system, messages)
		if err != nil {
			if !retryable(err) {
				return backoff.Permanent(err)
			}
			logger.Warn("extract: model call failed", "attempt", attempt, "error", err)
			return err
		}
		out = text
		return nil
	}
	if err := backoff.Retry(op, opts.newBackOff(ctx)); err != nil {
		return "", err
	}
	return out, nil
}
