package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tsilva/parsehealthlog/internal/config"
	"github.com/tsilva/parsehealthlog/internal/store"
	"github.com/tsilva/parsehealthlog/internal/timeline"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var cfg *config.Config

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	rootCmd := &cobra.Command{
		Use:     "parsehealthlog",
		Short:   "Turn a dated free-text health journal into a curated entity timeline",
		Long:    "parsehealthlog splits a health log into dated entries, normalizes and extracts facts from each entry with Claude, and builds a stable entity timeline that is rebuilt incrementally from the earliest changed entry.",
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return nil
		},
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		runCmd(),
		entitiesCmd(),
		historyCmd(),
		validateCmd(),
		statsCmd(),
		serveCmd(),
		mcpCmd(),
		exportGraphCmd(),
		healthCmd(),
	)

	rootCmd.SetContext(ctx)

	err := rootCmd.Execute()
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if cfg != nil {
		switch cfg.Logging.Level {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg != nil && cfg.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func newStore(logger *slog.Logger) (*store.FileStore, error) {
	return store.NewFileStore(cfg.Output.Dir, logger)
}

// loadView opens the output directory and loads the persisted timeline.
func loadView(ctx context.Context, logger *slog.Logger) (*store.FileStore, *timeline.View, error) {
	st, err := newStore(logger)
	if err != nil {
		return nil, nil, err
	}
	view, err := timeline.NewReader(st).Load(ctx)
	if err != nil {
		return nil, nil, err
	}
	return st, view, nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen]) + "..."
	}
	return s
}
