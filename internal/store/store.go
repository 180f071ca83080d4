// Package store persists derived artifacts and decides, per artifact, whether
// it must be regenerated.
package store

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrNotFound is returned by Read and Remove when the artifact does not exist.
var ErrNotFound = errors.New("artifact not found")

// Store defines the interface for artifact persistence.
//
// Artifact ids are slash-separated relative paths such as
// "entries/2024-01-01.facts.json".
type Store interface {
	// Read returns the full stored content of an artifact.
	Read(ctx context.Context, id string) (string, error)

	// Write replaces an artifact. Implementations must be atomic: a reader
	// never observes a partially written artifact.
	Write(ctx context.Context, id, content string) error

	// Remove deletes an artifact.
	Remove(ctx context.Context, id string) error
}

// ValidateID rejects ids that would escape the store root.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("store: empty artifact id")
	}
	if strings.HasPrefix(id, "/") || strings.Contains(id, "\\") {
		return fmt.Errorf("store: artifact id %q must be a relative slash path", id)
	}
	if path.Clean(id) != id {
		return fmt.Errorf("store: artifact id %q is not clean", id)
	}
	for _, part := range strings.Split(id, "/") {
		if part == ".." || part == "." {
			return fmt.Errorf("store: artifact id %q escapes the store root", id)
		}
	}
	return nil
}
