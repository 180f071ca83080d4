package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// FileStore keeps artifacts as files below a root directory.
type FileStore struct {
	root   string
	logger *slog.Logger
}

// NewFileStore creates a FileStore rooted at root, creating the directory if needed.
func NewFileStore(root string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("store: creating root %s: %w", root, err)
	}
	return &FileStore{root: root, logger: logger}, nil
}

// Root returns the directory the store writes to.
func (s *FileStore) Root() string { return s.root }

// Path returns the filesystem path of an artifact.
func (s *FileStore) Path(id string) string {
	return filepath.Join(s.root, filepath.FromSlash(id))
}

// Read returns the content of an artifact.
func (s *FileStore) Read(_ context.Context, id string) (string, error) {
	if err := ValidateID(id); err != nil {
		return "", err
	}
	b, err := os.ReadFile(s.Path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("store: reading %s: %w", id, err)
	}
	return string(b), nil
}

// Write atomically replaces an artifact.
func (s *FileStore) Write(_ context.Context, id, content string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	p := s.Path(id)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("store: creating directory for %s: %w", id, err)
	}
	if err := writeFileAtomic(p, []byte(content), 0o644); err != nil {
		return fmt.Errorf("store: writing %s: %w", id, err)
	}
	s.logger.Debug("store: wrote artifact", "id", id, "bytes", len(content))
	return nil
}

// Remove deletes an artifact.
func (s *FileStore) Remove(_ context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	if err := os.Remove(s.Path(id)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("store: removing %s: %w", id, err)
	}
	return nil
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it into place, so the target is either the old or the new content.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	tmp, err := os.CreateTemp(dir, base+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
