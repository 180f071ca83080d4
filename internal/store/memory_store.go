package store

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-memory implementation of Store for tests.
type MemoryStore struct {
	mu        sync.RWMutex
	artifacts map[string]string
	writes    map[string]int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		artifacts: make(map[string]string),
		writes:    make(map[string]int),
	}
}

// Read returns the content of an artifact.
func (m *MemoryStore) Read(_ context.Context, id string) (string, error) {
	if err := ValidateID(id); err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	content, ok := m.artifacts[id]
	if !ok {
		return "", ErrNotFound
	}
	return content, nil
}

// Write replaces an artifact.
func (m *MemoryStore) Write(_ context.Context, id, content string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifacts[id] = content
	m.writes[id]++
	return nil
}

// Remove deletes an artifact.
func (m *MemoryStore) Remove(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.artifacts[id]; !ok {
		return ErrNotFound
	}
	delete(m.artifacts, id)
	return nil
}

// Writes returns how many times id has been written.
func (m *MemoryStore) Writes(id string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes[id]
}

// TotalWrites returns the number of writes across all artifacts.
func (m *MemoryStore) TotalWrites() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, c := range m.writes {
		n += c
	}
	return n
}

// IDs returns the stored ids with the given prefix in sorted order.
func (m *MemoryStore) IDs(prefix string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for id := range m.artifacts {
		if strings.HasPrefix(id, prefix) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
