package host

import (
	"context"
	"sync"
)

type memoryEntry struct {
	value   []byte
	version uint64
}

// MemoryStateStore is an in-process StateStore. Safe for concurrent use.
type MemoryStateStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

// NewMemoryStateStore creates an empty in-memory state store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{entries: make(map[string]memoryEntry)}
}

// Read returns the stored value and version, or (nil, 0, nil) when absent.
func (s *MemoryStateStore) Read(_ context.Context, key string) ([]byte, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return nil, 0, nil
	}
	value := make([]byte, len(entry.value))
	copy(value, entry.value)
	return value, entry.version, nil
}

// Write stores value when expectedVersion matches the current version.
func (s *MemoryStateStore) Write(_ context.Context, key string, value []byte, expectedVersion uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := uint64(0)
	if entry, ok := s.entries[key]; ok {
		current = entry.version
	}
	if current != expectedVersion {
		return 0, ErrConflict
	}

	stored := make([]byte, len(value))
	copy(stored, value)
	next := current + 1
	s.entries[key] = memoryEntry{value: stored, version: next}
	return next, nil
}

// Delete removes a key. Deleting a missing key is a no-op.
func (s *MemoryStateStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// StaticSecrets is a fixed map of secrets, used in tests and for inline
// config-provided credentials.
type StaticSecrets map[string]string

// Get returns the named secret or ErrNotFound.
func (s StaticSecrets) Get(_ context.Context, name string) (string, error) {
	value, ok := s[name]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}
