// Package kv abstracts the visitor-scoped persistent key-value store.
// In a browser this is localStorage; the engine only ever sees this
// interface, so tests run against the in-memory implementation and
// server-held visitor state can use the redis one.
package kv

import (
	"context"
	"sync"
)

// Store is a visitor-scoped key-value store. Implementations provide
// last-writer-wins semantics; no cross-client locking is offered, which the
// frequency-capping logic tolerates by design of its read-modify-write use.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value under key, overwriting any previous value.
	Set(ctx context.Context, key, value string) error
	// Delete removes key; deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Memory is an in-process Store, the localStorage stand-in used in tests.
type Memory struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.data[key]
	return value, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}
