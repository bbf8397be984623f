// Package kvstore provides the small key-value store backing the usage
// counters. Callers must tolerate absent keys (first run) and treat store
// failures as non-fatal.
package kvstore

import (
	"context"
	"sync"
)

// Store is a minimal get/put key-value abstraction.
type Store interface {
	// Get returns the stored value and whether the key was present.
	Get(ctx context.Context, key string) (string, bool, error)
	// Put stores the value under the key, replacing any previous value.
	Put(ctx context.Context, key, value string) error
	Close() error
}

// Memory is an in-process Store used for tests and storage-less deployments.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

func (m *Memory) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.values[key]
	return value, ok, nil
}

func (m *Memory) Put(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[key] = value
	return nil
}

func (m *Memory) Close() error {
	return nil
}
