package jobstore

import (
	"context"
	"errors"
	"sync"
)

// Sentinel errors for KV backends.
var (
	// ErrNotFound is returned by KV.Get when the key is absent.
	ErrNotFound = errors.New("key not found")

	// ErrConflict indicates a concurrent writer aborted a multi-key write.
	ErrConflict = errors.New("write conflict")
)

// KV is the durable string key-value capability the store persists into.
// SetMany and Delete must apply all keys or none.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	SetMany(ctx context.Context, entries map[string]string) error
	Delete(ctx context.Context, keys ...string) error
}

// MemoryKV is a process-local KV, used by tests and the "memory" backend.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemoryKV creates an empty in-memory KV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string]string)}
}

func (m *MemoryKV) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemoryKV) SetMany(_ context.Context, entries map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range entries {
		m.data[k] = v
	}
	return nil
}

func (m *MemoryKV) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

// Len returns the number of stored keys.
func (m *MemoryKV) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
