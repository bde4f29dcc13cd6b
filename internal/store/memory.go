package store

import (
	"context"
	"sync"
)

// Memory is an in-process Collection. It is safe for concurrent use.
//
// Data is not shared across replicas and is lost on restart, so it only suits
// local development and tests. Use Redis everywhere else.
type Memory struct {
	mu     sync.RWMutex
	fields map[string][]byte
}

// NewMemory creates an empty Memory collection.
func NewMemory() *Memory {
	return &Memory{fields: make(map[string][]byte)}
}

func (m *Memory) GetAll(_ context.Context) (map[string][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string][]byte, len(m.fields))
	for id, v := range m.fields {
		out[id] = clone(v)
	}
	return out, nil
}

func (m *Memory) Get(_ context.Context, id string) ([]byte, bool, error) {
	m.mu.RLock()
	v, ok := m.fields[id]
	m.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}
	return clone(v), true, nil
}

func (m *Memory) Set(_ context.Context, id string, value []byte) error {
	m.mu.Lock()
	m.fields[id] = clone(value)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.fields, id)
	m.mu.Unlock()
	return nil
}

// Ping always succeeds.
func (m *Memory) Ping(_ context.Context) error { return nil }

// Len returns the number of fields currently held.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.fields)
}

// clone copies v so callers cannot mutate stored values through the slice.
func clone(v []byte) []byte {
	if v == nil {
		return nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out
}
