package storage

import (
	"context"
	"fmt"
	"io/fs"
	"sync"
)

// Memory is an in-memory Storage. The archive engine stages entries in one
// per archive; tests and the HTTP server use it for uploads.
type Memory struct {
	mu    sync.RWMutex
	files map[string][]byte
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{files: make(map[string][]byte)}
}

// Put stores data at p, replacing any previous content.
func (m *Memory) Put(p string, data []byte) error {
	key, err := cleanKey(p)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.files[key] = data
	m.mu.Unlock()
	return nil
}

// ReadAll returns the bytes stored at p.
func (m *Memory) ReadAll(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := cleanKey(p)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	data, ok := m.files[key]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("memory: %s: %w", p, fs.ErrNotExist)
	}
	return data, nil
}

// List returns the immediate children of prefix.
func (m *Memory) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := cleanKey(prefix)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	keys := make([]string, 0, len(m.files))
	for k := range m.files {
		keys = append(keys, k)
	}
	m.mu.RUnlock()
	return children(keys, key), nil
}

// Delete removes p. Deleting a missing path is not an error.
func (m *Memory) Delete(p string) {
	key, err := cleanKey(p)
	if err != nil {
		return
	}
	m.mu.Lock()
	delete(m.files, key)
	m.mu.Unlock()
}

// Len reports the number of stored paths.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.files)
}
