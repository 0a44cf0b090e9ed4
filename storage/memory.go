package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

type memObject struct {
	data        []byte
	contentType string
}

// MemoryStore keeps objects in process. It backs tests and the "memory"
// storage backend for local runs.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memObject
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memObject)}
}

func (m *MemoryStore) Put(_ context.Context, key string, body io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("storage: read body: %w", err)
	}
	if size >= 0 && int64(len(data)) != size {
		return fmt.Errorf("storage: expected %d bytes, read %d", size, len(data))
	}
	m.mu.Lock()
	m.objects[key] = memObject{data: data, contentType: contentType}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.RLock()
	obj, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) PresignGet(context.Context, string, time.Duration) (string, error) {
	return "", ErrPresignUnsupported
}

// Len reports how many objects are stored.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
