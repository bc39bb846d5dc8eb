package archive

import (
	"bytes"
	"context"
	"fmt"
	"sync"
)

type MemoryStore struct {
	mu      sync.RWMutex
	prefix  string
	objects map[string][]byte
}

func NewMemoryStore(prefix string) *MemoryStore {
	return &MemoryStore{prefix: prefix, objects: make(map[string][]byte)}
}

func (m *MemoryStore) Put(_ context.Context, key string, payload []byte, _ string) error {
	k, err := cleanKey(key)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.objects[withPrefix(m.prefix, k)] = bytes.Clone(payload)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	k, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	b, ok := m.objects[withPrefix(m.prefix, k)]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, k)
	}
	return bytes.Clone(b), nil
}

func (m *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	k, err := cleanKey(key)
	if err != nil {
		return false, err
	}
	m.mu.RLock()
	_, ok := m.objects[withPrefix(m.prefix, k)]
	m.mu.RUnlock()
	return ok, nil
}
