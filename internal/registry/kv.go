// Package registry keeps artifact provenance and checkout state on top of a
// small key/value contract.
package registry

import (
	"bytes"
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned by KV implementations for missing keys.
var ErrNotFound = errors.New("registry: key not found")

// KV is the storage contract shared by all registries. Values are opaque;
// indexes are insertion-ordered member lists.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// PutIfAbsent stores value unless key exists and reports whether it did.
	PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error)
	// CompareAndSwap replaces old with new and reports whether key still held old.
	CompareAndSwap(ctx context.Context, key string, old, new []byte) (bool, error)
	AppendIndex(ctx context.Context, index, member string) error
	Index(ctx context.Context, index string) ([]string, error)
}

// MemoryKV keeps everything in process memory.
type MemoryKV struct {
	mu      sync.RWMutex
	values  map[string][]byte
	indexes map[string][]string
}

// NewMemoryKV returns an empty in-memory store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{values: map[string][]byte{}, indexes: map[string][]string{}}
}

func (m *MemoryKV) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(v), nil
}

func (m *MemoryKV) PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = bytes.Clone(value)
	return true, nil
}

func (m *MemoryKV) CompareAndSwap(ctx context.Context, key string, old, new []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.values[key]
	if !ok {
		return false, ErrNotFound
	}
	if !bytes.Equal(cur, old) {
		return false, nil
	}
	m.values[key] = bytes.Clone(new)
	return true, nil
}

func (m *MemoryKV) AppendIndex(ctx context.Context, index, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.indexes[index] {
		if existing == member {
			return nil
		}
	}
	m.indexes[index] = append(m.indexes[index], member)
	return nil
}

func (m *MemoryKV) Index(ctx context.Context, index string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.indexes[index]...), nil
}

var _ KV = (*MemoryKV)(nil)
