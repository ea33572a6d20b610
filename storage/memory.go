package storage

import (
	"strings"
	"sync"

	"github.com/jrsteele09/go-auth-client/internal/errors"
)

// MemoryBackend is the tab-scoped backend: contents live exactly as long as
// the process. An optional byte quota mimics the capacity limit of browser
// storage.
type MemoryBackend struct {
	mu    sync.RWMutex
	items map[string]string
	quota int
	used  int
}

var (
	_ Backend = (*MemoryBackend)(nil)
	_ Batcher = (*MemoryBackend)(nil)
)

// NewMemoryBackend creates an empty in-memory backend. A quota of zero or less
// means unlimited.
func NewMemoryBackend(quota int) *MemoryBackend {
	return &MemoryBackend{
		items: make(map[string]string),
		quota: quota,
	}
}

func (m *MemoryBackend) Name() string { return "memory" }

func (m *MemoryBackend) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.items[key]
	return value, ok, nil
}

func (m *MemoryBackend) Set(key, value string) error {
	return m.SetMany(map[string]string{key: value})
}

func (m *MemoryBackend) Remove(key string) error {
	return m.RemoveMany([]string{key})
}

func (m *MemoryBackend) Keys(prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.items))
	for k := range m.items {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// SetMany applies all entries or none of them.
func (m *MemoryBackend) SetMany(entries map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	used := m.used
	for k, v := range entries {
		if old, ok := m.items[k]; ok {
			used -= len(k) + len(old)
		}
		used += len(k) + len(v)
	}
	if m.quota > 0 && used > m.quota {
		return errors.ErrQuotaExceeded
	}

	for k, v := range entries {
		m.items[k] = v
	}
	m.used = used
	return nil
}

func (m *MemoryBackend) RemoveMany(keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, k := range keys {
		if old, ok := m.items[k]; ok {
			m.used -= len(k) + len(old)
			delete(m.items, k)
		}
	}
	return nil
}
