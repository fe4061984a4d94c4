package cache

import (
	"context"
	"sync"
	"time"
)

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// MemoryProvider is a process-local Provider with lazy expiry, used when no
// Valkey address is configured. Entries beyond maxEntries evict the entry
// closest to expiry.
type MemoryProvider struct {
	mu         sync.Mutex
	data       map[string]memoryItem
	maxEntries int
	now        func() time.Time
}

// NewMemoryProvider creates an in-memory cache holding at most maxEntries keys.
func NewMemoryProvider(maxEntries int) *MemoryProvider {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &MemoryProvider{
		data:       make(map[string]memoryItem),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get returns a copy of the stored value or ErrCacheMiss.
func (m *MemoryProvider) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.data[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	if !it.expiresAt.IsZero() && m.now().After(it.expiresAt) {
		delete(m.data, key)
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), it.value...), nil
}

// Set stores a copy of value. A non-positive ttl never expires.
func (m *MemoryProvider) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expires time.Time
	if ttl > 0 {
		expires = m.now().Add(ttl)
	}
	if _, exists := m.data[key]; !exists && len(m.data) >= m.maxEntries {
		m.evictLocked()
	}
	m.data[key] = memoryItem{value: append([]byte(nil), value...), expiresAt: expires}
	return nil
}

// Len reports the number of stored entries, expired ones included.
func (m *MemoryProvider) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

// Close drops all entries.
func (m *MemoryProvider) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string]memoryItem)
	return nil
}

func (m *MemoryProvider) evictLocked() {
	now := m.now()
	var (
		victim string
		oldest time.Time
		found  bool
	)
	for key, it := range m.data {
		if !it.expiresAt.IsZero() && now.After(it.expiresAt) {
			delete(m.data, key)
			return
		}
		if it.expiresAt.IsZero() {
			continue
		}
		if !found || it.expiresAt.Before(oldest) {
			victim, oldest, found = key, it.expiresAt, true
		}
	}
	if !found {
		for key := range m.data {
			victim = key
			break
		}
	}
	delete(m.data, victim)
}
