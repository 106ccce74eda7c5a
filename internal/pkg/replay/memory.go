package replay

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local Store. Expired entries are swept once the map
// grows beyond maxEntries.
type MemoryStore struct {
	mu         sync.Mutex
	items      map[string]time.Time
	maxEntries int
	now        func() time.Time
}

// NewMemoryStore creates an in-process store. A non-positive maxEntries selects DefaultMaxEntries.
func NewMemoryStore(maxEntries int) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &MemoryStore{
		items:      make(map[string]time.Time),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

func (m *MemoryStore) SetIfAbsent(_ context.Context, key string, ttl time.Duration) (bool, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if expiresAt, ok := m.items[key]; ok && now.Before(expiresAt) {
		return false, nil
	}
	m.items[key] = now.Add(ttl)
	if len(m.items) > m.maxEntries {
		m.sweepLocked(now)
	}
	return true, nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
	return nil
}

// Len returns the number of tracked entries, expired ones included.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *MemoryStore) sweepLocked(now time.Time) {
	for key, expiresAt := range m.items {
		if !now.Before(expiresAt) {
			delete(m.items, key)
		}
	}
}
