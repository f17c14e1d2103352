package cache

import (
	"sync"

	"github.com/sightama/canifuckingdownwindtoday/internal/models"
)

// PoolStore persists the offline variation pool. Get returns the pool if
// present, Set stores it without expiry, Clear drops it. Implementations:
// in-memory (default) and memcached (survives restarts).
type PoolStore interface {
	Get() (models.PersonaPool, bool, error)
	Set(pool models.PersonaPool) error
	Clear() error
}

// MemoryPoolStore implements PoolStore with a guarded in-process copy.
type MemoryPoolStore struct {
	mu   sync.RWMutex
	pool models.PersonaPool
}

// NewMemoryPoolStore creates an empty in-memory pool store.
func NewMemoryPoolStore() *MemoryPoolStore {
	return &MemoryPoolStore{}
}

// Get returns the stored pool if one was set.
func (m *MemoryPoolStore) Get() (models.PersonaPool, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.pool == nil {
		return nil, false, nil
	}
	out := make(models.PersonaPool, len(m.pool))
	for id, lines := range m.pool {
		cp := make([]string, len(lines))
		copy(cp, lines)
		out[id] = cp
	}
	return out, true, nil
}

// Set stores the pool, replacing any previous one.
func (m *MemoryPoolStore) Set(pool models.PersonaPool) error {
	cp := make(models.PersonaPool, len(pool))
	for id, lines := range pool {
		l := make([]string, len(lines))
		copy(l, lines)
		cp[id] = l
	}
	m.mu.Lock()
	m.pool = cp
	m.mu.Unlock()
	return nil
}

// Clear drops the stored pool.
func (m *MemoryPoolStore) Clear() error {
	m.mu.Lock()
	m.pool = nil
	m.mu.Unlock()
	return nil
}
