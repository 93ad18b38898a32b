package sentinel

import "sync"

// MemoryStore is a Store without disk access. Create stands in for the
// upgrade script writing a marker.
type MemoryStore struct {
	mu      sync.RWMutex
	present map[Sentinel]bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns a MemoryStore with the given markers already present.
func NewMemoryStore(present ...Sentinel) *MemoryStore {
	m := &MemoryStore{present: make(map[Sentinel]bool)}
	for _, s := range present {
		m.present[s] = true
	}
	return m
}

func (m *MemoryStore) Exists(s Sentinel) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.present[s], nil
}

func (m *MemoryStore) Create(s Sentinel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.present[s] = true
}

func (m *MemoryStore) Remove(s Sentinel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.present, s)
	return nil
}
