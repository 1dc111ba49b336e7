package catalog

import "sync"

// Store publishes the current catalog snapshot to concurrent readers.
type Store struct {
	mu  sync.RWMutex
	cur *Catalog
}

func NewStore(c *Catalog) *Store {
	if c == nil {
		c = &Catalog{buckets: map[string]map[int]map[int]string{}, quality: map[int]map[string]string{}}
	}
	return &Store{cur: c}
}

// Get returns the current snapshot. Callers must not mutate it.
func (s *Store) Get() *Catalog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Set swaps in a new snapshot.
func (s *Store) Set(c *Catalog) {
	if c == nil {
		return
	}
	s.mu.Lock()
	s.cur = c
	s.mu.Unlock()
}
