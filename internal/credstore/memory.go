package credstore

import (
	"context"
	"sync"
)

// MemoryStore keeps the pair in process memory.
type MemoryStore struct {
	mu   sync.Mutex
	pair Pair
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Save replaces the stored pair.
func (s *MemoryStore) Save(_ context.Context, p Pair) error {
	s.mu.Lock()
	s.pair = p
	s.mu.Unlock()
	return nil
}

// Load returns the stored pair or ErrNotFound.
func (s *MemoryStore) Load(_ context.Context) (Pair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fromValues(s.pair.Access, s.pair.Refresh)
}

// Clear forgets the stored pair.
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	s.pair = Pair{}
	s.mu.Unlock()
	return nil
}
