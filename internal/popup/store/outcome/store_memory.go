package outcome

import (
	"context"
	"sync"
)

// InMemoryStore is a process-local outcome slot, the equivalent of a tab's
// session storage.
type InMemoryStore struct {
	mu    sync.Mutex
	items map[string]string
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{items: make(map[string]string)}
}

func (s *InMemoryStore) Put(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = value
	return nil
}

func (s *InMemoryStore) Take(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.items[key]
	if ok {
		delete(s.items, key)
	}
	return value, ok, nil
}

// Peek reads without consuming.
func (s *InMemoryStore) Peek(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.items[key]
	return value, ok
}
