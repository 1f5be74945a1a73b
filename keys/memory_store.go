package keys

import (
	"context"
	"sync"
)

// MemoryStore keeps options in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	options map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{options: make(map[string]string)}
}

func (s *MemoryStore) Get(_ context.Context, name string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.options[name]
	return v, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, name, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.options[name]; ok && old == value {
		return false, nil
	}
	s.options[name] = value
	return true, nil
}
