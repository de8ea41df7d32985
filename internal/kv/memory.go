package kv

import (
	"context"
	"sync"
)

// MemoryStore keeps values in process memory. It is used when no
// persistence is configured and in tests.
type MemoryStore struct {
	*notifier

	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		notifier: newNotifier(),
		values:   make(map[string]string),
	}
}

func (s *MemoryStore) Get(ctx context.Context, namespace, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[FullKey(namespace, key)]
	return v, ok, nil
}

func (s *MemoryStore) Set(ctx context.Context, namespace, key, value string) error {
	s.mu.Lock()
	s.values[FullKey(namespace, key)] = value
	s.mu.Unlock()

	s.publish(s.set(namespace, key, value))
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, namespace, key string) error {
	s.mu.Lock()
	delete(s.values, FullKey(namespace, key))
	s.mu.Unlock()

	s.publish(s.deleted(namespace, key))
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
