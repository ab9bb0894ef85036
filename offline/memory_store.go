package offline

import (
	"context"
	"sync"
)

// MemoryStore is a non-durable QueueStore. Items are lost on restart; use it
// for tests or when durability is explicitly not wanted.
type MemoryStore struct {
	mu    sync.Mutex
	items []QueueItem
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load implements QueueStore.
func (s *MemoryStore) Load(ctx context.Context) ([]QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]QueueItem, len(s.items))
	copy(out, s.items)
	return out, nil
}

// Insert implements QueueStore.
func (s *MemoryStore) Insert(ctx context.Context, item QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, item)
	return nil
}

// UpdateRetry implements QueueStore.
func (s *MemoryStore) UpdateRetry(ctx context.Context, id string, retryCount int, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.items {
		if s.items[i].ID == id {
			s.items[i].RetryCount = retryCount
			s.items[i].LastError = lastError
			return nil
		}
	}
	return ErrNotFound
}

// Delete implements QueueStore.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.items {
		if s.items[i].ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}
