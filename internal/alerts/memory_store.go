package alerts

import (
	"context"
	"sync"
)

// MemoryStore keeps notifications in process.
type MemoryStore struct {
	mu    sync.Mutex
	lists map[string][]Notification
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{lists: map[string][]Notification{}}
}

func (s *MemoryStore) Push(ctx context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := append([]Notification{n}, s.lists[n.StoreID]...)
	if len(list) > Keep {
		list = list[:Keep]
	}
	s.lists[n.StoreID] = list
	return nil
}

func (s *MemoryStore) Latest(ctx context.Context, storeID string) ([]Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Notification(nil), s.lists[storeID]...), nil
}
