package idempotency

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	status    string
	result    Result
	expiresAt time.Time
}

// MemoryStore is a process-local Store. Used by the local pipeline and tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memEntry
	nowFunc func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: map[string]memEntry{},
		nowFunc: time.Now,
	}
}

func (s *MemoryStore) CheckOrReserve(ctx context.Context, key Key, lease time.Duration) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc()
	k := key.String()
	if e, ok := s.entries[k]; ok && now.Before(e.expiresAt) {
		if e.status == StatusDone {
			res := e.result
			return Outcome{Decision: AlreadyDone, Result: &res}, nil
		}
		return Outcome{Decision: InFlight}, nil
	}
	s.entries[k] = memEntry{status: StatusInProgress, expiresAt: now.Add(lease)}
	return Outcome{Decision: Reserved}, nil
}

func (s *MemoryStore) Commit(ctx context.Context, key Key, result Result, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key.String()] = memEntry{
		status:    StatusDone,
		result:    result,
		expiresAt: s.nowFunc().Add(ttl),
	}
	return nil
}

func (s *MemoryStore) Release(ctx context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key.String()
	if e, ok := s.entries[k]; ok && e.status == StatusInProgress {
		delete(s.entries, k)
	}
	return nil
}
