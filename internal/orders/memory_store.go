package orders

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps the projection in process.
type MemoryStore struct {
	mu      sync.RWMutex
	orders  map[string]Order
	nowFunc func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:  map[string]Order{},
		nowFunc: time.Now,
	}
}

func (s *MemoryStore) Create(ctx context.Context, o Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.OrderID]; ok {
		return ErrAlreadyExists
	}
	s.orders[o.OrderID] = clone(o)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, orderID string) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, nil
	}
	c := clone(o)
	return &c, nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, orderID string, u StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	if !CanTransition(o.Status, u.Status) {
		return ErrStatusMismatch
	}

	now := s.nowFunc().UTC()
	o.Status = u.Status
	o.UpdatedAt = now
	if u.PaymentStatus != "" {
		o.PaymentStatus = u.PaymentStatus
	}
	if u.FailureReason != "" {
		o.FailureReason = u.FailureReason
	}
	if u.TrackingNumber != "" {
		o.TrackingNumber = u.TrackingNumber
	}
	o.Tracking = append(o.Tracking, u.entry(now))
	s.orders[orderID] = o
	return nil
}

func (s *MemoryStore) ListByCustomer(ctx context.Context, customerName string, since time.Time) ([]Order, error) {
	return s.list(func(o Order) bool {
		return o.CustomerName == customerName && !o.CreatedAt.Before(since)
	}), nil
}

func (s *MemoryStore) ListByStore(ctx context.Context, storeID string, since time.Time) ([]Order, error) {
	return s.list(func(o Order) bool {
		return o.StoreID == storeID && !o.CreatedAt.Before(since)
	}), nil
}

func (s *MemoryStore) list(keep func(Order) bool) []Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Order
	for _, o := range s.orders {
		if keep(o) {
			out = append(out, clone(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func clone(o Order) Order {
	o.Items = append(o.Items[:0:0], o.Items...)
	o.Tracking = append(o.Tracking[:0:0], o.Tracking...)
	return o
}
