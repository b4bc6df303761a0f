package inventory

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

type recordKey struct {
	store   string
	product string
}

// MemoryLedger is a lock-protected ledger owned by whoever constructs it.
type MemoryLedger struct {
	mu      sync.Mutex
	records map[recordKey]Record
	stores  []string
}

// NewMemoryLedger returns an empty ledger. stores is reported by Stores even
// before any record is seeded.
func NewMemoryLedger(stores ...string) *MemoryLedger {
	return &MemoryLedger{
		records: map[recordKey]Record{},
		stores:  append([]string(nil), stores...),
	}
}

func (l *MemoryLedger) Decrement(ctx context.Context, storeID, productName string, qty int) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := recordKey{storeID, productName}
	r, ok := l.records[k]
	if !ok {
		return 0, fmt.Errorf("%w: %q in store %s", ErrProductNotFound, productName, storeID)
	}
	if r.Stock < qty {
		return r.Stock, fmt.Errorf("%w: %q has %d, need %d", ErrInsufficientStock, productName, r.Stock, qty)
	}
	r.Stock -= qty
	if r.Stock == 0 {
		r.Status = StatusOutOfStock
	}
	l.records[k] = r
	return r.Stock, nil
}

func (l *MemoryLedger) Increment(ctx context.Context, storeID, productName string, qty int) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := recordKey{storeID, productName}
	r, ok := l.records[k]
	if !ok {
		return 0, fmt.Errorf("%w: %q in store %s", ErrProductNotFound, productName, storeID)
	}
	r.Stock += qty
	if r.Status == StatusOutOfStock && r.Stock > 0 {
		r.Status = StatusActive
	}
	l.records[k] = r
	return r.Stock, nil
}

func (l *MemoryLedger) List(ctx context.Context, storeID string) ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Record
	for k, r := range l.records {
		if k.store == storeID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductName < out[j].ProductName })
	return out, nil
}

func (l *MemoryLedger) Stores(ctx context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, s := range l.stores {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for k := range l.records {
		if !seen[k.store] {
			seen[k.store] = true
			out = append(out, k.store)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (l *MemoryLedger) ClearStale(ctx context.Context, storeID, productName string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := recordKey{storeID, productName}
	if r, ok := l.records[k]; ok && r.Status == StatusStale {
		r.Status = StatusActive
		l.records[k] = r
	}
	return nil
}

func (l *MemoryLedger) Seed(ctx context.Context, records []Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range records {
		l.records[recordKey{r.StoreID, r.ProductName}] = normalize(r)
	}
	return nil
}

func normalize(r Record) Record {
	if r.Threshold <= 0 {
		r.Threshold = DefaultThreshold
	}
	if r.Status == "" {
		r.Status = StatusActive
	}
	return r
}
