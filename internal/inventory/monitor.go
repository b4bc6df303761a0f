package inventory

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/imrishuroy/go-order-saga/internal/events"
	"github.com/imrishuroy/go-order-saga/internal/metrics"
)

// Publisher publishes events; *bus.Bus satisfies it.
type Publisher interface {
	Publish(ctx context.Context, env events.Envelope) error
}

// Monitor scans every store for low stock. Its only write is clearing the
// stale marker.
type Monitor struct {
	ledger  Ledger
	pub     Publisher
	log     *zap.Logger
	rec     metrics.Recorder
	nowFunc func() time.Time
}

func NewMonitor(ledger Ledger, pub Publisher, log *zap.Logger, rec metrics.Recorder) *Monitor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Monitor{
		ledger:  ledger,
		pub:     pub,
		log:     log.Named("inventory-monitor"),
		rec:     metrics.OrNop(rec),
		nowFunc: time.Now,
	}
}

// Sweep checks all stores concurrently, one goroutine per store, and returns
// the number of threshold alerts raised. A failing store does not stop the
// others; the first error is returned after all stores finish.
func (m *Monitor) Sweep(ctx context.Context) (int, error) {
	stores, err := m.ledger.Stores(ctx)
	if err != nil {
		return 0, fmt.Errorf("list stores: %w", err)
	}

	var alerts atomic.Int64
	var g errgroup.Group
	for _, storeID := range stores {
		g.Go(func() error {
			n, err := m.sweepStore(ctx, storeID)
			alerts.Add(int64(n))
			if err != nil {
				m.log.Error("inventory check failed", zap.String("store_id", storeID), zap.Error(err))
				return fmt.Errorf("store %s: %w", storeID, err)
			}
			return nil
		})
	}
	err = g.Wait()
	m.log.Info("inventory check completed", zap.Int("stores", len(stores)), zap.Int64("alerts", alerts.Load()))
	return int(alerts.Load()), err
}

func (m *Monitor) sweepStore(ctx context.Context, storeID string) (int, error) {
	records, err := m.ledger.List(ctx, storeID)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		m.log.Debug("no inventory for store", zap.String("store_id", storeID))
		return 0, nil
	}

	alerts := 0
	for _, r := range records {
		if r.Low() {
			threshold := r.Threshold
			if threshold <= 0 {
				threshold = DefaultThreshold
			}
			m.log.Warn("inventory threshold reached",
				zap.String("store_id", storeID),
				zap.String("product", r.ProductName),
				zap.Int("current_stock", r.Stock),
				zap.Int("threshold", threshold))
			err := m.pub.Publish(ctx, events.New(events.ThresholdReached{
				StoreID:      storeID,
				ProductID:    r.ProductID,
				ProductName:  r.ProductName,
				CurrentStock: r.Stock,
				Threshold:    threshold,
				Timestamp:    m.nowFunc().UTC(),
			}))
			if err != nil {
				return alerts, fmt.Errorf("publish threshold for %q: %w", r.ProductName, err)
			}
			alerts++
			m.rec.ThresholdReached(storeID)
		}
		if r.Status == StatusStale {
			if err := m.ledger.ClearStale(ctx, storeID, r.ProductName); err != nil {
				return alerts, err
			}
		}
	}
	return alerts, nil
}
