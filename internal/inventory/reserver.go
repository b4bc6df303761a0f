package inventory

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/imrishuroy/go-order-saga/internal/events"
	"github.com/imrishuroy/go-order-saga/internal/metrics"
	"github.com/imrishuroy/go-order-saga/internal/stage"
)

// StageName is the idempotency stage of a reservation.
const StageName = "inventory"

// Reserver decrements stock for every line of a paid order, or for none.
type Reserver struct {
	ledger Ledger
	log    *zap.Logger
	rec    metrics.Recorder
}

func NewReserver(ledger Ledger, log *zap.Logger, rec metrics.Recorder) *Reserver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reserver{ledger: ledger, log: log.Named("inventory"), rec: metrics.OrNop(rec)}
}

// Reserve decrements items in order. On the first failure every line already
// decremented in this call is restored before the error is returned.
func (r *Reserver) Reserve(ctx context.Context, storeID string, items []events.LineItem) ([]events.StockLevel, error) {
	levels := make([]events.StockLevel, 0, len(items))
	for i, it := range items {
		remaining, err := r.ledger.Decrement(ctx, storeID, it.ProductName, it.Quantity)
		if err != nil {
			r.log.Warn("reservation failed",
				zap.String("store_id", storeID),
				zap.String("product", it.ProductName),
				zap.Int("quantity", it.Quantity),
				zap.Error(err))
			if cerr := r.compensate(ctx, storeID, items[:i]); cerr != nil {
				return nil, fmt.Errorf("%w: %v (reservation error: %v)", ErrCompensationFailed, cerr, err)
			}
			return nil, err
		}
		levels = append(levels, events.StockLevel{ProductName: it.ProductName, RemainingStock: remaining})
	}
	return levels, nil
}

// compensate restores reserved lines newest first. It tries every line even
// after a failure and never retries one.
func (r *Reserver) compensate(ctx context.Context, storeID string, reserved []events.LineItem) error {
	if len(reserved) == 0 {
		return nil
	}
	ctx = context.WithoutCancel(ctx)

	var errs []error
	for i := len(reserved) - 1; i >= 0; i-- {
		it := reserved[i]
		if _, err := r.ledger.Increment(ctx, storeID, it.ProductName, it.Quantity); err != nil {
			errs = append(errs, fmt.Errorf("restore %q x%d: %w", it.ProductName, it.Quantity, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		r.rec.Compensation("failed")
		r.log.Error("inventory compensation incomplete, operator action required",
			zap.Bool("fatal_compensation", true),
			zap.String("store_id", storeID),
			zap.Error(err))
		return err
	}
	r.rec.Compensation("restored")
	r.log.Info("inventory compensation restored reserved lines",
		zap.String("store_id", storeID),
		zap.Int("lines", len(reserved)))
	return nil
}

func (r *Reserver) Name() string { return StageName }

// Run handles payment.processed.
func (r *Reserver) Run(ctx context.Context, env events.Envelope) (stage.Effect, error) {
	p, ok := env.Payload.(events.PaymentProcessed)
	if !ok {
		return stage.Effect{}, stage.Validation(fmt.Errorf("inventory: unexpected payload %T", env.Payload))
	}

	levels, err := r.Reserve(ctx, p.StoreID, p.Items)
	switch {
	case err == nil:
		return stage.Effect{
			Result: stage.Done("reserved", fmt.Sprintf("%d items", len(levels)), levels),
			Publish: []events.Payload{events.InventoryUpdated{
				OrderID:  p.OrderID,
				StoreID:  p.StoreID,
				Items:    levels,
				Reserved: p.Items,
			}},
		}, nil
	case errors.Is(err, ErrInsufficientStock), errors.Is(err, ErrProductNotFound), errors.Is(err, ErrCompensationFailed):
		return stage.Effect{
			Result: stage.Done("failed", err.Error(), nil),
			Publish: []events.Payload{events.InventoryFailed{
				OrderID: p.OrderID,
				StoreID: p.StoreID,
				Reason:  err.Error(),
			}},
		}, stage.Business(err)
	default:
		return stage.Effect{}, stage.Transient(err)
	}
}
