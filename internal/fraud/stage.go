package fraud

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/imrishuroy/go-order-saga/internal/events"
	"github.com/imrishuroy/go-order-saga/internal/orders"
	"github.com/imrishuroy/go-order-saga/internal/stage"
)

// Stage names. A recheck after a payment failure is a separate execution of
// the same rules.
const (
	StageName        = "fraud"
	RecheckStageName = "fraud-recheck"
)

// ErrFlagged is the business error of a flagged order.
var ErrFlagged = errors.New("order flagged for fraud")

// History gives read access to the order projection.
type History interface {
	Get(ctx context.Context, orderID string) (*orders.Order, error)
	ListByCustomer(ctx context.Context, customerName string, since time.Time) ([]orders.Order, error)
}

// Evaluator screens new orders and rechecks failed payments. It never writes.
type Evaluator struct {
	name    string
	policy  Policy
	history History
	log     *zap.Logger
	nowFunc func() time.Time
}

// NewEvaluator returns the stage reacting to order.created.
func NewEvaluator(policy Policy, history History, log *zap.Logger) *Evaluator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Evaluator{
		name:    StageName,
		policy:  policy,
		history: history,
		log:     log.Named("fraud"),
		nowFunc: time.Now,
	}
}

// Recheck returns a copy of e reacting to payment.failed.
func (e *Evaluator) Recheck() *Evaluator {
	c := *e
	c.name = RecheckStageName
	return &c
}

func (e *Evaluator) Name() string { return e.name }

func (e *Evaluator) Run(ctx context.Context, env events.Envelope) (stage.Effect, error) {
	snap, storeID, err := e.snapshot(ctx, env)
	if err != nil {
		return stage.Effect{}, err
	}

	now := e.nowFunc()
	history, err := e.history.ListByCustomer(ctx, snap.CustomerName, now.Add(-e.policy.Lookback()))
	if err != nil {
		return stage.Effect{}, stage.Transient(fmt.Errorf("read order history: %w", err))
	}
	a := Evaluate(e.policy, snap, history, now)

	decision := events.FraudDecision{
		OrderID:    snap.OrderID,
		StoreID:    storeID,
		Indicators: append([]string{}, a.Indicators...),
		Reason:     a.Reason(),
	}
	fields := []zap.Field{
		zap.String("order_id", snap.OrderID),
		zap.String("stage", e.name),
		zap.Strings("indicators", a.Indicators),
	}
	if !a.Flagged {
		e.log.Info("order cleared", fields...)
		return stage.Effect{
			Result:  stage.Done("cleared", decision.Reason, decision.Indicators),
			Publish: []events.Payload{events.OrderCleared{FraudDecision: decision}},
		}, nil
	}

	e.log.Warn("order flagged", fields...)
	return stage.Effect{
		Result:  stage.Done(string(orders.StatusFlagged), decision.Reason, decision.Indicators),
		Status:  &orders.StatusUpdate{Status: orders.StatusFlagged, FailureReason: decision.Reason},
		Publish: []events.Payload{events.OrderFlagged{FraudDecision: decision}},
	}, stage.Business(fmt.Errorf("%w: %s", ErrFlagged, decision.Reason))
}

func (e *Evaluator) snapshot(ctx context.Context, env events.Envelope) (Snapshot, string, error) {
	switch p := env.Payload.(type) {
	case events.OrderCreated:
		qty := 0
		for _, it := range p.Items {
			qty += it.Quantity
		}
		return Snapshot{
			OrderID:      p.OrderID,
			CustomerName: p.CustomerName,
			TotalAmount:  p.TotalAmount,
			Quantity:     qty,
		}, p.StoreID, nil
	case events.PaymentFailed:
		o, err := e.history.Get(ctx, p.OrderID)
		if err != nil {
			return Snapshot{}, "", stage.Transient(fmt.Errorf("load order %s: %w", p.OrderID, err))
		}
		if o == nil {
			return Snapshot{}, "", stage.Transient(fmt.Errorf("load order %s: %w", p.OrderID, orders.ErrNotFound))
		}
		qty := 0
		for _, it := range o.Items {
			qty += it.Quantity
		}
		return Snapshot{
			OrderID:       o.OrderID,
			CustomerName:  o.CustomerName,
			TotalAmount:   o.TotalAmount,
			Quantity:      qty,
			PaymentFailed: true,
		}, p.StoreID, nil
	default:
		return Snapshot{}, "", stage.Validation(fmt.Errorf("fraud: unexpected payload %T", env.Payload))
	}
}
