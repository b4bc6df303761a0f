// Package fulfillment advances reserved orders to fulfilled and hands them
// to the courier, which ships them and later marks them delivered.
package fulfillment

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/imrishuroy/go-order-saga/internal/events"
	"github.com/imrishuroy/go-order-saga/internal/orders"
	"github.com/imrishuroy/go-order-saga/internal/stage"
)

// StageName is shared by completion and failure: a reservation ends in
// exactly one of them, so one key covers both.
const StageName = "fulfillment"

// Fulfiller closes the inventory step of an order.
type Fulfiller struct {
	log *zap.Logger
}

func NewFulfiller(log *zap.Logger) *Fulfiller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Fulfiller{log: log.Named("fulfillment")}
}

// Complete returns the stage handling inventory.updated.
func (f *Fulfiller) Complete() stage.Stage { return completeStage{f} }

// Fail returns the stage handling inventory.failed.
func (f *Fulfiller) Fail() stage.Stage { return failStage{f} }

type completeStage struct{ f *Fulfiller }

func (s completeStage) Name() string { return StageName }

func (s completeStage) Run(ctx context.Context, env events.Envelope) (stage.Effect, error) {
	p, ok := env.Payload.(events.InventoryUpdated)
	if !ok {
		return stage.Effect{}, stage.Validation(fmt.Errorf("fulfillment: unexpected payload %T", env.Payload))
	}
	s.f.log.Info("order fulfilled", zap.String("order_id", p.OrderID), zap.String("store_id", p.StoreID))
	return stage.Effect{
		Result: stage.Done(string(orders.StatusFulfilled), "", p.Items),
		Status: &orders.StatusUpdate{Status: orders.StatusFulfilled},
		Publish: []events.Payload{events.OrderCompleted{
			OrderID: p.OrderID,
			StoreID: p.StoreID,
			Status:  string(orders.StatusFulfilled),
			Items:   p.Reserved,
		}},
	}, nil
}

type failStage struct{ f *Fulfiller }

func (s failStage) Name() string { return StageName }

func (s failStage) Run(ctx context.Context, env events.Envelope) (stage.Effect, error) {
	p, ok := env.Payload.(events.InventoryFailed)
	if !ok {
		return stage.Effect{}, stage.Validation(fmt.Errorf("fulfillment: unexpected payload %T", env.Payload))
	}
	s.f.log.Warn("order failed at inventory",
		zap.String("order_id", p.OrderID),
		zap.String("store_id", p.StoreID),
		zap.String("reason", p.Reason))
	return stage.Effect{
		Result: stage.Done(string(orders.StatusFailed), p.Reason, nil),
		Status: &orders.StatusUpdate{Status: orders.StatusFailed, FailureReason: p.Reason},
		Publish: []events.Payload{events.OrderFailed{
			OrderID: p.OrderID,
			StoreID: p.StoreID,
			Status:  string(orders.StatusFailed),
			Reason:  p.Reason,
		}},
	}, nil
}
