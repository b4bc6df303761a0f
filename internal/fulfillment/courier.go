package fulfillment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-order-saga/internal/events"
	"github.com/imrishuroy/go-order-saga/internal/orders"
	"github.com/imrishuroy/go-order-saga/internal/stage"
)

// DeliveryStageName keys both the shipped and the delivered transitions.
const DeliveryStageName = "delivery"

// OrderReader loads the current order projection.
type OrderReader interface {
	Get(ctx context.Context, orderID string) (*orders.Order, error)
}

// Courier ships completed orders and reports delivery after Delay.
type Courier struct {
	orders  OrderReader
	carrier string
	delay   time.Duration
	log     *zap.Logger
	nowFunc func() time.Time
}

func NewCourier(reader OrderReader, carrier string, delay time.Duration, log *zap.Logger) *Courier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Courier{
		orders:  reader,
		carrier: carrier,
		delay:   delay,
		log:     log.Named("delivery"),
		nowFunc: time.Now,
	}
}

func (c *Courier) Name() string { return DeliveryStageName }

// Run handles order.completed.
func (c *Courier) Run(ctx context.Context, env events.Envelope) (stage.Effect, error) {
	p, ok := env.Payload.(events.OrderCompleted)
	if !ok {
		return stage.Effect{}, stage.Validation(fmt.Errorf("delivery: unexpected payload %T", env.Payload))
	}

	tracking := TrackingNumber()
	c.log.Info("order shipped",
		zap.String("order_id", p.OrderID),
		zap.String("tracking_number", tracking),
		zap.String("carrier", c.carrier))

	return stage.Effect{
		Result: stage.Done(string(orders.StatusShipped), tracking, nil),
		Status: &orders.StatusUpdate{Status: orders.StatusShipped, TrackingNumber: tracking},
		Publish: []events.Payload{events.DeliveryShipped{
			OrderID:        p.OrderID,
			StoreID:        p.StoreID,
			TrackingNumber: tracking,
			Carrier:        c.carrier,
			Timestamp:      c.nowFunc().UTC(),
		}},
		Next: &stage.Continuation{
			After: c.delay,
			Run: func(ctx context.Context) (stage.Effect, error) {
				return c.deliver(ctx, p.OrderID, p.StoreID, tracking)
			},
		},
	}, nil
}

// deliver fires once the delay elapsed. An order that left shipped in the
// meantime (flagged, for instance) is left alone.
func (c *Courier) deliver(ctx context.Context, orderID, storeID, tracking string) (stage.Effect, error) {
	o, err := c.orders.Get(ctx, orderID)
	if err != nil {
		return stage.Effect{}, stage.Transient(fmt.Errorf("load order %s: %w", orderID, err))
	}
	if o == nil || o.Status != orders.StatusShipped {
		status := "missing"
		if o != nil {
			status = string(o.Status)
		}
		c.log.Info("skipping delivery, order no longer shipped",
			zap.String("order_id", orderID),
			zap.String("status", status))
		return stage.Effect{}, nil
	}

	c.log.Info("order delivered", zap.String("order_id", orderID), zap.String("tracking_number", tracking))
	return stage.Effect{
		Result: stage.Done(string(orders.StatusDelivered), tracking, nil),
		Status: &orders.StatusUpdate{Status: orders.StatusDelivered},
		Publish: []events.Payload{events.DeliveryDelivered{
			OrderID:        orderID,
			StoreID:        storeID,
			TrackingNumber: tracking,
			Timestamp:      c.nowFunc().UTC(),
		}},
	}, nil
}

// TrackingNumber returns a fresh MOT- prefixed tracking number.
func TrackingNumber() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "MOT-" + strings.ToUpper(id[:8])
}
