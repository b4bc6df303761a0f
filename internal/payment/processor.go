package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/imrishuroy/go-order-saga/internal/events"
	"github.com/imrishuroy/go-order-saga/internal/metrics"
	"github.com/imrishuroy/go-order-saga/internal/orders"
	"github.com/imrishuroy/go-order-saga/internal/stage"
)

// StageName is the idempotency stage of a payment capture.
const StageName = "payment"

// ErrPaymentFailed is the business error once every attempt was declined.
var ErrPaymentFailed = errors.New("payment failed")

// Options configures the retry loop.
type Options struct {
	MaxAttempts int
	Backoff     time.Duration
}

func DefaultOptions() Options {
	return Options{MaxAttempts: 3, Backoff: 2 * time.Second}
}

// Processor charges an order up to MaxAttempts times. Waiting between
// attempts is a continuation, the processor never sleeps.
type Processor struct {
	gateway Gateway
	opts    Options
	log     *zap.Logger
	rec     metrics.Recorder
}

func NewProcessor(gateway Gateway, opts Options, log *zap.Logger, rec metrics.Recorder) *Processor {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{
		gateway: gateway,
		opts:    opts,
		log:     log.Named("payment"),
		rec:     metrics.OrNop(rec),
	}
}

func (p *Processor) Name() string { return StageName }

// Run handles order.created with the first attempt.
func (p *Processor) Run(ctx context.Context, env events.Envelope) (stage.Effect, error) {
	o, ok := env.Payload.(events.OrderCreated)
	if !ok {
		return stage.Effect{}, stage.Validation(fmt.Errorf("payment: unexpected payload %T", env.Payload))
	}
	return p.attempt(ctx, o, 1)
}

type receipt struct {
	TransactionID string `json:"transactionId,omitempty"`
	Attempts      int    `json:"attempts"`
}

func (p *Processor) attempt(ctx context.Context, o events.OrderCreated, n int) (stage.Effect, error) {
	fields := []zap.Field{
		zap.String("order_id", o.OrderID),
		zap.String("store_id", o.StoreID),
		zap.Int("attempt", n),
		zap.Int("max_attempts", p.opts.MaxAttempts),
	}

	txID, err := p.gateway.Charge(ctx, Charge{
		OrderID: o.OrderID,
		StoreID: o.StoreID,
		Amount:  o.TotalAmount,
		Attempt: n,
	})
	if err != nil && ctx.Err() != nil {
		// The worker is going away. Nothing was charged on our side.
		return stage.Effect{}, stage.Transient(fmt.Errorf("payment attempt %d: %w", n, ctx.Err()))
	}

	if err == nil {
		p.log.Info("payment attempt", append(fields, zap.String("outcome", "success"), zap.String("transaction_id", txID))...)
		p.rec.PaymentAttempt("success")
		return stage.Effect{
			Result: stage.Done(orders.PaymentPaid, txID, receipt{TransactionID: txID, Attempts: n}),
			Status: &orders.StatusUpdate{Status: orders.StatusPaid, PaymentStatus: orders.PaymentPaid},
			Publish: []events.Payload{events.PaymentProcessed{
				OrderID:       o.OrderID,
				Status:        "paid",
				Amount:        o.TotalAmount,
				TransactionID: txID,
				Items:         o.Items,
				StoreID:       o.StoreID,
				Timestamp:     time.Now().UTC(),
			}},
		}, nil
	}

	why := reason(err)
	p.log.Warn("payment attempt", append(fields, zap.String("outcome", "declined"), zap.String("reason", why))...)

	if n < p.opts.MaxAttempts {
		p.rec.PaymentAttempt("retry")
		return stage.Effect{
			Next: &stage.Continuation{
				After: p.opts.Backoff,
				Run: func(ctx context.Context) (stage.Effect, error) {
					return p.attempt(ctx, o, n+1)
				},
			},
		}, nil
	}

	p.rec.PaymentAttempt("failure")
	return stage.Effect{
		Result: stage.Done(orders.PaymentFailed, why, receipt{Attempts: n}),
		Status: &orders.StatusUpdate{
			Status:        orders.StatusFailed,
			PaymentStatus: orders.PaymentFailed,
			FailureReason: why,
		},
		Publish: []events.Payload{events.PaymentFailed{
			OrderID:   o.OrderID,
			Status:    "failed",
			Reason:    why,
			Amount:    o.TotalAmount,
			Attempts:  n,
			StoreID:   o.StoreID,
			Timestamp: time.Now().UTC(),
		}},
	}, stage.Business(fmt.Errorf("%w after %d attempts: %s", ErrPaymentFailed, n, why))
}
