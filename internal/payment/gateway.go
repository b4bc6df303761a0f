// Package payment captures order payments through a Gateway, retrying
// declined attempts with a fixed backoff.
package payment

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

var (
	// ErrDeclined is returned by a gateway that refused the charge.
	ErrDeclined = errors.New("payment declined")
	// ErrGatewayUnavailable is returned while the breaker rejects calls.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
)

// Charge is one attempt to capture an order amount.
type Charge struct {
	OrderID string
	StoreID string
	Amount  float64
	Attempt int
}

// Gateway captures payments. A nil error means the charge succeeded and the
// returned transaction id identifies it.
type Gateway interface {
	Charge(ctx context.Context, c Charge) (string, error)
}

// GatewayFunc adapts a function to Gateway.
type GatewayFunc func(ctx context.Context, c Charge) (string, error)

func (f GatewayFunc) Charge(ctx context.Context, c Charge) (string, error) {
	return f(ctx, c)
}

// SimulatedGateway approves a fixed share of charges at random.
type SimulatedGateway struct {
	mu          sync.Mutex
	rnd         *rand.Rand
	successRate float64
}

// NewSimulatedGateway approves charges with probability successRate.
func NewSimulatedGateway(successRate float64, seed int64) *SimulatedGateway {
	return &SimulatedGateway{
		rnd:         rand.New(rand.NewSource(seed)),
		successRate: successRate,
	}
}

func (g *SimulatedGateway) Charge(ctx context.Context, c Charge) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	g.mu.Lock()
	roll := g.rnd.Float64()
	g.mu.Unlock()
	if roll >= g.successRate {
		return "", ErrDeclined
	}
	return "txn-" + uuid.NewString(), nil
}

// BreakerSettings tunes BreakerGateway.
type BreakerSettings struct {
	// ConsecutiveFailures opens the breaker.
	ConsecutiveFailures uint32
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration
	// Interval resets the closed-state counts. Zero never resets.
	Interval time.Duration
}

// BreakerGateway stops calling a failing gateway for a while. Declines are
// answers, not failures, and never trip it.
type BreakerGateway struct {
	next Gateway
	cb   *gobreaker.CircuitBreaker
}

func NewBreakerGateway(next Gateway, s BreakerSettings, log *zap.Logger) *BreakerGateway {
	if log == nil {
		log = zap.NewNop()
	}
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = 5
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "payment-gateway",
		MaxRequests: 1,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrDeclined)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("payment gateway breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return &BreakerGateway{next: next, cb: cb}
}

func (g *BreakerGateway) Charge(ctx context.Context, c Charge) (string, error) {
	v, err := g.cb.Execute(func() (interface{}, error) {
		return g.next.Charge(ctx, c)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// State reports the breaker state, for health output.
func (g *BreakerGateway) State() string {
	return g.cb.State().String()
}

// reason is the human readable failure recorded on the order.
func reason(err error) string {
	switch {
	case errors.Is(err, ErrDeclined):
		return "Payment declined"
	case errors.Is(err, ErrGatewayUnavailable):
		return "Payment gateway unavailable"
	default:
		return err.Error()
	}
}
