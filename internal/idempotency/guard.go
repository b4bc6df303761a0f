package idempotency

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Guard applies the unavailability policy on top of a Store.
//
// Fail-closed (the default) turns an unavailable store into a stage error.
// Fail-open lets the stage run as if nothing was recorded, which risks a
// duplicate side effect on redelivery.
type Guard struct {
	store    Store
	lease    time.Duration
	failOpen bool
	log      *zap.Logger
}

// GuardOption customises a Guard.
type GuardOption func(*Guard)

// FailOpen makes an unavailable store count as "not yet done".
func FailOpen() GuardOption {
	return func(g *Guard) { g.failOpen = true }
}

// WithLogger sets the logger used for degraded decisions.
func WithLogger(l *zap.Logger) GuardOption {
	return func(g *Guard) { g.log = l }
}

// NewGuard wraps store. lease bounds how long an uncommitted reservation
// blocks other callers.
func NewGuard(store Store, lease time.Duration, opts ...GuardOption) *Guard {
	g := &Guard{store: store, lease: lease, log: zap.NewNop()}
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *Guard) CheckOrReserve(ctx context.Context, key Key) (Outcome, error) {
	out, err := g.store.CheckOrReserve(ctx, key, g.lease)
	if err == nil {
		return out, nil
	}
	if g.failOpen && errors.Is(err, ErrUnavailable) {
		g.log.Warn("idempotency store unavailable, failing open",
			zap.String("key", key.String()), zap.Error(err))
		return Outcome{Decision: Reserved, Degraded: true}, nil
	}
	return Outcome{}, err
}

func (g *Guard) Commit(ctx context.Context, key Key, result Result, ttl time.Duration) error {
	err := g.store.Commit(ctx, key, result, ttl)
	if err != nil && g.failOpen && errors.Is(err, ErrUnavailable) {
		g.log.Warn("idempotency commit lost, failing open",
			zap.String("key", key.String()), zap.Error(err))
		return nil
	}
	return err
}

func (g *Guard) Release(ctx context.Context, key Key) error {
	err := g.store.Release(ctx, key)
	if err != nil && g.failOpen && errors.Is(err, ErrUnavailable) {
		return nil
	}
	return err
}
