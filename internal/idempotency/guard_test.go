package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type downStore struct{}

func (downStore) CheckOrReserve(context.Context, Key, time.Duration) (Outcome, error) {
	return Outcome{}, ErrUnavailable
}
func (downStore) Commit(context.Context, Key, Result, time.Duration) error { return ErrUnavailable }
func (downStore) Release(context.Context, Key) error                      { return ErrUnavailable }

func TestGuard_FailClosedByDefault(t *testing.T) {
	g := NewGuard(downStore{}, time.Minute)
	_, err := g.CheckOrReserve(context.Background(), paymentKey)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.Error(t, g.Commit(context.Background(), paymentKey, Result{}, time.Hour))
}

func TestGuard_FailOpen(t *testing.T) {
	g := NewGuard(downStore{}, time.Minute, FailOpen())
	out, err := g.CheckOrReserve(context.Background(), paymentKey)
	require.NoError(t, err)
	assert.Equal(t, Reserved, out.Decision)
	assert.True(t, out.Degraded)
	assert.NoError(t, g.Commit(context.Background(), paymentKey, Result{}, time.Hour))
}
