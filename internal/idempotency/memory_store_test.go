package idempotency

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_ConcurrentReserveGrantsOneOwner(t *testing.T) {
	s := NewMemoryStore()
	key := Key{StoreID: "Y", Stage: "inventory", OrderID: "o-1"}

	var reserved, inflight atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := s.CheckOrReserve(context.Background(), key, time.Minute)
			require.NoError(t, err)
			switch out.Decision {
			case Reserved:
				reserved.Add(1)
			case InFlight:
				inflight.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), reserved.Load())
	assert.Equal(t, int32(31), inflight.Load())
}

func TestMemoryStore_LeaseAndTTLExpiry(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()
	s.nowFunc = func() time.Time { return now }
	key := Key{StoreID: "Y", Stage: "fulfillment", OrderID: "o-2"}
	ctx := context.Background()

	out, err := s.CheckOrReserve(ctx, key, time.Minute)
	require.NoError(t, err)
	require.Equal(t, Reserved, out.Decision)

	// holder crashed: lease runs out, a redelivery may take over
	now = now.Add(2 * time.Minute)
	out, err = s.CheckOrReserve(ctx, key, time.Minute)
	require.NoError(t, err)
	require.Equal(t, Reserved, out.Decision)

	require.NoError(t, s.Commit(ctx, key, Result{Status: "fulfilled"}, time.Hour))
	out, err = s.CheckOrReserve(ctx, key, time.Minute)
	require.NoError(t, err)
	require.Equal(t, AlreadyDone, out.Decision)
	assert.Equal(t, "fulfilled", out.Result.Status)

	now = now.Add(time.Hour + time.Second)
	out, err = s.CheckOrReserve(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, Reserved, out.Decision)
}

func TestMemoryStore_Release(t *testing.T) {
	s := NewMemoryStore()
	key := Key{StoreID: "Z", Stage: "payment", OrderID: "o-3"}
	ctx := context.Background()

	_, err := s.CheckOrReserve(ctx, key, time.Minute)
	require.NoError(t, err)
	require.NoError(t, s.Release(ctx, key))

	out, err := s.CheckOrReserve(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, Reserved, out.Decision)
}
