package app

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/imrishuroy/go-order-saga/internal/alerts"
	"github.com/imrishuroy/go-order-saga/internal/config"
	"github.com/imrishuroy/go-order-saga/internal/events"
	"github.com/imrishuroy/go-order-saga/internal/orders"
)

func localConfig(t *testing.T, overrides map[string]string) config.Config {
	t.Helper()
	vars := map[string]string{
		"RUN_LOCAL":            "true",
		"PAYMENT_SUCCESS_RATE": "1",
		"PAYMENT_BACKOFF":      "5ms",
		"DELIVERY_DELAY":       "20ms",
	}
	for k, v := range overrides {
		vars[k] = v
	}
	cfg, err := config.FromEnv(func(name string) string { return vars[name] })
	require.NoError(t, err)
	return cfg
}

func TestBuild_LocalPipelineDeliversOrder(t *testing.T) {
	ctx := context.Background()
	a, err := Build(ctx, localConfig(t, nil), zaptest.NewLogger(t))
	require.NoError(t, err)
	require.True(t, a.Local())

	id := uuid.NewString()
	require.NoError(t, a.Orchestrator.Submit(ctx, events.OrderCreated{
		OrderID:      id,
		CustomerName: "Ada",
		Items:        []events.LineItem{{ProductName: "Motia Pro Headset", Quantity: 1, Price: 99}},
		TotalAmount:  99,
		StoreID:      "X",
	}))
	a.Settle()

	o, err := a.Orders.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, orders.StatusDelivered, o.Status)
	assert.NotEmpty(t, o.TrackingNumber)

	records, err := a.Ledger.List(ctx, "X")
	require.NoError(t, err)
	for _, r := range records {
		if r.ProductName == "Motia Pro Headset" {
			assert.Equal(t, 24, r.Stock)
		}
	}

	notes, err := a.Alerts.Latest(ctx, "X")
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "New Order Created", notes[0].Title)

	require.NoError(t, a.Close(ctx))
}

func TestBuild_SweepRaisesAlerts(t *testing.T) {
	ctx := context.Background()
	a, err := Build(ctx, localConfig(t, nil), zaptest.NewLogger(t))
	require.NoError(t, err)

	n, err := a.Monitor.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	a.Settle()

	notes, err := a.Alerts.Latest(ctx, "Y")
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, alerts.TypeWarning, notes[0].Type)
	require.NoError(t, a.Close(ctx))
}

func TestBuild_NoSeed(t *testing.T) {
	ctx := context.Background()
	a, err := Build(ctx, localConfig(t, map[string]string{"SEED_INVENTORY": "false"}), nil)
	require.NoError(t, err)

	records, err := a.Ledger.List(ctx, "X")
	require.NoError(t, err)
	assert.Empty(t, records)
	require.NoError(t, a.Close(ctx))
}

func TestStartCron(t *testing.T) {
	ctx := context.Background()
	a, err := Build(ctx, localConfig(t, map[string]string{"INVENTORY_CRON": "@every 1s"}), nil)
	require.NoError(t, err)

	stop, err := a.StartCron(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		notes, err := a.Alerts.Latest(ctx, "Y")
		return err == nil && len(notes) > 0
	}, 3*time.Second, 20*time.Millisecond)
	stop()
	require.NoError(t, a.Close(ctx))
}

func TestStartCron_BadSpec(t *testing.T) {
	a, err := Build(context.Background(), localConfig(t, map[string]string{"INVENTORY_CRON": "every minute"}), nil)
	require.NoError(t, err)

	_, err = a.StartCron(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVENTORY_CRON")
}

func TestSettle_WaitsForContinuationPublishingDuringWait(t *testing.T) {
	ctx := context.Background()
	a, err := Build(ctx, localConfig(t, map[string]string{"SEED_INVENTORY": "false"}), zaptest.NewLogger(t))
	require.NoError(t, err)

	// The timers publish after the bus has gone idle.
	for i := 0; i < 5; i++ {
		stock := i
		a.Timers.After(time.Duration(10*(i+1))*time.Millisecond, func() {
			assert.NoError(t, a.Bus.Publish(ctx, events.New(events.ThresholdReached{
				StoreID: "Z", ProductName: "Motia IoT Sensor Kit", CurrentStock: stock, Threshold: 10,
			})))
		})
	}
	a.Settle()

	notes, err := a.Alerts.Latest(ctx, "Z")
	require.NoError(t, err)
	assert.Len(t, notes, 5)
	assert.Zero(t, a.Timers.Pending())
	require.NoError(t, a.Close(ctx))
}
