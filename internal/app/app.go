// Package app wires stores, stages and transports from a Config. Both
// binaries build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-order-saga/internal/alerts"
	"github.com/imrishuroy/go-order-saga/internal/aws"
	"github.com/imrishuroy/go-order-saga/internal/bus"
	"github.com/imrishuroy/go-order-saga/internal/config"
	"github.com/imrishuroy/go-order-saga/internal/fraud"
	"github.com/imrishuroy/go-order-saga/internal/fulfillment"
	"github.com/imrishuroy/go-order-saga/internal/idempotency"
	"github.com/imrishuroy/go-order-saga/internal/inventory"
	"github.com/imrishuroy/go-order-saga/internal/metrics"
	"github.com/imrishuroy/go-order-saga/internal/orders"
	"github.com/imrishuroy/go-order-saga/internal/payment"
	"github.com/imrishuroy/go-order-saga/internal/saga"
	"github.com/imrishuroy/go-order-saga/internal/schedule"
)

// App is a fully wired pipeline.
//
// In local mode every event travels over the in-process Bus, optionally
// mirrored to SQS. Otherwise Bus is nil and stage output is sent straight to
// the queue for the worker Lambda.
type App struct {
	Config       config.Config
	Log          *zap.Logger
	Orders       orders.Store
	Ledger       inventory.Ledger
	Alerts       *alerts.Listener
	Metrics      *metrics.Registry
	CloudWatch   *metrics.CloudWatchSink
	Gateway      *payment.BreakerGateway
	Orchestrator *saga.Orchestrator
	Monitor      *inventory.Monitor
	Bus          *bus.Bus
	Timers       *schedule.Timers

	clients  *aws.AWSClients
	redis    *redis.Client
	activity *schedule.Activity
}

// Local reports whether the pipeline runs on the in-process bus.
func (a *App) Local() bool { return a.Bus != nil }

// Build wires everything cfg asks for. The inventory is seeded in local mode
// when SeedInventory is set.
func Build(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	activity := schedule.NewActivity()
	a := &App{
		Config:   cfg,
		Log:      log,
		Metrics:  metrics.NewRegistry(),
		Timers:   schedule.NewTrackedTimers(activity),
		activity: activity,
	}

	if err := a.connect(ctx); err != nil {
		return nil, err
	}

	idem, err := a.idempotencyStore()
	if err != nil {
		return nil, err
	}
	a.Orders, a.Ledger = a.orderStores()
	a.Alerts = alerts.NewListener(a.alertStore(), log)

	rec := metrics.Recorder(a.Metrics)
	if cfg.CloudWatchNamespace != "" {
		a.CloudWatch = metrics.NewCloudWatchSink(a.clients.CloudWatch, cfg.CloudWatchNamespace)
		rec = metrics.Multi(a.Metrics, a.CloudWatch)
	}

	var pub saga.Publisher
	if cfg.RunLocal || cfg.QueueURL == "" {
		opts := bus.Options{
			Lanes:         cfg.BusLanes,
			MaxDeliveries: cfg.BusMaxDeliveries,
			Logger:        log,
			Activity:      activity,
		}
		if cfg.QueueURL != "" {
			opts.Forwarder = aws.NewPublisher(a.clients.SQS, cfg.QueueURL)
		}
		a.Bus = bus.New(opts)
		pub = a.Bus
	} else {
		pub = aws.NewPublisher(a.clients.SQS, cfg.QueueURL)
	}

	a.Gateway = payment.NewBreakerGateway(
		payment.NewSimulatedGateway(cfg.Payment.SuccessRate, time.Now().UnixNano()),
		payment.BreakerSettings{
			ConsecutiveFailures: uint32(cfg.Payment.BreakerFailures),
			Timeout:             cfg.Payment.BreakerTimeout,
		},
		log,
	)
	stages := saga.Stages{
		Fraud: fraud.NewEvaluator(cfg.Fraud, a.Orders, log),
		Payment: payment.NewProcessor(a.Gateway, payment.Options{
			MaxAttempts: cfg.Payment.MaxRetries,
			Backoff:     cfg.Payment.Backoff,
		}, log, rec),
		Inventory:   inventory.NewReserver(a.Ledger, log, rec),
		Fulfillment: fulfillment.NewFulfiller(log),
		Delivery:    fulfillment.NewCourier(a.Orders, cfg.Carrier, cfg.DeliveryDelay, log),
	}

	guardOpts := []idempotency.GuardOption{idempotency.WithLogger(log)}
	if cfg.FailOpen {
		guardOpts = append(guardOpts, idempotency.FailOpen())
	}
	a.Orchestrator = saga.New(
		idempotency.NewGuard(idem, cfg.ReservationLease, guardOpts...),
		a.Orders, pub, stages.Routes(),
		saga.Options{
			ResultTTL:            cfg.ResultTTL,
			ContinuationAttempts: cfg.ContinuationAttempts,
			ContinuationBackoff:  cfg.ContinuationBackoff,
			Scheduler:            a.Timers,
			Logger:               log,
			Observer: func(oc saga.Outcome) {
				rec.StageOutcome(oc.Stage, string(oc.Kind))
			},
		},
	)
	a.Monitor = inventory.NewMonitor(a.Ledger, pub, log, rec)

	if a.Bus != nil {
		a.Orchestrator.Register(a.Bus)
		a.Alerts.Register(a.Bus)
		if cfg.SeedInventory {
			if err := a.Ledger.Seed(ctx, inventory.DemoCatalog(cfg.Stores)); err != nil {
				return nil, fmt.Errorf("seed inventory: %w", err)
			}
		}
	}

	log.Info("pipeline ready",
		zap.Bool("local", a.Local()),
		zap.String("idempotency_backend", cfg.IdempotencyBackend),
		zap.String("store_backend", cfg.StoreBackend),
		zap.String("alerts_backend", cfg.AlertsBackend),
		zap.Strings("stores", cfg.Stores))
	return a, nil
}

func (a *App) connect(ctx context.Context) error {
	cfg := a.Config
	if cfg.IdempotencyBackend == config.BackendDynamoDB || cfg.StoreBackend == config.BackendDynamoDB ||
		cfg.QueueURL != "" || cfg.CloudWatchNamespace != "" {
		clients, err := aws.NewAWSClients(ctx, cfg.AWS)
		if err != nil {
			return err
		}
		a.clients = clients
	}
	if cfg.IdempotencyBackend == config.BackendRedis || cfg.AlertsBackend == config.BackendRedis {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
	}
	return nil
}

func (a *App) idempotencyStore() (idempotency.Store, error) {
	switch a.Config.IdempotencyBackend {
	case config.BackendDynamoDB:
		return idempotency.NewDynamoStore(a.clients.DynamoDB, a.Config.Tables.Idempotency), nil
	case config.BackendRedis:
		return idempotency.NewRedisStore(a.redis, "idem:"), nil
	case config.BackendMemory:
		return idempotency.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown idempotency backend %q", a.Config.IdempotencyBackend)
	}
}

func (a *App) orderStores() (orders.Store, inventory.Ledger) {
	if a.Config.StoreBackend == config.BackendDynamoDB {
		return orders.NewDynamoStore(a.clients.DynamoDB, a.Config.Tables.Orders),
			inventory.NewDynamoLedger(a.clients.DynamoDB, a.Config.Tables.Inventory, a.Config.Stores)
	}
	return orders.NewMemoryStore(), inventory.NewMemoryLedger(a.Config.Stores...)
}

func (a *App) alertStore() alerts.Store {
	if a.Config.AlertsBackend == config.BackendRedis {
		return alerts.NewRedisStore(a.redis, "notifications:", time.Hour)
	}
	return alerts.NewMemoryStore()
}

// StartCron runs the inventory sweep on the configured schedule until the
// returned stop function is called.
func (a *App) StartCron(ctx context.Context) (func(), error) {
	c := cron.New()
	_, err := c.AddFunc(a.Config.InventoryCron, func() {
		n, err := a.Monitor.Sweep(ctx)
		if err != nil {
			a.Log.Error("inventory sweep", zap.Error(err))
			return
		}
		a.Log.Debug("inventory sweep done", zap.Int("alerts", n))
	})
	if err != nil {
		return nil, fmt.Errorf("INVENTORY_CRON %q: %w", a.Config.InventoryCron, err)
	}
	c.Start()
	return func() { <-c.Stop().Done() }, nil
}

// Settle blocks until no event is queued on the bus and no continuation is
// pending. Bus deliveries and continuations share one activity count, so a
// continuation publishing while Settle waits is covered.
func (a *App) Settle() {
	a.activity.Wait()
}

// Close settles the pipeline, flushes metrics and releases connections.
func (a *App) Close(ctx context.Context) error {
	a.Settle()
	var errs []error
	if a.Bus != nil {
		a.Bus.Close()
	}
	if a.CloudWatch != nil {
		if err := a.CloudWatch.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	return errors.Join(errs...)
}
