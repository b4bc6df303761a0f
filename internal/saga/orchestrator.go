// Package saga drives an order through its stages. Each stage runs at most
// once per order: the orchestrator reserves an idempotency key, runs the
// stage, then commits or releases the key and applies the stage effect.
package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/imrishuroy/go-order-saga/internal/bus"
	"github.com/imrishuroy/go-order-saga/internal/events"
	"github.com/imrishuroy/go-order-saga/internal/fraud"
	"github.com/imrishuroy/go-order-saga/internal/fulfillment"
	"github.com/imrishuroy/go-order-saga/internal/idempotency"
	"github.com/imrishuroy/go-order-saga/internal/orders"
	"github.com/imrishuroy/go-order-saga/internal/schedule"
	"github.com/imrishuroy/go-order-saga/internal/stage"
)

// Publisher accepts stage output. *bus.Bus and *aws.Publisher satisfy it.
type Publisher interface {
	Publish(ctx context.Context, env events.Envelope) error
}

// Subscriber is the bus surface Register needs.
type Subscriber interface {
	Subscribe(topic events.Topic, name string, handler bus.Handler)
}

// Route binds a stage to a topic. IgnoreHalt lets a stage run on orders that
// are already failed or flagged.
type Route struct {
	Stage      stage.Stage
	IgnoreHalt bool
}

// Routes lists, per topic, the stages to run in order.
type Routes map[events.Topic][]Route

// Stages are the saga participants.
type Stages struct {
	Fraud       *fraud.Evaluator
	Payment     stage.Stage
	Inventory   stage.Stage
	Fulfillment *fulfillment.Fulfiller
	Delivery    stage.Stage
}

// Routes wires the order lifecycle. Fraud screening precedes payment on
// order.created, so a flagged order never reaches the gateway.
func (s Stages) Routes() Routes {
	return Routes{
		events.TopicOrderCreated: {
			{Stage: s.Fraud, IgnoreHalt: true},
			{Stage: s.Payment},
		},
		events.TopicPaymentFailed:    {{Stage: s.Fraud.Recheck(), IgnoreHalt: true}},
		events.TopicPaymentProcessed: {{Stage: s.Inventory}},
		events.TopicInventoryUpdated: {{Stage: s.Fulfillment.Complete()}},
		events.TopicInventoryFailed:  {{Stage: s.Fulfillment.Fail()}},
		events.TopicOrderCompleted:   {{Stage: s.Delivery}},
	}
}

// ErrInFlight is returned by Advance when another delivery holds the
// reservation of a stage. The event must come back later: the holder may die
// before committing, and the reservation then expires unused.
var ErrInFlight = errors.New("stage reserved by another delivery")

// Options tunes an Orchestrator.
type Options struct {
	// ResultTTL is how long committed stage results are kept.
	ResultTTL time.Duration
	// ContinuationAttempts caps how often a continuation runs when it keeps
	// failing transiently. ContinuationBackoff is the wait between attempts.
	ContinuationAttempts int
	ContinuationBackoff  time.Duration
	Scheduler            schedule.Scheduler
	Logger               *zap.Logger
	Observer             Observer
}

// Orchestrator runs the routed stages for every event it is handed.
type Orchestrator struct {
	guard   *idempotency.Guard
	orders  orders.Store
	pub     Publisher
	routes  Routes
	ttl     time.Duration
	retries int
	backoff time.Duration
	sched   schedule.Scheduler
	log     *zap.Logger
	observe Observer
}

func New(guard *idempotency.Guard, store orders.Store, pub Publisher, routes Routes, opts Options) *Orchestrator {
	if opts.ResultTTL <= 0 {
		opts.ResultTTL = time.Hour
	}
	if opts.ContinuationAttempts < 1 {
		opts.ContinuationAttempts = 3
	}
	if opts.ContinuationBackoff <= 0 {
		opts.ContinuationBackoff = time.Second
	}
	if opts.Scheduler == nil {
		opts.Scheduler = schedule.NewTimers()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Observer == nil {
		opts.Observer = func(Outcome) {}
	}
	return &Orchestrator{
		guard:   guard,
		orders:  store,
		pub:     pub,
		routes:  routes,
		ttl:     opts.ResultTTL,
		retries: opts.ContinuationAttempts,
		backoff: opts.ContinuationBackoff,
		sched:   opts.Scheduler,
		log:     opts.Logger.Named("saga"),
		observe: opts.Observer,
	}
}

// Topics returns the topics the orchestrator consumes.
func (o *Orchestrator) Topics() []events.Topic {
	out := make([]events.Topic, 0, len(o.routes))
	for t := range o.routes {
		out = append(out, t)
	}
	return out
}

// Register subscribes Advance to every routed topic.
func (o *Orchestrator) Register(s Subscriber) {
	for topic := range o.routes {
		s.Subscribe(topic, "saga", func(ctx context.Context, env events.Envelope) error {
			_, err := o.Advance(ctx, env)
			return err
		})
	}
}

// Submit accepts a new order: it records the pending projection and
// publishes order.created. Submitting an existing order publishes the stored
// order again, so every stage replays and nothing runs twice. An order id
// already used for a different order is rejected with orders.ErrConflict.
func (o *Orchestrator) Submit(ctx context.Context, created events.OrderCreated) error {
	if created.Timestamp.IsZero() {
		created.Timestamp = time.Now().UTC()
	}
	env := events.New(created)
	if err := env.Validate(); err != nil {
		return err
	}
	err := o.orders.Create(ctx, orders.FromCreated(created))
	switch {
	case errors.Is(err, orders.ErrAlreadyExists):
		stored, err := o.existing(ctx, created)
		if err != nil {
			return err
		}
		o.log.Info("order already submitted",
			zap.String("order_id", created.OrderID), zap.String("store_id", stored.StoreID))
		env = events.New(stored.Created())
	case err != nil:
		return fmt.Errorf("create order: %w", err)
	}
	if err := o.pub.Publish(ctx, env); err != nil {
		return fmt.Errorf("publish %s: %w", env.Topic, err)
	}
	return nil
}

// existing loads the projection of an order that is already recorded and
// checks created describes it.
func (o *Orchestrator) existing(ctx context.Context, created events.OrderCreated) (*orders.Order, error) {
	stored, err := o.orders.Get(ctx, created.OrderID)
	if err != nil {
		return nil, fmt.Errorf("load order %s: %w", created.OrderID, err)
	}
	if stored == nil {
		return nil, fmt.Errorf("load order %s: %w", created.OrderID, orders.ErrNotFound)
	}
	if !stored.Matches(created) {
		o.log.Warn("order id reused for a different order",
			zap.String("order_id", created.OrderID),
			zap.String("store_id", created.StoreID),
			zap.String("stored_store_id", stored.StoreID))
		return nil, fmt.Errorf("%w: %s", orders.ErrConflict, created.OrderID)
	}
	return stored, nil
}

// Advance runs every stage routed for env.Topic, in order. It returns an
// error only for transient and validation failures, which the caller should
// redeliver and drop respectively. A stage in flight elsewhere counts as
// transient. Business failures are in the outcomes.
func (o *Orchestrator) Advance(ctx context.Context, env events.Envelope) ([]Outcome, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}
	routes := o.routes[env.Topic]
	if len(routes) == 0 {
		return nil, nil
	}

	if created, ok := env.Payload.(events.OrderCreated); ok {
		err := o.orders.Create(ctx, orders.FromCreated(created))
		switch {
		case errors.Is(err, orders.ErrAlreadyExists):
			_, err := o.existing(ctx, created)
			switch {
			case errors.Is(err, orders.ErrConflict):
				return nil, stage.Validation(err)
			case err != nil:
				return nil, stage.Transient(err)
			}
		case err != nil:
			return nil, stage.Transient(fmt.Errorf("create order projection: %w", err))
		}
	}

	outcomes := make([]Outcome, 0, len(routes))
	halted := false
	for _, r := range routes {
		var (
			oc  Outcome
			err error
		)
		if halted && !r.IgnoreHalt {
			oc = o.outcome(env, r.Stage.Name())
			oc.Kind = Halted
			o.log.Info("stage skipped, order halted",
				zap.String("stage", oc.Stage), zap.String("order_id", oc.OrderID))
		} else {
			oc, err = o.run(ctx, env, r)
		}
		o.observe(oc)
		outcomes = append(outcomes, oc)
		if err != nil {
			return outcomes, err
		}
		if oc.halts() {
			halted = true
		}
	}
	return outcomes, nil
}

func (o *Orchestrator) outcome(env events.Envelope, stageName string) Outcome {
	return Outcome{Stage: stageName, OrderID: env.Payload.Key(), Topic: env.Topic}
}

func (o *Orchestrator) run(ctx context.Context, env events.Envelope, r Route) (Outcome, error) {
	key := idempotency.Key{
		StoreID: env.Payload.Store(),
		Stage:   r.Stage.Name(),
		OrderID: env.Payload.Key(),
	}
	oc := o.outcome(env, key.Stage)
	fields := []zap.Field{
		zap.String("stage", key.Stage),
		zap.String("order_id", key.OrderID),
		zap.String("topic", string(env.Topic)),
	}

	if !r.IgnoreHalt {
		cur, err := o.orders.Get(ctx, key.OrderID)
		if err != nil {
			oc.Kind, oc.Err = Retry, err
			return oc, stage.Transient(fmt.Errorf("load order %s: %w", key.OrderID, err))
		}
		if cur != nil && cur.Status.Halted() {
			oc.Kind = Halted
			o.log.Info("stage skipped, order halted", append(fields, zap.String("status", string(cur.Status)))...)
			return oc, nil
		}
	}

	dec, err := o.guard.CheckOrReserve(ctx, key)
	if err != nil {
		oc.Kind, oc.Err = Retry, err
		o.log.Warn("idempotency check failed", append(fields, zap.Error(err))...)
		return oc, stage.Transient(err)
	}
	switch dec.Decision {
	case idempotency.AlreadyDone:
		oc.Kind, oc.Result = Replayed, dec.Result
		o.log.Info("stage already done", append(fields, zap.String("detail", oc.Detail()))...)
		return oc, nil
	case idempotency.InFlight:
		oc.Kind = InFlight
		o.log.Info("stage in flight elsewhere", fields...)
		return oc, stage.Transient(fmt.Errorf("%w: %s", ErrInFlight, key))
	}

	eff, err := execute(ctx, func(ctx context.Context) (stage.Effect, error) {
		return r.Stage.Run(ctx, env)
	})
	return o.settle(ctx, key, oc, eff, err)
}

// settle applies the result of a stage run or continuation: the key is
// committed or released, the projection updated, the events published and
// the continuation scheduled, in that order.
func (o *Orchestrator) settle(ctx context.Context, key idempotency.Key, oc Outcome, eff stage.Effect, runErr error) (Outcome, error) {
	fields := []zap.Field{
		zap.String("stage", key.Stage),
		zap.String("order_id", key.OrderID),
		zap.Bool("continuation", oc.Continuation),
	}

	switch stage.KindOf(runErr) {
	case stage.KindValidation:
		o.release(ctx, key)
		oc.Kind, oc.Err = Rejected, runErr
		o.log.Warn("stage rejected event", append(fields, zap.Error(runErr))...)
		return oc, runErr
	case stage.KindTransient:
		o.release(ctx, key)
		oc.Kind, oc.Err = Retry, runErr
		o.log.Warn("stage failed, will retry", append(fields, zap.Error(runErr))...)
		return oc, runErr
	}

	if eff.Result != nil {
		if err := o.guard.Commit(ctx, key, *eff.Result, o.ttl); err != nil {
			// The side effect already happened; releasing would repeat it.
			o.log.Error("commit stage result", append(fields, zap.Error(err))...)
		}
	}
	if eff.Status != nil {
		o.project(ctx, key.OrderID, *eff.Status)
	}
	for _, p := range eff.Publish {
		env := events.New(p)
		if err := o.pub.Publish(ctx, env); err != nil {
			o.log.Error("publish stage event",
				append(fields, zap.String("topic", string(env.Topic)), zap.Error(err))...)
		}
	}

	oc.Result = eff.Result
	switch {
	case runErr != nil:
		oc.Kind, oc.Err = Failed, runErr
		o.log.Warn("stage ended order path", append(fields, zap.Error(runErr))...)
	case eff.Next != nil && eff.Result == nil:
		oc.Kind = Scheduled
	default:
		oc.Kind = Executed
	}
	if eff.Next != nil {
		o.schedule(ctx, key, oc, eff.Next, 1)
	}
	if oc.Kind != Failed {
		o.log.Info("stage settled", append(fields, zap.String("outcome", string(oc.Kind)))...)
	}
	return oc, nil
}

// schedule fires next after its delay under the same key. The continuation
// outlives the triggering delivery, so it keeps ctx values but not its
// cancellation. A transient failure runs next again after the backoff, up to
// the configured number of attempts. The key is left as is between attempts.
func (o *Orchestrator) schedule(ctx context.Context, key idempotency.Key, parent Outcome, next *stage.Continuation, attempt int) {
	ctx = context.WithoutCancel(ctx)
	o.sched.After(next.After, func() {
		eff, err := execute(ctx, next.Run)
		oc := Outcome{Stage: parent.Stage, OrderID: parent.OrderID, Topic: parent.Topic, Continuation: true}
		if stage.KindOf(err) == stage.KindTransient && attempt < o.retries {
			oc.Kind, oc.Err = Retry, err
			o.log.Warn("continuation failed, rescheduling",
				zap.String("stage", key.Stage),
				zap.String("order_id", key.OrderID),
				zap.Int("attempt", attempt),
				zap.Error(err))
			o.observe(oc)
			o.schedule(ctx, key, parent, &stage.Continuation{After: o.backoff, Run: next.Run}, attempt+1)
			return
		}
		if stage.KindOf(err) == stage.KindTransient {
			o.log.Error("continuation attempts exhausted",
				zap.String("stage", key.Stage),
				zap.String("order_id", key.OrderID),
				zap.Int("attempts", attempt),
				zap.Bool("fatal", true),
				zap.Error(err))
		}
		oc, _ = o.settle(ctx, key, oc, eff, err)
		o.observe(oc)
	})
}

func (o *Orchestrator) project(ctx context.Context, orderID string, u orders.StatusUpdate) {
	err := o.orders.UpdateStatus(ctx, orderID, u)
	switch {
	case err == nil:
	case errors.Is(err, orders.ErrStatusMismatch):
		o.log.Warn("status transition rejected",
			zap.String("order_id", orderID), zap.String("to", string(u.Status)))
	default:
		o.log.Error("update order status",
			zap.String("order_id", orderID), zap.String("to", string(u.Status)), zap.Error(err))
	}
}

func (o *Orchestrator) release(ctx context.Context, key idempotency.Key) {
	if err := o.guard.Release(context.WithoutCancel(ctx), key); err != nil {
		o.log.Warn("release reservation", zap.String("key", key.String()), zap.Error(err))
	}
}

// execute runs fn and turns a panic into a transient error so the key is
// released instead of held until the lease runs out.
func execute(ctx context.Context, fn func(context.Context) (stage.Effect, error)) (eff stage.Effect, err error) {
	defer func() {
		if r := recover(); r != nil {
			eff, err = stage.Effect{}, stage.Transient(fmt.Errorf("stage panic: %v", r))
		}
	}()
	return fn(ctx)
}
