// Package bus is an in-process, topic based publish/subscribe bus with
// at-least-once delivery.
//
// Every subscription owns a fixed set of lanes. An event is routed to the lane
// picked by hashing its partition key (the order id), so events for one order
// reach a subscriber in publish order while different orders run in parallel.
// A handler error causes the event to be redelivered on the same lane until
// MaxDeliveries is reached. Validation errors are never redelivered.
package bus

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"go.uber.org/zap"

	"github.com/imrishuroy/go-order-saga/internal/events"
	"github.com/imrishuroy/go-order-saga/internal/schedule"
)

// ErrClosed is returned when publishing on a closed bus.
var ErrClosed = errors.New("bus closed")

// Handler consumes one event. A non-nil error requests redelivery.
type Handler func(ctx context.Context, env events.Envelope) error

// Forwarder mirrors accepted events to an external transport (SQS).
type Forwarder interface {
	Forward(ctx context.Context, env events.Envelope) error
}

// Options configures a Bus.
type Options struct {
	Lanes         int
	MaxDeliveries int
	Forwarder     Forwarder
	Logger        *zap.Logger
	// Activity, when set, counts every queued delivery until it is handled.
	Activity *schedule.Activity
}

// Bus dispatches events to subscribers.
type Bus struct {
	mu            sync.RWMutex
	subs          map[events.Topic][]*subscription
	closed        bool
	lanes         int
	maxDeliveries int
	forwarder     Forwarder
	log           *zap.Logger
	activity      *schedule.Activity
	inflight      sync.WaitGroup
	workers       sync.WaitGroup
}

// New returns a running Bus.
func New(opts Options) *Bus {
	if opts.Lanes < 1 {
		opts.Lanes = 1
	}
	if opts.MaxDeliveries < 1 {
		opts.MaxDeliveries = 1
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Bus{
		subs:          map[events.Topic][]*subscription{},
		lanes:         opts.Lanes,
		maxDeliveries: opts.MaxDeliveries,
		forwarder:     opts.Forwarder,
		log:           opts.Logger.Named("bus"),
		activity:      opts.Activity,
	}
}

// Subscribe registers handler under name for topic. Events already published
// are not replayed to new subscribers.
func (b *Bus) Subscribe(topic events.Topic, name string, handler Handler) {
	sub := &subscription{
		name:    name,
		topic:   topic,
		handler: handler,
		lanes:   make([]*lane, b.lanes),
	}
	for i := range sub.lanes {
		l := newLane()
		sub.lanes[i] = l
		b.workers.Add(1)
		go b.run(sub, l)
	}

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()
}

// Publish validates env, forwards it when a Forwarder is configured and
// dispatches it to the current subscribers of its topic.
func (b *Bus) Publish(ctx context.Context, env events.Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	if b.forwarder != nil {
		if err := b.forwarder.Forward(ctx, env); err != nil {
			return fmt.Errorf("forward %s: %w", env.Topic, err)
		}
	}
	return b.dispatch(ctx, env)
}

// Deliver dispatches an event that arrived from the external transport. It is
// not forwarded again.
func (b *Bus) Deliver(ctx context.Context, env events.Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	return b.dispatch(ctx, env)
}

func (b *Bus) dispatch(ctx context.Context, env events.Envelope) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	subs := b.subs[env.Topic]
	if len(subs) == 0 {
		b.log.Debug("no subscribers", zap.String("topic", string(env.Topic)), zap.String("event_id", env.ID))
		return nil
	}
	idx := laneIndex(env.Key(), b.lanes)
	for _, s := range subs {
		b.inflight.Add(1)
		b.activity.Begin()
		s.lanes[idx].push(delivery{ctx: context.WithoutCancel(ctx), env: env, attempt: 1})
	}
	return nil
}

func (b *Bus) run(sub *subscription, l *lane) {
	defer b.workers.Done()
	for {
		d, ok := l.pop()
		if !ok {
			return
		}
		b.handle(sub, l, d)
	}
}

func (b *Bus) handle(sub *subscription, l *lane, d delivery) {
	defer b.inflight.Done()
	defer b.activity.End()

	err := safeCall(sub.handler, d.ctx, d.env)
	if err == nil {
		return
	}

	fields := []zap.Field{
		zap.String("subscriber", sub.name),
		zap.String("topic", string(d.env.Topic)),
		zap.String("event_id", d.env.ID),
		zap.String("key", d.env.Key()),
		zap.Int("delivery", d.attempt),
		zap.Error(err),
	}
	if errors.Is(err, events.ErrValidation) {
		b.log.Warn("rejected event", fields...)
		return
	}
	if d.attempt >= b.maxDeliveries {
		b.log.Error("delivery attempts exhausted", fields...)
		return
	}
	b.log.Warn("redelivering event", fields...)
	b.inflight.Add(1)
	b.activity.Begin()
	l.push(delivery{ctx: d.ctx, env: d.env, attempt: d.attempt + 1})
}

// Drain blocks until every dispatched delivery, including redeliveries, has
// been handled.
func (b *Bus) Drain() {
	b.inflight.Wait()
}

// Close stops accepting events, drains what is queued and stops the lanes.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	b.inflight.Wait()

	b.mu.RLock()
	for _, subs := range b.subs {
		for _, s := range subs {
			for _, l := range s.lanes {
				l.close()
			}
		}
	}
	b.mu.RUnlock()
	b.workers.Wait()
}

func safeCall(h Handler, ctx context.Context, env events.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, env)
}

func laneIndex(key string, lanes int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(lanes))
}

type subscription struct {
	name    string
	topic   events.Topic
	handler Handler
	lanes   []*lane
}

type delivery struct {
	ctx     context.Context
	env     events.Envelope
	attempt int
}
