// Package alerts turns noteworthy events into per-store notifications for
// the dashboard.
package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-order-saga/internal/bus"
	"github.com/imrishuroy/go-order-saga/internal/events"
)

// Keep is how many notifications a store retains, newest first.
const Keep = 10

// Notification types
const (
	TypeInfo    = "info"
	TypeWarning = "warning"
	TypeError   = "error"
)

type Notification struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	StoreID   string    `json:"storeId"`
	OrderID   string    `json:"orderId,omitempty"`
	Read      bool      `json:"read"`
	Timestamp time.Time `json:"timestamp"`
}

// Store keeps the latest notifications per store.
type Store interface {
	// Push prepends n and trims the list to Keep entries.
	Push(ctx context.Context, n Notification) error
	// Latest returns the store's notifications, newest first.
	Latest(ctx context.Context, storeID string) ([]Notification, error)
}

// Topics the listener reacts to.
var Topics = []events.Topic{
	events.TopicOrderCreated,
	events.TopicThresholdReached,
	events.TopicPaymentFailed,
}

// Subscriber is the bus surface Register needs.
type Subscriber interface {
	Subscribe(topic events.Topic, name string, handler bus.Handler)
}

// Listener records a notification for every alert-worthy event.
type Listener struct {
	store   Store
	log     *zap.Logger
	nowFunc func() time.Time
}

func NewListener(store Store, log *zap.Logger) *Listener {
	if log == nil {
		log = zap.NewNop()
	}
	return &Listener{store: store, log: log.Named("alerts"), nowFunc: time.Now}
}

// Register subscribes the listener to its topics.
func (l *Listener) Register(s Subscriber) {
	for _, t := range Topics {
		s.Subscribe(t, "alerts", l.Handle)
	}
}

// Handle stores the notification for env. Other topics are ignored. The
// notification takes the event id, so a redelivered event is stored once.
func (l *Listener) Handle(ctx context.Context, env events.Envelope) error {
	n, ok := l.notification(env)
	if !ok {
		return nil
	}
	seen, err := l.seen(ctx, n)
	if err != nil {
		return err
	}
	if seen {
		l.log.Debug("notification already saved",
			zap.String("store_id", n.StoreID), zap.String("event_id", n.ID))
		return nil
	}
	if err := l.store.Push(ctx, n); err != nil {
		return fmt.Errorf("store notification: %w", err)
	}
	l.log.Info("notification saved",
		zap.String("store_id", n.StoreID),
		zap.String("type", n.Type),
		zap.String("title", n.Title))
	return nil
}

func (l *Listener) seen(ctx context.Context, n Notification) (bool, error) {
	list, err := l.store.Latest(ctx, n.StoreID)
	if err != nil {
		return false, fmt.Errorf("load notifications: %w", err)
	}
	for _, x := range list {
		if x.ID == n.ID {
			return true, nil
		}
	}
	return false, nil
}

// Latest returns the store's notifications.
func (l *Listener) Latest(ctx context.Context, storeID string) ([]Notification, error) {
	return l.store.Latest(ctx, storeID)
}

// Unread counts the notifications not marked read.
func (l *Listener) Unread(ctx context.Context, storeID string) (int, error) {
	list, err := l.store.Latest(ctx, storeID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, x := range list {
		if !x.Read {
			n++
		}
	}
	return n, nil
}

func (l *Listener) notification(env events.Envelope) (Notification, bool) {
	n := Notification{
		ID:        env.ID,
		StoreID:   env.Payload.Store(),
		Timestamp: l.nowFunc().UTC(),
	}
	switch p := env.Payload.(type) {
	case events.OrderCreated:
		n.Type, n.Title = TypeInfo, "New Order Created"
		n.OrderID = p.OrderID
		n.Message = fmt.Sprintf("Order %s has been placed in store %s.", p.OrderID, p.StoreID)
	case events.ThresholdReached:
		n.Type, n.Title = TypeWarning, "Low Inventory Alert"
		n.Message = fmt.Sprintf("%s is below threshold (%d remaining, threshold: %d) in store %s",
			p.ProductName, p.CurrentStock, p.Threshold, p.StoreID)
	case events.PaymentFailed:
		n.Type, n.Title = TypeError, "Payment Failed"
		n.OrderID = p.OrderID
		n.Message = fmt.Sprintf("Payment for order %s failed: %s.", p.OrderID, p.Reason)
	default:
		return Notification{}, false
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return n, true
}
