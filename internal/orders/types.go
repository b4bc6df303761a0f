package orders

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/imrishuroy/go-order-saga/internal/events"
)

// Status is the canonical lifecycle state of an order.
type Status string

// Order statuses
const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusFailed    Status = "failed"
	StatusFlagged   Status = "flagged"
	StatusFulfilled Status = "fulfilled"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
)

var (
	// ErrStatusMismatch is returned when the current status does not allow the
	// requested transition.
	ErrStatusMismatch = errors.New("status mismatch/conditional failed")
	ErrNotFound       = errors.New("order not found")
	ErrAlreadyExists  = errors.New("order already exists")
	ErrConflict       = errors.New("order id already used for a different order")
)

// allowedFrom lists, per target status, the statuses an order may leave to
// reach it. A flag may land at any point before delivery, including after a
// payment failure when the recheck flags the customer.
var allowedFrom = map[Status][]Status{
	StatusPaid:      {StatusPending},
	StatusFailed:    {StatusPending, StatusPaid},
	StatusFlagged:   {StatusPending, StatusPaid, StatusFailed, StatusFulfilled, StatusShipped},
	StatusFulfilled: {StatusPaid},
	StatusShipped:   {StatusFulfilled},
	StatusDelivered: {StatusShipped},
}

// AllowedFrom returns the statuses from which to is reachable.
func AllowedFrom(to Status) []Status {
	return allowedFrom[to]
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to Status) bool {
	for _, s := range allowedFrom[to] {
		if s == from {
			return true
		}
	}
	return false
}

// Terminal reports whether no further stage may act on the order.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusFailed || s == StatusFlagged
}

// Halted reports whether the order path was cut short by a failure or a flag.
func (s Status) Halted() bool {
	return s == StatusFailed || s == StatusFlagged
}

// Tracking labels appended to the delivery history.
const (
	TrackOrderCreated      = "ORDER_CREATED"
	TrackPaymentReceived   = "PAYMENT_RECEIVED"
	TrackInventoryReserved = "INVENTORY_RESERVED"
	TrackShipped           = "SHIPPED"
	TrackDelivered         = "DELIVERED"
	TrackFailed            = "FAILED"
	TrackFlagged           = "FLAGGED"
)

var trackingLabel = map[Status]string{
	StatusPending:   TrackOrderCreated,
	StatusPaid:      TrackPaymentReceived,
	StatusFulfilled: TrackInventoryReserved,
	StatusShipped:   TrackShipped,
	StatusDelivered: TrackDelivered,
	StatusFailed:    TrackFailed,
	StatusFlagged:   TrackFlagged,
}

// TrackingEntry is one (status, timestamp) pair of the delivery history.
type TrackingEntry struct {
	Status    string    `dynamodbav:"status" json:"status"`
	Timestamp time.Time `dynamodbav:"timestamp" json:"timestamp"`
}

// Payment outcomes recorded on the order for fraud history.
const (
	PaymentPaid   = "paid"
	PaymentFailed = "failed"
)

// Order represents the item stored in the Orders DynamoDB table.
type Order struct {
	OrderID        string            `dynamodbav:"order_id" json:"orderId"` // PK
	StoreID        string            `dynamodbav:"store_id" json:"storeId"`
	CustomerName   string            `dynamodbav:"customer_name" json:"customerName"`
	Items          []events.LineItem `dynamodbav:"items" json:"items"`
	TotalAmount    float64           `dynamodbav:"total_amount" json:"totalAmount"`
	Status         Status            `dynamodbav:"status" json:"status"`
	PaymentStatus  string            `dynamodbav:"payment_status,omitempty" json:"paymentStatus,omitempty"`
	FailureReason  string            `dynamodbav:"failure_reason,omitempty" json:"failureReason,omitempty"`
	TrackingNumber string            `dynamodbav:"tracking_number,omitempty" json:"trackingNumber,omitempty"`
	Tracking       []TrackingEntry   `dynamodbav:"tracking" json:"tracking"`
	CreatedAt      time.Time         `dynamodbav:"created_at,unixtime" json:"createdAt"`
	UpdatedAt      time.Time         `dynamodbav:"updated_at" json:"updatedAt"`
}

// FromCreated builds the pending projection of an intake event.
func FromCreated(e events.OrderCreated) Order {
	created := e.Timestamp.UTC()
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return Order{
		OrderID:      e.OrderID,
		StoreID:      e.StoreID,
		CustomerName: e.CustomerName,
		Items:        e.Items,
		TotalAmount:  e.TotalAmount,
		Status:       StatusPending,
		Tracking:     []TrackingEntry{{Status: TrackOrderCreated, Timestamp: created}},
		CreatedAt:    created,
		UpdatedAt:    created,
	}
}

// Created rebuilds the intake event the projection was created from.
func (o Order) Created() events.OrderCreated {
	return events.OrderCreated{
		OrderID:      o.OrderID,
		CustomerName: o.CustomerName,
		Items:        o.Items,
		TotalAmount:  o.TotalAmount,
		StoreID:      o.StoreID,
		Timestamp:    o.CreatedAt,
	}
}

// Matches reports whether e describes the same order: same store, customer,
// total and line items.
func (o Order) Matches(e events.OrderCreated) bool {
	return o.StoreID == e.StoreID &&
		o.CustomerName == e.CustomerName &&
		o.TotalAmount == e.TotalAmount &&
		slices.Equal(o.Items, e.Items)
}

// History returns the tracking entries younger than retention, oldest first.
// A zero retention keeps everything.
func (o Order) History(now time.Time, retention time.Duration) []TrackingEntry {
	if retention <= 0 {
		return o.Tracking
	}
	cutoff := now.Add(-retention)
	out := make([]TrackingEntry, 0, len(o.Tracking))
	for _, e := range o.Tracking {
		if !e.Timestamp.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// StatusUpdate moves an order to Status and records the optional fields
// alongside a tracking entry for the new status.
type StatusUpdate struct {
	Status         Status
	PaymentStatus  string
	FailureReason  string
	TrackingNumber string
	At             time.Time
}

func (u StatusUpdate) entry(now time.Time) TrackingEntry {
	at := u.At
	if at.IsZero() {
		at = now
	}
	return TrackingEntry{Status: trackingLabel[u.Status], Timestamp: at.UTC()}
}

// Store is the order projection backend.
type Store interface {
	Create(ctx context.Context, o Order) error
	// Get returns (nil, nil) when the order does not exist.
	Get(ctx context.Context, orderID string) (*Order, error)
	UpdateStatus(ctx context.Context, orderID string, u StatusUpdate) error
	ListByCustomer(ctx context.Context, customerName string, since time.Time) ([]Order, error)
	ListByStore(ctx context.Context, storeID string, since time.Time) ([]Order, error)
}
