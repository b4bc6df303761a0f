package saga

import (
	"github.com/imrishuroy/go-order-saga/internal/events"
	"github.com/imrishuroy/go-order-saga/internal/idempotency"
	"github.com/imrishuroy/go-order-saga/internal/orders"
)

// OutcomeKind says how one stage run for one event ended.
type OutcomeKind string

const (
	// Executed: the stage ran and its effect was applied.
	Executed OutcomeKind = "executed"
	// Scheduled: the stage ran and left a continuation holding the key.
	Scheduled OutcomeKind = "scheduled"
	// Replayed: a result was already committed; nothing ran.
	Replayed OutcomeKind = "replayed"
	// InFlight: another worker holds the reservation; nothing ran and the
	// event has to come back.
	InFlight OutcomeKind = "in_flight"
	// Halted: the order was flagged or failed before this stage.
	Halted OutcomeKind = "halted"
	// Failed: the stage ended the order path with a business failure.
	Failed OutcomeKind = "failed"
	// Retry: a transient error released the key for redelivery.
	Retry OutcomeKind = "retry"
	// Rejected: the event was invalid for the stage.
	Rejected OutcomeKind = "rejected"
)

// Outcome reports one stage run.
type Outcome struct {
	Stage        string
	OrderID      string
	Topic        events.Topic
	Kind         OutcomeKind
	Result       *idempotency.Result
	Err          error
	Continuation bool
}

// Detail is a short human readable summary, e.g. "already_paid" for a
// replayed payment.
func (o Outcome) Detail() string {
	switch {
	case o.Kind == Replayed && o.Result != nil:
		return "already_" + o.Result.Status
	case o.Result != nil:
		return o.Result.Status
	default:
		return string(o.Kind)
	}
}

// halts reports whether later stages for the same event must not run.
func (o Outcome) halts() bool {
	switch o.Kind {
	case Failed, InFlight, Halted:
		return true
	case Replayed:
		return o.Result != nil &&
			(o.Result.Status == string(orders.StatusFailed) || o.Result.Status == string(orders.StatusFlagged))
	default:
		return false
	}
}

// Observer receives every outcome, including those of continuations.
type Observer func(Outcome)
