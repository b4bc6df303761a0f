// Package stage defines the contract every saga stage implements and the
// error taxonomy the orchestrator uses to settle a stage run.
package stage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/imrishuroy/go-order-saga/internal/events"
	"github.com/imrishuroy/go-order-saga/internal/idempotency"
	"github.com/imrishuroy/go-order-saga/internal/orders"
)

// Stage is one event-triggered unit of the saga. Name is the stage part of
// the idempotency key.
type Stage interface {
	Name() string
	Run(ctx context.Context, env events.Envelope) (Effect, error)
}

// Effect is what a stage run asks the orchestrator to do once it returns.
//
// A nil Result with a non-nil Next keeps the idempotency key reserved while
// the continuation is pending.
type Effect struct {
	Result  *idempotency.Result
	Status  *orders.StatusUpdate
	Publish []events.Payload
	Next    *Continuation
}

// Continuation resumes a stage after a delay without holding a worker.
type Continuation struct {
	After time.Duration
	Run   func(ctx context.Context) (Effect, error)
}

// Done is a convenience constructor for a committed result.
func Done(status, detail string, data any) *idempotency.Result {
	res := &idempotency.Result{Status: status, Detail: detail}
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			res.Data = b
		}
	}
	return res
}

// Kind classifies a stage error.
type Kind int

const (
	KindNone Kind = iota
	// KindValidation rejects the event. It is never retried.
	KindValidation
	// KindTransient releases the reservation so a redelivery may retry.
	KindTransient
	// KindBusiness is terminal for the order path. The effect is still applied.
	KindBusiness
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindValidation:
		return "validation"
	case KindTransient:
		return "transient"
	case KindBusiness:
		return "business"
	default:
		return "unknown"
	}
}

// Error carries a Kind alongside the cause.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %v", e.Kind, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Is lets validation errors match events.ErrValidation, which the bus uses to
// skip redelivery.
func (e *Error) Is(target error) bool {
	return e.Kind == KindValidation && target == events.ErrValidation
}

func Validation(err error) error { return &Error{Kind: KindValidation, Err: err} }
func Transient(err error) error  { return &Error{Kind: KindTransient, Err: err} }
func Business(err error) error   { return &Error{Kind: KindBusiness, Err: err} }

// KindOf classifies err. Unclassified errors count as transient, except
// events.ErrValidation which stays a validation error.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, events.ErrValidation) {
		return KindValidation
	}
	return KindTransient
}
