package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	lambdaevents "github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-order-saga/internal/events"
	"github.com/imrishuroy/go-order-saga/internal/saga"
)

// Advancer runs the saga stages routed for an event.
type Advancer interface {
	Advance(ctx context.Context, env events.Envelope) ([]saga.Outcome, error)
}

// EventHandler is any other consumer of the queue, such as the alert listener.
type EventHandler interface {
	Handle(ctx context.Context, env events.Envelope) error
}

// Processor handles SQS batches of saga events.
type Processor struct {
	saga     Advancer
	handlers []EventHandler
	settle   func()
	log      *zap.Logger
}

// NewProcessor creates a processor. settle, when set, is called after each
// batch and must block until scheduled continuations have run.
func NewProcessor(s Advancer, settle func(), log *zap.Logger, handlers ...EventHandler) *Processor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{saga: s, handlers: handlers, settle: settle, log: log.Named("worker")}
}

// Handle processes each message of the batch and reports the ones that hit a
// transient failure so only those are redelivered. Malformed events are
// logged and dropped.
func (p *Processor) Handle(ctx context.Context, ev lambdaevents.SQSEvent) (lambdaevents.SQSEventResponse, error) {
	p.log.Info("received SQS messages", zap.Int("count", len(ev.Records)))

	var resp lambdaevents.SQSEventResponse
	for _, rec := range ev.Records {
		err := p.processMessage(ctx, rec)
		switch {
		case err == nil:
		case errors.Is(err, events.ErrValidation), errors.Is(err, events.ErrUnknownTopic):
			p.log.Error("dropping malformed message", zap.String("message_id", rec.MessageId), zap.Error(err))
		default:
			p.log.Warn("message will be redelivered", zap.String("message_id", rec.MessageId), zap.Error(err))
			resp.BatchItemFailures = append(resp.BatchItemFailures, lambdaevents.SQSBatchItemFailure{
				ItemIdentifier: rec.MessageId,
			})
		}
	}
	if p.settle != nil {
		p.settle()
	}
	return resp, nil
}

func (p *Processor) processMessage(ctx context.Context, rec lambdaevents.SQSMessage) error {
	var env events.Envelope
	if err := json.Unmarshal([]byte(rec.Body), &env); err != nil {
		if errors.Is(err, events.ErrUnknownTopic) {
			return err
		}
		return fmt.Errorf("%w: message body: %w", events.ErrValidation, err)
	}

	outcomes, err := p.saga.Advance(ctx, env)
	for _, oc := range outcomes {
		p.log.Debug("stage outcome",
			zap.String("event_id", env.ID),
			zap.String("stage", oc.Stage),
			zap.String("order_id", oc.OrderID),
			zap.String("outcome", string(oc.Kind)),
			zap.String("detail", oc.Detail()))
	}
	if err != nil {
		return err
	}

	for _, h := range p.handlers {
		if err := h.Handle(ctx, env); err != nil {
			return err
		}
	}
	return nil
}
