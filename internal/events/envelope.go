package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var (
	// ErrUnknownTopic is returned when a topic has no payload variant.
	ErrUnknownTopic = errors.New("unknown event topic")
	// ErrValidation marks a malformed payload. Such events are never retried.
	ErrValidation = errors.New("invalid event payload")
)

var validate = validatorv10.New()

// Envelope is the unit carried by the bus and by SQS message bodies.
type Envelope struct {
	ID          string
	Topic       Topic
	Payload     Payload
	PublishedAt time.Time
}

type wireEnvelope struct {
	ID          string          `json:"id"`
	Topic       Topic           `json:"topic"`
	PublishedAt time.Time       `json:"publishedAt"`
	Data        json.RawMessage `json:"data"`
}

// New wraps a payload in a fresh envelope.
func New(p Payload) Envelope {
	return Envelope{
		ID:          uuid.NewString(),
		Topic:       p.Topic(),
		Payload:     p,
		PublishedAt: time.Now().UTC(),
	}
}

// Key returns the payload partition key, or the envelope id when unset.
func (e Envelope) Key() string {
	if e.Payload != nil {
		if k := e.Payload.Key(); k != "" {
			return k
		}
	}
	return e.ID
}

// Validate checks that the payload variant matches the topic and that all
// required fields are present.
func (e Envelope) Validate() error {
	if e.Payload == nil {
		return fmt.Errorf("%w: %s has no payload", ErrValidation, e.Topic)
	}
	if e.Payload.Topic() != e.Topic {
		return fmt.Errorf("%w: payload for %s published on %s", ErrValidation, e.Payload.Topic(), e.Topic)
	}
	if err := validate.Struct(e.Payload); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrValidation, e.Topic, err)
	}
	return nil
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", e.Topic, err)
	}
	return json.Marshal(wireEnvelope{
		ID:          e.ID,
		Topic:       e.Topic,
		PublishedAt: e.PublishedAt,
		Data:        data,
	})
}

func (e *Envelope) UnmarshalJSON(b []byte) error {
	var w wireEnvelope
	if err := json.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	p, err := Decode(w.Topic, w.Data)
	if err != nil {
		return err
	}
	*e = Envelope{ID: w.ID, Topic: w.Topic, Payload: p, PublishedAt: w.PublishedAt}
	return nil
}

// Decode turns raw JSON into the payload variant registered for topic.
func Decode(topic Topic, data []byte) (Payload, error) {
	switch topic {
	case TopicOrderCreated:
		return decodeInto[OrderCreated](topic, data)
	case TopicPaymentProcessed:
		return decodeInto[PaymentProcessed](topic, data)
	case TopicPaymentFailed:
		return decodeInto[PaymentFailed](topic, data)
	case TopicOrderFlagged:
		return decodeInto[OrderFlagged](topic, data)
	case TopicOrderCleared:
		return decodeInto[OrderCleared](topic, data)
	case TopicInventoryUpdated:
		return decodeInto[InventoryUpdated](topic, data)
	case TopicInventoryFailed:
		return decodeInto[InventoryFailed](topic, data)
	case TopicOrderCompleted:
		return decodeInto[OrderCompleted](topic, data)
	case TopicOrderFailed:
		return decodeInto[OrderFailed](topic, data)
	case TopicDeliveryShipped:
		return decodeInto[DeliveryShipped](topic, data)
	case TopicDeliveryDelivered:
		return decodeInto[DeliveryDelivered](topic, data)
	case TopicThresholdReached:
		return decodeInto[ThresholdReached](topic, data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
	}
}

func decodeInto[T Payload](topic Topic, data []byte) (Payload, error) {
	var p T
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s has empty data", ErrValidation, topic)
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrValidation, topic, err)
	}
	return p, nil
}
