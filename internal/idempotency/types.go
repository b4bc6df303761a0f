package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Status values for idempotency entries
const (
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
)

// ErrUnavailable wraps any backend failure. Guard decides whether it fails the
// stage or lets it run.
var ErrUnavailable = errors.New("idempotency store unavailable")

// Key identifies one side-effecting execution: a stage applied to an order,
// namespaced by the store partition the order belongs to.
type Key struct {
	StoreID string
	Stage   string
	OrderID string
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%s", k.StoreID, k.Stage, k.OrderID)
}

// Result is what a stage commits. Replays get it back verbatim.
type Result struct {
	Status string          `json:"status"`
	Detail string          `json:"detail,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Decision is the answer of CheckOrReserve.
type Decision int

const (
	// Reserved means the caller owns the key and must commit or release it.
	Reserved Decision = iota + 1
	// AlreadyDone means a result was committed; Outcome.Result carries it.
	AlreadyDone
	// InFlight means another caller holds the reservation. The caller must
	// not run side effects.
	InFlight
)

func (d Decision) String() string {
	switch d {
	case Reserved:
		return "reserved"
	case AlreadyDone:
		return "already_done"
	case InFlight:
		return "in_flight"
	default:
		return "unknown"
	}
}

// Outcome of a reservation attempt.
type Outcome struct {
	Decision Decision
	Result   *Result
	// Degraded is set when the store was unavailable and the guard failed open.
	Degraded bool
}

// Store is the contract every backend fulfils.
//
// CheckOrReserve either reserves key for lease, or reports the committed
// result, or reports that someone else holds the reservation. Commit stores
// the result for ttl and ends the reservation. Release drops a reservation
// that was never committed so a redelivery may run the stage again.
type Store interface {
	CheckOrReserve(ctx context.Context, key Key, lease time.Duration) (Outcome, error)
	Commit(ctx context.Context, key Key, result Result, ttl time.Duration) error
	Release(ctx context.Context, key Key) error
}

// IdempotencyRecord is the shape persisted by the DynamoDB and Redis backends.
type IdempotencyRecord struct {
	IdempotencyKey string    `dynamodbav:"idempotency_key" json:"idempotency_key"` // PK
	Status         string    `dynamodbav:"status" json:"status"`
	Stage          string    `dynamodbav:"stage" json:"stage"`
	OrderID        string    `dynamodbav:"order_id,omitempty" json:"order_id,omitempty"`
	StoreID        string    `dynamodbav:"store_id,omitempty" json:"store_id,omitempty"`
	ResultBody     string    `dynamodbav:"result_body,omitempty" json:"result_body,omitempty"`
	CreatedAt      time.Time `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt      time.Time `dynamodbav:"updated_at" json:"updated_at"`
	ExpiresAt      int64     `dynamodbav:"expires_at" json:"expires_at"` // TTL epoch seconds
}

func newRecord(key Key, status string, now time.Time, ttl time.Duration) IdempotencyRecord {
	return IdempotencyRecord{
		IdempotencyKey: key.String(),
		Status:         status,
		Stage:          key.Stage,
		OrderID:        key.OrderID,
		StoreID:        key.StoreID,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(ttl).Unix(),
	}
}

// outcome converts a stored record into a Decision.
func (r IdempotencyRecord) outcome() (Outcome, error) {
	if r.Status != StatusDone {
		return Outcome{Decision: InFlight}, nil
	}
	var res Result
	if r.ResultBody != "" {
		if err := json.Unmarshal([]byte(r.ResultBody), &res); err != nil {
			return Outcome{}, fmt.Errorf("decode result for %s: %w", r.IdempotencyKey, err)
		}
	}
	return Outcome{Decision: AlreadyDone, Result: &res}, nil
}

func encodeResult(res Result) (string, error) {
	b, err := json.Marshal(res)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(b), nil
}
