package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var paymentKey = Key{StoreID: "X", Stage: "payment", OrderID: "order-123"}

func TestDynamoStore_Reserve_Commit_Replay(t *testing.T) {
	mock := newSimpleMock()
	s := NewDynamoStore(mock, "idempotency-table")
	ctx := context.Background()

	out, err := s.CheckOrReserve(ctx, paymentKey, 5*time.Minute)
	if err != nil {
		t.Fatalf("CheckOrReserve error: %v", err)
	}
	if out.Decision != Reserved {
		t.Fatalf("expected reserved, got %s", out.Decision)
	}

	// second caller before commit must not run the stage
	out, err = s.CheckOrReserve(ctx, paymentKey, 5*time.Minute)
	if err != nil {
		t.Fatalf("second CheckOrReserve error: %v", err)
	}
	if out.Decision != InFlight {
		t.Fatalf("expected in_flight on duplicate reserve, got %s", out.Decision)
	}

	if err := s.Commit(ctx, paymentKey, Result{Status: "paid", Detail: "txn-1"}, time.Hour); err != nil {
		t.Fatalf("Commit error: %v", err)
	}

	out, err = s.CheckOrReserve(ctx, paymentKey, 5*time.Minute)
	if err != nil {
		t.Fatalf("replay CheckOrReserve error: %v", err)
	}
	if out.Decision != AlreadyDone || out.Result == nil {
		t.Fatalf("expected already_done with result, got %+v", out)
	}
	if out.Result.Status != "paid" || out.Result.Detail != "txn-1" {
		t.Fatalf("cached result mismatch: %+v", out.Result)
	}

	// verify raw item
	item := mock.table[paymentKey.String()]
	if st, ok := item["status"].(*types.AttributeValueMemberS); !ok || st.Value != StatusDone {
		t.Fatalf("status not updated to DONE, got %+v", item["status"])
	}
}

func TestDynamoStore_ExpiredRecordCanBeReserved(t *testing.T) {
	mock := newSimpleMock()
	s := NewDynamoStore(mock, "idempotency-table")
	base := time.Now()
	s.nowFunc = func() time.Time { return base }
	ctx := context.Background()

	if err := s.Commit(ctx, paymentKey, Result{Status: "paid"}, time.Hour); err != nil {
		t.Fatalf("Commit error: %v", err)
	}

	s.nowFunc = func() time.Time { return base.Add(2 * time.Hour) }
	out, err := s.CheckOrReserve(ctx, paymentKey, time.Minute)
	if err != nil {
		t.Fatalf("CheckOrReserve error: %v", err)
	}
	if out.Decision != Reserved {
		t.Fatalf("expected expired record to be reservable, got %s", out.Decision)
	}
}

func TestDynamoStore_ReleaseOnlyDropsReservations(t *testing.T) {
	mock := newSimpleMock()
	s := NewDynamoStore(mock, "idempotency-table")
	ctx := context.Background()

	if _, err := s.CheckOrReserve(ctx, paymentKey, time.Minute); err != nil {
		t.Fatalf("CheckOrReserve error: %v", err)
	}
	if err := s.Release(ctx, paymentKey); err != nil {
		t.Fatalf("Release error: %v", err)
	}
	if _, ok := mock.table[paymentKey.String()]; ok {
		t.Fatalf("reservation not released")
	}

	if err := s.Commit(ctx, paymentKey, Result{Status: "paid"}, time.Hour); err != nil {
		t.Fatalf("Commit error: %v", err)
	}
	if err := s.Release(ctx, paymentKey); err != nil {
		t.Fatalf("Release of committed record should be a no-op, got %v", err)
	}
	if _, ok := mock.table[paymentKey.String()]; !ok {
		t.Fatalf("committed record must survive release")
	}
}

func TestDynamoStore_BackendErrorIsUnavailable(t *testing.T) {
	mock := newSimpleMock()
	mock.failWith = errors.New("connection reset")
	s := NewDynamoStore(mock, "idempotency-table")

	_, err := s.CheckOrReserve(context.Background(), paymentKey, time.Minute)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestIdempotencyRecord_KeyShape(t *testing.T) {
	rec := newRecord(paymentKey, StatusInProgress, time.Now(), time.Minute)
	m, err := attributevalue.MarshalMap(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if k := m["idempotency_key"].(*types.AttributeValueMemberS).Value; k != "X:payment:order-123" {
		t.Fatalf("unexpected key %q", k)
	}
}
