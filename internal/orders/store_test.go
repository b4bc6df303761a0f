package orders

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/go-order-saga/internal/events"
)

// mockDynamo is a simple mock that supports the calls DynamoStore makes.
// It stores items in a single table map: pkValue -> item map.
type mockDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
}

func newMockDynamo() *mockDynamo {
	return &mockDynamo{
		items: map[string]map[string]types.AttributeValue{},
	}
}

func pkOf(m map[string]types.AttributeValue) (string, error) {
	v, ok := m["order_id"].(*types.AttributeValueMemberS)
	if !ok {
		return "", errors.New("no primary key")
	}
	return v.Value, nil
}

func (m *mockDynamo) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pk, err := pkOf(params.Item)
	if err != nil {
		return nil, err
	}
	// handle conditional expression attribute_not_exists(order_id)
	if params.ConditionExpression != nil && *params.ConditionExpression == "attribute_not_exists(order_id)" {
		if _, exists := m.items[pk]; exists {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	m.items[pk] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *mockDynamo) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pk, err := pkOf(params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := m.items[pk]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

func (m *mockDynamo) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pk, err := pkOf(params.Key)
	if err != nil {
		return nil, err
	}
	vals := params.ExpressionAttributeValues

	// condition: attribute_exists(order_id) AND #s IN (:from0, ...)
	item, exists := m.items[pk]
	if !exists {
		return nil, &types.ConditionalCheckFailedException{}
	}
	if params.ConditionExpression != nil && strings.HasPrefix(*params.ConditionExpression, "attribute_exists(order_id) AND #s IN") {
		curr := item["status"].(*types.AttributeValueMemberS).Value
		allowed := false
		for k, v := range vals {
			if strings.HasPrefix(k, ":from") && v.(*types.AttributeValueMemberS).Value == curr {
				allowed = true
			}
		}
		if !allowed {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}

	// apply the SET clauses the store issues
	updated := map[string]types.AttributeValue{}
	for k, v := range item {
		updated[k] = v
	}
	updated["status"] = vals[":new"]
	updated["updated_at"] = vals[":ua"]
	var tracking []types.AttributeValue
	if l, ok := updated["tracking"].(*types.AttributeValueMemberL); ok {
		tracking = append(tracking, l.Value...)
	}
	tracking = append(tracking, vals[":entry"].(*types.AttributeValueMemberL).Value...)
	updated["tracking"] = &types.AttributeValueMemberL{Value: tracking}
	for ph, attr := range map[string]string{":ps": "payment_status", ":reason": "failure_reason", ":tn": "tracking_number"} {
		if v, ok := vals[ph]; ok {
			updated[attr] = v
		}
	}
	m.items[pk] = updated
	return &dyn.UpdateItemOutput{}, nil
}

func (m *mockDynamo) Query(ctx context.Context, params *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	attr := strings.SplitN(*params.KeyConditionExpression, " ", 2)[0]
	want := params.ExpressionAttributeValues[":v"].(*types.AttributeValueMemberS).Value
	since, _ := strconv.ParseInt(params.ExpressionAttributeValues[":since"].(*types.AttributeValueMemberN).Value, 10, 64)

	var out []map[string]types.AttributeValue
	for _, item := range m.items {
		v, ok := item[attr].(*types.AttributeValueMemberS)
		if !ok || v.Value != want {
			continue
		}
		created, _ := strconv.ParseInt(item["created_at"].(*types.AttributeValueMemberN).Value, 10, 64)
		if created >= since {
			out = append(out, item)
		}
	}
	return &dyn.QueryOutput{Items: out}, nil
}

func (m *mockDynamo) DeleteItem(ctx context.Context, params *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	return nil, errors.New("not used by the orders store")
}

func (m *mockDynamo) TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	return nil, errors.New("not used by the orders store")
}

func sampleOrder(id, customer string, created time.Time) Order {
	return FromCreated(events.OrderCreated{
		OrderID:      id,
		CustomerName: customer,
		Items:        []events.LineItem{{ProductName: "Motia Smartwatch V2", Quantity: 1, Price: 200}},
		TotalAmount:  200,
		StoreID:      "X",
		Timestamp:    created,
	})
}

func TestDynamoStore_CreateIsConditional(t *testing.T) {
	mock := newMockDynamo()
	store := NewDynamoStore(mock, "orders")
	ctx := context.Background()

	if err := store.Create(ctx, sampleOrder("order-1", "alice", time.Now())); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if err := store.Create(ctx, sampleOrder("order-1", "alice", time.Now())); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	got, err := store.Get(ctx, "order-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.Status != StatusPending || got.CustomerName != "alice" {
		t.Fatalf("unexpected order %+v", got)
	}
	if len(got.Items) != 1 || got.Items[0].ProductName != "Motia Smartwatch V2" {
		t.Fatalf("items not persisted: %+v", got.Items)
	}
}

func TestDynamoStore_UpdateStatus_Condition_SuccessAndFail(t *testing.T) {
	mock := newMockDynamo()
	now := time.Now()
	item, _ := attributevalue.MarshalMap(sampleOrder("order-10", "c10", now))
	mock.items["order-10"] = item

	store := NewDynamoStore(mock, "orders")
	ctx := context.Background()

	// success: pending -> paid
	err := store.UpdateStatus(ctx, "order-10", StatusUpdate{Status: StatusPaid, PaymentStatus: PaymentPaid})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	// failure: paid -> shipped skips fulfilled
	err = store.UpdateStatus(ctx, "order-10", StatusUpdate{Status: StatusShipped})
	if !errors.Is(err, ErrStatusMismatch) {
		t.Fatalf("expected ErrStatusMismatch, got %v", err)
	}

	err = store.UpdateStatus(ctx, "missing", StatusUpdate{Status: StatusPaid})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	got, err := store.Get(ctx, "order-10")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusPaid || got.PaymentStatus != PaymentPaid {
		t.Fatalf("unexpected order state %+v", got)
	}
	if len(got.Tracking) != 2 || got.Tracking[1].Status != TrackPaymentReceived {
		t.Fatalf("tracking not appended: %+v", got.Tracking)
	}
}

func TestDynamoStore_TrackingNumberAndHistory(t *testing.T) {
	mock := newMockDynamo()
	store := NewDynamoStore(mock, "orders")
	ctx := context.Background()

	if err := store.Create(ctx, sampleOrder("order-20", "bob", time.Now())); err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, u := range []StatusUpdate{
		{Status: StatusPaid},
		{Status: StatusFulfilled},
		{Status: StatusShipped, TrackingNumber: "MOT-ABC123"},
		{Status: StatusDelivered},
	} {
		if err := store.UpdateStatus(ctx, "order-20", u); err != nil {
			t.Fatalf("update to %s: %v", u.Status, err)
		}
	}

	got, _ := store.Get(ctx, "order-20")
	if got.TrackingNumber != "MOT-ABC123" {
		t.Fatalf("tracking number not stored: %q", got.TrackingNumber)
	}
	var labels []string
	for _, e := range got.Tracking {
		labels = append(labels, e.Status)
	}
	want := []string{TrackOrderCreated, TrackPaymentReceived, TrackInventoryReserved, TrackShipped, TrackDelivered}
	if strings.Join(labels, ",") != strings.Join(want, ",") {
		t.Fatalf("history = %v, want %v", labels, want)
	}
}

func TestDynamoStore_ListByCustomerHonoursWindow(t *testing.T) {
	mock := newMockDynamo()
	store := NewDynamoStore(mock, "orders")
	ctx := context.Background()
	now := time.Now()

	_ = store.Create(ctx, sampleOrder("old", "carol", now.Add(-48*time.Hour)))
	_ = store.Create(ctx, sampleOrder("recent", "carol", now.Add(-time.Hour)))
	_ = store.Create(ctx, sampleOrder("other", "dave", now))

	got, err := store.ListByCustomer(ctx, "carol", now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].OrderID != "recent" {
		t.Fatalf("unexpected result %+v", got)
	}

	byStore, err := store.ListByStore(ctx, "X", time.Time{})
	if err != nil {
		t.Fatalf("list by store: %v", err)
	}
	if len(byStore) != 3 {
		t.Fatalf("expected 3 orders for store X, got %d", len(byStore))
	}
}
