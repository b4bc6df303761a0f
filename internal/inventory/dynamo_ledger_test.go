package inventory

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockDynamo keeps inventory items keyed by store_id|product_name and
// evaluates the condition expressions the ledger issues.
type mockDynamo struct {
	mu        sync.Mutex
	items     map[string]map[string]types.AttributeValue
	transacts int
}

func newMockDynamo() *mockDynamo {
	return &mockDynamo{items: map[string]map[string]types.AttributeValue{}}
}

func keyString(m map[string]types.AttributeValue) string {
	return m["store_id"].(*types.AttributeValueMemberS).Value + "|" + m["product_name"].(*types.AttributeValueMemberS).Value
}

func num(av types.AttributeValue) int {
	n, _ := strconv.Atoi(av.(*types.AttributeValueMemberN).Value)
	return n
}

func (m *mockDynamo) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := keyString(in.Key)
	item, exists := m.items[k]

	switch *in.ConditionExpression {
	case condCanDecrement:
		q := num(in.ExpressionAttributeValues[":q"])
		if !exists || num(item["stock"]) < q {
			return nil, &types.ConditionalCheckFailedException{}
		}
		item["stock"] = &types.AttributeValueMemberN{Value: strconv.Itoa(num(item["stock"]) - q)}
	case condExists:
		if !exists {
			return nil, &types.ConditionalCheckFailedException{}
		}
		q := num(in.ExpressionAttributeValues[":q"])
		item["stock"] = &types.AttributeValueMemberN{Value: strconv.Itoa(num(item["stock"]) + q)}
	case condStale:
		st, ok := item["status"].(*types.AttributeValueMemberS)
		if !exists || !ok || st.Value != StatusStale {
			return nil, &types.ConditionalCheckFailedException{}
		}
		item["status"] = in.ExpressionAttributeValues[":active"]
	default:
		return nil, errors.New("unexpected condition")
	}
	return &dyn.UpdateItemOutput{Attributes: map[string]types.AttributeValue{"stock": item["stock"]}}, nil
}

func (m *mockDynamo) GetItem(ctx context.Context, in *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[keyString(in.Key)]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

func (m *mockDynamo) Query(ctx context.Context, in *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	store := in.ExpressionAttributeValues[":s"].(*types.AttributeValueMemberS).Value
	var out []map[string]types.AttributeValue
	for _, item := range m.items {
		if item["store_id"].(*types.AttributeValueMemberS).Value == store {
			out = append(out, item)
		}
	}
	return &dyn.QueryOutput{Items: out}, nil
}

func (m *mockDynamo) TransactWriteItems(ctx context.Context, in *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(in.TransactItems) > transactLimit {
		return nil, errors.New("too many transact items")
	}
	m.transacts++
	for _, it := range in.TransactItems {
		m.items[keyString(it.Put.Item)] = it.Put.Item
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func (m *mockDynamo) PutItem(ctx context.Context, in *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	return nil, errors.New("not used by the ledger")
}

func (m *mockDynamo) DeleteItem(ctx context.Context, in *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	return nil, errors.New("not used by the ledger")
}

func TestDynamoLedger_ConditionalDecrement(t *testing.T) {
	mock := newMockDynamo()
	l := NewDynamoLedger(mock, "inventory", []string{"X"})
	ctx := context.Background()
	require.NoError(t, l.Seed(ctx, []Record{{StoreID: "X", ProductName: "p", Stock: 3}}))

	left, err := l.Decrement(ctx, "X", "p", 2)
	require.NoError(t, err)
	assert.Equal(t, 1, left)

	left, err = l.Decrement(ctx, "X", "p", 2)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, 1, left)

	_, err = l.Decrement(ctx, "X", "ghost", 1)
	assert.ErrorIs(t, err, ErrProductNotFound)

	back, err := l.Increment(ctx, "X", "p", 2)
	require.NoError(t, err)
	assert.Equal(t, 3, back)

	_, err = l.Increment(ctx, "X", "ghost", 1)
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestDynamoLedger_SeedBatchesAndList(t *testing.T) {
	mock := newMockDynamo()
	l := NewDynamoLedger(mock, "inventory", []string{"X", "Y", "Z"})
	ctx := context.Background()

	var many []Record
	for i := 0; i < 150; i++ {
		many = append(many, Record{StoreID: "Y", ProductName: "bulk-" + strconv.Itoa(i), Stock: i})
	}
	require.NoError(t, l.Seed(ctx, append(DemoCatalog([]string{"X"}), many...)))
	assert.Equal(t, 2, mock.transacts)

	recs, err := l.List(ctx, "X")
	require.NoError(t, err)
	assert.Len(t, recs, 4)
	for _, r := range recs {
		assert.Equal(t, StatusActive, r.Status)
		assert.Positive(t, r.Threshold)
	}

	stores, _ := l.Stores(ctx)
	assert.Equal(t, []string{"X", "Y", "Z"}, stores)
}

func TestDynamoLedger_ClearStale(t *testing.T) {
	mock := newMockDynamo()
	l := NewDynamoLedger(mock, "inventory", []string{"X"})
	ctx := context.Background()
	require.NoError(t, l.Seed(ctx, []Record{
		{StoreID: "X", ProductName: "old", Stock: 1, Status: StatusStale},
		{StoreID: "X", ProductName: "fresh", Stock: 1},
	}))

	require.NoError(t, l.ClearStale(ctx, "X", "old"))
	require.NoError(t, l.ClearStale(ctx, "X", "fresh"))

	recs, _ := l.List(ctx, "X")
	for _, r := range recs {
		assert.Equal(t, StatusActive, r.Status)
	}
}
