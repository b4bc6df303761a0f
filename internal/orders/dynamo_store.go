package orders

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/imrishuroy/go-order-saga/internal/aws"
)

// Global secondary indexes on the orders table. Both use created_at (epoch
// seconds) as the sort key.
const (
	CustomerIndex = "customer_name-created_at-index"
	StoreIndex    = "store_id-created_at-index"
)

// DynamoStore encapsulates operations on the orders table.
type DynamoStore struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewDynamoStore creates a new orders DynamoStore.
func NewDynamoStore(client aws.DynamoDBAPI, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// Create puts the order unless one with the same id exists.
func (s *DynamoStore) Create(ctx context.Context, o Order) error {
	now := s.nowFunc().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = now
	}
	if o.Tracking == nil {
		o.Tracking = []TrackingEntry{}
	}

	item, err := attributevalue.MarshalMap(o)
	if err != nil {
		return fmt.Errorf("marshal order item: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(order_id)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

// Get fetches an order by order_id. Returns (nil, nil) if not found.
func (s *DynamoStore) Get(ctx context.Context, orderID string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            orderKey(orderID),
		ConsistentRead: ptrBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// UpdateStatus conditionally moves the order to u.Status from any status
// allowed by the transition table and appends the tracking entry in the same
// write. Returns ErrStatusMismatch if the condition failed on an existing order.
func (s *DynamoStore) UpdateStatus(ctx context.Context, orderID string, u StatusUpdate) error {
	from := AllowedFrom(u.Status)
	if len(from) == 0 {
		return fmt.Errorf("%w: no transition into %s", ErrStatusMismatch, u.Status)
	}
	now := s.nowFunc().UTC()

	ua, err := attributevalue.Marshal(now)
	if err != nil {
		return fmt.Errorf("marshal updated_at: %w", err)
	}
	entry, err := attributevalue.Marshal(u.entry(now))
	if err != nil {
		return fmt.Errorf("marshal tracking entry: %w", err)
	}

	sets := []string{
		"#s = :new",
		"updated_at = :ua",
		"tracking = list_append(if_not_exists(tracking, :empty), :entry)",
	}
	values := map[string]types.AttributeValue{
		":new":   &types.AttributeValueMemberS{Value: string(u.Status)},
		":ua":    ua,
		":entry": &types.AttributeValueMemberL{Value: []types.AttributeValue{entry}},
		":empty": &types.AttributeValueMemberL{Value: []types.AttributeValue{}},
	}
	if u.PaymentStatus != "" {
		sets = append(sets, "payment_status = :ps")
		values[":ps"] = &types.AttributeValueMemberS{Value: u.PaymentStatus}
	}
	if u.FailureReason != "" {
		sets = append(sets, "failure_reason = :reason")
		values[":reason"] = &types.AttributeValueMemberS{Value: u.FailureReason}
	}
	if u.TrackingNumber != "" {
		sets = append(sets, "tracking_number = :tn")
		values[":tn"] = &types.AttributeValueMemberS{Value: u.TrackingNumber}
	}

	placeholders := make([]string, len(from))
	for i, st := range from {
		ph := ":from" + strconv.Itoa(i)
		placeholders[i] = ph
		values[ph] = &types.AttributeValueMemberS{Value: string(st)}
	}
	cond := fmt.Sprintf("attribute_exists(order_id) AND #s IN (%s)", strings.Join(placeholders, ", "))

	_, err = s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       orderKey(orderID),
		UpdateExpression:          aws.String("SET " + strings.Join(sets, ", ")),
		ConditionExpression:       &cond,
		ExpressionAttributeNames:  map[string]string{"#s": "status"},
		ExpressionAttributeValues: values,
	})
	if err == nil {
		return nil
	}
	if !isConditionFailed(err) {
		return fmt.Errorf("update item: %w", err)
	}
	o, gerr := s.Get(ctx, orderID)
	if gerr != nil {
		return gerr
	}
	if o == nil {
		return ErrNotFound
	}
	return ErrStatusMismatch
}

// ListByCustomer queries the customer index for orders created at or after since.
func (s *DynamoStore) ListByCustomer(ctx context.Context, customerName string, since time.Time) ([]Order, error) {
	return s.query(ctx, CustomerIndex, "customer_name", customerName, since)
}

// ListByStore queries the store index for orders created at or after since.
func (s *DynamoStore) ListByStore(ctx context.Context, storeID string, since time.Time) ([]Order, error) {
	return s.query(ctx, StoreIndex, "store_id", storeID, since)
}

func (s *DynamoStore) query(ctx context.Context, index, attr, value string, since time.Time) ([]Order, error) {
	input := &dyn.QueryInput{
		TableName:              &s.tableName,
		IndexName:              aws.String(index),
		KeyConditionExpression: aws.String(fmt.Sprintf("%s = :v AND created_at >= :since", attr)),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":v":     &types.AttributeValueMemberS{Value: value},
			":since": &types.AttributeValueMemberN{Value: strconv.FormatInt(since.Unix(), 10)},
		},
	}

	var out []Order
	p := dyn.NewQueryPaginator(s.client, input)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", index, err)
		}
		var batch []Order
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal orders: %w", err)
		}
		out = append(out, batch...)
	}
	return out, nil
}

func orderKey(orderID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"order_id": &types.AttributeValueMemberS{Value: orderID},
	}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var ae smithy.APIError
	return errors.As(err, &ae) && ae.ErrorCode() == "ConditionalCheckFailedException"
}

func ptrBool(b bool) *bool { return &b }
