package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/imrishuroy/go-order-saga/internal/aws"
)

const (
	condReservable = "attribute_not_exists(idempotency_key) OR expires_at < :now"
	condInProgress = "#s = :in_progress"
)

// DynamoStore keeps idempotency records in a DynamoDB table whose TTL
// attribute is expires_at. Expired rows may linger until DynamoDB sweeps
// them, so every read also checks expires_at.
type DynamoStore struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewDynamoStore returns a configured DynamoStore.
func NewDynamoStore(client aws.DynamoDBAPI, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// CheckOrReserve puts an IN_PROGRESS record unless a live record exists.
func (s *DynamoStore) CheckOrReserve(ctx context.Context, key Key, lease time.Duration) (Outcome, error) {
	// A record can expire between the failed put and the read; one retry
	// covers that window.
	for i := 0; i < 2; i++ {
		now := s.nowFunc()
		created, err := s.putReservation(ctx, key, now, lease)
		if err != nil {
			return Outcome{}, err
		}
		if created {
			return Outcome{Decision: Reserved}, nil
		}

		rec, err := s.Get(ctx, key)
		if err != nil {
			return Outcome{}, err
		}
		if rec != nil && rec.ExpiresAt >= now.Unix() {
			return rec.outcome()
		}
	}
	return Outcome{Decision: InFlight}, nil
}

func (s *DynamoStore) putReservation(ctx context.Context, key Key, now time.Time, lease time.Duration) (bool, error) {
	item, err := attributevalue.MarshalMap(newRecord(key, StatusInProgress, now, lease))
	if err != nil {
		return false, fmt.Errorf("marshal record: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: aws.String(condReservable),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: put item: %v", ErrUnavailable, err)
	}
	return true, nil
}

// Get retrieves an idempotency record by key. If not found, returns (nil, nil).
func (s *DynamoStore) Get(ctx context.Context, key Key) (*IdempotencyRecord, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            recordKey(key),
		ConsistentRead: ptrBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: get item: %v", ErrUnavailable, err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var rec IdempotencyRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return &rec, nil
}

// Commit overwrites the record with DONE and the encoded result.
func (s *DynamoStore) Commit(ctx context.Context, key Key, result Result, ttl time.Duration) error {
	body, err := encodeResult(result)
	if err != nil {
		return err
	}
	now := s.nowFunc()
	rec := newRecord(key, StatusDone, now, ttl)
	rec.ResultBody = body

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if _, err := s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	}); err != nil {
		return fmt.Errorf("%w: put item (commit): %v", ErrUnavailable, err)
	}
	return nil
}

// Release deletes the record only while it is still IN_PROGRESS.
func (s *DynamoStore) Release(ctx context.Context, key Key) error {
	_, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName:                &s.tableName,
		Key:                      recordKey(key),
		ConditionExpression:      aws.String(condInProgress),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":in_progress": &types.AttributeValueMemberS{Value: StatusInProgress},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return nil
		}
		return fmt.Errorf("%w: delete item (release): %v", ErrUnavailable, err)
	}
	return nil
}

func recordKey(key Key) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"idempotency_key": &types.AttributeValueMemberS{Value: key.String()},
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
