package inventory

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/imrishuroy/go-order-saga/internal/aws"
)

const (
	condCanDecrement = "attribute_exists(product_name) AND stock >= :q"
	condExists       = "attribute_exists(product_name)"
	condStale        = "#st = :stale"

	// transactLimit is the TransactWriteItems item limit.
	transactLimit = 100
)

// DynamoLedger keeps records in a table keyed by (store_id, product_name).
type DynamoLedger struct {
	client    aws.DynamoDBAPI
	tableName string
	stores    []string
}

// NewDynamoLedger returns a ledger over tableName. The table has no cheap
// way to enumerate partitions, so stores is the configured store list.
func NewDynamoLedger(client aws.DynamoDBAPI, tableName string, stores []string) *DynamoLedger {
	return &DynamoLedger{
		client:    client,
		tableName: tableName,
		stores:    append([]string(nil), stores...),
	}
}

func (l *DynamoLedger) Decrement(ctx context.Context, storeID, productName string, qty int) (int, error) {
	out, err := l.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:           &l.tableName,
		Key:                 ledgerKey(storeID, productName),
		UpdateExpression:    aws.String("SET stock = stock - :q"),
		ConditionExpression: aws.String(condCanDecrement),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":q": number(qty),
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		if !isConditionFailed(err) {
			return 0, fmt.Errorf("decrement %s/%s: %w", storeID, productName, err)
		}
		rec, gerr := l.get(ctx, storeID, productName)
		if gerr != nil {
			return 0, gerr
		}
		if rec == nil {
			return 0, fmt.Errorf("%w: %q in store %s", ErrProductNotFound, productName, storeID)
		}
		return rec.Stock, fmt.Errorf("%w: %q has %d, need %d", ErrInsufficientStock, productName, rec.Stock, qty)
	}
	return stockOf(out.Attributes)
}

func (l *DynamoLedger) Increment(ctx context.Context, storeID, productName string, qty int) (int, error) {
	out, err := l.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:           &l.tableName,
		Key:                 ledgerKey(storeID, productName),
		UpdateExpression:    aws.String("SET stock = stock + :q"),
		ConditionExpression: aws.String(condExists),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":q": number(qty),
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		if isConditionFailed(err) {
			return 0, fmt.Errorf("%w: %q in store %s", ErrProductNotFound, productName, storeID)
		}
		return 0, fmt.Errorf("increment %s/%s: %w", storeID, productName, err)
	}
	return stockOf(out.Attributes)
}

func (l *DynamoLedger) List(ctx context.Context, storeID string) ([]Record, error) {
	p := dyn.NewQueryPaginator(l.client, &dyn.QueryInput{
		TableName:              &l.tableName,
		KeyConditionExpression: aws.String("store_id = :s"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":s": &types.AttributeValueMemberS{Value: storeID},
		},
	})
	var out []Record
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query store %s: %w", storeID, err)
		}
		var batch []Record
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal records: %w", err)
		}
		out = append(out, batch...)
	}
	return out, nil
}

func (l *DynamoLedger) Stores(ctx context.Context) ([]string, error) {
	return append([]string(nil), l.stores...), nil
}

func (l *DynamoLedger) ClearStale(ctx context.Context, storeID, productName string) error {
	_, err := l.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &l.tableName,
		Key:                      ledgerKey(storeID, productName),
		UpdateExpression:         aws.String("SET #st = :active"),
		ConditionExpression:      aws.String(condStale),
		ExpressionAttributeNames: map[string]string{"#st": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":active": &types.AttributeValueMemberS{Value: StatusActive},
			":stale":  &types.AttributeValueMemberS{Value: StatusStale},
		},
	})
	if err != nil && !isConditionFailed(err) {
		return fmt.Errorf("clear stale %s/%s: %w", storeID, productName, err)
	}
	return nil
}

// Seed writes records in transactions of up to 100 puts.
func (l *DynamoLedger) Seed(ctx context.Context, records []Record) error {
	for start := 0; start < len(records); start += transactLimit {
		end := start + transactLimit
		if end > len(records) {
			end = len(records)
		}
		items := make([]types.TransactWriteItem, 0, end-start)
		for _, r := range records[start:end] {
			item, err := attributevalue.MarshalMap(normalize(r))
			if err != nil {
				return fmt.Errorf("marshal record: %w", err)
			}
			items = append(items, types.TransactWriteItem{
				Put: &types.Put{TableName: &l.tableName, Item: item},
			})
		}
		if _, err := l.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: items}); err != nil {
			var tce *types.TransactionCanceledException
			if errors.As(err, &tce) {
				return fmt.Errorf("seed transaction canceled: %w", err)
			}
			return fmt.Errorf("transact write: %w", err)
		}
	}
	return nil
}

func (l *DynamoLedger) get(ctx context.Context, storeID, productName string) (*Record, error) {
	out, err := l.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &l.tableName,
		Key:            ledgerKey(storeID, productName),
		ConsistentRead: ptrBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var r Record
	if err := attributevalue.UnmarshalMap(out.Item, &r); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return &r, nil
}

func ledgerKey(storeID, productName string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"store_id":     &types.AttributeValueMemberS{Value: storeID},
		"product_name": &types.AttributeValueMemberS{Value: productName},
	}
}

func number(n int) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.Itoa(n)}
}

func stockOf(attrs map[string]types.AttributeValue) (int, error) {
	n, ok := attrs["stock"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, errors.New("update returned no stock attribute")
	}
	return strconv.Atoi(n.Value)
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
