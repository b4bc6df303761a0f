// Package inventory owns per-store stock counters and the stages that
// reserve, restore and monitor them.
package inventory

import (
	"context"
	"errors"
)

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrProductNotFound   = errors.New("product not found")
	// ErrCompensationFailed means a restore after a failed reservation did not
	// complete. It needs an operator and is never retried automatically.
	ErrCompensationFailed = errors.New("inventory compensation failed")
)

// ProductStatus values
const (
	StatusActive     = "active"
	StatusOutOfStock = "out_of_stock"
	StatusStale      = "stale"
)

// DefaultThreshold is used when a record carries no threshold.
const DefaultThreshold = 10

// Record is one (store, product) counter.
type Record struct {
	StoreID     string `dynamodbav:"store_id" json:"storeId"`         // PK
	ProductName string `dynamodbav:"product_name" json:"productName"` // SK
	ProductID   string `dynamodbav:"product_id,omitempty" json:"productId,omitempty"`
	Stock       int    `dynamodbav:"stock" json:"stock"`
	Threshold   int    `dynamodbav:"threshold" json:"threshold"`
	Status      string `dynamodbav:"status" json:"status"`
}

// Low reports whether the record is at or below its threshold.
func (r Record) Low() bool {
	threshold := r.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return r.Stock <= threshold
}

// Ledger is the stock counter backend. Decrement is the only
// read-modify-write and must be atomic per (store, product).
type Ledger interface {
	// Decrement subtracts qty when stock >= qty and returns the remaining stock.
	Decrement(ctx context.Context, storeID, productName string, qty int) (int, error)
	// Increment adds qty back and returns the new stock.
	Increment(ctx context.Context, storeID, productName string, qty int) (int, error)
	List(ctx context.Context, storeID string) ([]Record, error)
	Stores(ctx context.Context) ([]string, error)
	// ClearStale flips a stale record back to active.
	ClearStale(ctx context.Context, storeID, productName string) error
	Seed(ctx context.Context, records []Record) error
}
