// Package fraud scores orders against recent customer history.
package fraud

import (
	"strings"
	"time"

	"github.com/imrishuroy/go-order-saga/internal/orders"
)

// Indicator names
const (
	HighOrderAmount       = "High order amount"
	MultipleFailedPayment = "Multiple failed payments"
	UnusuallyHighQuantity = "Unusually high quantity"
	RapidSuccessiveOrders = "Rapid successive orders"
	FailedHighValue       = "Failed high-value payment"
)

// Policy holds the rule thresholds. The zero value is not useful; start
// from DefaultPolicy.
type Policy struct {
	HighAmount          float64
	FailedPayments      int
	FailedWindow        time.Duration
	BulkQuantity        int
	VelocityOrders      int
	VelocityWindow      time.Duration
	FailedHighAmount    float64
	FlagAfterIndicators int
}

func DefaultPolicy() Policy {
	return Policy{
		HighAmount:          10000,
		FailedPayments:      3,
		FailedWindow:        24 * time.Hour,
		BulkQuantity:        100,
		VelocityOrders:      5,
		VelocityWindow:      time.Hour,
		FailedHighAmount:    5000,
		FlagAfterIndicators: 2,
	}
}

// Lookback is the widest history window the policy reads.
func (p Policy) Lookback() time.Duration {
	if p.VelocityWindow > p.FailedWindow {
		return p.VelocityWindow
	}
	return p.FailedWindow
}

// Snapshot is the order being scored.
type Snapshot struct {
	OrderID       string
	CustomerName  string
	TotalAmount   float64
	Quantity      int
	PaymentFailed bool
}

// Assessment is computed once per order and trigger.
type Assessment struct {
	OrderID    string
	Indicators []string
	Flagged    bool
}

// Reason is the comma-joined indicator list.
func (a Assessment) Reason() string {
	return strings.Join(a.Indicators, ", ")
}

// Evaluate applies p to the order and its history. history holds the
// customer's orders, the scored order may or may not be among them. The
// result depends only on the arguments.
func Evaluate(p Policy, snap Snapshot, history []orders.Order, now time.Time) Assessment {
	var indicators []string

	if snap.TotalAmount > p.HighAmount {
		indicators = append(indicators, HighOrderAmount)
	}

	failedSince := now.Add(-p.FailedWindow)
	velocitySince := now.Add(-p.VelocityWindow)
	failed := map[string]bool{}
	recent := map[string]bool{snap.OrderID: true}
	if snap.PaymentFailed {
		failed[snap.OrderID] = true
	}
	for _, o := range history {
		if o.CustomerName != snap.CustomerName {
			continue
		}
		if o.PaymentStatus == orders.PaymentFailed && !o.CreatedAt.Before(failedSince) {
			failed[o.OrderID] = true
		}
		if !o.CreatedAt.Before(velocitySince) {
			recent[o.OrderID] = true
		}
	}
	if len(failed) >= p.FailedPayments {
		indicators = append(indicators, MultipleFailedPayment)
	}
	if snap.Quantity > p.BulkQuantity {
		indicators = append(indicators, UnusuallyHighQuantity)
	}
	if len(recent) >= p.VelocityOrders {
		indicators = append(indicators, RapidSuccessiveOrders)
	}
	if snap.PaymentFailed && snap.TotalAmount > p.FailedHighAmount {
		indicators = append(indicators, FailedHighValue)
	}

	return Assessment{
		OrderID:    snap.OrderID,
		Indicators: indicators,
		Flagged:    len(indicators) >= p.FlagAfterIndicators,
	}
}
