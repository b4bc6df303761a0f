package validation

import "github.com/imrishuroy/go-order-saga/internal/events"

// Item represents a single order line item.
type Item struct {
	ProductName string  `json:"productName" validate:"required"`
	Quantity    int     `json:"quantity" validate:"required,min=1"`
	Price       float64 `json:"price,omitempty" validate:"gte=0"` // optional unit price
}

// CreateOrderRequest is the payload for POST /api/order
type CreateOrderRequest struct {
	OrderID      string  `json:"orderId,omitempty" validate:"omitempty,uuid"` // generated when absent
	CustomerName string  `json:"customerName" validate:"required"`
	Items        []Item  `json:"items" validate:"required,min=1,dive"`
	TotalAmount  float64 `json:"totalAmount" validate:"gte=0"`
}

// LineItems converts the request items to their event form.
func (r CreateOrderRequest) LineItems() []events.LineItem {
	out := make([]events.LineItem, len(r.Items))
	for i, it := range r.Items {
		out[i] = events.LineItem{ProductName: it.ProductName, Quantity: it.Quantity, Price: it.Price}
	}
	return out
}
