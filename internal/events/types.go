package events

import "time"

// Topic names the channel an event is published on.
type Topic string

const (
	TopicOrderCreated      Topic = "order.created"
	TopicPaymentProcessed  Topic = "payment.processed"
	TopicPaymentFailed     Topic = "payment.failed"
	TopicOrderFlagged      Topic = "order.flagged"
	TopicOrderCleared      Topic = "order.cleared"
	TopicInventoryUpdated  Topic = "inventory.updated"
	TopicInventoryFailed   Topic = "inventory.failed"
	TopicOrderCompleted    Topic = "order.completed"
	TopicOrderFailed       Topic = "order.failed"
	TopicDeliveryShipped   Topic = "delivery.shipped"
	TopicDeliveryDelivered Topic = "delivery.delivered"
	TopicThresholdReached  Topic = "inventory.threshold_reached"
)

// Payload is implemented by every event variant. Key returns the partition
// key used to keep per-order ordering inside a topic; Store returns the store
// partition the event belongs to.
type Payload interface {
	Topic() Topic
	Key() string
	Store() string
}

// LineItem is one product line of an order.
type LineItem struct {
	ProductName string  `json:"productName" dynamodbav:"product_name" validate:"required"`
	Quantity    int     `json:"quantity" dynamodbav:"quantity" validate:"required,min=1"`
	Price       float64 `json:"price,omitempty" dynamodbav:"price,omitempty" validate:"gte=0"`
}

// StockLevel reports the stock left for a product after a reservation.
type StockLevel struct {
	ProductName    string `json:"productName" validate:"required"`
	RemainingStock int    `json:"remainingStock" validate:"gte=0"`
}

type OrderCreated struct {
	OrderID      string     `json:"orderId" validate:"required,uuid"`
	CustomerName string     `json:"customerName" validate:"required"`
	Items        []LineItem `json:"items" validate:"required,min=1,dive"`
	TotalAmount  float64    `json:"totalAmount" validate:"gte=0"`
	StoreID      string     `json:"storeId" validate:"required"`
	Timestamp    time.Time  `json:"timestamp"`
}

func (e OrderCreated) Topic() Topic  { return TopicOrderCreated }
func (e OrderCreated) Key() string   { return e.OrderID }
func (e OrderCreated) Store() string { return e.StoreID }

type PaymentProcessed struct {
	OrderID       string     `json:"orderId" validate:"required"`
	Status        string     `json:"status" validate:"eq=paid"`
	Amount        float64    `json:"amount" validate:"gte=0"`
	TransactionID string     `json:"transactionId" validate:"required"`
	Items         []LineItem `json:"items" validate:"required,min=1,dive"`
	StoreID       string     `json:"storeId" validate:"required"`
	Timestamp     time.Time  `json:"timestamp"`
}

func (e PaymentProcessed) Topic() Topic  { return TopicPaymentProcessed }
func (e PaymentProcessed) Key() string   { return e.OrderID }
func (e PaymentProcessed) Store() string { return e.StoreID }

type PaymentFailed struct {
	OrderID       string    `json:"orderId" validate:"required"`
	Status        string    `json:"status" validate:"eq=failed"`
	Reason        string    `json:"reason" validate:"required"`
	Amount        float64   `json:"amount" validate:"gte=0"`
	TransactionID string    `json:"transactionId,omitempty"`
	Attempts      int       `json:"attempts,omitempty"`
	StoreID       string    `json:"storeId" validate:"required"`
	Timestamp     time.Time `json:"timestamp"`
}

func (e PaymentFailed) Topic() Topic  { return TopicPaymentFailed }
func (e PaymentFailed) Key() string   { return e.OrderID }
func (e PaymentFailed) Store() string { return e.StoreID }

// FraudDecision is carried by both order.flagged and order.cleared.
type FraudDecision struct {
	OrderID    string   `json:"orderId" validate:"required"`
	StoreID    string   `json:"storeId" validate:"required"`
	Indicators []string `json:"indicators"`
	Reason     string   `json:"reason"`
}

type OrderFlagged struct{ FraudDecision }

func (e OrderFlagged) Topic() Topic  { return TopicOrderFlagged }
func (e OrderFlagged) Key() string   { return e.OrderID }
func (e OrderFlagged) Store() string { return e.StoreID }

type OrderCleared struct{ FraudDecision }

func (e OrderCleared) Topic() Topic  { return TopicOrderCleared }
func (e OrderCleared) Key() string   { return e.OrderID }
func (e OrderCleared) Store() string { return e.StoreID }

// InventoryUpdated reports remaining stock per product. Reserved echoes the
// reserved line items so fulfillment needs nothing beyond this event.
type InventoryUpdated struct {
	OrderID  string       `json:"orderId" validate:"required"`
	StoreID  string       `json:"storeId" validate:"required"`
	Items    []StockLevel `json:"items" validate:"required,min=1,dive"`
	Reserved []LineItem   `json:"reserved,omitempty" validate:"dive"`
}

func (e InventoryUpdated) Topic() Topic  { return TopicInventoryUpdated }
func (e InventoryUpdated) Key() string   { return e.OrderID }
func (e InventoryUpdated) Store() string { return e.StoreID }

type InventoryFailed struct {
	OrderID string `json:"orderId" validate:"required"`
	StoreID string `json:"storeId" validate:"required"`
	Reason  string `json:"reason" validate:"required"`
}

func (e InventoryFailed) Topic() Topic  { return TopicInventoryFailed }
func (e InventoryFailed) Key() string   { return e.OrderID }
func (e InventoryFailed) Store() string { return e.StoreID }

type OrderCompleted struct {
	OrderID string     `json:"orderId" validate:"required"`
	StoreID string     `json:"storeId" validate:"required"`
	Status  string     `json:"status" validate:"eq=fulfilled"`
	Items   []LineItem `json:"items" validate:"dive"`
}

func (e OrderCompleted) Topic() Topic  { return TopicOrderCompleted }
func (e OrderCompleted) Key() string   { return e.OrderID }
func (e OrderCompleted) Store() string { return e.StoreID }

type OrderFailed struct {
	OrderID string     `json:"orderId" validate:"required"`
	StoreID string     `json:"storeId" validate:"required"`
	Status  string     `json:"status" validate:"eq=failed"`
	Reason  string     `json:"reason"`
	Items   []LineItem `json:"items,omitempty" validate:"dive"`
}

func (e OrderFailed) Topic() Topic  { return TopicOrderFailed }
func (e OrderFailed) Key() string   { return e.OrderID }
func (e OrderFailed) Store() string { return e.StoreID }

type DeliveryShipped struct {
	OrderID        string    `json:"orderId" validate:"required"`
	StoreID        string    `json:"storeId" validate:"required"`
	TrackingNumber string    `json:"trackingNumber" validate:"required"`
	Carrier        string    `json:"carrier,omitempty"`
	Timestamp      time.Time `json:"timestamp" validate:"required"`
}

func (e DeliveryShipped) Topic() Topic  { return TopicDeliveryShipped }
func (e DeliveryShipped) Key() string   { return e.OrderID }
func (e DeliveryShipped) Store() string { return e.StoreID }

type DeliveryDelivered struct {
	OrderID        string    `json:"orderId" validate:"required"`
	StoreID        string    `json:"storeId" validate:"required"`
	TrackingNumber string    `json:"trackingNumber" validate:"required"`
	Timestamp      time.Time `json:"timestamp" validate:"required"`
}

func (e DeliveryDelivered) Topic() Topic  { return TopicDeliveryDelivered }
func (e DeliveryDelivered) Key() string   { return e.OrderID }
func (e DeliveryDelivered) Store() string { return e.StoreID }

type ThresholdReached struct {
	StoreID      string    `json:"storeId" validate:"required"`
	ProductID    string    `json:"productId,omitempty"`
	ProductName  string    `json:"productName" validate:"required"`
	CurrentStock int       `json:"currentStock" validate:"gte=0"`
	Threshold    int       `json:"threshold" validate:"gte=0"`
	Timestamp    time.Time `json:"timestamp"`
}

func (e ThresholdReached) Topic() Topic  { return TopicThresholdReached }
func (e ThresholdReached) Key() string   { return e.StoreID + "/" + e.ProductName }
func (e ThresholdReached) Store() string { return e.StoreID }
