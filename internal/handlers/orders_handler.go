package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-order-saga/internal/alerts"
	"github.com/imrishuroy/go-order-saga/internal/events"
	"github.com/imrishuroy/go-order-saga/internal/orders"
	"github.com/imrishuroy/go-order-saga/internal/validation"
)

// OrderSubmitter accepts new orders into the pipeline.
type OrderSubmitter interface {
	Submit(ctx context.Context, created events.OrderCreated) error
}

// NotificationReader serves the per-store alert list.
type NotificationReader interface {
	Latest(ctx context.Context, storeID string) ([]alerts.Notification, error)
	Unread(ctx context.Context, storeID string) (int, error)
}

// HandlerConfig groups dependencies for the API handlers.
type HandlerConfig struct {
	Submitter   OrderSubmitter
	Orders      orders.Store
	Alerts      NotificationReader
	ValidStore  func(storeID string) bool
	TrackingTTL time.Duration
	Logger      *zap.Logger
}

// RegisterOrdersRoutes registers the store-scoped API routes.
func RegisterOrdersRoutes(r *gin.Engine, cfg HandlerConfig) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("api")
	v := validation.New()

	api := r.Group("/api", storeScope(cfg.ValidStore, log))

	api.POST("/order", func(c *gin.Context) {
		ctx := c.Request.Context()
		storeID := c.GetString(storeKey)

		var req validation.CreateOrderRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			// BindAndValidate already wrote a 400
			log.Warn("invalid order request", zap.String("store_id", storeID), zap.Error(err))
			return
		}
		orderID := req.OrderID
		if orderID == "" {
			orderID = uuid.NewString()
		}

		err := cfg.Submitter.Submit(ctx, events.OrderCreated{
			OrderID:      orderID,
			CustomerName: req.CustomerName,
			Items:        req.LineItems(),
			TotalAmount:  req.TotalAmount,
			StoreID:      storeID,
			Timestamp:    time.Now().UTC(),
		})
		switch {
		case errors.Is(err, events.ErrValidation):
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "msg": err.Error()})
			return
		case errors.Is(err, orders.ErrConflict):
			log.Warn("order id conflict", zap.String("order_id", orderID), zap.String("store_id", storeID))
			c.JSON(http.StatusConflict, gin.H{"message": "Order ID already in use", "status": "error", "orderId": orderID})
			return
		case err != nil:
			log.Error("submit order", zap.String("order_id", orderID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"message": "Internal server error", "status": "error"})
			return
		}

		log.Info("order received", zap.String("order_id", orderID), zap.String("store_id", storeID))
		c.Header("Location", fmt.Sprintf("/api/order/tracking/%s", orderID))
		c.JSON(http.StatusAccepted, gin.H{
			"success": true,
			"message": "Order received successfully",
			"status":  "success",
			"orderId": orderID,
		})
	})

	api.GET("/order/tracking/:orderId", func(c *gin.Context) {
		ctx := c.Request.Context()
		storeID := c.GetString(storeKey)
		orderID := c.Param("orderId")

		o, err := cfg.Orders.Get(ctx, orderID)
		if err != nil {
			log.Error("get order", zap.String("order_id", orderID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"message": "Internal server error", "status": "error"})
			return
		}
		if o == nil || o.StoreID != storeID {
			c.JSON(http.StatusNotFound, gin.H{"message": "Order not found", "status": "error"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"orderId":        o.OrderID,
			"status":         o.Status,
			"trackingNumber": o.TrackingNumber,
			"history":        o.History(time.Now(), cfg.TrackingTTL),
		})
	})

	api.GET("/dashboard/stats", dashboardStats(cfg, log))

	api.GET("/notifications", func(c *gin.Context) {
		list, err := cfg.Alerts.Latest(c.Request.Context(), c.GetString(storeKey))
		if err != nil {
			log.Error("list notifications", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"message": "Internal server error", "status": "error"})
			return
		}
		if list == nil {
			list = []alerts.Notification{}
		}
		c.JSON(http.StatusOK, gin.H{"notifications": list})
	})
}
