package handlers

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-order-saga/internal/orders"
)

// statsWindow bounds the order counts and revenue of the dashboard.
const statsWindow = 7 * 24 * time.Hour

// RecentOrder is one dashboard row.
type RecentOrder struct {
	ID       string  `json:"id"`
	Customer string  `json:"customer"`
	Amount   float64 `json:"amount"`
	Status   string  `json:"status"`
	Time     string  `json:"time"`
}

// Stats is the body of GET /api/dashboard/stats.
type Stats struct {
	TotalOrders     int           `json:"totalOrders"`
	Revenue         float64       `json:"revenue"`
	ActiveAlerts    int           `json:"activeAlerts"`
	FulfillmentRate float64       `json:"fulfillmentRate"`
	RecentOrders    []RecentOrder `json:"recentOrders"`
}

func dashboardStats(cfg HandlerConfig, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		storeID := c.GetString(storeKey)

		list, err := cfg.Orders.ListByStore(ctx, storeID, time.Time{})
		if err != nil {
			log.Error("list store orders", zap.String("store_id", storeID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"message": "Internal server error", "status": "error"})
			return
		}
		unread, err := cfg.Alerts.Unread(ctx, storeID)
		if err != nil {
			log.Error("count notifications", zap.String("store_id", storeID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"message": "Internal server error", "status": "error"})
			return
		}

		stats := computeStats(list, time.Now())
		stats.ActiveAlerts = unread
		log.Info("dashboard stats calculated",
			zap.String("store_id", storeID),
			zap.Int("total_orders", stats.TotalOrders),
			zap.Float64("revenue", stats.Revenue))
		c.JSON(http.StatusOK, stats)
	}
}

func computeStats(list []orders.Order, now time.Time) Stats {
	since := now.Add(-statsWindow)
	var total, fulfilled int
	var revenue float64
	for _, o := range list {
		if o.CreatedAt.Before(since) {
			continue
		}
		total++
		switch o.Status {
		case orders.StatusPaid:
			revenue += o.TotalAmount
		case orders.StatusFulfilled, orders.StatusShipped, orders.StatusDelivered:
			revenue += o.TotalAmount
			fulfilled++
		}
	}

	rate := 100.0
	if total > 0 {
		rate = math.Round(float64(fulfilled)/float64(total)*1000) / 10
	}

	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	recent := make([]RecentOrder, 0, len(list))
	for _, o := range list {
		id := o.OrderID
		if len(id) > 8 {
			id = id[:8]
		}
		recent = append(recent, RecentOrder{
			ID:       strings.ToUpper(id),
			Customer: o.CustomerName,
			Amount:   o.TotalAmount,
			Status:   displayStatus(o.Status),
			Time:     ago(now.Sub(o.CreatedAt)),
		})
	}

	return Stats{
		TotalOrders:     total,
		Revenue:         math.Round(revenue*100) / 100,
		FulfillmentRate: rate,
		RecentOrders:    recent,
	}
}

func displayStatus(s orders.Status) string {
	switch s {
	case orders.StatusDelivered:
		return "completed"
	case orders.StatusFailed, orders.StatusPending:
		return string(s)
	default:
		return "processing"
	}
}

func ago(d time.Duration) string {
	plural := func(n int, unit string) string {
		if n == 1 {
			return fmt.Sprintf("1 %s ago", unit)
		}
		return fmt.Sprintf("%d %ss ago", n, unit)
	}
	switch m := int(d.Minutes()); {
	case m < 1:
		return "Just now"
	case m < 60:
		return plural(m, "min")
	case m < 24*60:
		return plural(m/60, "hour")
	default:
		return plural(m/(24*60), "day")
	}
}
