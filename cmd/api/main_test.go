package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-order-saga/internal/app"
	"github.com/imrishuroy/go-order-saga/internal/config"
)

func newApp(t *testing.T) *app.App {
	t.Helper()
	gin.SetMode(gin.TestMode)
	vars := map[string]string{"RUN_LOCAL": "true", "PAYMENT_SUCCESS_RATE": "1", "DELIVERY_DELAY": "10ms"}
	cfg, err := config.FromEnv(func(name string) string { return vars[name] })
	require.NoError(t, err)
	a, err := app.Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a
}

func TestHealth(t *testing.T) {
	r := setupRouter(newApp(t))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","local":true,"payment_breaker":"closed"}`, w.Body.String())
}

func TestOrderThroughRouter(t *testing.T) {
	a := newApp(t)
	r := setupRouter(a)

	req := httptest.NewRequest(http.MethodPost, "/api/order",
		strings.NewReader(`{"customerName":"Ada","items":[{"productName":"Motia AI Dev Board","quantity":1}],"totalAmount":49}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Store-ID", "Z")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code)
	a.Settle()

	req = httptest.NewRequest(http.MethodGet, w.Header().Get("Location"), nil)
	req.Header.Set("X-Store-ID", "Z")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Status         string `json:"status"`
		TrackingNumber string `json:"trackingNumber"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "delivered", body.Status)
	assert.True(t, strings.HasPrefix(body.TrackingNumber, "MOT-"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "stage_outcomes_total")
}

func TestOrderIDReusedAcrossStores(t *testing.T) {
	a := newApp(t)
	r := setupRouter(a)
	id := uuid.NewString()
	body := `{"orderId":"` + id + `","customerName":"Ada","items":[{"productName":"Motia Pro Headset","quantity":1}],"totalAmount":99}`

	post := func(store string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/order", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Store-ID", store)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}
	require.Equal(t, http.StatusAccepted, post("X"))
	a.Settle()
	assert.Equal(t, http.StatusConflict, post("Y"))
	assert.Equal(t, http.StatusAccepted, post("X"))
	a.Settle()

	o, err := a.Orders.Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, "X", o.StoreID)
	assert.Equal(t, "delivered", string(o.Status))

	for store, stock := range map[string]int{"X": 24, "Y": 12} {
		records, err := a.Ledger.List(context.Background(), store)
		require.NoError(t, err)
		for _, rec := range records {
			if rec.ProductName == "Motia Pro Headset" {
				assert.Equal(t, stock, rec.Stock, store)
			}
		}
	}
}
