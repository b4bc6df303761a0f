// Package config loads runtime settings from the environment, after an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/imrishuroy/go-order-saga/internal/aws"
	"github.com/imrishuroy/go-order-saga/internal/fraud"
)

// Worker Lambda modes: consume the order queue, or run one inventory sweep
// per invocation.
const (
	WorkerConsumer = "consumer"
	WorkerMonitor  = "monitor"
)

// Backend names
const (
	BackendMemory   = "memory"
	BackendDynamoDB = "dynamodb"
	BackendRedis    = "redis"
)

type Tables struct {
	Idempotency string
	Orders      string
	Inventory   string
}

type Payment struct {
	MaxRetries      int
	Backoff         time.Duration
	SuccessRate     float64
	BreakerFailures int
	BreakerTimeout  time.Duration
}

type Config struct {
	AWS      aws.Settings
	Tables   Tables
	QueueURL string

	IdempotencyBackend string
	StoreBackend       string
	AlertsBackend      string
	RedisAddr          string
	FailOpen           bool

	Payment          Payment
	DeliveryDelay    time.Duration
	Carrier          string
	ResultTTL        time.Duration
	TrackingTTL      time.Duration
	ReservationLease time.Duration
	Fraud            fraud.Policy

	ContinuationAttempts int
	ContinuationBackoff  time.Duration

	BusMaxDeliveries int
	BusLanes         int

	Stores        []string
	InventoryCron string
	SeedInventory bool
	WorkerMode    string

	CloudWatchNamespace string
	LogLevel            string
	LogDevelopment      bool
	RunLocal            bool
	HTTPAddr            string
}

// Load reads .env when present, then the environment. Every invalid value is
// reported, each error naming its variable.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from lookup, which returns "" for unset names.
func FromEnv(lookup func(string) string) (Config, error) {
	e := &env{lookup: lookup}
	policy := fraud.DefaultPolicy()

	cfg := Config{
		AWS: aws.Settings{
			Region:           e.str("AWS_REGION", "us-east-1"),
			EndpointOverride: e.str("AWS_ENDPOINT_OVERRIDE", ""),
		},
		Tables: Tables{
			Idempotency: e.str("IDEMPOTENCY_TABLE", "idempotency"),
			Orders:      e.str("ORDERS_TABLE", "orders"),
			Inventory:   e.str("INVENTORY_TABLE", "inventory"),
		},
		QueueURL: e.str("ORDERS_QUEUE_URL", ""),

		IdempotencyBackend: e.oneOf("IDEMPOTENCY_BACKEND", BackendMemory, BackendMemory, BackendDynamoDB, BackendRedis),
		StoreBackend:       e.oneOf("STORE_BACKEND", BackendMemory, BackendMemory, BackendDynamoDB),
		AlertsBackend:      e.oneOf("ALERTS_BACKEND", BackendMemory, BackendMemory, BackendRedis),
		RedisAddr:          e.str("REDIS_ADDR", "localhost:6379"),
		FailOpen:           e.boolean("IDEMPOTENCY_FAIL_OPEN", false),

		Payment: Payment{
			MaxRetries:      e.integer("PAYMENT_MAX_RETRIES", 3, 1),
			Backoff:         e.duration("PAYMENT_BACKOFF", 2*time.Second),
			SuccessRate:     e.fraction("PAYMENT_SUCCESS_RATE", 0.7),
			BreakerFailures: e.integer("PAYMENT_BREAKER_FAILURES", 5, 1),
			BreakerTimeout:  e.duration("PAYMENT_BREAKER_TIMEOUT", 30*time.Second),
		},
		DeliveryDelay:    e.duration("DELIVERY_DELAY", 10*time.Second),
		Carrier:          e.str("DELIVERY_CARRIER", "Motia Express"),
		ResultTTL:        e.duration("STAGE_RESULT_TTL", time.Hour),
		TrackingTTL:      e.duration("TRACKING_TTL", time.Hour),
		ReservationLease: e.duration("RESERVATION_LEASE", 5*time.Minute),
		Fraud: fraud.Policy{
			HighAmount:          e.float("FRAUD_HIGH_AMOUNT", policy.HighAmount),
			FailedPayments:      e.integer("FRAUD_FAILED_PAYMENTS", policy.FailedPayments, 1),
			FailedWindow:        e.duration("FRAUD_FAILED_WINDOW", policy.FailedWindow),
			BulkQuantity:        e.integer("FRAUD_BULK_QUANTITY", policy.BulkQuantity, 1),
			VelocityOrders:      e.integer("FRAUD_VELOCITY_ORDERS", policy.VelocityOrders, 1),
			VelocityWindow:      e.duration("FRAUD_VELOCITY_WINDOW", policy.VelocityWindow),
			FailedHighAmount:    e.float("FRAUD_FAILED_HIGH_AMOUNT", policy.FailedHighAmount),
			FlagAfterIndicators: e.integer("FRAUD_FLAG_AFTER", policy.FlagAfterIndicators, 1),
		},

		ContinuationAttempts: e.integer("CONTINUATION_ATTEMPTS", 3, 1),
		ContinuationBackoff:  e.duration("CONTINUATION_BACKOFF", time.Second),

		BusMaxDeliveries: e.integer("BUS_MAX_DELIVERIES", 3, 1),
		BusLanes:         e.integer("BUS_LANES", 8, 1),

		Stores:        e.list("VALID_STORES", []string{"X", "Y", "Z"}),
		InventoryCron: e.str("INVENTORY_CRON", "@every 1m"),
		SeedInventory: e.boolean("SEED_INVENTORY", true),
		WorkerMode:    e.oneOf("WORKER_MODE", WorkerConsumer, WorkerConsumer, WorkerMonitor),

		CloudWatchNamespace: e.str("CLOUDWATCH_NAMESPACE", ""),
		LogLevel:            e.str("LOG_LEVEL", "info"),
		LogDevelopment:      e.boolean("LOG_DEVELOPMENT", false),
		RunLocal:            e.boolean("RUN_LOCAL", false),
		HTTPAddr:            e.str("HTTP_ADDR", ":8080"),
	}

	if len(cfg.Stores) == 0 {
		e.fail("VALID_STORES", errors.New("must list at least one store"))
	}
	if !cfg.RunLocal && cfg.QueueURL == "" && cfg.StoreBackend == BackendDynamoDB {
		e.fail("ORDERS_QUEUE_URL", errors.New("is required with the dynamodb store outside local mode"))
	}
	return cfg, errors.Join(e.errs...)
}

// ValidStore reports whether id is one of the configured stores.
func (c Config) ValidStore(id string) bool {
	for _, s := range c.Stores {
		if s == id {
			return true
		}
	}
	return false
}

type env struct {
	lookup func(string) string
	errs   []error
}

func (e *env) fail(name string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%s: %w", name, err))
}

func (e *env) raw(name string) string {
	return strings.TrimSpace(e.lookup(name))
}

func (e *env) str(name, def string) string {
	if v := e.raw(name); v != "" {
		return v
	}
	return def
}

func (e *env) oneOf(name, def string, allowed ...string) string {
	v := strings.ToLower(e.str(name, def))
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	e.fail(name, fmt.Errorf("%q is not one of %s", v, strings.Join(allowed, ", ")))
	return def
}

func (e *env) boolean(name string, def bool) bool {
	v := e.raw(name)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(name, err)
		return def
	}
	return b
}

func (e *env) integer(name string, def, min int) int {
	v := e.raw(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(name, err)
		return def
	}
	if n < min {
		e.fail(name, fmt.Errorf("must be >= %d", min))
		return def
	}
	return n
}

func (e *env) float(name string, def float64) float64 {
	v := e.raw(name)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(name, err)
		return def
	}
	if f < 0 {
		e.fail(name, errors.New("must be >= 0"))
		return def
	}
	return f
}

func (e *env) fraction(name string, def float64) float64 {
	f := e.float(name, def)
	if f > 1 {
		e.fail(name, errors.New("must be between 0 and 1"))
		return def
	}
	return f
}

func (e *env) duration(name string, def time.Duration) time.Duration {
	v := e.raw(name)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(name, err)
		return def
	}
	if d < 0 {
		e.fail(name, errors.New("must be >= 0"))
		return def
	}
	return d
}

func (e *env) list(name string, def []string) []string {
	v := e.raw(name)
	if v == "" {
		return def
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
