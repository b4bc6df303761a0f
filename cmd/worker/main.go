package main

import (
	"context"
	"encoding/json"
	"os"

	lambdaevents "github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-order-saga/internal/app"
	"github.com/imrishuroy/go-order-saga/internal/config"
	"github.com/imrishuroy/go-order-saga/internal/events"
	"github.com/imrishuroy/go-order-saga/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx := context.Background()
	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to build pipeline", zap.Error(err))
	}

	if cfg.WorkerMode == config.WorkerMonitor {
		sweep := func(ctx context.Context) error {
			n, err := a.Monitor.Sweep(ctx)
			if err != nil {
				return err
			}
			log.Info("inventory sweep done", zap.Int("alerts", n))
			flush(ctx, a, log)
			return nil
		}
		if cfg.RunLocal {
			if err := sweep(ctx); err != nil {
				log.Fatal("inventory sweep", zap.Error(err))
			}
			if err := a.Close(ctx); err != nil {
				log.Error("shutdown", zap.Error(err))
			}
			return
		}
		lambda.Start(sweep)
		return
	}

	p := NewProcessor(a.Orchestrator, a.Settle, log, a.Alerts)

	// If RUN_LOCAL=true, simulate a single SQS event and run the pipeline to
	// completion in process.
	if cfg.RunLocal {
		body := os.Getenv("LOCAL_SQS_BODY")
		if body == "" {
			body = demoOrder(cfg.Stores[0])
		}
		event := lambdaevents.SQSEvent{
			Records: []lambdaevents.SQSMessage{{MessageId: "local-1", Body: body}},
		}
		resp, err := p.Handle(ctx, event)
		if err != nil || len(resp.BatchItemFailures) > 0 {
			log.Fatal("local handler error", zap.Error(err), zap.Int("failures", len(resp.BatchItemFailures)))
		}
		if err := a.Close(ctx); err != nil {
			log.Error("shutdown", zap.Error(err))
		}
		return
	}

	lambda.Start(func(ctx context.Context, ev lambdaevents.SQSEvent) (lambdaevents.SQSEventResponse, error) {
		resp, err := p.Handle(ctx, ev)
		flush(ctx, a, log)
		return resp, err
	})
}

func flush(ctx context.Context, a *app.App, log *zap.Logger) {
	if a.CloudWatch == nil {
		return
	}
	if err := a.CloudWatch.Flush(ctx); err != nil {
		log.Warn("flush metrics", zap.Error(err))
	}
}

func demoOrder(storeID string) string {
	env := events.New(events.OrderCreated{
		OrderID:      uuid.NewString(),
		CustomerName: "local-customer",
		Items:        []events.LineItem{{ProductName: "Motia Smartwatch V2", Quantity: 1, Price: 199}},
		TotalAmount:  199,
		StoreID:      storeID,
	})
	b, _ := json.Marshal(env)
	return string(b)
}
