package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-order-saga/internal/app"
	"github.com/imrishuroy/go-order-saga/internal/config"
	"github.com/imrishuroy/go-order-saga/internal/handlers"
	"github.com/imrishuroy/go-order-saga/internal/logging"
)

func setupRouter(a *app.App) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":          "ok",
			"local":           a.Local(),
			"payment_breaker": a.Gateway.State(),
		})
	})
	r.GET("/metrics", gin.WrapH(a.Metrics.Handler()))

	handlers.RegisterOrdersRoutes(r, handlers.HandlerConfig{
		Submitter:   a.Orchestrator,
		Orders:      a.Orders,
		Alerts:      a.Alerts,
		ValidStore:  a.Config.ValidStore,
		TrackingTTL: a.Config.TrackingTTL,
		Logger:      a.Log,
	})

	return r
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if !cfg.LogDevelopment {
		gin.SetMode(gin.ReleaseMode)
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to build pipeline", zap.Error(err))
	}
	r := setupRouter(a)

	// if RUN_LOCAL is true, serve HTTP with the in-process pipeline and the
	// inventory cron.
	if cfg.RunLocal {
		if err := runLocal(ctx, a, r); err != nil {
			log.Fatal("local server", zap.Error(err))
		}
		return
	}

	// lambda adapter
	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}

func runLocal(ctx context.Context, a *app.App, r *gin.Engine) error {
	stopCron, err := a.StartCron(ctx)
	if err != nil {
		return err
	}
	defer stopCron()

	srv := &http.Server{Addr: a.Config.HTTPAddr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() {
		a.Log.Info("running local server", zap.String("addr", srv.Addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		a.Log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.Log.Warn("http shutdown", zap.Error(err))
	}
	return a.Close(shutdownCtx)
}
