package main

import (
	"context"
	"github.com/ariefcatur/go-order-fulfillment/internal/app"
	"github.com/ariefcatur/go-order-fulfillment/internal/config"
	kafkax "github.com/ariefcatur/go-order-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-order-fulfillment/internal/observability"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"log"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.ServiceName+"-worker", cfg.OTelEndpoint)
	if err != nil {
		logger.Fatal("tracing setup", zap.Error(err))
	}

	// producer loop ikut ctx sendiri supaya sempat flush setelah consumer berhenti
	appCtx, cancelApp := context.WithCancel(context.Background())
	defer cancelApp()
	a, err := app.New(appCtx, cfg, logger)
	if err != nil {
		logger.Fatal("wire app", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if cfg.EventBus == config.BusKafka {
		cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ConsumerGroup, cfg.OrderEventsTopic,
			cfg.ConsumerWorkers, logger.Named("consumer"))
		handler := a.OrderEventHandler()
		g.Go(func() error {
			logger.Info("order event consumer started",
				zap.String("group", cfg.ConsumerGroup),
				zap.String("topic", cfg.OrderEventsTopic),
				zap.Int("workers", cfg.ConsumerWorkers),
			)
			return cons.Start(gctx, handler.HandleOrderEvent)
		})
	}

	if cfg.SchedulerEnabled {
		g.Go(func() error {
			logger.Info("delivery scheduler started",
				zap.Duration("interval", cfg.SchedulerInterval),
				zap.Duration("ship_after", cfg.ShipAfter),
				zap.Duration("deliver_after", cfg.DeliverAfter),
			)
			return a.Advancer.Run(gctx, cfg.SchedulerInterval)
		})
	}

	if a.Reconciler != nil {
		g.Go(func() error {
			return a.Reconciler.Run(gctx, cfg.ReconcileInterval)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("worker exit", zap.Error(err))
	}
	logger.Info("shutting down worker...")

	a.Close()
	cancelApp()
	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	if err := shutdownTracing(ctx2); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
}
