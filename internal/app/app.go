// Package app wires the fulfillment components from configuration. Real and
// dummy capabilities are chosen here and nowhere else.
package app

import (
	"context"
	"github.com/ariefcatur/go-order-fulfillment/internal/config"
	"github.com/ariefcatur/go-order-fulfillment/internal/delivery"
	"github.com/ariefcatur/go-order-fulfillment/internal/events"
	"github.com/ariefcatur/go-order-fulfillment/internal/fulfillment"
	"github.com/ariefcatur/go-order-fulfillment/internal/inventory"
	kafkax "github.com/ariefcatur/go-order-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-order-fulfillment/internal/memstore"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/payment"
	"github.com/ariefcatur/go-order-fulfillment/internal/postgres"
	"github.com/ariefcatur/go-order-fulfillment/internal/redisx"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type App struct {
	Config config.Config
	Logger *zap.Logger

	Store    orders.Store
	Products inventory.ProductStore
	Redis    *redis.Client // nil with INVENTORY_BACKEND=unbounded

	Events     events.Factory
	Dispatcher *events.Dispatcher
	Gate       *events.Gate
	Ledger     inventory.Ledger
	Reconciler *inventory.Reconciler // nil without redis

	Orders     *fulfillment.Orchestrator
	Payments   *payment.Coordinator
	Deliveries *delivery.Manager
	Advancer   *delivery.Advancer

	producer *kafkax.Producer
	closers  []func()
}

// New builds the component graph. ctx bounds the producer loop.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	cfg, logger := a.Config, a.Logger

	// Store
	switch cfg.Store {
	case config.StoreMemory:
		mem := memstore.New()
		a.Store, a.Products = mem, mem
	default:
		if cfg.MigrateOnStart {
			if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
				return err
			}
		}
		db, err := postgres.Connect(ctx, cfg.PostgresDSN, postgres.PoolOptions{AppName: cfg.ServiceName})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, db.Close)
		pg := postgres.NewStore(db)
		a.Store, a.Products = pg, pg
	}

	// Event bus
	var pub events.Publisher
	switch cfg.EventBus {
	case config.BusNoop:
		pub = events.Noop{Logger: logger}
	default:
		producer, err := kafkax.NewProducer(cfg.KafkaBrokers, cfg.ServiceName, kafkax.ProducerOptions{
			Buffer:      cfg.PublishBuffer,
			MaxAttempts: cfg.PublishMaxAttempts,
			Backoff:     cfg.PublishBackoff,
		}, logger.Named("producer"))
		if err != nil {
			return err
		}
		a.producer = producer
		a.producer.Start(ctx)
		pub = a.producer
	}
	a.Events = events.NewFactory(cfg.ServiceName, cfg.OrderEventsTopic, cfg.InventoryEventsTopic)
	a.Dispatcher = events.NewDispatcher(pub, logger.Named("dispatcher"))
	a.Gate = events.NewGate(a.Store, a.Dispatcher)

	// Inventory
	var flagger inventory.Flagger
	switch cfg.InventoryBackend {
	case config.InventoryUnbounded:
		a.Ledger = inventory.UnboundedLedger{}
		flagger = inventory.LogFlagger{Logger: logger.Named("inventory")}
	default:
		rdb := redisx.New(cfg.RedisAddr)
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return errors.Wrap(err, "ping redis")
		}
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		a.Redis = rdb
		a.Ledger = inventory.NewRedisLedger(rdb, a.Products, inventory.Options{
			ReservationTTL: cfg.ReservationTTL,
			StockTTL:       cfg.StockTTL,
		}, logger.Named("inventory"))
		a.Reconciler = inventory.NewReconciler(rdb, a.Ledger, logger.Named("reconciler"))
		flagger = a.Reconciler
	}
	inventory.Register(a.Dispatcher, a.Ledger)

	a.Orders = fulfillment.NewOrchestrator(a.Store, a.Gate, a.Ledger, a.Events, logger.Named("orders"))
	a.Payments = payment.NewCoordinator(a.Store, a.Gate, a.Ledger, flagger, a.Events, logger.Named("payment"))
	a.Deliveries = delivery.NewManager(a.Store, a.Gate, a.Events, cfg.Courier, logger.Named("delivery"))
	a.Advancer = delivery.NewAdvancer(a.Deliveries, a.Store, cfg.ShipAfter, cfg.DeliverAfter, logger.Named("scheduler"))
	return nil
}

// UpsertProduct stores a product stock setting and resyncs its fast view.
func (a *App) UpsertProduct(ctx context.Context, p orders.Product) (orders.StockStatus, error) {
	if err := a.Products.UpsertProduct(ctx, p); err != nil {
		return orders.StockStatus{}, err
	}
	if err := a.Ledger.Sync(ctx, p.ID); err != nil {
		return orders.StockStatus{}, err
	}
	return a.Ledger.Status(ctx, p.ID)
}

// OrderEventHandler builds the inbound order-event handler for the worker.
func (a *App) OrderEventHandler() *delivery.Handler {
	h := &delivery.Handler{
		Manager: a.Deliveries,
		Service: a.Config.ServiceName,
		Logger:  a.Logger.Named("consumer"),
	}
	if a.Redis != nil {
		h.Redis = a.Redis
	}
	return h
}

// Close flushes the producer and releases connections.
func (a *App) Close() {
	if a.producer != nil {
		a.producer.Close()
		a.producer.WaitClosed()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
