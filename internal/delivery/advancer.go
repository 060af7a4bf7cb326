package delivery

import (
	"context"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"time"
)

const defaultBatch = 100

// Report summarizes one advancement run.
type Report struct {
	Shipped   int
	Delivered int
	Failed    int
}

// Advancer moves deliveries forward once they have sat in a phase long enough.
type Advancer struct {
	manager      *Manager
	store        orders.Store
	shipAfter    time.Duration
	deliverAfter time.Duration
	batch        int
	logger       *zap.Logger
}

func NewAdvancer(m *Manager, store orders.Store, shipAfter, deliverAfter time.Duration, logger *zap.Logger) *Advancer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Advancer{
		manager:      m,
		store:        store,
		shipAfter:    shipAfter,
		deliverAfter: deliverAfter,
		batch:        defaultBatch,
		logger:       logger,
	}
}

// AdvanceDue ships preparing deliveries older than shipAfter and completes
// shipped deliveries older than deliverAfter. A failing delivery is logged and
// skipped.
func (a *Advancer) AdvanceDue(ctx context.Context, now time.Time) (Report, error) {
	var rep Report

	due, err := a.store.DueDeliveries(ctx, orders.StatusShipmentPreparing, now.Add(-a.shipAfter), a.batch)
	if err != nil {
		return rep, errors.Wrap(err, "list preparing deliveries")
	}
	for _, d := range due {
		if _, err := a.manager.Ship(ctx, d.OrderID); err != nil {
			rep.Failed++
			a.logger.Warn("auto ship failed", zap.String("order_id", d.OrderID), zap.Error(err))
			continue
		}
		rep.Shipped++
	}

	due, err = a.store.DueDeliveries(ctx, orders.StatusShipped, now.Add(-a.deliverAfter), a.batch)
	if err != nil {
		return rep, errors.Wrap(err, "list shipped deliveries")
	}
	for _, d := range due {
		if _, err := a.manager.CompleteDelivery(ctx, d.OrderID); err != nil {
			rep.Failed++
			a.logger.Warn("auto delivery failed", zap.String("order_id", d.OrderID), zap.Error(err))
			continue
		}
		rep.Delivered++
	}

	a.logStats(ctx, rep)
	return rep, nil
}

func (a *Advancer) logStats(ctx context.Context, rep Report) {
	counts, err := a.store.CountDeliveries(ctx)
	if err != nil {
		a.logger.Warn("delivery statistics unavailable", zap.Error(err))
		return
	}
	a.logger.Info("delivery statistics",
		zap.Int("shipped_now", rep.Shipped),
		zap.Int("delivered_now", rep.Delivered),
		zap.Int("failed_now", rep.Failed),
		zap.Int("preparing", counts[orders.StatusShipmentPreparing]),
		zap.Int("shipped", counts[orders.StatusShipped]),
		zap.Int("delivered", counts[orders.StatusDelivered]),
		zap.Int("cancelled", counts[orders.StatusCancelled]),
	)
}

// Run calls AdvanceDue on every tick until ctx is cancelled.
func (a *Advancer) Run(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			if _, err := a.AdvanceDue(ctx, now.UTC()); err != nil && ctx.Err() == nil {
				a.logger.Error("delivery advancement failed", zap.Error(err))
			}
		}
	}
}
