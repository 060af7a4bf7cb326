// Package fulfillment drives order creation and cancellation: it reserves
// stock in the ledger, persists the order, and compensates when persistence
// fails so no reservation outlives a rejected order.
package fulfillment

import (
	"context"
	"github.com/ariefcatur/go-order-fulfillment/internal/events"
	"github.com/ariefcatur/go-order-fulfillment/internal/inventory"
	"github.com/ariefcatur/go-order-fulfillment/internal/observability"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"time"
)

var tracer = otel.Tracer("github.com/ariefcatur/go-order-fulfillment/internal/fulfillment")

type Orchestrator struct {
	store  orders.Store
	gate   *events.Gate
	ledger inventory.Ledger
	events events.Factory
	logger *zap.Logger
	now    func() time.Time
}

func NewOrchestrator(store orders.Store, gate *events.Gate, ledger inventory.Ledger, f events.Factory, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:  store,
		gate:   gate,
		ledger: ledger,
		events: f,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (o *Orchestrator) CreateOrder(ctx context.Context, productID string, qty int) (order orders.Order, err error) {
	ctx, span := tracer.Start(ctx, "fulfillment.CreateOrder")
	defer func() { observability.EndSpan(span, err) }()
	span.SetAttributes(attribute.String("product.id", productID), attribute.Int("order.quantity", qty))

	order, err = orders.NewOrder(productID, qty, o.now())
	if err != nil {
		return orders.Order{}, err
	}

	ok, err := o.ledger.IsAvailable(ctx, productID, qty)
	if err != nil {
		return orders.Order{}, err
	}
	if !ok {
		return orders.Order{}, errors.Wrapf(orders.ErrInsufficientStock, "product %s quantity %d", productID, qty)
	}
	if err = o.ledger.Reserve(ctx, productID, qty); err != nil {
		return orders.Order{}, err
	}

	err = o.gate.Run(ctx, func(ctx context.Context, tx orders.Tx, q *events.Queue) error {
		if err := tx.InsertOrder(ctx, order); err != nil {
			return errors.Wrap(err, "persist order")
		}
		q.Add(
			o.events.OrderStatus(order.ID, string(order.Status)),
			o.events.Inventory(orders.InventoryReserved, order.ID, productID, qty),
		)
		return nil
	})
	if err != nil {
		// kompensasi: order tidak tersimpan, reservasi harus dilepas
		if rerr := o.ledger.Release(context.WithoutCancel(ctx), productID, qty); rerr != nil {
			o.logger.Error("compensating release failed",
				zap.String("product_id", productID),
				zap.Int("quantity", qty),
				zap.Error(rerr),
			)
		}
		return orders.Order{}, err
	}

	span.SetAttributes(attribute.String("order.id", order.ID))
	o.logger.Info("order created",
		zap.String("order_id", order.ID),
		zap.String("product_id", productID),
		zap.Int("quantity", qty),
	)
	return order, nil
}

// CancelOrder moves the order to CANCELLED. The reservation is given back by
// the RELEASED listener after commit, never inline.
func (o *Orchestrator) CancelOrder(ctx context.Context, orderID string) (order orders.Order, err error) {
	ctx, span := tracer.Start(ctx, "fulfillment.CancelOrder")
	defer func() { observability.EndSpan(span, err) }()
	span.SetAttributes(attribute.String("order.id", orderID))

	err = o.gate.Run(ctx, func(ctx context.Context, tx orders.Tx, q *events.Queue) error {
		cur, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		prev := cur.Status
		now := o.now()
		if err := cur.MoveTo(orders.StatusCancelled, now); err != nil {
			return err
		}
		if err := tx.UpdateOrder(ctx, cur); err != nil {
			return errors.Wrap(err, "update order")
		}
		if prev == orders.StatusShipmentPreparing {
			if err := cancelDelivery(ctx, tx, cur.ID, now); err != nil {
				return err
			}
		}
		if prev == orders.StatusCreated {
			q.Add(o.events.Inventory(orders.InventoryReleased, cur.ID, cur.ProductID, cur.Quantity))
		}
		q.Add(o.events.OrderStatus(cur.ID, string(cur.Status)))
		order = cur
		return nil
	})
	if err != nil {
		return orders.Order{}, err
	}
	o.logger.Info("order cancelled", zap.String("order_id", orderID))
	return order, nil
}

func (o *Orchestrator) GetOrder(ctx context.Context, orderID string) (orders.Order, error) {
	return o.store.GetOrder(ctx, orderID)
}

// cancelDelivery moves a preparing delivery to CANCELLED in the same tx as its
// order so the advancer never picks it up again.
func cancelDelivery(ctx context.Context, tx orders.Tx, orderID string, now time.Time) error {
	d, err := tx.LockDelivery(ctx, orderID)
	if errors.Is(err, orders.ErrDeliveryNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	d.Cancel(now)
	return errors.Wrap(tx.UpdateDelivery(ctx, d), "cancel delivery")
}
