package payment

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

var tracer = otel.Tracer("github.com/ariefcatur/go-order-fulfillment/internal/payment")

// Result of applying a payment outcome.
type Result struct {
	Order   orders.Order
	Payment orders.Payment
	// ReconciliationRequired is set when payment succeeded but the durable
	// stock could not be confirmed; the product has been flagged.
	ReconciliationRequired bool
}

type Coordinator struct {
	store   orders.Store
	gate    *events.Gate
	ledger  inventory.Ledger
	flagger inventory.Flagger
	events  events.Factory
	logger  *zap.Logger
	now     func() time.Time
}

func NewCoordinator(
	store orders.Store,
	gate *events.Gate,
	ledger inventory.Ledger,
	flagger inventory.Flagger,
	f events.Factory,
	logger *zap.Logger,
) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		store:   store,
		gate:    gate,
		ledger:  ledger,
		flagger: flagger,
		events:  f,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// InitiatePayment stamps the payment-requested marker. The gateway call is
// external and comes back through CompletePayment.
func (c *Coordinator) InitiatePayment(ctx context.Context, orderID string) (order orders.Order, err error) {
	ctx, span := tracer.Start(ctx, "payment.InitiatePayment")
	defer func() { observability.EndSpan(span, err) }()
	span.SetAttributes(attribute.String("order.id", orderID))

	err = c.gate.Run(ctx, func(ctx context.Context, tx orders.Tx, q *events.Queue) error {
		cur, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if !orders.CanTransition(cur.Status, orders.StatusPaymentCompleted) {
			return errors.Wrapf(orders.ErrInvalidState, "order %s is %s, payment cannot be requested", cur.ID, cur.Status)
		}
		now := c.now()
		cur.PaymentRequestedAt = &now
		cur.UpdatedAt = now
		if err := tx.UpdateOrder(ctx, cur); err != nil {
			return errors.Wrap(err, "update order")
		}
		q.Add(c.events.OrderStatus(cur.ID, orders.MarkerPaymentRequested))
		order = cur
		return nil
	})
	if err != nil {
		return orders.Order{}, err
	}
	c.logger.Info("payment requested", zap.String("order_id", orderID))
	return order, nil
}

// CompletePayment records the attempt and settles the order. A failed payment
// releases the reservation after commit and returns ErrPaymentFailed. On
// success the durable stock is decremented in the same transaction as the
// status change; a divergence there commits the payment anyway and flags the
// product instead.
func (c *Coordinator) CompletePayment(ctx context.Context, orderID string, success bool) (res Result, err error) {
	ctx, span := tracer.Start(ctx, "payment.CompletePayment")
	defer func() {
		if !errors.Is(err, orders.ErrPaymentFailed) {
			observability.EndSpan(span, err)
			return
		}
		span.End()
	}()
	span.SetAttributes(attribute.String("order.id", orderID), attribute.Bool("payment.success", success))

	target := orders.StatusPaymentFailed
	if success {
		target = orders.StatusPaymentCompleted
	}

	var unconfirmed error
	err = c.gate.Run(ctx, func(ctx context.Context, tx orders.Tx, q *events.Queue) error {
		unconfirmed = nil
		cur, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		now := c.now()
		if err := cur.MoveTo(target, now); err != nil {
			return err
		}
		p := orders.NewPayment(cur.ID, success, now)
		if err := tx.InsertPayment(ctx, p); err != nil {
			return errors.Wrap(err, "record payment")
		}
		if err := tx.UpdateOrder(ctx, cur); err != nil {
			return errors.Wrap(err, "update order")
		}
		if !success {
			q.Add(c.events.Inventory(orders.InventoryReleased, cur.ID, cur.ProductID, cur.Quantity))
		} else {
			cerr := c.ledger.ConfirmSale(ctx, tx, cur.ProductID, cur.Quantity, cur.ID)
			switch {
			case cerr == nil:
				q.Add(c.events.Inventory(orders.InventoryConfirmed, cur.ID, cur.ProductID, cur.Quantity))
			case errors.Is(cerr, orders.ErrSettlementDivergence), errors.Is(cerr, orders.ErrProductNotFound):
				unconfirmed = cerr
			default:
				return errors.Wrap(cerr, "confirm sale")
			}
		}
		q.Add(c.events.OrderStatus(cur.ID, string(cur.Status)))
		res = Result{Order: cur, Payment: p}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	if !success {
		c.logger.Info("payment failed, reservation released",
			zap.String("order_id", orderID),
			zap.String("transaction_id", res.Payment.TransactionID),
		)
		return res, errors.Wrapf(orders.ErrPaymentFailed, "order %s transaction %s", orderID, res.Payment.TransactionID)
	}

	o := res.Order
	if unconfirmed != nil {
		res.ReconciliationRequired = true
		c.logger.Error("payment settled but stock confirmation failed",
			zap.String("order_id", o.ID),
			zap.String("product_id", o.ProductID),
			zap.Int("quantity", o.Quantity),
			zap.Error(unconfirmed),
		)
		if serr := c.ledger.Sync(ctx, o.ProductID); serr != nil {
			c.logger.Error("resync after divergence failed", zap.String("product_id", o.ProductID), zap.Error(serr))
		}
		if ferr := c.flagger.Flag(ctx, o.ProductID, o.ID, unconfirmed); ferr != nil {
			c.logger.Error("flag reconciliation failed", zap.String("product_id", o.ProductID), zap.Error(ferr))
		}
		return res, nil
	}

	c.logger.Info("payment completed",
		zap.String("order_id", o.ID),
		zap.String("transaction_id", res.Payment.TransactionID),
	)
	return res, nil
}

// Payments returns the audit trail of payment attempts for an order.
func (c *Coordinator) Payments(ctx context.Context, orderID string) ([]orders.Payment, error) {
	if _, err := c.store.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return c.store.ListPayments(ctx, orderID)
}
