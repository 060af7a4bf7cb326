// Package delivery advances shipments through SHIPMENT_PREPARING, SHIPPED and
// DELIVERED. Ship and CompleteDelivery are safe to call again on a delivery
// that already moved on.
package delivery

import (
	"context"
	"github.com/ariefcatur/go-order-fulfillment/internal/events"
	"github.com/ariefcatur/go-order-fulfillment/internal/observability"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"time"
)

const DefaultCourier = "JNE"

var tracer = otel.Tracer("github.com/ariefcatur/go-order-fulfillment/internal/delivery")

type Manager struct {
	store   orders.Store
	gate    *events.Gate
	events  events.Factory
	courier string
	logger  *zap.Logger
	now     func() time.Time
}

func NewManager(store orders.Store, gate *events.Gate, f events.Factory, courier string, logger *zap.Logger) *Manager {
	if courier == "" {
		courier = DefaultCourier
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:   store,
		gate:    gate,
		events:  f,
		courier: courier,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// InitiateShipment opens the delivery for a paid order. An order that already
// has a delivery is returned unchanged.
func (m *Manager) InitiateShipment(ctx context.Context, orderID string) (d orders.Delivery, err error) {
	ctx, span := tracer.Start(ctx, "delivery.InitiateShipment")
	defer func() { observability.EndSpan(span, err) }()
	span.SetAttributes(attribute.String("order.id", orderID))

	created := false
	err = m.gate.Run(ctx, func(ctx context.Context, tx orders.Tx, q *events.Queue) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		existing, err := tx.LockDelivery(ctx, orderID)
		if err == nil {
			d = existing
			return nil
		}
		if !errors.Is(err, orders.ErrDeliveryNotFound) {
			return err
		}

		now := m.now()
		if err := o.MoveTo(orders.StatusShipmentPreparing, now); err != nil {
			return err
		}
		d = orders.NewDelivery(o.ID, now)
		if err := tx.InsertDelivery(ctx, d); err != nil {
			return errors.Wrap(err, "insert delivery")
		}
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return errors.Wrap(err, "update order")
		}
		q.Add(m.events.OrderStatus(o.ID, string(o.Status)))
		created = true
		return nil
	})
	if err != nil {
		return orders.Delivery{}, err
	}
	if created {
		m.logger.Info("shipment preparing", zap.String("order_id", orderID), zap.String("delivery_id", d.ID))
	}
	return d, nil
}

// Ship hands the parcel to the courier. Tracking number and courier are
// assigned here once.
func (m *Manager) Ship(ctx context.Context, orderID string) (d orders.Delivery, err error) {
	ctx, span := tracer.Start(ctx, "delivery.Ship")
	defer func() { observability.EndSpan(span, err) }()
	span.SetAttributes(attribute.String("order.id", orderID))

	moved := false
	err = m.gate.Run(ctx, func(ctx context.Context, tx orders.Tx, q *events.Queue) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		d, err = tx.LockDelivery(ctx, orderID)
		if errors.Is(err, orders.ErrDeliveryNotFound) {
			return errors.Wrapf(orders.ErrInvalidState, "order %s has no delivery to ship", orderID)
		}
		if err != nil {
			return err
		}
		switch d.Status {
		case orders.StatusShipped, orders.StatusDelivered:
			return nil
		case orders.StatusShipmentPreparing:
		default:
			return errors.Wrapf(orders.ErrInvalidState, "delivery %s is %s", d.ID, d.Status)
		}

		now := m.now()
		if err := o.MoveTo(orders.StatusShipped, now); err != nil {
			return err
		}
		d.MarkShipped(now, m.courier)
		if err := tx.UpdateDelivery(ctx, d); err != nil {
			return errors.Wrap(err, "update delivery")
		}
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return errors.Wrap(err, "update order")
		}
		q.Add(m.events.OrderStatus(o.ID, string(o.Status)))
		moved = true
		return nil
	})
	if err != nil {
		return orders.Delivery{}, err
	}
	if moved {
		m.logger.Info("shipment shipped",
			zap.String("order_id", orderID),
			zap.String("tracking_number", d.TrackingNumber),
			zap.String("courier", d.Courier),
		)
	}
	return d, nil
}

// CompleteDelivery marks a shipped delivery as received.
func (m *Manager) CompleteDelivery(ctx context.Context, orderID string) (d orders.Delivery, err error) {
	ctx, span := tracer.Start(ctx, "delivery.CompleteDelivery")
	defer func() { observability.EndSpan(span, err) }()
	span.SetAttributes(attribute.String("order.id", orderID))

	moved := false
	err = m.gate.Run(ctx, func(ctx context.Context, tx orders.Tx, q *events.Queue) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		d, err = tx.LockDelivery(ctx, orderID)
		if errors.Is(err, orders.ErrDeliveryNotFound) {
			return errors.Wrapf(orders.ErrInvalidState, "order %s has no delivery to complete", orderID)
		}
		if err != nil {
			return err
		}
		switch d.Status {
		case orders.StatusDelivered:
			return nil
		case orders.StatusShipped:
		default:
			return errors.Wrapf(orders.ErrInvalidState, "delivery %s is %s, not shipped yet", d.ID, d.Status)
		}

		now := m.now()
		if err := o.MoveTo(orders.StatusDelivered, now); err != nil {
			return err
		}
		d.MarkDelivered(now)
		if err := tx.UpdateDelivery(ctx, d); err != nil {
			return errors.Wrap(err, "update delivery")
		}
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return errors.Wrap(err, "update order")
		}
		q.Add(m.events.OrderStatus(o.ID, string(o.Status)))
		moved = true
		return nil
	})
	if err != nil {
		return orders.Delivery{}, err
	}
	if moved {
		m.logger.Info("delivery completed", zap.String("order_id", orderID), zap.String("delivery_id", d.ID))
	}
	return d, nil
}

// SetStatus applies an explicit delivery status update.
func (m *Manager) SetStatus(ctx context.Context, orderID, target string) (orders.DeliveryInfo, error) {
	st, err := orders.ParseStatus(target)
	if err != nil {
		return orders.DeliveryInfo{}, err
	}
	var d orders.Delivery
	switch st {
	case orders.StatusShipped:
		d, err = m.Ship(ctx, orderID)
	case orders.StatusDelivered:
		d, err = m.CompleteDelivery(ctx, orderID)
	default:
		return orders.DeliveryInfo{}, orders.Validation("delivery status must be SHIPPED or DELIVERED, got %s", st)
	}
	if err != nil {
		return orders.DeliveryInfo{}, err
	}
	return d.Info(), nil
}

// Info returns the delivery and tracking view of an order.
func (m *Manager) Info(ctx context.Context, orderID string) (orders.DeliveryInfo, error) {
	if _, err := m.store.GetOrder(ctx, orderID); err != nil {
		return orders.DeliveryInfo{}, err
	}
	d, err := m.store.GetDelivery(ctx, orderID)
	if err != nil {
		return orders.DeliveryInfo{}, err
	}
	return d.Info(), nil
}
