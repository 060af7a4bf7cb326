package delivery

import (
	"context"
	kafkax "github.com/ariefcatur/go-order-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/redisx"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Handler consumes order lifecycle events and drives shipment.
type Handler struct {
	Manager *Manager
	Redis   redis.Cmdable // nil disables dedup
	Service string
	Logger  *zap.Logger
}

// HandleOrderEvent: dipasang sebagai handler consumer. nil = commit offset.
func (h *Handler) HandleOrderEvent(ctx context.Context, m kafkago.Message) error {
	log := h.logger()

	// 1) decode envelope
	env, err := kafkax.DecodeEnvelope(m.Value)
	if err != nil {
		log.Warn("dropping malformed envelope", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if env.EventType != orders.EventOrderStatusChanged {
		return nil // ignore
	}

	// 2) decode payload
	p, err := kafkax.UnwrapPayload[orders.OrderEventPayload](env.Payload)
	if err != nil || p.OrderID == "" {
		log.Warn("dropping malformed order event", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}

	var step func(context.Context, string) (orders.Delivery, error)
	switch p.Status {
	case string(orders.StatusPaymentCompleted):
		step = h.Manager.InitiateShipment
	case string(orders.StatusShipmentPreparing):
		step = h.Manager.Ship
	default:
		return nil
	}

	// 3) dedup via Redis (pakai event_id)
	if h.Redis != nil && env.EventID != "" {
		first, err := redisx.MarkOnce(ctx, h.Redis, h.service(), env.EventID, redisx.TTLDedup)
		if err != nil {
			return errors.Wrap(err, "dedup")
		}
		if !first {
			log.Debug("duplicate event skipped", zap.String("event_id", env.EventID))
			return nil
		}
	}

	// 4) apply
	d, err := step(ctx, p.OrderID)
	switch {
	case err == nil:
		log.Info("order event applied",
			zap.String("event_id", env.EventID),
			zap.String("order_id", p.OrderID),
			zap.String("event_status", p.Status),
			zap.String("delivery_status", string(d.Status)),
		)
		return nil
	case errors.Is(err, orders.ErrNotFound),
		errors.Is(err, orders.ErrInvalidTransition),
		errors.Is(err, orders.ErrInvalidState):
		// tidak akan berhasil walau di-retry
		log.Warn("dropping order event",
			zap.String("event_id", env.EventID),
			zap.String("order_id", p.OrderID),
			zap.Error(err),
		)
		return nil
	default:
		if h.Redis != nil && env.EventID != "" {
			if ferr := redisx.Forget(ctx, h.Redis, h.service(), env.EventID); ferr != nil {
				log.Error("release dedup slot failed", zap.String("event_id", env.EventID), zap.Error(ferr))
			}
		}
		return errors.Wrapf(err, "apply %s for order %s", p.Status, p.OrderID)
	}
}

func (h *Handler) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

func (h *Handler) service() string {
	if h.Service == "" {
		return "delivery"
	}
	return h.Service
}
