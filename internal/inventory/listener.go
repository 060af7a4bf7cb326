package inventory

import (
	"context"
	"github.com/ariefcatur/go-order-fulfillment/internal/events"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/pkg/errors"
)

// ReleaseOnCommit returns the listener that gives reserved stock back once a
// RELEASED inventory event has been committed.
func ReleaseOnCommit(l Ledger) events.Listener {
	return func(ctx context.Context, m events.Message) error {
		p, err := events.Decode[orders.InventoryEventPayload](m)
		if err != nil {
			return errors.Wrap(err, "decode inventory payload")
		}
		if p.EventType != orders.InventoryReleased {
			return nil
		}
		return l.Release(ctx, p.ProductID, p.Quantity)
	}
}

// SettleOnCommit returns the listener that drops confirmed quantities from the
// reserved counter. If it never runs the counter expires with its TTL.
func SettleOnCommit(l Ledger) events.Listener {
	return func(ctx context.Context, m events.Message) error {
		p, err := events.Decode[orders.InventoryEventPayload](m)
		if err != nil {
			return errors.Wrap(err, "decode inventory payload")
		}
		if p.EventType != orders.InventoryConfirmed {
			return nil
		}
		return l.Settle(ctx, p.ProductID, p.Quantity)
	}
}

// Register wires the ledger's after-commit reactions into d.
func Register(d *events.Dispatcher, l Ledger) {
	d.Subscribe(orders.EventInventoryReleased, ReleaseOnCommit(l))
	d.Subscribe(orders.EventInventoryConfirmed, SettleOnCommit(l))
}
