package inventory

import (
	"context"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
)

// UnboundedLedger treats every product as always in stock. Reservations are
// no-ops; selected with INVENTORY_BACKEND=unbounded.
type UnboundedLedger struct{}

func (UnboundedLedger) IsAvailable(_ context.Context, _ string, qty int) (bool, error) {
	if err := orders.ValidateQuantity(qty); err != nil {
		return false, err
	}
	return true, nil
}

func (UnboundedLedger) Reserve(_ context.Context, _ string, qty int) error {
	return orders.ValidateQuantity(qty)
}

func (UnboundedLedger) Release(_ context.Context, _ string, qty int) error {
	return orders.ValidateQuantity(qty)
}

func (UnboundedLedger) ConfirmSale(_ context.Context, _ orders.Tx, _ string, qty int, _ string) error {
	return orders.ValidateQuantity(qty)
}

func (UnboundedLedger) Settle(_ context.Context, _ string, qty int) error {
	return orders.ValidateQuantity(qty)
}

func (UnboundedLedger) Sync(context.Context, string) error { return nil }

func (UnboundedLedger) Status(_ context.Context, productID string) (orders.StockStatus, error) {
	return orders.StockStatus{ProductID: productID, FastViewStock: UnboundedStock}, nil
}
