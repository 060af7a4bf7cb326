package orders

import (
	"context"
	"time"
)

// Store is the durable record store for orders, payments and deliveries.
type Store interface {
	// WithinTx runs fn in one transaction. fn returning an error rolls back.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetOrder(ctx context.Context, id string) (Order, error)
	GetDelivery(ctx context.Context, orderID string) (Delivery, error)
	ListPayments(ctx context.Context, orderID string) ([]Payment, error)
	// DueDeliveries returns deliveries in status whose phase timestamp is before cutoff.
	DueDeliveries(ctx context.Context, status Status, cutoff time.Time, limit int) ([]Delivery, error)
	CountDeliveries(ctx context.Context) (map[Status]int, error)
}

// Tx mutators lock the rows they read; no cross-entity lock is taken.
type Tx interface {
	InsertOrder(ctx context.Context, o Order) error
	LockOrder(ctx context.Context, id string) (Order, error)
	UpdateOrder(ctx context.Context, o Order) error

	InsertPayment(ctx context.Context, p Payment) error

	// LockProduct returns ErrProductNotFound for an unknown id.
	LockProduct(ctx context.Context, id string) (Product, error)
	SetProductStock(ctx context.Context, id string, total int) error

	InsertDelivery(ctx context.Context, d Delivery) error
	// LockDelivery returns ErrDeliveryNotFound when the order has no delivery.
	LockDelivery(ctx context.Context, orderID string) (Delivery, error)
	UpdateDelivery(ctx context.Context, d Delivery) error
}
