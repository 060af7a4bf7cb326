// Package memstore is an in-process transactional record store used for
// local runs (STORE=memory) and as the durable store in tests.
package memstore

import (
	"context"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/pkg/errors"
	"maps"
	"sort"
	"sync"
	"time"
)

// Store serializes every transaction behind one lock; a failed fn leaves no trace.
type Store struct {
	mu         sync.Mutex
	orders     map[string]orders.Order
	deliveries map[string]orders.Delivery // by order id
	payments   []orders.Payment
	products   map[string]orders.Product
}

func New() *Store {
	return &Store{
		orders:     map[string]orders.Order{},
		deliveries: map[string]orders.Delivery{},
		products:   map[string]orders.Product{},
	}
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{
		orders:     maps.Clone(s.orders),
		deliveries: maps.Clone(s.deliveries),
		products:   maps.Clone(s.products),
	}
	if err := fn(ctx, t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "commit")
	}
	s.orders = t.orders
	s.deliveries = t.deliveries
	s.products = t.products
	s.payments = append(s.payments, t.payments...)
	return nil
}

func (s *Store) GetOrder(_ context.Context, id string) (orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	return o, nil
}

func (s *Store) GetDelivery(_ context.Context, orderID string) (orders.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[orderID]
	if !ok {
		return orders.Delivery{}, orders.ErrDeliveryNotFound
	}
	return d, nil
}

func (s *Store) ListPayments(_ context.Context, orderID string) ([]orders.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []orders.Payment
	for _, p := range s.payments {
		if p.OrderID == orderID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Store) DueDeliveries(_ context.Context, status orders.Status, cutoff time.Time, limit int) ([]orders.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []orders.Delivery
	for _, d := range s.deliveries {
		if d.Status != status {
			continue
		}
		if at := phaseTime(d); at != nil && at.Before(cutoff) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return phaseTime(out[i]).Before(*phaseTime(out[j])) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func phaseTime(d orders.Delivery) *time.Time {
	switch d.Status {
	case orders.StatusShipmentPreparing:
		return &d.StartedAt
	case orders.StatusShipped:
		return d.ShippedAt
	case orders.StatusDelivered:
		return d.CompletedAt
	}
	return nil
}

func (s *Store) CountDeliveries(_ context.Context) (map[orders.Status]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[orders.Status]int{}
	for _, d := range s.deliveries {
		out[d.Status]++
	}
	return out, nil
}

// ---- products ----

func (s *Store) GetProduct(_ context.Context, id string) (orders.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return orders.Product{}, orders.ErrProductNotFound
	}
	return p, nil
}

func (s *Store) UpsertProduct(_ context.Context, p orders.Product) error {
	if p.ID == "" {
		return orders.Validation("product id is required")
	}
	if p.TotalStock < 0 {
		return orders.Validation("total stock must be >= 0, got %d", p.TotalStock)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p.UpdatedAt = time.Now().UTC()
	s.products[p.ID] = p
	return nil
}

// ---- tx ----

type tx struct {
	orders     map[string]orders.Order
	deliveries map[string]orders.Delivery
	payments   []orders.Payment
	products   map[string]orders.Product
}

func (t *tx) InsertOrder(_ context.Context, o orders.Order) error {
	if _, ok := t.orders[o.ID]; ok {
		return errors.Errorf("order %s already exists", o.ID)
	}
	t.orders[o.ID] = o
	return nil
}

func (t *tx) LockOrder(_ context.Context, id string) (orders.Order, error) {
	o, ok := t.orders[id]
	if !ok {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	return o, nil
}

func (t *tx) UpdateOrder(_ context.Context, o orders.Order) error {
	if _, ok := t.orders[o.ID]; !ok {
		return orders.ErrOrderNotFound
	}
	t.orders[o.ID] = o
	return nil
}

func (t *tx) InsertPayment(_ context.Context, p orders.Payment) error {
	t.payments = append(t.payments, p)
	return nil
}

func (t *tx) LockProduct(_ context.Context, id string) (orders.Product, error) {
	p, ok := t.products[id]
	if !ok {
		return orders.Product{}, orders.ErrProductNotFound
	}
	return p, nil
}

func (t *tx) SetProductStock(_ context.Context, id string, total int) error {
	p, ok := t.products[id]
	if !ok {
		return orders.ErrProductNotFound
	}
	if total < 0 {
		return orders.Validation("total stock must be >= 0, got %d", total)
	}
	p.TotalStock = total
	p.UpdatedAt = time.Now().UTC()
	t.products[id] = p
	return nil
}

func (t *tx) InsertDelivery(_ context.Context, d orders.Delivery) error {
	if _, ok := t.deliveries[d.OrderID]; ok {
		return errors.Errorf("delivery for order %s already exists", d.OrderID)
	}
	t.deliveries[d.OrderID] = d
	return nil
}

func (t *tx) LockDelivery(_ context.Context, orderID string) (orders.Delivery, error) {
	d, ok := t.deliveries[orderID]
	if !ok {
		return orders.Delivery{}, orders.ErrDeliveryNotFound
	}
	return d, nil
}

func (t *tx) UpdateDelivery(_ context.Context, d orders.Delivery) error {
	if _, ok := t.deliveries[d.OrderID]; !ok {
		return orders.ErrDeliveryNotFound
	}
	t.deliveries[d.OrderID] = d
	return nil
}
