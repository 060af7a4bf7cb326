package postgres

import (
	"context"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"time"
)

const codeUniqueViolation = "23505"

// Store implements orders.Store and inventory.ProductStore on PostgreSQL.
type Store struct{ DB *pgxpool.Pool }

func NewStore(db *pgxpool.Pool) *Store { return &Store{DB: db} }

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(ctx), "commit")
}

const orderColumns = `id, product_id, quantity, status, payment_requested_at, created_at, updated_at`

const deliveryColumns = `id, order_id, status, started_at, shipped_at, completed_at, tracking_number, courier`

func (s *Store) GetOrder(ctx context.Context, id string) (orders.Order, error) {
	return scanOrder(s.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
}

func (s *Store) GetDelivery(ctx context.Context, orderID string) (orders.Delivery, error) {
	return scanDelivery(s.DB.QueryRow(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE order_id=$1`, orderID))
}

func (s *Store) ListPayments(ctx context.Context, orderID string) ([]orders.Payment, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id, order_id, success, transaction_id, processed_at
		FROM payments WHERE order_id=$1 ORDER BY processed_at, id`, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "list payments")
	}
	defer rows.Close()

	var out []orders.Payment
	for rows.Next() {
		var p orders.Payment
		if err := rows.Scan(&p.ID, &p.OrderID, &p.Success, &p.TransactionID, &p.ProcessedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) DueDeliveries(ctx context.Context, status orders.Status, cutoff time.Time, limit int) ([]orders.Delivery, error) {
	phase := "started_at"
	if status == orders.StatusShipped {
		phase = "shipped_at"
	}
	var lim any // LIMIT NULL = tanpa batas
	if limit > 0 {
		lim = limit
	}
	rows, err := s.DB.Query(ctx, `SELECT `+deliveryColumns+` FROM deliveries
		WHERE status=$1 AND `+phase+` < $2
		ORDER BY `+phase+` LIMIT $3`, string(status), cutoff, lim)
	if err != nil {
		return nil, errors.Wrap(err, "list due deliveries")
	}
	defer rows.Close()

	var out []orders.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) CountDeliveries(ctx context.Context) (map[orders.Status]int, error) {
	rows, err := s.DB.Query(ctx, `SELECT status, COUNT(*) FROM deliveries GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "count deliveries")
	}
	defer rows.Close()

	out := map[orders.Status]int{}
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[orders.Status(st)] = n
	}
	return out, rows.Err()
}

// ---- products ----

func (s *Store) GetProduct(ctx context.Context, id string) (orders.Product, error) {
	return scanProduct(s.DB.QueryRow(ctx, `
		SELECT id, name, total_stock, stock_managed, updated_at FROM products WHERE id=$1`, id))
}

func (s *Store) UpsertProduct(ctx context.Context, p orders.Product) error {
	if p.ID == "" {
		return orders.Validation("product id is required")
	}
	if p.TotalStock < 0 {
		return orders.Validation("total stock must not be negative, got %d", p.TotalStock)
	}
	_, err := s.DB.Exec(ctx, `
		INSERT INTO products(id, name, total_stock, stock_managed, updated_at)
		VALUES ($1,$2,$3,$4,now())
		ON CONFLICT (id) DO UPDATE
		SET name=EXCLUDED.name, total_stock=EXCLUDED.total_stock,
		    stock_managed=EXCLUDED.stock_managed, updated_at=now()`,
		p.ID, p.Name, p.TotalStock, p.StockManaged)
	return errors.Wrap(err, "upsert product")
}

// ---- tx ----

type pgTx struct{ tx pgx.Tx }

func (t *pgTx) InsertOrder(ctx context.Context, o orders.Order) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO orders(`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		o.ID, o.ProductID, o.Quantity, string(o.Status), o.PaymentRequestedAt, o.CreatedAt, o.UpdatedAt)
	return uniqueAs(err, "order "+o.ID)
}

func (t *pgTx) LockOrder(ctx context.Context, id string) (orders.Order, error) {
	return scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1 FOR UPDATE`, id))
}

func (t *pgTx) UpdateOrder(ctx context.Context, o orders.Order) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE orders SET status=$2, payment_requested_at=$3, updated_at=$4 WHERE id=$1`,
		o.ID, string(o.Status), o.PaymentRequestedAt, o.UpdatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return orders.ErrOrderNotFound
	}
	return nil
}

func (t *pgTx) InsertPayment(ctx context.Context, p orders.Payment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO payments(id, order_id, success, transaction_id, processed_at)
		VALUES ($1,$2,$3,$4,$5)`,
		p.ID, p.OrderID, p.Success, p.TransactionID, p.ProcessedAt)
	return uniqueAs(err, "payment "+p.TransactionID)
}

func (t *pgTx) LockProduct(ctx context.Context, id string) (orders.Product, error) {
	return scanProduct(t.tx.QueryRow(ctx, `
		SELECT id, name, total_stock, stock_managed, updated_at FROM products WHERE id=$1 FOR UPDATE`, id))
}

func (t *pgTx) SetProductStock(ctx context.Context, id string, total int) error {
	if total < 0 {
		return orders.Validation("total stock must not be negative, got %d", total)
	}
	ct, err := t.tx.Exec(ctx, `UPDATE products SET total_stock=$2, updated_at=now() WHERE id=$1`, id, total)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return orders.ErrProductNotFound
	}
	return nil
}

func (t *pgTx) InsertDelivery(ctx context.Context, d orders.Delivery) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO deliveries(`+deliveryColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		d.ID, d.OrderID, string(d.Status), d.StartedAt, d.ShippedAt, d.CompletedAt, d.TrackingNumber, d.Courier)
	return uniqueAs(err, "delivery for order "+d.OrderID)
}

func (t *pgTx) LockDelivery(ctx context.Context, orderID string) (orders.Delivery, error) {
	return scanDelivery(t.tx.QueryRow(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE order_id=$1 FOR UPDATE`, orderID))
}

func (t *pgTx) UpdateDelivery(ctx context.Context, d orders.Delivery) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE deliveries SET status=$2, shipped_at=$3, completed_at=$4, tracking_number=$5, courier=$6
		WHERE id=$1`,
		d.ID, string(d.Status), d.ShippedAt, d.CompletedAt, d.TrackingNumber, d.Courier)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return orders.ErrDeliveryNotFound
	}
	return nil
}

// ---- scan helpers ----

func scanOrder(row pgx.Row) (orders.Order, error) {
	var (
		o      orders.Order
		status string
	)
	err := row.Scan(&o.ID, &o.ProductID, &o.Quantity, &status, &o.PaymentRequestedAt, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	if err != nil {
		return orders.Order{}, errors.Wrap(err, "scan order")
	}
	o.Status = orders.Status(status)
	return o, nil
}

func scanDelivery(row pgx.Row) (orders.Delivery, error) {
	var (
		d      orders.Delivery
		status string
	)
	err := row.Scan(&d.ID, &d.OrderID, &status, &d.StartedAt, &d.ShippedAt, &d.CompletedAt, &d.TrackingNumber, &d.Courier)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Delivery{}, orders.ErrDeliveryNotFound
	}
	if err != nil {
		return orders.Delivery{}, errors.Wrap(err, "scan delivery")
	}
	d.Status = orders.Status(status)
	return d, nil
}

func scanProduct(row pgx.Row) (orders.Product, error) {
	var p orders.Product
	err := row.Scan(&p.ID, &p.Name, &p.TotalStock, &p.StockManaged, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Product{}, orders.ErrProductNotFound
	}
	if err != nil {
		return orders.Product{}, errors.Wrap(err, "scan product")
	}
	return p, nil
}

func isCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

func uniqueAs(err error, what string) error {
	if isCode(err, codeUniqueViolation) {
		return orders.Validation("%s already exists", what)
	}
	return err
}
