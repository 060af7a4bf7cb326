package inventory

import (
	"context"
	"fmt"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/redisx"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"math"
	"time"
)

// UnboundedStock is the fast-view value of products without stock management.
const UnboundedStock = math.MaxInt32

// Ledger reconciles the fast-view cache with the durable product stock.
type Ledger interface {
	IsAvailable(ctx context.Context, productID string, qty int) (bool, error)
	Reserve(ctx context.Context, productID string, qty int) error
	Release(ctx context.Context, productID string, qty int) error
	// ConfirmSale decrements durable stock inside tx. On a shortfall nothing
	// is written and a *orders.DivergenceError is returned.
	ConfirmSale(ctx context.Context, tx orders.Tx, productID string, qty int, orderID string) error
	// Settle drops a confirmed quantity from the reserved counter once the
	// confirming transaction has committed.
	Settle(ctx context.Context, productID string, qty int) error
	Sync(ctx context.Context, productID string) error
	Status(ctx context.Context, productID string) (orders.StockStatus, error)
}

// ProductStore is the durable side of the ledger.
type ProductStore interface {
	GetProduct(ctx context.Context, id string) (orders.Product, error)
	UpsertProduct(ctx context.Context, p orders.Product) error
}

// KEYS[1]=stock KEYS[2]=reserved ARGV[1]=qty ARGV[2]=reservation ttl (ms).
// -2 = fast view missing, -1 = decrement went negative and was rolled back.
// Both keys share the reservation window so an abandoned hold expires together
// with the decrement it caused.
var reserveScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -2
end
local left = redis.call('DECRBY', KEYS[1], ARGV[1])
if left < 0 then
  redis.call('INCRBY', KEYS[1], ARGV[1])
  return -1
end
redis.call('INCRBY', KEYS[2], ARGV[1])
redis.call('PEXPIRE', KEYS[2], ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return left
`)

// KEYS[1]=stock KEYS[2]=reserved ARGV[1]=qty. Returns {stock, reserved}.
// Only min(qty, reserved) moves back to stock; a rebuilt fast view already
// counts the rest. A missing stock key is left alone for lazy init.
var releaseScript = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[2]) or '0')
local n = tonumber(ARGV[1])
if n > cur then
  n = cur
end
if n > 0 then
  cur = redis.call('DECRBY', KEYS[2], n)
end
local restored = -1
if redis.call('EXISTS', KEYS[1]) == 1 then
  if n > 0 then
    restored = redis.call('INCRBY', KEYS[1], n)
  else
    restored = tonumber(redis.call('GET', KEYS[1]))
  end
end
return {restored, cur}
`)

// KEYS[1]=reserved ARGV[1]=qty. Decrements by min(qty, current), never below zero.
var clampDecrScript = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
local n = tonumber(ARGV[1])
if cur <= 0 then
  return 0
end
if n > cur then
  n = cur
end
return redis.call('DECRBY', KEYS[1], n)
`)

type Options struct {
	ReservationTTL time.Duration
	StockTTL       time.Duration
}

type RedisLedger struct {
	rdb            redis.Cmdable
	products       ProductStore
	reservationTTL time.Duration
	stockTTL       time.Duration
	logger         *zap.Logger
}

func NewRedisLedger(rdb redis.Cmdable, products ProductStore, opts Options, logger *zap.Logger) *RedisLedger {
	if opts.ReservationTTL <= 0 {
		opts.ReservationTTL = redisx.TTLReservation
	}
	if opts.StockTTL <= 0 {
		opts.StockTTL = redisx.TTLStock
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLedger{
		rdb:            rdb,
		products:       products,
		reservationTTL: opts.ReservationTTL,
		stockTTL:       opts.StockTTL,
		logger:         logger,
	}
}

func stockKey(productID string) string    { return fmt.Sprintf(redisx.KeyStock, productID) }
func reservedKey(productID string) string { return fmt.Sprintf(redisx.KeyReserved, productID) }

func (l *RedisLedger) IsAvailable(ctx context.Context, productID string, qty int) (bool, error) {
	if err := orders.ValidateQuantity(qty); err != nil {
		return false, err
	}
	available, err := l.available(ctx, productID)
	if err != nil {
		return false, err
	}
	l.logger.Debug("stock check",
		zap.String("product_id", productID),
		zap.Int("requested", qty),
		zap.Int64("available", available),
	)
	return available >= int64(qty), nil
}

func (l *RedisLedger) Reserve(ctx context.Context, productID string, qty int) error {
	if err := orders.ValidateQuantity(qty); err != nil {
		return err
	}
	available, err := l.available(ctx, productID)
	if err != nil {
		return err
	}
	if available < int64(qty) {
		return errors.Wrapf(orders.ErrInsufficientStock, "product %s available=%d requested=%d", productID, available, qty)
	}

	keys := []string{stockKey(productID), reservedKey(productID)}
	ttl := l.reservationTTL.Milliseconds()
	left, err := reserveScript.Run(ctx, l.rdb, keys, qty, ttl).Int64()
	if err == nil && left == -2 {
		// fast view expired between check and decrement
		if _, err = l.initialize(ctx, productID); err != nil {
			return err
		}
		left, err = reserveScript.Run(ctx, l.rdb, keys, qty, ttl).Int64()
	}
	if err != nil {
		return errors.Wrap(err, "reserve stock")
	}
	switch left {
	case -1:
		return errors.Wrapf(orders.ErrReservationFailed, "product %s requested=%d", productID, qty)
	case -2:
		return errors.Wrapf(orders.ErrReservationFailed, "product %s fast view unavailable", productID)
	}

	l.logger.Info("stock reserved",
		zap.String("product_id", productID),
		zap.Int("quantity", qty),
		zap.Int64("remaining", left),
	)
	return nil
}

func (l *RedisLedger) Release(ctx context.Context, productID string, qty int) error {
	if err := orders.ValidateQuantity(qty); err != nil {
		return err
	}
	res, err := releaseScript.Run(ctx, l.rdb, []string{stockKey(productID), reservedKey(productID)}, qty).Int64Slice()
	if err != nil {
		return errors.Wrap(err, "release stock")
	}
	l.logger.Info("stock released",
		zap.String("product_id", productID),
		zap.Int("quantity", qty),
		zap.Int64("stock", res[0]),
		zap.Int64("reserved", res[1]),
	)
	return nil
}

func (l *RedisLedger) ConfirmSale(ctx context.Context, tx orders.Tx, productID string, qty int, orderID string) error {
	if err := orders.ValidateQuantity(qty); err != nil {
		return err
	}
	p, err := tx.LockProduct(ctx, productID)
	if err != nil {
		return err
	}
	if !p.StockManaged {
		return nil
	}
	if p.TotalStock < qty {
		l.logger.Warn("durable stock below confirmed quantity",
			zap.String("product_id", productID),
			zap.String("order_id", orderID),
			zap.Int("durable_stock", p.TotalStock),
			zap.Int("requested", qty),
		)
		return &orders.DivergenceError{ProductID: productID, DurableStock: p.TotalStock, Requested: qty}
	}
	if err := tx.SetProductStock(ctx, productID, p.TotalStock-qty); err != nil {
		return errors.Wrap(err, "confirm sale")
	}
	l.logger.Info("sale confirmed",
		zap.String("product_id", productID),
		zap.String("order_id", orderID),
		zap.Int("quantity", qty),
		zap.Int("durable_stock", p.TotalStock-qty),
	)
	return nil
}

func (l *RedisLedger) Settle(ctx context.Context, productID string, qty int) error {
	if err := orders.ValidateQuantity(qty); err != nil {
		return err
	}
	reserved, err := clampDecrScript.Run(ctx, l.rdb, []string{reservedKey(productID)}, qty).Int64()
	if err != nil {
		return errors.Wrap(err, "settle reserved")
	}
	l.logger.Debug("reservation settled",
		zap.String("product_id", productID),
		zap.Int("quantity", qty),
		zap.Int64("reserved", reserved),
	)
	return nil
}

func (l *RedisLedger) Sync(ctx context.Context, productID string) error {
	p, err := l.products.GetProduct(ctx, productID)
	if err != nil {
		return err
	}
	value := fastViewValue(p, 0)
	_, err = l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, stockKey(productID), value, l.stockTTL)
		pipe.Del(ctx, reservedKey(productID))
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "sync fast view")
	}
	l.logger.Warn("fast view synced from durable stock",
		zap.String("product_id", productID),
		zap.Int64("stock", value),
	)
	return nil
}

func (l *RedisLedger) Status(ctx context.Context, productID string) (orders.StockStatus, error) {
	p, err := l.products.GetProduct(ctx, productID)
	if err != nil {
		return orders.StockStatus{}, err
	}
	st := orders.StockStatus{ProductID: productID, DurableStock: p.TotalStock, StockManaged: p.StockManaged}
	if st.FastViewStock, st.FastViewCached, err = l.read(ctx, stockKey(productID)); err != nil {
		return orders.StockStatus{}, err
	}
	if st.ReservedStock, _, err = l.read(ctx, reservedKey(productID)); err != nil {
		return orders.StockStatus{}, err
	}
	return st, nil
}

// available reads the fast view, lazily initializing it on a miss.
func (l *RedisLedger) available(ctx context.Context, productID string) (int64, error) {
	v, ok, err := l.read(ctx, stockKey(productID))
	if err != nil {
		return 0, err
	}
	if ok {
		return v, nil
	}
	return l.initialize(ctx, productID)
}

func (l *RedisLedger) initialize(ctx context.Context, productID string) (int64, error) {
	p, err := l.products.GetProduct(ctx, productID)
	if err != nil {
		return 0, err
	}
	reserved, _, err := l.read(ctx, reservedKey(productID))
	if err != nil {
		return 0, err
	}
	value := fastViewValue(p, reserved)
	ttl := l.stockTTL
	if reserved > 0 {
		// jangan hidup lebih lama dari hold yang ikut dihitung
		if left, err := l.rdb.PTTL(ctx, reservedKey(productID)).Result(); err == nil && left > 0 && left < ttl {
			ttl = left
		}
	}

	set, err := l.rdb.SetNX(ctx, stockKey(productID), value, ttl).Result()
	if err != nil {
		return 0, errors.Wrap(err, "initialize fast view")
	}
	if !set {
		// caller lain sudah inisialisasi duluan
		v, _, err := l.read(ctx, stockKey(productID))
		return v, err
	}
	l.logger.Info("fast view initialized from durable stock",
		zap.String("product_id", productID),
		zap.Int64("stock", value),
	)
	return value, nil
}

func (l *RedisLedger) read(ctx context.Context, key string) (int64, bool, error) {
	v, err := l.rdb.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrapf(err, "read %s", key)
	}
	return v, true, nil
}

func fastViewValue(p orders.Product, reserved int64) int64 {
	if !p.StockManaged {
		return UnboundedStock
	}
	v := int64(p.TotalStock) - reserved
	if v < 0 {
		return 0
	}
	return v
}
