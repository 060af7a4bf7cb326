package inventory

import (
	"context"
	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/go-order-fulfillment/internal/memstore"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sync"
	"testing"
	"time"
)

type ledgerFixture struct {
	mr       *miniredis.Miniredis
	rdb      *redis.Client
	products *memstore.Store
	ledger   *RedisLedger
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	products := memstore.New()
	return &ledgerFixture{
		mr:       mr,
		rdb:      rdb,
		products: products,
		ledger:   NewRedisLedger(rdb, products, Options{ReservationTTL: time.Hour, StockTTL: 24 * time.Hour}, nil),
	}
}

func (f *ledgerFixture) product(t *testing.T, id string, total int, managed bool) {
	t.Helper()
	require.NoError(t, f.products.UpsertProduct(context.Background(), orders.Product{
		ID: id, Name: id, TotalStock: total, StockManaged: managed,
	}))
}

func (f *ledgerFixture) status(t *testing.T, id string) orders.StockStatus {
	t.Helper()
	st, err := f.ledger.Status(context.Background(), id)
	require.NoError(t, err)
	return st
}

// confirm runs ConfirmSale in its own transaction and settles on commit.
func (f *ledgerFixture) confirm(t *testing.T, id string, qty int) error {
	t.Helper()
	ctx := context.Background()
	err := f.products.WithinTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		return f.ledger.ConfirmSale(ctx, tx, id, qty, "o1")
	})
	if err != nil {
		return err
	}
	return f.ledger.Settle(ctx, id, qty)
}

func TestIsAvailableLazyInit(t *testing.T) {
	f := newLedgerFixture(t)
	f.product(t, "p1", 50, true)
	ctx := context.Background()

	assert.False(t, f.status(t, "p1").FastViewCached)

	ok, err := f.ledger.IsAvailable(ctx, "p1", 10)
	require.NoError(t, err)
	assert.True(t, ok)

	st := f.status(t, "p1")
	assert.True(t, st.FastViewCached)
	assert.EqualValues(t, 50, st.FastViewStock)
	assert.Equal(t, 24*time.Hour, f.mr.TTL("stock:p1"))

	ok, err = f.ledger.IsAvailable(ctx, "p1", 51)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsAvailableRejectsNonPositive(t *testing.T) {
	f := newLedgerFixture(t)
	f.product(t, "p1", 50, true)

	for _, qty := range []int{0, -3} {
		_, err := f.ledger.IsAvailable(context.Background(), "p1", qty)
		assert.ErrorIs(t, err, orders.ErrValidation)
		assert.ErrorIs(t, f.ledger.Reserve(context.Background(), "p1", qty), orders.ErrValidation)
		assert.ErrorIs(t, f.ledger.Release(context.Background(), "p1", qty), orders.ErrValidation)
	}
	assert.False(t, f.mr.Exists("stock:p1"))
}

func TestUnknownProduct(t *testing.T) {
	f := newLedgerFixture(t)
	_, err := f.ledger.IsAvailable(context.Background(), "nope", 1)
	assert.ErrorIs(t, err, orders.ErrNotFound)
}

func TestUnmanagedProductIsUnbounded(t *testing.T) {
	f := newLedgerFixture(t)
	f.product(t, "free", 0, false)
	ctx := context.Background()

	ok, err := f.ledger.IsAvailable(ctx, "free", 1_000_000)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.EqualValues(t, UnboundedStock, f.status(t, "free").FastViewStock)

	require.NoError(t, f.ledger.Reserve(ctx, "free", 5))
	require.NoError(t, f.confirm(t, "free", 5))

	p, err := f.products.GetProduct(ctx, "free")
	require.NoError(t, err)
	assert.Equal(t, 0, p.TotalStock)
	assert.EqualValues(t, 0, f.status(t, "free").ReservedStock)
}

func TestReserveReleaseRoundTrip(t *testing.T) {
	f := newLedgerFixture(t)
	f.product(t, "p1", 50, true)
	ctx := context.Background()

	// warm the cache so "before" is a real reading
	_, err := f.ledger.IsAvailable(ctx, "p1", 1)
	require.NoError(t, err)

	for _, qty := range []int{1, 7, 50} {
		before := f.status(t, "p1")
		require.NoError(t, f.ledger.Reserve(ctx, "p1", qty))
		mid := f.status(t, "p1")
		assert.Equal(t, before.FastViewStock-int64(qty), mid.FastViewStock)
		assert.Equal(t, before.ReservedStock+int64(qty), mid.ReservedStock)

		require.NoError(t, f.ledger.Release(ctx, "p1", qty))
		after := f.status(t, "p1")
		assert.Equal(t, before.FastViewStock, after.FastViewStock)
		assert.Equal(t, before.ReservedStock, after.ReservedStock)
	}
}

func TestReserveSetsReservationWindow(t *testing.T) {
	f := newLedgerFixture(t)
	f.product(t, "p1", 50, true)

	require.NoError(t, f.ledger.Reserve(context.Background(), "p1", 10))
	assert.Equal(t, time.Hour, f.mr.TTL("reserved:p1"))
	assert.Equal(t, time.Hour, f.mr.TTL("stock:p1"))

	st := f.status(t, "p1")
	assert.EqualValues(t, 40, st.FastViewStock)
	assert.EqualValues(t, 10, st.ReservedStock)
}

func TestReserveMoreThanAvailable(t *testing.T) {
	f := newLedgerFixture(t)
	f.product(t, "p1", 50, true)

	err := f.ledger.Reserve(context.Background(), "p1", 60)
	assert.ErrorIs(t, err, orders.ErrInsufficientStock)

	st := f.status(t, "p1")
	assert.EqualValues(t, 50, st.FastViewStock)
	assert.EqualValues(t, 0, st.ReservedStock)
}

func TestReserveRollsBackNegativeDecrement(t *testing.T) {
	f := newLedgerFixture(t)
	f.product(t, "p1", 50, true)
	ctx := context.Background()

	// 5 left in the fast view, while the pre-check is bypassed by calling the script directly
	require.NoError(t, f.mr.Set("stock:p1", "5"))
	left, err := reserveScript.Run(ctx, f.rdb, []string{"stock:p1", "reserved:p1"}, 6, 1000).Int64()
	require.NoError(t, err)
	assert.EqualValues(t, -1, left)

	v, err := f.mr.Get("stock:p1")
	require.NoError(t, err)
	assert.Equal(t, "5", v)
	assert.False(t, f.mr.Exists("reserved:p1"))
}

func TestReserveReinitializesExpiredFastView(t *testing.T) {
	f := newLedgerFixture(t)
	f.product(t, "p1", 50, true)
	ctx := context.Background()

	require.NoError(t, f.ledger.Reserve(ctx, "p1", 10))
	f.mr.Del("stock:p1")

	require.NoError(t, f.ledger.Reserve(ctx, "p1", 5))
	st := f.status(t, "p1")
	// rebuilt from durable 50 minus the 10 still reserved
	assert.EqualValues(t, 35, st.FastViewStock)
	assert.EqualValues(t, 15, st.ReservedStock)
}

func TestConcurrentReserveNeverOversells(t *testing.T) {
	f := newLedgerFixture(t)
	f.product(t, "p1", 50, true)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		okN    int
		failed []error
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := f.ledger.Reserve(context.Background(), "p1", 7)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				okN++
				return
			}
			failed = append(failed, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 7, okN)
	for _, err := range failed {
		assert.True(t, errors.Is(err, orders.ErrInsufficientStock) || errors.Is(err, orders.ErrReservationFailed), err)
	}
	st := f.status(t, "p1")
	assert.EqualValues(t, 1, st.FastViewStock)
	assert.EqualValues(t, 49, st.ReservedStock)
}

func TestReleaseClampsReserved(t *testing.T) {
	f := newLedgerFixture(t)
	f.product(t, "p1", 50, true)
	ctx := context.Background()

	require.NoError(t, f.ledger.Reserve(ctx, "p1", 3))
	require.NoError(t, f.ledger.Release(ctx, "p1", 5))

	st := f.status(t, "p1")
	assert.EqualValues(t, 0, st.ReservedStock)
	assert.EqualValues(t, 50, st.FastViewStock)

	// nothing reserved, nothing to give back
	require.NoError(t, f.ledger.Release(ctx, "p1", 5))
	assert.EqualValues(t, 50, f.status(t, "p1").FastViewStock)
}

func TestReleaseAfterRebuildDoesNotExceedTotal(t *testing.T) {
	f := newLedgerFixture(t)
	f.product(t, "p1", 50, true)
	ctx := context.Background()

	require.NoError(t, f.ledger.Reserve(ctx, "p1", 10))
	f.mr.FastForward(time.Hour + time.Second)

	// rebuilt from durable stock with no hold counted
	ok, err := f.ledger.IsAvailable(ctx, "p1", 50)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, f.ledger.Release(ctx, "p1", 10))
	st := f.status(t, "p1")
	assert.EqualValues(t, 50, st.FastViewStock)
	assert.EqualValues(t, 0, st.ReservedStock)
}

func TestReleaseWithoutFastViewLeavesStockKeyAlone(t *testing.T) {
	f := newLedgerFixture(t)
	f.product(t, "p1", 50, true)
	ctx := context.Background()

	require.NoError(t, f.ledger.Reserve(ctx, "p1", 4))
	f.mr.Del("stock:p1")

	require.NoError(t, f.ledger.Release(ctx, "p1", 4))
	assert.False(t, f.mr.Exists("stock:p1"))
	assert.EqualValues(t, 0, f.status(t, "p1").ReservedStock)

	ok, err := f.ledger.IsAvailable(ctx, "p1", 50)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestConfirmSaleDecrementsDurableStock(t *testing.T) {
	f := newLedgerFixture(t)
	f.product(t, "p1", 50, true)
	ctx := context.Background()

	require.NoError(t, f.ledger.Reserve(ctx, "p1", 3))
	require.NoError(t, f.confirm(t, "p1", 3))

	st := f.status(t, "p1")
	assert.Equal(t, 47, st.DurableStock)
	assert.EqualValues(t, 0, st.ReservedStock)
	assert.EqualValues(t, 47, st.FastViewStock)
}

func TestConfirmSaleRollsBackWithTx(t *testing.T) {
	f := newLedgerFixture(t)
	f.product(t, "p1", 50, true)
	ctx := context.Background()

	err := f.products.WithinTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		require.NoError(t, f.ledger.ConfirmSale(ctx, tx, "p1", 3, "o1"))
		return errors.New("boom")
	})
	assert.EqualError(t, err, "boom")

	p, err := f.products.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 50, p.TotalStock)
}

func TestConfirmSaleDivergence(t *testing.T) {
	f := newLedgerFixture(t)
	f.product(t, "p1", 10, true)
	ctx := context.Background()

	require.NoError(t, f.ledger.Reserve(ctx, "p1", 8))
	// durable stock lowered administratively behind the cache's back
	f.product(t, "p1", 5, true)

	err := f.products.WithinTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		return f.ledger.ConfirmSale(ctx, tx, "p1", 8, "o1")
	})
	assert.ErrorIs(t, err, orders.ErrSettlementDivergence)
	assert.ErrorIs(t, err, orders.ErrInsufficientStock)

	var div *orders.DivergenceError
	require.True(t, errors.As(err, &div))
	assert.Equal(t, 5, div.DurableStock)

	st := f.status(t, "p1")
	assert.Equal(t, 5, st.DurableStock)
	assert.EqualValues(t, 8, st.ReservedStock)

	require.NoError(t, f.ledger.Sync(ctx, "p1"))
	st = f.status(t, "p1")
	assert.EqualValues(t, 5, st.FastViewStock)
	assert.EqualValues(t, 0, st.ReservedStock)
}

func TestConfirmSaleUnknownProduct(t *testing.T) {
	f := newLedgerFixture(t)
	err := f.products.WithinTx(context.Background(), func(ctx context.Context, tx orders.Tx) error {
		return f.ledger.ConfirmSale(ctx, tx, "ghost", 1, "o1")
	})
	assert.ErrorIs(t, err, orders.ErrProductNotFound)
}

func TestSyncIsIdempotent(t *testing.T) {
	f := newLedgerFixture(t)
	f.product(t, "p1", 50, true)
	ctx := context.Background()

	require.NoError(t, f.ledger.Reserve(ctx, "p1", 10))
	require.NoError(t, f.ledger.Sync(ctx, "p1"))
	first := f.status(t, "p1")
	assert.EqualValues(t, 50, first.FastViewStock)
	assert.EqualValues(t, 0, first.ReservedStock)

	require.NoError(t, f.ledger.Sync(ctx, "p1"))
	require.NoError(t, f.ledger.Sync(ctx, "p1"))
	assert.Equal(t, first, f.status(t, "p1"))
	assert.Equal(t, 24*time.Hour, f.mr.TTL("stock:p1"))
}

func TestReservationExpiresWithTTL(t *testing.T) {
	f := newLedgerFixture(t)
	f.product(t, "p1", 50, true)

	require.NoError(t, f.ledger.Reserve(context.Background(), "p1", 10))
	f.mr.FastForward(time.Hour + time.Second)

	assert.EqualValues(t, 0, f.status(t, "p1").ReservedStock)
}

func TestAbandonedReservationHealsFastView(t *testing.T) {
	f := newLedgerFixture(t)
	f.product(t, "p1", 50, true)
	ctx := context.Background()

	_, err := f.ledger.IsAvailable(ctx, "p1", 1)
	require.NoError(t, err)
	require.NoError(t, f.ledger.Reserve(ctx, "p1", 10))
	assert.EqualValues(t, 40, f.status(t, "p1").FastViewStock)

	f.mr.FastForward(time.Hour + time.Second)
	st := f.status(t, "p1")
	assert.False(t, st.FastViewCached)
	assert.EqualValues(t, 0, st.ReservedStock)

	ok, err := f.ledger.IsAvailable(ctx, "p1", 50)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.EqualValues(t, 50, f.status(t, "p1").FastViewStock)
}

func TestLazyInitNeverOutlivesCountedHold(t *testing.T) {
	f := newLedgerFixture(t)
	f.product(t, "p1", 50, true)
	ctx := context.Background()

	require.NoError(t, f.ledger.Reserve(ctx, "p1", 10))
	f.mr.FastForward(10 * time.Minute)
	f.mr.Del("stock:p1")

	_, err := f.ledger.IsAvailable(ctx, "p1", 1)
	require.NoError(t, err)
	assert.EqualValues(t, 40, f.status(t, "p1").FastViewStock)
	assert.LessOrEqual(t, f.mr.TTL("stock:p1"), f.mr.TTL("reserved:p1"))

	f.mr.FastForward(50*time.Minute + time.Second)
	assert.False(t, f.mr.Exists("stock:p1"))
	assert.False(t, f.mr.Exists("reserved:p1"))
}

func TestUnboundedLedger(t *testing.T) {
	var l Ledger = UnboundedLedger{}
	ctx := context.Background()

	ok, err := l.IsAvailable(ctx, "any", 1_000_000)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, l.Reserve(ctx, "any", 3))
	require.NoError(t, l.Release(ctx, "any", 3))
	require.NoError(t, l.ConfirmSale(ctx, nil, "any", 3, "o1"))
	require.NoError(t, l.Settle(ctx, "any", 3))
	assert.ErrorIs(t, l.Reserve(ctx, "any", 0), orders.ErrValidation)

	st, err := l.Status(ctx, "any")
	require.NoError(t, err)
	assert.EqualValues(t, UnboundedStock, st.FastViewStock)
}
