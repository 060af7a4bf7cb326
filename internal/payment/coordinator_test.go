package payment

import (
	"context"
	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/go-order-fulfillment/internal/events"
	"github.com/ariefcatur/go-order-fulfillment/internal/fulfillment"
	"github.com/ariefcatur/go-order-fulfillment/internal/inventory"
	"github.com/ariefcatur/go-order-fulfillment/internal/memstore"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

type fixture struct {
	mr         *miniredis.Miniredis
	mem        *memstore.Store
	ledger     *inventory.RedisLedger
	reconciler *inventory.Reconciler
	rec        *events.Recorder
	orch       *fulfillment.Orchestrator
	coord      *Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	mem := memstore.New()
	require.NoError(t, mem.UpsertProduct(context.Background(), orders.Product{ID: "p1", TotalStock: 50, StockManaged: true}))

	ledger := inventory.NewRedisLedger(rdb, mem, inventory.Options{}, nil)
	reconciler := inventory.NewReconciler(rdb, ledger, nil)
	rec := &events.Recorder{}
	d := events.NewDispatcher(rec, nil)
	inventory.Register(d, ledger)
	gate := events.NewGate(mem, d)
	f := events.NewFactory("test", "", "")

	return &fixture{
		mr:         mr,
		mem:        mem,
		ledger:     ledger,
		reconciler: reconciler,
		rec:        rec,
		orch:       fulfillment.NewOrchestrator(mem, gate, ledger, f, nil),
		coord:      NewCoordinator(mem, gate, ledger, reconciler, f, nil),
	}
}

func (f *fixture) stock(t *testing.T) orders.StockStatus {
	t.Helper()
	st, err := f.ledger.Status(context.Background(), "p1")
	require.NoError(t, err)
	return st
}

func (f *fixture) lastOrderStatus(t *testing.T) string {
	t.Helper()
	msgs := f.rec.OfType(orders.EventOrderStatusChanged)
	require.NotEmpty(t, msgs)
	p, err := events.Decode[orders.OrderEventPayload](msgs[len(msgs)-1])
	require.NoError(t, err)
	return p.Status
}

func TestCompletePaymentSuccessConfirmsSale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.orch.CreateOrder(ctx, "p1", 3)
	require.NoError(t, err)

	res, err := f.coord.CompletePayment(ctx, o.ID, true)
	require.NoError(t, err)
	assert.False(t, res.ReconciliationRequired)
	assert.Equal(t, orders.StatusPaymentCompleted, res.Order.Status)
	assert.True(t, res.Payment.Success)
	assert.NotEmpty(t, res.Payment.TransactionID)

	st := f.stock(t)
	assert.Equal(t, 47, st.DurableStock)
	assert.EqualValues(t, 0, st.ReservedStock)
	assert.EqualValues(t, 47, st.FastViewStock)

	stored, err := f.orch.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPaymentCompleted, stored.Status)

	assert.Equal(t, "PAYMENT_COMPLETED", f.lastOrderStatus(t))
	confirmed := f.rec.OfType(orders.EventInventoryConfirmed)
	require.Len(t, confirmed, 1)
	assert.Equal(t, "p1", confirmed[0].Key)
}

// commitFailing runs fn and then fails the commit, as a dropped connection would.
type commitFailing struct{ *memstore.Store }

func (s commitFailing) WithinTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	return s.Store.WithinTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		if err := fn(ctx, tx); err != nil {
			return err
		}
		return errors.New("commit: connection reset")
	})
}

func TestCompletePaymentConfirmationIsDurableAtCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.orch.CreateOrder(ctx, "p1", 3)
	require.NoError(t, err)

	// no after-commit reactions, like a process that dies right after commit
	rec := &events.Recorder{}
	gate := events.NewGate(f.mem, events.NewDispatcher(rec, nil))
	coord := NewCoordinator(f.mem, gate, f.ledger, f.reconciler, events.NewFactory("test", "", ""), nil)

	res, err := coord.CompletePayment(ctx, o.ID, true)
	require.NoError(t, err)
	assert.False(t, res.ReconciliationRequired)

	st := f.stock(t)
	assert.Equal(t, 47, st.DurableStock)
	assert.EqualValues(t, 3, st.ReservedStock)
	assert.Len(t, rec.OfType(orders.EventInventoryConfirmed), 1)

	// the unsettled hold ages out with its reservation window
	f.mr.FastForward(time.Hour + time.Second)
	_, err = f.ledger.IsAvailable(ctx, "p1", 1)
	require.NoError(t, err)
	st = f.stock(t)
	assert.EqualValues(t, 0, st.ReservedStock)
	assert.EqualValues(t, 47, st.FastViewStock)
}

func TestCompletePaymentFailedCommitKeepsStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.orch.CreateOrder(ctx, "p1", 3)
	require.NoError(t, err)

	store := commitFailing{f.mem}
	gate := events.NewGate(store, events.NewDispatcher(f.rec, nil))
	coord := NewCoordinator(store, gate, f.ledger, f.reconciler, events.NewFactory("test", "", ""), nil)

	_, err = coord.CompletePayment(ctx, o.ID, true)
	assert.EqualError(t, err, "commit: connection reset")

	stored, err := f.orch.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCreated, stored.Status)
	st := f.stock(t)
	assert.Equal(t, 50, st.DurableStock)
	assert.EqualValues(t, 3, st.ReservedStock)
	assert.Empty(t, f.rec.OfType(orders.EventInventoryConfirmed))

	ps, err := f.coord.Payments(ctx, o.ID)
	require.NoError(t, err)
	assert.Empty(t, ps)
}

func TestCompletePaymentFailureReleases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.orch.CreateOrder(ctx, "p1", 3)
	require.NoError(t, err)
	require.EqualValues(t, 47, f.stock(t).FastViewStock)

	res, err := f.coord.CompletePayment(ctx, o.ID, false)
	assert.ErrorIs(t, err, orders.ErrPaymentFailed)
	assert.Equal(t, orders.StatusPaymentFailed, res.Order.Status)
	assert.False(t, res.Payment.Success)

	st := f.stock(t)
	assert.EqualValues(t, 50, st.FastViewStock)
	assert.EqualValues(t, 0, st.ReservedStock)
	assert.Equal(t, 50, st.DurableStock)

	stored, err := f.orch.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPaymentFailed, stored.Status)
	assert.Equal(t, "PAYMENT_FAILED", f.lastOrderStatus(t))
	assert.Len(t, f.rec.OfType(orders.EventInventoryReleased), 1)

	ps, err := f.coord.Payments(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.False(t, ps[0].Success)
}

func TestCompletePaymentDivergenceKeepsPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.orch.CreateOrder(ctx, "p1", 10)
	require.NoError(t, err)
	require.NoError(t, f.mem.UpsertProduct(ctx, orders.Product{ID: "p1", TotalStock: 4, StockManaged: true}))

	res, err := f.coord.CompletePayment(ctx, o.ID, true)
	require.NoError(t, err)
	assert.True(t, res.ReconciliationRequired)
	assert.Equal(t, orders.StatusPaymentCompleted, res.Order.Status)

	stored, err := f.orch.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPaymentCompleted, stored.Status)

	pending, err := f.reconciler.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, pending)
	assert.Empty(t, f.rec.OfType(orders.EventInventoryConfirmed))

	// fast view resynced after commit
	st := f.stock(t)
	assert.Equal(t, 4, st.DurableStock)
	assert.EqualValues(t, 4, st.FastViewStock)
}

func TestCompletePaymentTwiceIsInvalidTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.orch.CreateOrder(ctx, "p1", 2)
	require.NoError(t, err)
	_, err = f.coord.CompletePayment(ctx, o.ID, true)
	require.NoError(t, err)

	_, err = f.coord.CompletePayment(ctx, o.ID, true)
	assert.ErrorIs(t, err, orders.ErrInvalidTransition)
	assert.Equal(t, 48, f.stock(t).DurableStock)

	ps, err := f.coord.Payments(ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, ps, 1)
}

func TestCompletePaymentUnknownOrder(t *testing.T) {
	f := newFixture(t)
	_, err := f.coord.CompletePayment(context.Background(), "missing", true)
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)

	_, err = f.coord.Payments(context.Background(), "missing")
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)
}

func TestInitiatePayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.orch.CreateOrder(ctx, "p1", 1)
	require.NoError(t, err)

	got, err := f.coord.InitiatePayment(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCreated, got.Status)
	require.NotNil(t, got.PaymentRequestedAt)
	assert.Equal(t, orders.MarkerPaymentRequested, f.lastOrderStatus(t))

	_, err = f.coord.CompletePayment(ctx, o.ID, true)
	require.NoError(t, err)
	_, err = f.coord.InitiatePayment(ctx, o.ID)
	assert.ErrorIs(t, err, orders.ErrInvalidState)
}
