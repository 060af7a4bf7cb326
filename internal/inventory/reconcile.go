package inventory

import (
	"context"
	stderrors "errors"
	"github.com/ariefcatur/go-order-fulfillment/internal/redisx"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"sort"
	"time"
)

// Flagger records products whose durable and fast-view stock need reconciling.
type Flagger interface {
	Flag(ctx context.Context, productID, orderID string, cause error) error
}

// Reconciler keeps flagged product ids in a Redis set and resyncs them.
type Reconciler struct {
	rdb    redis.Cmdable
	ledger Ledger
	logger *zap.Logger
}

func NewReconciler(rdb redis.Cmdable, ledger Ledger, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{rdb: rdb, ledger: ledger, logger: logger}
}

func (r *Reconciler) Flag(ctx context.Context, productID, orderID string, cause error) error {
	r.logger.Warn("inventory reconciliation required",
		zap.String("product_id", productID),
		zap.String("order_id", orderID),
		zap.Error(cause),
	)
	return r.rdb.SAdd(ctx, redisx.KeyReconcilePending, productID).Err()
}

func (r *Reconciler) Pending(ctx context.Context) ([]string, error) {
	ids, err := r.rdb.SMembers(ctx, redisx.KeyReconcilePending).Result()
	if err != nil {
		return nil, errors.Wrap(err, "list pending reconciliations")
	}
	sort.Strings(ids)
	return ids, nil
}

// ReconcileAll syncs every flagged product; products that fail stay flagged.
func (r *Reconciler) ReconcileAll(ctx context.Context) (int, error) {
	ids, err := r.Pending(ctx)
	if err != nil {
		return 0, err
	}
	done := 0
	var errs []error
	for _, id := range ids {
		if err := r.ledger.Sync(ctx, id); err != nil {
			errs = append(errs, errors.Wrapf(err, "sync %s", id))
			continue
		}
		if err := r.rdb.SRem(ctx, redisx.KeyReconcilePending, id).Err(); err != nil {
			errs = append(errs, errors.Wrapf(err, "clear %s", id))
			continue
		}
		done++
	}
	return done, stderrors.Join(errs...)
}

// Run reconciles on every tick until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			n, err := r.ReconcileAll(ctx)
			if err != nil {
				r.logger.Error("reconciliation run failed", zap.Int("synced", n), zap.Error(err))
			} else if n > 0 {
				r.logger.Info("reconciliation run", zap.Int("synced", n))
			}
		}
	}
}

// LogFlagger only logs; used when no fast-view cache is configured.
type LogFlagger struct{ Logger *zap.Logger }

func (f LogFlagger) Flag(_ context.Context, productID, orderID string, cause error) error {
	if f.Logger != nil {
		f.Logger.Warn("inventory reconciliation required",
			zap.String("product_id", productID),
			zap.String("order_id", orderID),
			zap.Error(cause),
		)
	}
	return nil
}
