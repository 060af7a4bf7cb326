package events

import (
	"context"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"sync"
)

// Listener reacts in-process to a committed message.
type Listener func(ctx context.Context, m Message) error

// Dispatcher delivers committed messages to local listeners, then to the bus.
// Failures are logged and never propagate to the already-committed caller.
type Dispatcher struct {
	publisher Publisher
	logger    *zap.Logger

	mu        sync.RWMutex
	listeners map[string][]Listener
}

func NewDispatcher(p Publisher, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{publisher: p, logger: logger, listeners: map[string][]Listener{}}
}

// Subscribe registers l for envelopes of eventType.
func (d *Dispatcher) Subscribe(eventType string, l Listener) {
	d.mu.Lock()
	d.listeners[eventType] = append(d.listeners[eventType], l)
	d.mu.Unlock()
}

func (d *Dispatcher) Dispatch(ctx context.Context, msgs ...Message) {
	// request bisa sudah selesai, tapi pesan yang sudah commit tetap harus keluar
	ctx = context.WithoutCancel(ctx)
	for _, m := range msgs {
		d.mu.RLock()
		ls := d.listeners[m.Envelope.EventType]
		d.mu.RUnlock()

		for _, l := range ls {
			if err := l(ctx, m); err != nil {
				d.logger.Error("after-commit listener failed",
					zap.String("event_type", m.Envelope.EventType),
					zap.String("event_id", m.Envelope.EventID),
					zap.Error(err),
				)
			}
		}

		if err := d.publisher.Publish(ctx, m); err != nil {
			d.logger.Error("publish failed",
				zap.String("topic", m.Topic),
				zap.String("key", m.Key),
				zap.String("event_type", m.Envelope.EventType),
				zap.Error(errors.Wrap(orders.ErrPublishFailed, err.Error())),
			)
		}
	}
}
