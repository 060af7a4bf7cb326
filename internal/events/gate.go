package events

import (
	"context"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"sync"
)

// Queue holds messages produced inside a transaction until it commits.
type Queue struct {
	mu   sync.Mutex
	msgs []Message
}

func (q *Queue) Add(msgs ...Message) {
	q.mu.Lock()
	q.msgs = append(q.msgs, msgs...)
	q.mu.Unlock()
}

// Drain returns the queued messages and empties the queue.
func (q *Queue) Drain() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.msgs
	q.msgs = nil
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.msgs)
}

// Gate is the unit-of-work boundary: messages queued by fn are dispatched
// only after the store commits and are discarded when fn or the commit fails.
type Gate struct {
	store      orders.Store
	dispatcher *Dispatcher
}

func NewGate(store orders.Store, dispatcher *Dispatcher) *Gate {
	return &Gate{store: store, dispatcher: dispatcher}
}

func (g *Gate) Run(ctx context.Context, fn func(ctx context.Context, tx orders.Tx, q *Queue) error) error {
	var q Queue
	err := g.store.WithinTx(ctx, func(ctx context.Context, tx orders.Tx) error {
		return fn(ctx, tx, &q)
	})
	if err != nil {
		q.Drain()
		return err
	}
	g.dispatcher.Dispatch(ctx, q.Drain()...)
	return nil
}
