package events

import (
	"context"
	"go.uber.org/zap"
	"sync"
)

// Noop logs messages instead of sending them. Used when EVENT_BUS=noop.
type Noop struct{ Logger *zap.Logger }

func (n Noop) Publish(_ context.Context, m Message) error {
	if n.Logger != nil {
		n.Logger.Debug("event (noop bus)",
			zap.String("topic", m.Topic),
			zap.String("key", m.Key),
			zap.String("event_type", m.Envelope.EventType),
			zap.ByteString("payload", m.Envelope.Payload),
		)
	}
	return nil
}

// Recorder keeps published messages in memory.
type Recorder struct {
	mu   sync.Mutex
	msgs []Message
	Err  error // returned from Publish when set
}

func (r *Recorder) Publish(_ context.Context, m Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.msgs = append(r.msgs, m)
	return nil
}

func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.msgs))
	copy(out, r.msgs)
	return out
}

// OfType filters recorded messages by envelope event type.
func (r *Recorder) OfType(eventType string) []Message {
	var out []Message
	for _, m := range r.Messages() {
		if m.Envelope.EventType == eventType {
			out = append(out, m)
		}
	}
	return out
}
