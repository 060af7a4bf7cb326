package kafka

import (
	"context"
	otelkafka "github.com/Trendyol/otel-kafka-konsumer"
	"github.com/ariefcatur/go-order-fulfillment/internal/events"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"sync"
	"time"
)

var (
	ErrProducerClosed = errors.New("producer closed")
	ErrBufferFull     = errors.New("producer buffer full")
)

const writeTimeout = 10 * time.Second

type writer interface {
	WriteMessage(ctx context.Context, msg kafka.Message) error
	Close() error
}

// outbound keeps the publisher's span so the write is traced as its child.
type outbound struct {
	msg  kafka.Message
	span trace.SpanContext
}

type ProducerOptions struct {
	Buffer      int
	MaxAttempts int
	Backoff     time.Duration
}

// Producer publishes from a buffered inbox on its own goroutine and retries
// failed writes. Publish never blocks the caller.
type Producer struct {
	w           writer
	inbox       chan outbound
	closeCh     chan struct{}
	maxAttempts int
	backoff     time.Duration
	logger      *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// NewProducer builds a producer over a traced kafka writer. Topic comes from
// each record.
func NewProducer(brokers []string, client string, opts ProducerOptions, logger *zap.Logger) (*Producer, error) {
	base := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{}, // key = order_id / product_id
		RequiredAcks: kafka.RequireAll,
	}
	w, err := otelkafka.NewWriter(base,
		otelkafka.WithTracerProvider(otel.GetTracerProvider()),
		otelkafka.WithPropagator(otel.GetTextMapPropagator()),
		otelkafka.WithAttributes([]attribute.KeyValue{
			attribute.String("messaging.kafka.client_id", client),
		}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "kafka writer")
	}
	return newProducer(w, opts, logger), nil
}

func newProducer(w writer, opts ProducerOptions, logger *zap.Logger) *Producer {
	if opts.Buffer <= 0 {
		opts.Buffer = 1024
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 200 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Producer{
		w:           w,
		inbox:       make(chan outbound, opts.Buffer),
		closeCh:     make(chan struct{}),
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
		logger:      logger,
	}
}

// Start runs the send loop. Cancelling ctx stops accepting messages and
// flushes what is already buffered.
func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer close(p.closeCh)
		for {
			select {
			case <-ctx.Done():
				p.Close()
				for o := range p.inbox {
					p.send(o)
				}
				p.closeWriter()
				return
			case o, ok := <-p.inbox:
				if !ok {
					p.closeWriter()
					return
				}
				p.send(o)
			}
		}
	}()
}

// Publish implements events.Publisher.
func (p *Producer) Publish(ctx context.Context, m events.Message) error {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() && m.Envelope.TraceID == "" {
		m.Envelope.TraceID = sc.TraceID().String()
	}
	o := outbound{msg: Record(m), span: sc}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrProducerClosed
	}
	select {
	case p.inbox <- o:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return errors.Wrapf(ErrBufferFull, "event %s", m.Envelope.EventID)
	}
}

// Tutup channel supaya goroutine nge-flush sisa pesan lalu exit rapi.
func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.inbox)
	}
}

// Tunggu sampai goroutine selesai.
func (p *Producer) WaitClosed() { <-p.closeCh }

func (p *Producer) send(o outbound) {
	m := o.msg
	parent := trace.ContextWithSpanContext(context.Background(), o.span)
	var err error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(parent, writeTimeout)
		err = p.w.WriteMessage(ctx, m)
		cancel()
		if err == nil {
			return
		}
		p.logger.Warn("kafka write failed, retrying",
			zap.String("topic", m.Topic),
			zap.ByteString("key", m.Key),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt < p.maxAttempts {
			time.Sleep(p.backoff * time.Duration(attempt))
		}
	}
	p.logger.Error("event dropped after retries",
		zap.String("topic", m.Topic),
		zap.ByteString("key", m.Key),
		zap.Int("attempts", p.maxAttempts),
		zap.Error(errors.Wrap(orders.ErrPublishFailed, err.Error())),
	)
}

func (p *Producer) closeWriter() {
	if err := p.w.Close(); err != nil {
		p.logger.Warn("kafka writer close", zap.Error(err))
	}
}
