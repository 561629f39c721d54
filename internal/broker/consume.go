package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Decision tells the broker how to settle a delivered message.
type Decision int

const (
	// Ack removes the message from the queue.
	Ack Decision = iota
	// NackRetryable requeues the message with an incremented retry count,
	// or dead-letters it once the retry budget is spent.
	NackRetryable
	// NackTerminal dead-letters the message immediately.
	NackTerminal
)

func (d Decision) String() string {
	switch d {
	case Ack:
		return "ack"
	case NackRetryable:
		return "nack_retryable"
	case NackTerminal:
		return "nack_terminal"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Metadata describes a delivery. It is informational only.
type Metadata struct {
	Queue       string
	RoutingKey  string
	Redelivered bool
	DeliveryTag uint64
	RetryCount  int
	Headers     map[string]any
}

// Handler processes one message body. correlationID is fresh for every
// delivery attempt.
type Handler func(ctx context.Context, correlationID string, body []byte, meta Metadata) Decision

// ConsumeOptions configures Consume.
type ConsumeOptions struct {
	// Prefetch bounds unacknowledged messages and is also the number of
	// handler goroutines. Values below 1 mean 1.
	Prefetch int
	// MaxRetries is the number of explicit requeues before a retryable
	// failure is dead-lettered. 0 leaves requeueing to the server.
	MaxRetries int
}

type consumer struct {
	queue   string
	handler Handler
	opts    ConsumeOptions
	ctx     context.Context

	mu     sync.Mutex
	cancel context.CancelFunc
}

func (c *consumer) stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

// Consume registers handler on queue. Consumption continues until ctx is
// cancelled or the broker is closed, and survives the supervised reconnect.
func (b *Broker) Consume(ctx context.Context, queue string, handler Handler, opts ConsumeOptions) error {
	if opts.Prefetch < 1 {
		opts.Prefetch = 1
	}
	c := &consumer{queue: queue, handler: handler, opts: opts, ctx: ctx}

	b.mu.Lock()
	if b.closing {
		b.mu.Unlock()
		return ErrBrokerClosed
	}
	ch := b.conCh
	if ch == nil {
		b.mu.Unlock()
		return ErrNotConnected
	}
	b.consumers = append(b.consumers, c)
	b.mu.Unlock()

	if err := b.start(c, ch); err != nil {
		b.removeConsumer(c)
		return err
	}

	b.logger.Info("consumer started",
		zap.String("queue", queue),
		zap.Int("prefetch", opts.Prefetch),
		zap.Int("max_retries", opts.MaxRetries),
	)
	return nil
}

func (b *Broker) removeConsumer(c *consumer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, existing := range b.consumers {
		if existing == c {
			b.consumers = append(b.consumers[:i], b.consumers[i+1:]...)
			return
		}
	}
}

func (b *Broker) start(c *consumer, ch Channel) error {
	if err := b.declare(c.ctx, ch, c.queue); err != nil {
		return err
	}
	if err := ch.Qos(c.opts.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set prefetch on %s: %w", c.queue, err)
	}

	tag := c.queue + "-" + uuid.NewString()
	deliveries, err := ch.Consume(c.queue, tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}

	cctx, cancel := context.WithCancel(c.ctx)

	// Workers are registered under b.mu so Close either sees them in its
	// Wait or stops this start before any Add.
	b.mu.Lock()
	if b.closing {
		b.mu.Unlock()
		cancel()
		if err := ch.Cancel(tag, false); err != nil {
			b.logger.Debug("consumer cancel", zap.String("queue", c.queue), zap.Error(err))
		}
		return ErrBrokerClosed
	}
	b.workers.Add(c.opts.Prefetch)
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.cancel = cancel
	c.mu.Unlock()
	b.mu.Unlock()

	go func() {
		<-cctx.Done()
		if err := ch.Cancel(tag, false); err != nil {
			b.logger.Debug("consumer cancel", zap.String("queue", c.queue), zap.Error(err))
		}
	}()

	// In-flight handlers finish even when consumption is being stopped.
	handlerCtx := context.WithoutCancel(c.ctx)
	for i := 0; i < c.opts.Prefetch; i++ {
		go func() {
			defer b.workers.Done()
			for d := range deliveries {
				b.deliver(handlerCtx, c, d)
			}
		}()
	}
	return nil
}

func (b *Broker) deliver(ctx context.Context, c *consumer, d amqp.Delivery) {
	correlationID := uuid.NewString()
	log := b.logger.With(
		zap.String("queue", c.queue),
		zap.String("correlation_id", correlationID),
		zap.Uint64("delivery_tag", d.DeliveryTag),
	)

	if len(d.Body) == 0 {
		log.Warn("empty message body, dead-lettering")
		b.settle(log, c.queue, OutcomeDeadLettered, d.Nack(false, false))
		return
	}

	meta := Metadata{
		Queue:       c.queue,
		RoutingKey:  d.RoutingKey,
		Redelivered: d.Redelivered,
		DeliveryTag: d.DeliveryTag,
		RetryCount:  RetryCount(d.Headers),
		Headers:     d.Headers,
	}

	decision := b.invoke(ctx, c.handler, correlationID, d.Body, meta, log)
	log.Debug("handler decided", zap.Stringer("decision", decision), zap.Int("retry_count", meta.RetryCount))

	switch decision {
	case Ack:
		b.settle(log, c.queue, OutcomeAcked, d.Ack(false))
	case NackTerminal:
		b.settle(log, c.queue, OutcomeDeadLettered, d.Nack(false, false))
	default:
		b.retry(ctx, c, d, log)
	}
}

// retry republishes a copy carrying the incremented retry count before
// acking the original, so a failed republish can still fall back to a
// server requeue.
func (b *Broker) retry(ctx context.Context, c *consumer, d amqp.Delivery, log *zap.Logger) {
	if c.opts.MaxRetries <= 0 {
		b.settle(log, c.queue, OutcomeRequeued, d.Nack(false, true))
		return
	}

	next := RetryCount(d.Headers) + 1
	if next > c.opts.MaxRetries {
		log.Warn("retries exhausted, dead-lettering",
			zap.Int("retry_count", next),
			zap.Int("max_retries", c.opts.MaxRetries),
		)
		b.settle(log, c.queue, OutcomeDeadLettered, d.Nack(false, false))
		return
	}

	if err := b.publishBody(ctx, c.queue, d.Body, withRetryCount(d.Headers, next)); err != nil {
		log.Error("republish failed, requeueing original", zap.Error(err))
		b.settle(log, c.queue, OutcomeRequeued, d.Nack(false, true))
		return
	}
	log.Info("message requeued", zap.Int("retry_count", next))
	b.settle(log, c.queue, OutcomeRetried, d.Ack(false))
}

func (b *Broker) invoke(ctx context.Context, h Handler, correlationID string, body []byte, meta Metadata, log *zap.Logger) (decision Decision) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("handler panicked", zap.Any("panic", r))
			decision = NackRetryable
		}
	}()
	return h(ctx, correlationID, body, meta)
}

func (b *Broker) settle(log *zap.Logger, queue, outcome string, err error) {
	if err != nil {
		log.Error("failed to settle message", zap.String("outcome", outcome), zap.Error(err))
		return
	}
	if b.metrics != nil {
		b.metrics.MessageSettled(queue, outcome)
	}
}
