// Package broker is the durable work queue on RabbitMQ: quorum queues with a
// paired dead-letter queue, persistent JSON messages, retry-count
// propagation and a supervised connection that reconnects once.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

var (
	// ErrPublishFailed is returned when a message could not be published.
	ErrPublishFailed = errors.New("publish failed")
	// ErrNotConnected is returned when an operation needs a channel that
	// has not been opened yet.
	ErrNotConnected = errors.New("broker not connected")
	// ErrBrokerClosed is returned when a consumer is registered on a broker
	// that is shutting down.
	ErrBrokerClosed = errors.New("broker closed")
	// ErrBrokerUnrecoverable is passed to the fatal handler when the
	// connection is lost after the single reconnect has been used, or the
	// reconnect itself fails.
	ErrBrokerUnrecoverable = errors.New("broker connection unrecoverable")
)

// MetricsSink records broker metrics.
type MetricsSink interface {
	MessageSettled(queue, outcome string)
	BrokerReconnected()
}

// Settlement outcomes reported to MetricsSink.
const (
	OutcomeAcked        = "acked"
	OutcomeRetried      = "retried"
	OutcomeRequeued     = "requeued"
	OutcomeDeadLettered = "dead_lettered"
)

// Broker owns one AMQP connection with a publish channel and a consume
// channel.
type Broker struct {
	url     string
	dial    Dialer
	logger  *zap.Logger
	metrics MetricsSink
	fatal   func(error)

	mu          sync.Mutex
	conn        Connection
	pubCh       Channel
	conCh       Channel
	consumers   []*consumer
	gen         uint64 // bumped each time a loss is accepted
	reconnected bool
	closing     bool

	// pubMu serializes publishes on pubCh.
	pubMu sync.Mutex

	declMu   sync.Mutex
	declared map[string]bool

	workers sync.WaitGroup
}

// Option configures a Broker.
type Option func(*Broker)

// WithDialer replaces DialAMQP.
func WithDialer(d Dialer) Option {
	return func(b *Broker) { b.dial = d }
}

// WithFatalHandler sets the function called with ErrBrokerUnrecoverable.
// The default logs at fatal level, which exits the process.
func WithFatalHandler(fn func(error)) Option {
	return func(b *Broker) { b.fatal = fn }
}

// WithMetrics attaches a metrics sink.
func WithMetrics(sink MetricsSink) Option {
	return func(b *Broker) { b.metrics = sink }
}

func New(url string, logger *zap.Logger, opts ...Option) *Broker {
	b := &Broker{
		url:      url,
		dial:     DialAMQP,
		logger:   logger.With(zap.String("component", "broker")),
		declared: make(map[string]bool),
	}
	b.fatal = func(err error) {
		b.logger.Fatal("broker unrecoverable", zap.Error(err))
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Connect dials the server, opens both channels and starts supervising the
// connection.
func (b *Broker) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	conn, pubCh, conCh, err := b.open()
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.conn, b.pubCh, b.conCh = conn, pubCh, conCh
	gen := b.gen
	b.mu.Unlock()

	b.supervise(gen, conn, pubCh, conCh)
	b.logger.Info("broker connected")
	return nil
}

func (b *Broker) open() (Connection, Channel, Channel, error) {
	conn, err := b.dial(b.url)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("dial broker: %w", err)
	}
	pubCh, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, nil, fmt.Errorf("open publish channel: %w", err)
	}
	conCh, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, nil, fmt.Errorf("open consume channel: %w", err)
	}
	return conn, pubCh, conCh, nil
}

// supervise watches conn and its channels. A channel exception (for
// example a PRECONDITION_FAILED on declare) kills only that channel, so it
// is treated as a loss of the whole connection. A graceful Close closes the
// notify channels without an error and ends supervision.
func (b *Broker) supervise(gen uint64, conn Connection, chans ...Channel) {
	watch := func(closed chan *amqp.Error) {
		go func() {
			amqpErr, ok := <-closed
			if !ok || amqpErr == nil {
				return
			}
			b.handleConnectionLoss(gen, amqpErr)
		}()
	}
	watch(conn.NotifyClose(make(chan *amqp.Error, 1)))
	for _, ch := range chans {
		watch(ch.NotifyClose(make(chan *amqp.Error, 1)))
	}
}

// handleConnectionLoss acts on the first report for gen. A dropped
// connection also closes its channels, so one loss arrives up to three times.
func (b *Broker) handleConnectionLoss(gen uint64, cause *amqp.Error) {
	b.mu.Lock()
	if b.closing || gen != b.gen {
		b.mu.Unlock()
		return
	}
	b.gen++
	if b.reconnected {
		b.mu.Unlock()
		b.fatal(fmt.Errorf("%w: connection lost after reconnect: %v", ErrBrokerUnrecoverable, cause))
		return
	}
	b.reconnected = true
	b.mu.Unlock()

	b.logger.Warn("broker connection lost, reconnecting", zap.String("cause", cause.Error()))

	if err := b.reconnect(); err != nil {
		b.fatal(fmt.Errorf("%w: reconnect failed: %v", ErrBrokerUnrecoverable, err))
		return
	}
	if b.metrics != nil {
		b.metrics.BrokerReconnected()
	}
	b.logger.Info("broker reconnected")
}

func (b *Broker) reconnect() error {
	conn, pubCh, conCh, err := b.open()
	if err != nil {
		return err
	}
	b.resetDeclared()

	b.mu.Lock()
	if b.closing {
		b.mu.Unlock()
		conn.Close()
		return nil
	}
	old := b.conn
	b.conn, b.pubCh, b.conCh = conn, pubCh, conCh
	gen := b.gen
	consumers := append([]*consumer(nil), b.consumers...)
	b.mu.Unlock()

	// After a channel exception the old connection is still open.
	if old != nil && !old.IsClosed() {
		if err := ignoreClosed(old.Close()); err != nil {
			b.logger.Debug("close previous connection", zap.Error(err))
		}
	}

	for _, c := range consumers {
		if c.ctx.Err() != nil {
			continue
		}
		err := b.start(c, conCh)
		if errors.Is(err, ErrBrokerClosed) {
			return nil
		}
		if err != nil {
			conn.Close()
			return fmt.Errorf("re-register consumer %s: %w", c.queue, err)
		}
	}

	b.supervise(gen, conn, pubCh, conCh)
	return nil
}

// Close stops every consumer, waits for in-flight handlers to settle their
// messages, then closes the channels and the connection.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closing {
		b.mu.Unlock()
		return nil
	}
	b.closing = true
	consumers := append([]*consumer(nil), b.consumers...)
	conn, pubCh, conCh := b.conn, b.pubCh, b.conCh
	b.mu.Unlock()

	for _, c := range consumers {
		c.stop()
	}
	b.workers.Wait()

	var errs []error
	if pubCh != nil {
		errs = append(errs, ignoreClosed(pubCh.Close()))
	}
	if conCh != nil {
		errs = append(errs, ignoreClosed(conCh.Close()))
	}
	if conn != nil && !conn.IsClosed() {
		errs = append(errs, ignoreClosed(conn.Close()))
	}
	b.logger.Info("broker closed")
	return errors.Join(errs...)
}

func ignoreClosed(err error) error {
	if errors.Is(err, amqp.ErrClosed) {
		return nil
	}
	return err
}
