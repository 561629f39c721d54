package broker

import (
	"context"
	"errors"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

type declareCall struct {
	name string
	args amqp.Table
}

type publishCall struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	mu         sync.Mutex
	declares   []declareCall
	published  []publishCall
	publishErr error
	prefetch   int
	consumed   []string
	deliveries chan amqp.Delivery
	notify     []chan *amqp.Error
	cancelled  bool
	closed     bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{deliveries: make(chan amqp.Delivery, 16)}
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !durable || autoDelete || exclusive {
		return amqp.Queue{}, errors.New("queue must be durable and shared")
	}
	f.declares = append(f.declares, declareCall{name: name, args: args})
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, publishCall{exchange: exchange, key: key, msg: msg})
	return nil
}

func (f *fakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prefetch = prefetchCount
	return nil
}

func (f *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if autoAck {
		return nil, errors.New("autoAck not expected")
	}
	f.consumed = append(f.consumed, queue)
	return f.deliveries, nil
}

func (f *fakeChannel) Cancel(consumer string, noWait bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.cancelled {
		f.cancelled = true
		close(f.deliveries)
	}
	return nil
}

func (f *fakeChannel) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(receiver)
		return receiver
	}
	f.notify = append(f.notify, receiver)
	return receiver
}

func (f *fakeChannel) Close() error {
	f.shutdown(nil)
	return nil
}

// fail simulates a server-side channel exception on an open connection.
func (f *fakeChannel) fail() {
	f.shutdown(&amqp.Error{Code: amqp.PreconditionFailed, Reason: "PRECONDITION_FAILED"})
}

// shutdown closes the channel like amqp091 does: watchers get err when it
// is non-nil, then their notify channels are closed, then deliveries end.
func (f *fakeChannel) shutdown(err *amqp.Error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for _, n := range f.notify {
		if err != nil {
			n <- err
		}
		close(n)
	}
	f.notify = nil
	if !f.cancelled {
		f.cancelled = true
		close(f.deliveries)
	}
}

func (f *fakeChannel) declaredNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, len(f.declares))
	for i, d := range f.declares {
		names[i] = d.name
	}
	return names
}

func (f *fakeChannel) publishes() []publishCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publishCall(nil), f.published...)
}

func (f *fakeChannel) consumedQueues() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.consumed...)
}

// fakeConn hands out a publish channel then a consume channel.
type fakeConn struct {
	mu       sync.Mutex
	channels []*fakeChannel
	notify   []chan *amqp.Error
	closed   bool
}

func (f *fakeConn) Channel() (Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := newFakeChannel()
	f.channels = append(f.channels, ch)
	return ch, nil
}

func (f *fakeConn) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notify = append(f.notify, receiver)
	return receiver
}

func (f *fakeConn) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return amqp.ErrClosed
	}
	f.closed = true
	for _, n := range f.notify {
		close(n)
	}
	f.notify = nil
	for _, ch := range f.channels {
		ch.shutdown(nil)
	}
	return nil
}

// drop simulates an unexpected connection loss.
func (f *fakeConn) drop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	cause := &amqp.Error{Code: amqp.ConnectionForced, Reason: "CONNECTION_FORCED"}
	for _, n := range f.notify {
		n <- cause
		close(n)
	}
	f.notify = nil
	// Channels report the same error.
	for _, ch := range f.channels {
		ch.shutdown(cause)
	}
}

func (f *fakeConn) pub() *fakeChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channels[0]
}

func (f *fakeConn) con() *fakeChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channels[1]
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials int
	err   error
}

func (f *fakeDialer) dial(url string) (Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	conn := &fakeConn{}
	f.conns = append(f.conns, conn)
	f.dials++
	return conn, nil
}

func (f *fakeDialer) conn(i int) *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[i]
}

func (f *fakeDialer) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type settleCall struct {
	tag     uint64
	ack     bool
	requeue bool
}

type fakeAcknowledger struct {
	mu    sync.Mutex
	calls []settleCall
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, settleCall{tag: tag, ack: true})
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, settleCall{tag: tag, requeue: requeue})
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return f.Nack(tag, false, requeue)
}

func (f *fakeAcknowledger) settled() []settleCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]settleCall(nil), f.calls...)
}

type fakeMetrics struct {
	mu         sync.Mutex
	outcomes   map[string]int
	reconnects int
}

func (f *fakeMetrics) MessageSettled(queue, outcome string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.outcomes == nil {
		f.outcomes = make(map[string]int)
	}
	f.outcomes[outcome]++
}

func (f *fakeMetrics) BrokerReconnected() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects++
}

func (f *fakeMetrics) count(outcome string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outcomes[outcome]
}
