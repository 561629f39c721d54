package broker

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// DeadLetterSuffix is appended to a queue name to form its dead-letter queue.
	DeadLetterSuffix = ".dlq"

	argQueueType          = "x-queue-type"
	argDeadLetterExchange = "x-dead-letter-exchange"
	argDeadLetterKey      = "x-dead-letter-routing-key"
	queueTypeQuorum       = "quorum"
)

// DeadLetterQueue returns the dead-letter queue name paired with name.
func DeadLetterQueue(name string) string {
	return name + DeadLetterSuffix
}

// mainQueueArgs is identical for every declaration of name so publish-side
// and consume-side declarations never disagree.
func mainQueueArgs(name string) amqp.Table {
	return amqp.Table{
		argQueueType:          queueTypeQuorum,
		argDeadLetterExchange: "",
		argDeadLetterKey:      DeadLetterQueue(name),
	}
}

func deadLetterQueueArgs() amqp.Table {
	return amqp.Table{argQueueType: queueTypeQuorum}
}

// DeclareQueue idempotently asserts the durable quorum queue name and its
// dead-letter queue. The pair is always declared together because the main
// queue's arguments route rejected messages to <name>.dlq, and a missing
// target would silently drop them.
func (b *Broker) DeclareQueue(ctx context.Context, name string) error {
	b.mu.Lock()
	ch := b.pubCh
	b.mu.Unlock()
	if ch == nil {
		return ErrNotConnected
	}
	return b.declare(ctx, ch, name)
}

// declare asserts the dead-letter queue before the main queue that points
// at it.
func (b *Broker) declare(ctx context.Context, ch Channel, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.declMu.Lock()
	defer b.declMu.Unlock()

	dlq := DeadLetterQueue(name)
	if !b.declared[dlq] {
		if _, err := ch.QueueDeclare(dlq, true, false, false, false, deadLetterQueueArgs()); err != nil {
			return fmt.Errorf("declare queue %s: %w", dlq, err)
		}
		b.declared[dlq] = true
	}

	if !b.declared[name] {
		if _, err := ch.QueueDeclare(name, true, false, false, false, mainQueueArgs(name)); err != nil {
			return fmt.Errorf("declare queue %s: %w", name, err)
		}
		b.declared[name] = true
	}
	return nil
}

func (b *Broker) resetDeclared() {
	b.declMu.Lock()
	b.declared = make(map[string]bool)
	b.declMu.Unlock()
}
