package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const contentTypeJSON = "application/json"

// Publish serializes payload as JSON and publishes it as a persistent
// message addressed to queue through the default exchange. The queue is
// declared first if this connection has not declared it yet.
func (b *Broker) Publish(ctx context.Context, queue string, payload any, headers map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: encode payload: %v", ErrPublishFailed, err)
	}
	return b.publishBody(ctx, queue, body, amqp.Table(headers))
}

func (b *Broker) publishBody(ctx context.Context, queue string, body []byte, headers amqp.Table) error {
	b.mu.Lock()
	ch := b.pubCh
	b.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, ErrNotConnected)
	}

	if err := b.declare(ctx, ch, queue); err != nil {
		return fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}

	msg := amqp.Publishing{
		ContentType:  contentTypeJSON,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Headers:      headers,
		Body:         body,
	}

	b.pubMu.Lock()
	err := ch.PublishWithContext(ctx, "", queue, false, false, msg)
	b.pubMu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}
	return nil
}
