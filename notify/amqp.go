package notify

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/warp/coaching-engine/booking"
)

// channel is the part of *amqp.Channel the notifier uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQP publishes each event as a persistent JSON message on a durable queue
// through the default exchange.
type AMQP struct {
	mu    sync.Mutex
	conn  *amqp.Connection
	ch    channel
	queue string
}

// DialAMQP connects to url and declares queue.
func DialAMQP(url, queue string) (*AMQP, error) {
	if queue == "" {
		return nil, fmt.Errorf("queue cannot be empty")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: dial failed: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq: channel open failed: %w", err)
	}

	if _, err := ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,   // args
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("rabbitmq: queue declare failed: %w", err)
	}

	return &AMQP{conn: conn, ch: ch, queue: queue}, nil
}

func (a *AMQP) Notify(ctx context.Context, e booking.Event) error {
	body, err := encode(e)
	if err != nil {
		return fmt.Errorf("rabbitmq: marshal event: %w", err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    e.OccurredAt,
		Type:         string(e.Name),
		Body:         body,
	}

	// amqp091 channels are not safe for concurrent publishing.
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.ch.PublishWithContext(ctx, "", a.queue, false, false, pub); err != nil {
		return fmt.Errorf("rabbitmq: publish %s: %w", e.Name, err)
	}
	return nil
}

func (a *AMQP) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	err := a.ch.Close()
	if a.conn != nil {
		if cerr := a.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
