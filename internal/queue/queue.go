package queue

import (
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

type QueueName string

const (
	// QueueDashboardEvents carries push updates towards the dashboard
	// gateway, which fans them out to connected browser clients.
	QueueDashboardEvents QueueName = "dashboard-events"
)

// Publisher publishes messages to one queue over a shared connection,
// opening a short-lived channel per publish.
type Publisher struct {
	queueName QueueName
	conn      *amqp.Connection
	log       *slog.Logger
}

func NewPublisher(conn *amqp.Connection, queueName QueueName) *Publisher {
	return &Publisher{
		queueName: queueName,
		conn:      conn,
		log:       slog.With("component", "queue", "queue", string(queueName)),
	}
}

// EnsureQueueExists declares the queue so publishes before the first
// consumer attaches are not dropped. The returned channel is the caller's
// to close.
func EnsureQueueExists(conn *amqp.Connection, queueName QueueName) (
	*amqp.Channel, error) {

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("couldn't open channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		string(queueName), // name
		true,              // durable
		false,             // autoDelete
		false,             // exclusive
		false,             // noWait
		nil,               // args
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("couldn't declare queue %s: %w", queueName, err)
	}

	return ch, nil
}

func (p *Publisher) Publish(message []byte) error {
	if p.conn == nil || p.conn.IsClosed() {
		return fmt.Errorf("connection is not open")
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("couldn't open channel: %w", err)
	}
	defer ch.Close()

	err = ch.Publish(
		"",                  // exchange, empty means default (direct to queue)
		string(p.queueName), // routing key = queue name
		false,               // mandatory
		false,               // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        message,
		},
	)
	if err != nil {
		p.log.Error("Failed to publish", "error", err)
		return err
	}

	return nil
}
