package queue

import (
	"context"
	"fmt"
	"log"
	"time"

	json "github.com/goccy/go-json"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher sends events to RabbitMQ.  Each publish dials its own
// connection, so a Publisher is safe for concurrent use and survives broker
// restarts between calls.
type Publisher struct {
	url    string
	logger *log.Logger
}

func NewPublisher(url string, logger *log.Logger) *Publisher {
	if logger == nil {
		logger = log.Default()
	}
	return &Publisher{url: url, logger: logger}
}

// PublishOrderConfirmed publishes ev to the order.confirmed queue as a
// persistent message.
func (p *Publisher) PublishOrderConfirmed(ctx context.Context, ev OrderConfirmedEvent) error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		p.logger.Printf("rabbitmq: dial failed: %v", err)
		return fmt.Errorf("queue: dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("queue: channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := declare(ch); err != nil {
		return err
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("queue: marshal event: %w", err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.TransactionID,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", OrderConfirmedQueue, false, false, pub); err != nil {
		p.logger.Printf("rabbitmq: publish failed: %v", err)
		return fmt.Errorf("queue: publish: %w", err)
	}
	return nil
}

// declare makes sure the durable queue exists.  Declaring is idempotent.
func declare(ch *amqp.Channel) error {
	if _, err := ch.QueueDeclare(
		OrderConfirmedQueue, // name
		true,                // durable
		false,               // autoDelete
		false,               // exclusive
		false,               // noWait
		nil,                 // args
	); err != nil {
		return fmt.Errorf("queue: declare: %w", err)
	}
	return nil
}
