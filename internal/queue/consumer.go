package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	amqp "github.com/rabbitmq/amqp091-go"
)

const maxReconnectInterval = 30 * time.Second

// Consumer reads order.confirmed and appends one line per order to a log
// file.
type Consumer struct {
	url     string
	logPath string
	logger  *log.Logger
	mu      sync.Mutex
}

// NewConsumer returns a consumer that writes to logPath, typically
// logs/orders.log.
func NewConsumer(url, logPath string, logger *log.Logger) *Consumer {
	if logger == nil {
		logger = log.New(log.Writer(), "order-consumer: ", log.LstdFlags)
	}
	return &Consumer{url: url, logPath: logPath, logger: logger}
}

// Run connects to RabbitMQ and consumes until ctx is done, reconnecting with
// exponential backoff whenever the connection drops.  Messages that cannot
// be handled are rejected without requeue so they cannot loop.
func (c *Consumer) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = maxReconnectInterval
	for {
		conn, err := amqp.Dial(c.url)
		if err == nil {
			b.Reset()
			err = c.consume(ctx, conn)
			_ = conn.Close()
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
		sleep := b.NextBackOff()
		if sleep == backoff.Stop {
			sleep = maxReconnectInterval
		}
		c.logger.Printf("consume loop ended: %v; reconnecting in %s", err, sleep)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.logger.Printf("set QoS failed: %v", err)
	}
	if err := declare(ch); err != nil {
		return err
	}
	msgs, err := ch.ConsumeWithContext(ctx, OrderConfirmedQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for d := range msgs {
		if err := c.Handle(d.Body); err != nil {
			c.logger.Printf("handle message failed: %v", err)
			_ = d.Nack(false, false)
			continue
		}
		_ = d.Ack(false)
	}
	return errors.New("deliveries channel closed")
}

// Handle decodes one message body and appends it to the order log.
func (c *Consumer) Handle(body []byte) error {
	var ev OrderConfirmedEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.TransactionID == "" || ev.OrderNumber == "" {
		return errors.New("event without transaction or order number")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(c.logPath), 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	f, err := os.OpenFile(c.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()
	return writeLine(f, ev)
}

func writeLine(w io.Writer, ev OrderConfirmedEvent) error {
	line := fmt.Sprintf("[%s] Order confirmed | order=%s | confirmation=%s | transaction=%s | seller=%s | customer=%s | show_id=%d | starts_at=%s | total=%s %s | payment=%s | seats=[%s]\n",
		ev.ConfirmedAt, ev.OrderNumber, ev.ConfirmationNumber, ev.TransactionID, ev.SellerID, ev.CustomerID,
		ev.ShowID, ev.ShowStartsAt, ev.Price, ev.PriceCurrency, ev.PaymentMethod, strings.Join(ev.Seats, ","))
	if _, err := io.WriteString(w, line); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}
