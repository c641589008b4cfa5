// Package notify delivers account notifications to the messaging fabric.
// The notification service consumes the exchange; this side only publishes.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Event is the payload consumed by the notification service.
type Event struct {
	AccountID string    `json:"account_id"`
	Message   string    `json:"message"`
	SentAt    time.Time `json:"sent_at"`
}

// Publisher pushes notification events. Implementations must be safe to
// call with delivery failures treated as non-fatal by callers.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event Event) error
	Close()
}

// AMQPPublisher publishes to a durable topic exchange on RabbitMQ.
type AMQPPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

// NewAMQPPublisher dials RabbitMQ with a bounded timeout and declares the
// exchange once.
func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("notify: dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("notify: open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("notify: declare exchange: %w", err)
	}
	return &AMQPPublisher{conn: conn, channel: ch, exchange: exchange}, nil
}

// Publish sends one event to the exchange.
func (p *AMQPPublisher) Publish(ctx context.Context, routingKey string, event Event) error {
	if event.SentAt.IsZero() {
		event.SentAt = time.Now()
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("notify: marshal event: %w", err)
	}
	err = p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now(),
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("notify: publish %s: %w", routingKey, err)
	}
	return nil
}

// Close releases the channel and connection.
func (p *AMQPPublisher) Close() {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}

// NopPublisher logs and drops events. Used when RabbitMQ is unavailable at
// startup so the process can still serve transfers.
type NopPublisher struct {
	Logger *slog.Logger
}

// Publish logs the dropped event.
func (p *NopPublisher) Publish(_ context.Context, routingKey string, event Event) error {
	if p.Logger != nil {
		p.Logger.Warn("notification dropped, no broker",
			slog.String("routing_key", routingKey),
			slog.String("account_id", event.AccountID))
	}
	return nil
}

// Close is a no-op.
func (p *NopPublisher) Close() {}
