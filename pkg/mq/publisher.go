// Package mq publishes domain events (registration completed, membership paid) to a
// RabbitMQ topic exchange.
package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Routing keys for published events.
const (
	RoutingRegistrationCompleted = "registration.completed"
	RoutingRegistrationFailed    = "registration.payment_failed"
	RoutingMembershipPaid        = "membership.paid"
)

// Event is the envelope for every published message.
type Event struct {
	Event      string      `json:"event"`
	Version    int         `json:"version"`
	OccurredAt string      `json:"occurred_at"`
	Data       interface{} `json:"data"`
}

// Publisher publishes JSON messages to a topic exchange.
type Publisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	logger   *zap.Logger
}

// NewPublisher dials RabbitMQ and declares a durable topic exchange.
func NewPublisher(url, exchange string, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	logger.Info("rabbitmq publisher ready", zap.String("exchange", exchange))
	return &Publisher{conn: conn, ch: ch, exchange: exchange, logger: logger}, nil
}

// Publish wraps data in an Event envelope and publishes it under key.
func (p *Publisher) Publish(ctx context.Context, key string, data interface{}) error {
	b, err := json.Marshal(Event{
		Event:      key,
		Version:    1,
		OccurredAt: time.Now().UTC().Format(time.RFC3339),
		Data:       data,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         b,
	}); err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	p.logger.Debug("event published", zap.String("key", key))
	return nil
}

// Close closes the channel and connection.
func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// Noop discards events; used when no broker is configured.
type Noop struct{}

// Publish does nothing.
func (Noop) Publish(context.Context, string, interface{}) error { return nil }
