// Package rabbitmq publishes ledger events to a durable topic exchange.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// channel is the subset of *amqp091.Channel the producer uses.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// EventProducer implements ports.EventPublisher on a single AMQP channel.
// A failed publish reopens the channel once and retries.
type EventProducer struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	channel  channel
	open     func() (channel, error)
	exchange string
	log      zerolog.Logger
}

// NewEventProducer dials url and declares exchange.
func NewEventProducer(amqpURL, exchange string, log zerolog.Logger) (*EventProducer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	// Bounded dial so startup does not hang.
	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("dialing rabbitmq: %w", err)
	}

	open := func() (channel, error) { return conn.Channel() }
	p, err := newProducer(open, exchange, log)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn

	log.Info().Str("exchange", exchange).Msg("RabbitMQ producer ready")
	return p, nil
}

func newProducer(open func() (channel, error), exchange string, log zerolog.Logger) (*EventProducer, error) {
	ch, err := open()
	if err != nil {
		return nil, fmt.Errorf("opening channel: %w", err)
	}
	if err := declare(ch, exchange); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declaring exchange %s: %w", exchange, err)
	}
	return &EventProducer{channel: ch, open: open, exchange: exchange, log: log}, nil
}

func declare(ch channel, exchange string) error {
	return ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // autoDelete
		false,    // internal
		false,    // noWait
		nil,      // args
	)
}

// Publish JSON-encodes body and publishes it under routingKey.
func (p *EventProducer) Publish(ctx context.Context, routingKey string, body interface{}) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		p.log.Error().Err(err).Str("routing_key", routingKey).Msg("Event marshal failed")
		return fmt.Errorf("marshaling event: %w", err)
	}
	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
		Body:         jsonBody,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg)
	if err == nil {
		return nil
	}

	p.log.Warn().Err(err).Str("routing_key", routingKey).Msg("Publish failed; reopening channel")
	ch, chErr := p.open()
	if chErr != nil {
		return fmt.Errorf("publish %s: %w", routingKey, errors.Join(err, chErr))
	}
	_ = p.channel.Close()
	p.channel = ch
	if err := declare(ch, p.exchange); err != nil {
		return fmt.Errorf("redeclaring exchange %s: %w", p.exchange, err)
	}
	if err := p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg); err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	return nil
}

// Close closes the channel and connection.
func (p *EventProducer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}

// Ping implements ports.HealthChecker.
func (p *EventProducer) Ping(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil && p.conn.IsClosed() {
		return errors.New("amqp connection closed")
	}
	return nil
}

// Name returns the dependency name.
func (p *EventProducer) Name() string { return "rabbitmq" }

// Fallback is used when RabbitMQ is disabled or unreachable at startup. It logs
// and drops every event.
type Fallback struct {
	log zerolog.Logger
}

func NewFallback(log zerolog.Logger) *Fallback {
	return &Fallback{log: log}
}

func (f *Fallback) Publish(ctx context.Context, routingKey string, body interface{}) error {
	f.log.Debug().Str("mode", "fallback").Str("routing_key", routingKey).Msg("Publish skipped")
	return nil
}

func (f *Fallback) Close() {}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	// Drop stray characters before the scheme.
	if idx := strings.Index(strings.ToLower(clean), "amqp"); idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}
