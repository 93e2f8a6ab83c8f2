// Package events publishes settlement events after the transaction that
// produced them has committed.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"marketplace-settlement/config"
	"marketplace-settlement/internal/core/domain"
)

// channel is the slice of *amqp.Channel the publisher uses.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes JSON events to a durable topic exchange. The
// routing key is the event type, e.g. "payout.completed".
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       channel
	exchange string
	log      zerolog.Logger
}

// DialAMQP connects to RabbitMQ and declares the exchange.
func DialAMQP(cfg config.EventsConfig, log zerolog.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("opening rabbitmq channel: %w", err)
	}

	p, err := newAMQPPublisher(ch, cfg.Exchange, log)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn

	log.Info().Str("exchange", cfg.Exchange).Msg("rabbitmq event publisher connected")
	return p, nil
}

func newAMQPPublisher(ch channel, exchange string, log zerolog.Logger) (*AMQPPublisher, error) {
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declaring exchange %s: %w", exchange, err)
	}
	return &AMQPPublisher{
		ch:       ch,
		exchange: exchange,
		log:      log.With().Str("component", "events").Logger(),
	}, nil
}

// Publish sends each event as a persistent message. It stops at the first
// failure; callers log it, the ledger state is already committed.
func (p *AMQPPublisher) Publish(ctx context.Context, events ...domain.SettlementEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, evt := range events {
		body, err := json.Marshal(evt)
		if err != nil {
			return fmt.Errorf("encoding event %s: %w", evt.Type, err)
		}
		err = p.ch.PublishWithContext(ctx, p.exchange, string(evt.Type), false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    evt.ID.String(),
			Timestamp:    evt.OccurredAt,
			Type:         string(evt.Type),
			Body:         body,
		})
		if err != nil {
			return fmt.Errorf("publishing event %s: %w", evt.Type, err)
		}
		p.log.Debug().Str("event_type", string(evt.Type)).Str("aggregate_id", evt.AggregateID.String()).Msg("event published")
	}
	return nil
}

// Close closes the channel and the connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.ch.Close()
	if p.conn != nil {
		err = errors.Join(err, p.conn.Close())
	}
	return err
}

// Ping reports whether the broker connection is still open.
func (p *AMQPPublisher) Ping(_ context.Context) error {
	if p.conn != nil && p.conn.IsClosed() {
		return errors.New("rabbitmq connection closed")
	}
	return nil
}

// Name implements ports.HealthChecker.
func (p *AMQPPublisher) Name() string {
	return "rabbitmq"
}
