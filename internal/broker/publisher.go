package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"gowa-hub/internal/core"
)

// Publisher mirrors session events onto a RabbitMQ topic exchange so
// downstream systems can subscribe without touching the gateway API.
// Routing key is "<kind>.<instance_id>", e.g. "message.acme-support".
type Publisher struct {
	exchange string
	conn     *amqp.Connection
	ch       *amqp.Channel
	mu       sync.Mutex
	log      zerolog.Logger
}

// NewPublisher dials the broker and declares a durable topic exchange.
func NewPublisher(url, exchange string, log zerolog.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &Publisher{
		exchange: exchange,
		conn:     conn,
		ch:       ch,
		log:      log.With().Str("component", "amqp-publisher").Logger(),
	}, nil
}

func (p *Publisher) Name() string { return "amqp" }

// Consume publishes the event. Failures are logged, not retried; the
// events table remains the durable record and consumers can backfill
// from it by sequence number.
func (p *Publisher) Consume(ev *core.Event) {
	if ev.Kind == core.KindCredentials {
		return
	}
	body, err := json.Marshal(ev)
	if err != nil {
		p.log.Error().Err(err).Str("instance_id", ev.InstanceID).Msg("marshal event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	routingKey := string(ev.Kind) + "." + ev.InstanceID

	p.mu.Lock()
	err = p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Type:         string(ev.Kind),
		Timestamp:    ev.ReceivedAt,
		AppId:        "gowa-hub",
	})
	p.mu.Unlock()
	if err != nil {
		p.log.Error().Err(err).
			Str("instance_id", ev.InstanceID).
			Uint64("seq", ev.Seq).
			Str("routing_key", routingKey).
			Msg("publish event")
	}
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
