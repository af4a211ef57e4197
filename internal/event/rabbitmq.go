package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

var ErrPublisherClosed = errors.New("event publisher is closed")

// Channel is the subset of *amqp.Channel the publisher uses.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	IsClosed() bool
	Close() error
}

// RabbitPublisher publishes events to a durable queue on the default exchange.
// amqp channels are not safe for concurrent publishing, so writes are serialized.
type RabbitPublisher struct {
	mu    sync.Mutex
	conn  *amqp.Connection
	ch    Channel
	queue string
}

func DialRabbitMQ(url, queue string) (*RabbitPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("event: failed to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("event: failed to open channel: %w", err)
	}

	p, err := NewRabbitPublisher(ch, queue)
	if err != nil {
		conn.Close()
		return nil, err
	}
	p.conn = conn

	log.Info().Str("queue", queue).Msg("event: connected to rabbitmq")
	return p, nil
}

func NewRabbitPublisher(ch Channel, queue string) (*RabbitPublisher, error) {
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("event: failed to declare queue %s: %w", queue, err)
	}
	return &RabbitPublisher{ch: ch, queue: queue}, nil
}

func (p *RabbitPublisher) PublishStatusChanged(ctx context.Context, ev StatusChanged) error {
	ev.Type = TypeOrderStatusChanged
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("event: failed to encode %s: %w", ev.Type, err)
	}

	messageID, err := uuid.NewV4()
	if err != nil {
		return fmt.Errorf("event: failed to generate message id: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch.IsClosed() {
		return ErrPublisherClosed
	}

	err = p.ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID.String(),
		Timestamp:    ev.OccurredAt,
		Type:         ev.Type,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("event: failed to publish %s for order %s: %w", ev.Type, ev.OrderID, err)
	}

	log.Debug().Str("order_id", ev.OrderID).Str("queue", p.queue).Msg("event: published")
	return nil
}

func (p *RabbitPublisher) Name() string {
	return "rabbitmq"
}

// Check reports the broker link as unhealthy once the channel or connection closes.
func (p *RabbitPublisher) Check(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch.IsClosed() || (p.conn != nil && p.conn.IsClosed()) {
		return ErrPublisherClosed
	}
	return nil
}

func (p *RabbitPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	if !p.ch.IsClosed() {
		errs = append(errs, p.ch.Close())
	}
	if p.conn != nil && !p.conn.IsClosed() {
		errs = append(errs, p.conn.Close())
	}
	return errors.Join(errs...)
}
