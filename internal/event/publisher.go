package event

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

const TypeOrderStatusChanged = "order.status_changed"

// StatusChanged is emitted whenever an order's status or payment status is written.
type StatusChanged struct {
	Type          string    `json:"type"`
	OrderID       string    `json:"order_id"`
	OrderNumber   string    `json:"order_number"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"payment_status"`
	PaymentID     string    `json:"payment_id,omitempty"`
	Source        string    `json:"source"`
	OccurredAt    time.Time `json:"occurred_at"`
}

type Publisher interface {
	PublishStatusChanged(ctx context.Context, ev StatusChanged) error
}

// LogPublisher writes events to the log. Used when no broker is configured.
type LogPublisher struct{}

func NewLogPublisher() *LogPublisher {
	return &LogPublisher{}
}

func (p *LogPublisher) PublishStatusChanged(_ context.Context, ev StatusChanged) error {
	log.Info().
		Str("type", TypeOrderStatusChanged).
		Str("order_id", ev.OrderID).
		Str("order_number", ev.OrderNumber).
		Str("status", ev.Status).
		Str("payment_status", ev.PaymentStatus).
		Str("source", ev.Source).
		Msg("event: order status changed")
	return nil
}
