package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vasiliy-maslov/sportswear-storefront/internal/event"
	"github.com/vasiliy-maslov/sportswear-storefront/internal/gateway"
	"github.com/vasiliy-maslov/sportswear-storefront/internal/order"
)

type Outcome string

const (
	OutcomeApplied    Outcome = "applied"
	OutcomeDuplicate  Outcome = "duplicate"
	OutcomeStale      Outcome = "stale"
	OutcomeUnresolved Outcome = "unresolved"
	OutcomeIgnored    Outcome = "ignored"
)

type PaymentLookup interface {
	GetPayment(ctx context.Context, id string) (*gateway.Payment, error)
}

type OrderStore interface {
	ApplyPaymentEvent(ctx context.Context, orderID string, ev order.PaymentEvent, guard order.PaymentGuard) (*order.Order, error)
}

type Result struct {
	Outcome        Outcome
	PaymentID      string
	ProviderStatus string
	OrderID        string
	Order          *order.Order
}

// Reconciler applies provider payment state to orders.
type Reconciler struct {
	payments  PaymentLookup
	orders    OrderStore
	publisher event.Publisher
	now       func() time.Time
}

func NewReconciler(payments PaymentLookup, orders OrderStore, publisher event.Publisher) *Reconciler {
	return &Reconciler{
		payments:  payments,
		orders:    orders,
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// HandleNotification reconciles payment notifications and ignores every other kind.
func (r *Reconciler) HandleNotification(ctx context.Context, n *Notification, requestID string) (*Result, error) {
	if !n.IsPayment() {
		log.Info().Str("type", n.Type).Str("action", n.Action).Msg("reconciler: ignoring non-payment notification")
		return &Result{Outcome: OutcomeIgnored, PaymentID: n.PaymentID()}, nil
	}
	return r.Reconcile(ctx, n.PaymentID(), requestID)
}

// Reconcile fetches the payment from the provider and applies it to the order
// named by its external reference. Only provider or store failures are errors;
// every other result is reported through Result.Outcome.
func (r *Reconciler) Reconcile(ctx context.Context, paymentID, requestID string) (*Result, error) {
	p, err := r.payments.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, fmt.Errorf("reconciler: failed to fetch payment %s: %w", paymentID, err)
	}

	res := &Result{PaymentID: paymentID, ProviderStatus: p.Status}
	logger := log.With().Str("payment_id", paymentID).Str("request_id", requestID).Str("provider_status", p.Status).Logger()

	ref := strings.TrimSpace(p.ExternalReference)
	if ref == "" {
		logger.Warn().Msg("reconciler: payment has no external reference")
		res.Outcome = OutcomeUnresolved
		return res, nil
	}
	res.OrderID = ref

	now := r.now()
	targetStatus, targetPayment := MapProviderStatus(p.Status)
	providerUpdatedAt := p.LastUpdated(now)

	ev := order.PaymentEvent{
		PaymentID:         paymentID,
		ProviderStatus:    p.Status,
		ProviderUpdatedAt: providerUpdatedAt,
		RequestID:         requestID,
		ReceivedAt:        now,
	}

	guard := func(current *order.Order) (order.PaymentUpdate, error) {
		if current.PaymentUpdatedAt != nil && providerUpdatedAt.Before(*current.PaymentUpdatedAt) {
			return order.PaymentUpdate{}, order.ErrStalePaymentEvent
		}
		if current.PaymentStatus == targetPayment {
			return order.PaymentUpdate{}, order.ErrDuplicatePaymentEvent
		}
		if !order.CanTransitionPayment(current.PaymentStatus, targetPayment) {
			return order.PaymentUpdate{}, order.ErrStalePaymentEvent
		}
		return order.PaymentUpdate{
			Status:            targetStatus,
			PaymentStatus:     targetPayment,
			PaymentID:         paymentID,
			ProviderUpdatedAt: providerUpdatedAt,
			UpdatedAt:         now,
		}, nil
	}

	updated, err := r.orders.ApplyPaymentEvent(ctx, ref, ev, guard)
	switch {
	case errors.Is(err, order.ErrOrderNotFound):
		logger.Warn().Str("order_id", ref).Msg("reconciler: external reference does not match any order")
		res.Outcome = OutcomeUnresolved
		return res, nil
	case errors.Is(err, order.ErrDuplicatePaymentEvent):
		logger.Info().Str("order_id", ref).Msg("reconciler: payment event already applied")
		res.Outcome = OutcomeDuplicate
		return res, nil
	case errors.Is(err, order.ErrStalePaymentEvent):
		logger.Info().Str("order_id", ref).Time("provider_updated_at", providerUpdatedAt).Msg("reconciler: payment event is stale, skipping")
		res.Outcome = OutcomeStale
		return res, nil
	case err != nil:
		return nil, fmt.Errorf("reconciler: failed to apply payment %s to order %s: %w", paymentID, ref, err)
	}

	res.Outcome = OutcomeApplied
	res.Order = updated
	logger.Info().
		Str("order_id", ref).
		Stringer("status", updated.Status).
		Stringer("payment_status", updated.PaymentStatus).
		Msg("reconciler: order updated from payment")

	if err := r.publisher.PublishStatusChanged(ctx, event.StatusChanged{
		OrderID:       updated.ID,
		OrderNumber:   updated.OrderNumber,
		Status:        updated.Status.String(),
		PaymentStatus: updated.PaymentStatus.String(),
		PaymentID:     paymentID,
		Source:        "payment_webhook",
		OccurredAt:    now,
	}); err != nil {
		logger.Error().Err(err).Str("order_id", ref).Msg("reconciler: failed to publish status change")
	}

	return res, nil
}
