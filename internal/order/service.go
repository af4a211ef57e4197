package order

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/vasiliy-maslov/sportswear-storefront/internal/coupon"
	"github.com/vasiliy-maslov/sportswear-storefront/internal/event"
)

const (
	orderNumberPrefix   = "SPT-"
	orderNumberAttempts = 3
	defaultListLimit    = 20
	maxListLimit        = 100
	statsWindow         = 30 * 24 * time.Hour
)

var orderNumberSpace = big.NewInt(100_000_000)

// Preference is a provider checkout session bound to an order.
type Preference struct {
	ID        string
	InitPoint string
}

type PaymentPreferences interface {
	CreatePreference(ctx context.Context, o *Order) (*Preference, error)
}

type CouponQuoter interface {
	Quote(ctx context.Context, code string, subtotal, shipping decimal.Decimal) (*coupon.Quote, error)
}

type Pricing struct {
	ShippingFlatRate decimal.Decimal
	CustomizationFee decimal.Decimal
	Currency         string
}

type CheckoutInput struct {
	Customer        Customer
	ShippingAddress Address
	Items           []OrderItem
	CouponCode      string
}

type CheckoutResult struct {
	Order     *Order
	InitPoint string
}

type Service interface {
	Checkout(ctx context.Context, input CheckoutInput) (*CheckoutResult, error)
	Repay(ctx context.Context, id string) (*CheckoutResult, error)
	GetOrderByID(ctx context.Context, id string) (*Order, error)
	TrackOrder(ctx context.Context, orderNumber, email string) (*Order, error)
	ListOrders(ctx context.Context, filter ListFilter) ([]Order, error)
	UpdateOrderStatus(ctx context.Context, id string, newStatus Status) (*Order, error)
	Stats(ctx context.Context) (*Stats, error)
}

type service struct {
	orderRepo   Repository
	preferences PaymentPreferences
	coupons     CouponQuoter
	publisher   event.Publisher
	pricing     Pricing
	now         func() time.Time
}

func NewService(orderRepo Repository, preferences PaymentPreferences, coupons CouponQuoter, publisher event.Publisher, pricing Pricing) Service {
	if pricing.Currency == "" {
		pricing.Currency = "BRL"
	}
	return &service{
		orderRepo:   orderRepo,
		preferences: preferences,
		coupons:     coupons,
		publisher:   publisher,
		pricing:     pricing,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func newOrderNumber() (string, error) {
	n, err := rand.Int(rand.Reader, orderNumberSpace)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%08d", orderNumberPrefix, n.Int64()), nil
}

// price fills the money fields of o from its items and the optional coupon.
func (s *service) price(ctx context.Context, o *Order) error {
	subtotal := decimal.Zero
	customization := decimal.Zero

	for i := range o.Items {
		item := &o.Items[i]
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: quantity for product %s must be greater than zero", ErrInvalidOrder, item.ProductID)
		}
		if item.UnitPrice.IsNegative() {
			return fmt.Errorf("%w: unit price for product %s cannot be negative", ErrInvalidOrder, item.ProductID)
		}

		qty := decimal.NewFromInt(int64(item.Quantity))
		subtotal = subtotal.Add(item.UnitPrice.Mul(qty))
		if item.Customized() {
			customization = customization.Add(s.pricing.CustomizationFee.Mul(qty))
		}
	}

	o.Subtotal = subtotal
	o.CustomizationFee = customization
	o.ShippingPrice = s.pricing.ShippingFlatRate
	o.Discount = decimal.Zero

	if o.CouponCode != "" {
		q, err := s.coupons.Quote(ctx, o.CouponCode, subtotal, o.ShippingPrice)
		if err != nil {
			return err
		}
		o.CouponCode = q.Code
		o.Discount = q.Discount
	}

	total := o.Subtotal.Add(o.CustomizationFee).Add(o.ShippingPrice).Sub(o.Discount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	o.TotalPrice = total
	return nil
}

func (s *service) Checkout(ctx context.Context, input CheckoutInput) (*CheckoutResult, error) {
	if len(input.Items) == 0 {
		log.Warn().Msg("service: attempt to check out with no items")
		return nil, fmt.Errorf("%w: order must contain at least one item", ErrInvalidOrder)
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("service: failed to generate order id: %w", err)
	}

	now := s.now()
	o := &Order{
		ID:              id.String(),
		Status:          StatusPending,
		PaymentStatus:   PaymentPending,
		Customer:        input.Customer,
		ShippingAddress: input.ShippingAddress,
		Items:           append([]OrderItem(nil), input.Items...),
		Currency:        s.pricing.Currency,
		CouponCode:      coupon.NormalizeCode(input.CouponCode),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for i := range o.Items {
		o.Items[i].ID = 0
		o.Items[i].OrderID = ""
	}

	if err := s.price(ctx, o); err != nil {
		log.Warn().Err(err).Str("coupon_code", o.CouponCode).Msg("service: checkout rejected")
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		o.OrderNumber, err = newOrderNumber()
		if err != nil {
			return nil, fmt.Errorf("service: failed to generate order number: %w", err)
		}

		err = s.orderRepo.CreateOrder(ctx, o)
		if err == nil {
			break
		}
		if errors.Is(err, ErrDuplicateOrderNumber) && attempt < orderNumberAttempts {
			log.Warn().Str("order_number", o.OrderNumber).Int("attempt", attempt).Msg("service: order number collision, retrying")
			continue
		}
		log.Error().Err(err).Str("order_id", o.ID).Msg("service: failed to create order in repository")
		return nil, fmt.Errorf("service: failed to create order: %w", err)
	}

	log.Info().
		Str("order_id", o.ID).
		Str("order_number", o.OrderNumber).
		Str("total_price", o.TotalPrice.StringFixed(2)).
		Msg("service: order created")

	return s.attachPreference(ctx, o)
}

func (s *service) attachPreference(ctx context.Context, o *Order) (*CheckoutResult, error) {
	result := &CheckoutResult{Order: o}

	pref, err := s.preferences.CreatePreference(ctx, o)
	if err != nil {
		log.Error().Err(err).Str("order_id", o.ID).Msg("service: failed to create payment preference")
		return result, fmt.Errorf("%w: %w", ErrPreferenceFailed, err)
	}

	if err := s.orderRepo.SetPreferenceID(ctx, o.ID, pref.ID); err != nil {
		log.Error().Err(err).Str("order_id", o.ID).Str("preference_id", pref.ID).Msg("service: failed to store preference id")
		return result, fmt.Errorf("service: failed to store preference: %w", err)
	}

	o.PreferenceID = pref.ID
	result.InitPoint = pref.InitPoint
	return result, nil
}

func (s *service) Repay(ctx context.Context, id string) (*CheckoutResult, error) {
	o, err := s.GetOrderByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if o.Status != StatusPending || o.PaymentStatus != PaymentPending {
		log.Warn().
			Str("order_id", id).
			Stringer("status", o.Status).
			Stringer("payment_status", o.PaymentStatus).
			Msg("service: repay refused")
		return nil, ErrOrderNotRepayable
	}

	return s.attachPreference(ctx, o)
}

func (s *service) GetOrderByID(ctx context.Context, id string) (*Order, error) {
	o, err := s.orderRepo.GetOrderByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			log.Warn().Err(err).Str("order_id", id).Msg("service: order not found by id")
			return nil, ErrOrderNotFound
		}
		log.Error().Err(err).Str("order_id", id).Msg("service: failed to fetch order by id in repository")
		return nil, fmt.Errorf("service: failed to fetch order by id: %w", err)
	}
	return o, nil
}

// TrackOrder answers not found both for unknown numbers and for email mismatches.
func (s *service) TrackOrder(ctx context.Context, orderNumber, email string) (*Order, error) {
	o, err := s.orderRepo.GetOrderByNumber(ctx, strings.TrimSpace(orderNumber))
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		log.Error().Err(err).Str("order_number", orderNumber).Msg("service: failed to fetch order by number")
		return nil, fmt.Errorf("service: failed to fetch order by number: %w", err)
	}

	if !strings.EqualFold(strings.TrimSpace(o.Customer.Email), strings.TrimSpace(email)) {
		log.Warn().Str("order_number", orderNumber).Msg("service: tracking email mismatch")
		return nil, ErrOrderNotFound
	}
	return o, nil
}

func (s *service) ListOrders(ctx context.Context, filter ListFilter) ([]Order, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	orders, err := s.orderRepo.ListOrders(ctx, filter)
	if err != nil {
		log.Error().Err(err).Stringer("status", filter.Status).Msg("service: failed to list orders")
		return nil, fmt.Errorf("service: failed to list orders: %w", err)
	}
	return orders, nil
}

// UpdateOrderStatus checks the transition against the locked stored order and keeps its payment status.
func (s *service) UpdateOrderStatus(ctx context.Context, id string, newStatus Status) (*Order, error) {
	var previous Status
	guard := func(current *Order) (StatusUpdate, error) {
		previous = current.Status
		if current.Status == newStatus {
			return StatusUpdate{}, errStatusUnchanged
		}
		if !CanTransition(current.Status, newStatus) {
			log.Warn().
				Str("order_id", id).
				Stringer("current_status", current.Status).
				Stringer("new_status", newStatus).
				Msg("service: invalid status transition attempt")
			return StatusUpdate{}, fmt.Errorf("%w: from %s to %s", ErrInvalidStatusTransition, current.Status, newStatus)
		}

		paymentStatus := current.PaymentStatus
		if newStatus == StatusPaid {
			paymentStatus = PaymentPaid
		}
		return StatusUpdate{Status: newStatus, PaymentStatus: paymentStatus, UpdatedAt: s.now()}, nil
	}

	updated, err := s.orderRepo.UpdateOrderStatus(ctx, id, guard)
	switch {
	case errors.Is(err, errStatusUnchanged):
		log.Info().Str("order_id", id).Stringer("status", newStatus).Msg("service: order status is already the same, no update needed")
		return s.GetOrderByID(ctx, id)
	case errors.Is(err, ErrOrderNotFound):
		log.Warn().Str("order_id", id).Msg("service: order not found for status update")
		return nil, ErrOrderNotFound
	case errors.Is(err, ErrInvalidStatusTransition):
		return nil, err
	case err != nil:
		log.Error().Err(err).Str("order_id", id).Stringer("new_status", newStatus).Msg("service: failed to update order status in repository")
		return nil, fmt.Errorf("service: failed to update order status: %w", err)
	}

	log.Info().Str("order_id", id).Stringer("old_status", previous).Stringer("new_status", newStatus).Msg("service: order status updated successfully")

	s.publish(ctx, updated, "admin")
	return updated, nil
}

func (s *service) Stats(ctx context.Context) (*Stats, error) {
	stats, err := s.orderRepo.Stats(ctx, s.now().Add(-statsWindow))
	if err != nil {
		log.Error().Err(err).Msg("service: failed to compute order stats")
		return nil, fmt.Errorf("service: failed to compute stats: %w", err)
	}
	return stats, nil
}

func (s *service) publish(ctx context.Context, o *Order, source string) {
	err := s.publisher.PublishStatusChanged(ctx, event.StatusChanged{
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		Status:        o.Status.String(),
		PaymentStatus: o.PaymentStatus.String(),
		PaymentID:     o.PaymentID,
		Source:        source,
		OccurredAt:    o.UpdatedAt,
	})
	if err != nil {
		log.Error().Err(err).Str("order_id", o.ID).Msg("service: failed to publish status change")
	}
}
