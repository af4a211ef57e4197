package coupon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

type Service interface {
	CreateCoupon(ctx context.Context, c *Coupon) (*Coupon, error)
	GetCoupon(ctx context.Context, code string) (*Coupon, error)
	ListCoupons(ctx context.Context) ([]Coupon, error)
	UpdateCoupon(ctx context.Context, c *Coupon) (*Coupon, error)
	DeleteCoupon(ctx context.Context, code string) error
	Quote(ctx context.Context, code string, subtotal, shipping decimal.Decimal) (*Quote, error)
}

type service struct {
	couponRepo Repository
	now        func() time.Time
}

func NewService(couponRepo Repository) Service {
	return &service{
		couponRepo: couponRepo,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *service) CreateCoupon(ctx context.Context, c *Coupon) (*Coupon, error) {
	c.Code = NormalizeCode(c.Code)
	if err := c.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	c.CreatedAt = now
	c.UpdatedAt = now

	if err := s.couponRepo.Create(ctx, c); err != nil {
		if errors.Is(err, ErrCouponExists) {
			log.Warn().Str("code", c.Code).Msg("service: coupon code already taken")
			return nil, ErrCouponExists
		}
		log.Error().Err(err).Str("code", c.Code).Msg("service: failed to create coupon in repository")
		return nil, fmt.Errorf("service: failed to create coupon: %w", err)
	}

	log.Info().Str("code", c.Code).Str("discount_type", string(c.DiscountType)).Msg("service: coupon created")
	return c, nil
}

func (s *service) GetCoupon(ctx context.Context, code string) (*Coupon, error) {
	c, err := s.couponRepo.GetByCode(ctx, NormalizeCode(code))
	if err != nil {
		if errors.Is(err, ErrCouponNotFound) {
			return nil, ErrCouponNotFound
		}
		log.Error().Err(err).Str("code", code).Msg("service: failed to fetch coupon")
		return nil, fmt.Errorf("service: failed to fetch coupon: %w", err)
	}
	return c, nil
}

func (s *service) ListCoupons(ctx context.Context) ([]Coupon, error) {
	coupons, err := s.couponRepo.List(ctx)
	if err != nil {
		log.Error().Err(err).Msg("service: failed to list coupons")
		return nil, fmt.Errorf("service: failed to list coupons: %w", err)
	}
	return coupons, nil
}

func (s *service) UpdateCoupon(ctx context.Context, c *Coupon) (*Coupon, error) {
	c.Code = NormalizeCode(c.Code)
	if err := c.Validate(); err != nil {
		return nil, err
	}

	existing, err := s.GetCoupon(ctx, c.Code)
	if err != nil {
		return nil, err
	}
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = s.now()

	if err := s.couponRepo.Update(ctx, c); err != nil {
		if errors.Is(err, ErrCouponNotFound) {
			return nil, ErrCouponNotFound
		}
		log.Error().Err(err).Str("code", c.Code).Msg("service: failed to update coupon in repository")
		return nil, fmt.Errorf("service: failed to update coupon: %w", err)
	}

	log.Info().Str("code", c.Code).Bool("active", c.Active).Msg("service: coupon updated")
	return c, nil
}

func (s *service) DeleteCoupon(ctx context.Context, code string) error {
	code = NormalizeCode(code)
	if err := s.couponRepo.Delete(ctx, code); err != nil {
		if errors.Is(err, ErrCouponNotFound) {
			return ErrCouponNotFound
		}
		log.Error().Err(err).Str("code", code).Msg("service: failed to delete coupon")
		return fmt.Errorf("service: failed to delete coupon: %w", err)
	}

	log.Info().Str("code", code).Msg("service: coupon deleted")
	return nil
}

func (s *service) Quote(ctx context.Context, code string, subtotal, shipping decimal.Decimal) (*Quote, error) {
	if subtotal.IsNegative() || shipping.IsNegative() {
		return nil, fmt.Errorf("%w: subtotal and shipping must not be negative", ErrInvalidCoupon)
	}

	c, err := s.GetCoupon(ctx, code)
	if err != nil {
		return nil, err
	}

	if err := c.Usable(s.now()); err != nil {
		log.Info().Str("code", c.Code).Err(err).Msg("service: coupon rejected")
		return nil, err
	}

	q := c.Apply(subtotal, shipping)
	return &q, nil
}
