package coupon

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type DiscountType string

const (
	DiscountPercentage   DiscountType = "percentage"
	DiscountFixed        DiscountType = "fixed"
	DiscountFreeShipping DiscountType = "free_shipping"
)

var (
	ErrCouponNotFound = errors.New("coupon not found")
	ErrCouponExists   = errors.New("coupon with this code already exists")
	ErrCouponInactive = errors.New("coupon is not active")
	ErrCouponExpired  = errors.New("coupon has expired")
	ErrInvalidCoupon  = errors.New("invalid coupon")
)

var hundred = decimal.NewFromInt(100)

type Coupon struct {
	Code         string          `json:"code" db:"code"`
	DiscountType DiscountType    `json:"discount_type" db:"discount_type"`
	Value        decimal.Decimal `json:"value" db:"value"`
	Active       bool            `json:"active" db:"active"`
	ExpiresAt    *time.Time      `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// Quote is the discount a coupon grants for a given cart.
type Quote struct {
	Code         string          `json:"code"`
	DiscountType DiscountType    `json:"discount_type"`
	Discount     decimal.Decimal `json:"discount"`
	FreeShipping bool            `json:"free_shipping"`
}

// NormalizeCode is applied to every code crossing a boundary; codes are stored uppercased.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (c *Coupon) Validate() error {
	if c.Code == "" {
		return fmt.Errorf("%w: code is required", ErrInvalidCoupon)
	}

	switch c.DiscountType {
	case DiscountPercentage:
		if !c.Value.IsPositive() || c.Value.GreaterThan(hundred) {
			return fmt.Errorf("%w: percentage must be in (0, 100], got %s", ErrInvalidCoupon, c.Value)
		}
	case DiscountFixed:
		if !c.Value.IsPositive() {
			return fmt.Errorf("%w: fixed discount must be positive, got %s", ErrInvalidCoupon, c.Value)
		}
	case DiscountFreeShipping:
		c.Value = decimal.Zero
	default:
		return fmt.Errorf("%w: unknown discount type %q", ErrInvalidCoupon, c.DiscountType)
	}
	return nil
}

// Usable reports why the coupon cannot be redeemed at now, if it cannot.
func (c *Coupon) Usable(now time.Time) error {
	if !c.Active {
		return ErrCouponInactive
	}
	if c.ExpiresAt != nil && !now.Before(*c.ExpiresAt) {
		return ErrCouponExpired
	}
	return nil
}

// Apply computes the discount for subtotal and shipping. The discount never exceeds
// what it applies to.
func (c *Coupon) Apply(subtotal, shipping decimal.Decimal) Quote {
	q := Quote{Code: c.Code, DiscountType: c.DiscountType, Discount: decimal.Zero}

	switch c.DiscountType {
	case DiscountPercentage:
		q.Discount = subtotal.Mul(c.Value).Div(hundred).Round(2)
	case DiscountFixed:
		q.Discount = c.Value
	case DiscountFreeShipping:
		q.Discount = shipping
		q.FreeShipping = true
		return q
	}

	if q.Discount.GreaterThan(subtotal) {
		q.Discount = subtotal
	}
	return q
}
