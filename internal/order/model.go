package order

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

func (s Status) String() string {
	return string(s)
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

func (s PaymentStatus) String() string {
	return string(s)
}

// Portuguese spellings used by the storefront and older admin tooling.
var statusAliases = map[string]Status{
	"pending":   StatusPending,
	"pendente":  StatusPending,
	"paid":      StatusPaid,
	"pago":      StatusPaid,
	"shipped":   StatusShipped,
	"enviado":   StatusShipped,
	"delivered": StatusDelivered,
	"entregue":  StatusDelivered,
	"cancelled": StatusCancelled,
	"canceled":  StatusCancelled,
	"cancelado": StatusCancelled,
}

var paymentStatusAliases = map[string]PaymentStatus{
	"pending":     PaymentPending,
	"pendente":    PaymentPending,
	"paid":        PaymentPaid,
	"pago":        PaymentPaid,
	"failed":      PaymentFailed,
	"falhou":      PaymentFailed,
	"recusado":    PaymentFailed,
	"refunded":    PaymentRefunded,
	"reembolsado": PaymentRefunded,
}

// ParseStatus translates any accepted spelling into the canonical Status.
func ParseStatus(s string) (Status, error) {
	if st, ok := statusAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

// ParsePaymentStatus translates any accepted spelling into the canonical PaymentStatus.
func ParsePaymentStatus(s string) (PaymentStatus, error) {
	if st, ok := paymentStatusAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

type Customer struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone,omitempty"`
	Document string `json:"document,omitempty"`
}

type Address struct {
	Street     string `json:"street"`
	Number     string `json:"number"`
	Complement string `json:"complement,omitempty"`
	District   string `json:"district,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	ZipCode    string `json:"zip_code"`
}

// OrderItem is a snapshot of a product line taken at checkout.
type OrderItem struct {
	ID           int64           `json:"id"`
	OrderID      string          `json:"order_id"`
	ProductID    string          `json:"product_id"`
	Title        string          `json:"title"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Quantity     int             `json:"quantity"`
	Size         string          `json:"size,omitempty"`
	CustomName   string          `json:"custom_name,omitempty"`
	CustomNumber string          `json:"custom_number,omitempty"`
}

func (i OrderItem) Customized() bool {
	return i.CustomName != "" || i.CustomNumber != ""
}

type Order struct {
	ID               string          `json:"id"`
	OrderNumber      string          `json:"order_number"`
	Status           Status          `json:"status"`
	PaymentStatus    PaymentStatus   `json:"payment_status"`
	Customer         Customer        `json:"customer"`
	ShippingAddress  Address         `json:"shipping_address"`
	Items            []OrderItem     `json:"items"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	ShippingPrice    decimal.Decimal `json:"shipping_price"`
	CustomizationFee decimal.Decimal `json:"customization_fee"`
	Discount         decimal.Decimal `json:"discount"`
	TotalPrice       decimal.Decimal `json:"total_price"`
	Currency         string          `json:"currency"`
	CouponCode       string          `json:"coupon_code,omitempty"`
	PaymentID        string          `json:"payment_id,omitempty"`
	PreferenceID     string          `json:"preference_id,omitempty"`
	PaymentUpdatedAt *time.Time      `json:"payment_updated_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// PaymentEvent is the idempotency record for one provider notification.
type PaymentEvent struct {
	PaymentID         string    `json:"payment_id"`
	ProviderStatus    string    `json:"provider_status"`
	OrderID           string    `json:"order_id"`
	ProviderUpdatedAt time.Time `json:"provider_updated_at"`
	RequestID         string    `json:"request_id,omitempty"`
	ReceivedAt        time.Time `json:"received_at"`
}

// PaymentUpdate is the state written to an order once a payment event passes its guard.
type PaymentUpdate struct {
	Status            Status
	PaymentStatus     PaymentStatus
	PaymentID         string
	ProviderUpdatedAt time.Time
	UpdatedAt         time.Time
}

// PaymentGuard inspects the locked current order and decides what to write.
// Returning ErrDuplicatePaymentEvent or ErrStalePaymentEvent aborts without a write.
type PaymentGuard func(current *Order) (PaymentUpdate, error)

// StatusUpdate is the state written by an admin status edit.
type StatusUpdate struct {
	Status        Status
	PaymentStatus PaymentStatus
	UpdatedAt     time.Time
}

// StatusGuard runs against the locked current order; any error aborts the edit without a write.
type StatusGuard func(current *Order) (StatusUpdate, error)

type ListFilter struct {
	Status Status
	Limit  int
	Offset int
}

type Stats struct {
	TotalOrders       int64                   `json:"total_orders"`
	ByStatus          map[Status]int64        `json:"by_status"`
	ByPaymentStatus   map[PaymentStatus]int64 `json:"by_payment_status"`
	Revenue           decimal.Decimal         `json:"revenue"`
	AverageTicket     decimal.Decimal         `json:"average_ticket"`
	OrdersLast30Days  int64                   `json:"orders_last_30_days"`
	RevenueLast30Days decimal.Decimal         `json:"revenue_last_30_days"`
}
