package payment

import "github.com/vasiliy-maslov/sportswear-storefront/internal/order"

const (
	ProviderApproved = "approved"
	ProviderRejected = "rejected"
	ProviderRefunded = "refunded"
)

// MapProviderStatus translates a provider payment status into the order and
// payment status it implies. Matching is exact; anything unrecognized is pending.
func MapProviderStatus(providerStatus string) (order.Status, order.PaymentStatus) {
	switch providerStatus {
	case ProviderApproved:
		return order.StatusPaid, order.PaymentPaid
	case ProviderRejected:
		return order.StatusCancelled, order.PaymentFailed
	case ProviderRefunded:
		return order.StatusCancelled, order.PaymentRefunded
	default:
		return order.StatusPending, order.PaymentPending
	}
}
